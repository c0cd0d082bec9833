// Package handlers is the HTTP surface of the API. Handlers validate input,
// call the billing, graph, imageproxy and creativescore services and convert
// their errors to status codes.
package handlers

import (
	"database/sql"
	"log"
	"net/http"
	"os"

	"github.com/PortNumber53/adlens/backend/internal/billing"
	"github.com/PortNumber53/adlens/backend/internal/config"
	"github.com/PortNumber53/adlens/backend/internal/creativescore"
	"github.com/PortNumber53/adlens/backend/internal/graph"
	"github.com/PortNumber53/adlens/backend/internal/imageproxy"
	"github.com/PortNumber53/adlens/backend/internal/metrics"
	"github.com/PortNumber53/adlens/backend/internal/store"
)

type Handler struct {
	db      *sql.DB
	cfg     *config.Config
	store   *store.Store
	billing *billing.Service
	graph   *graph.Client
	images  *imageproxy.Proxy
	scores  *creativescore.Service
	n8n     *creativescore.Forwarder
	metrics *metrics.Metrics
	logger  *log.Logger
	rt      *realtimeHub
}

// Deps lets callers replace collaborators; zero fields are built from Config.
type Deps struct {
	DB        *sql.DB
	Config    *config.Config
	Gateway   billing.Gateway
	Graph     *graph.Client
	Images    *imageproxy.Proxy
	Forwarder *creativescore.Forwarder
	Metrics   *metrics.Metrics
	Logger    *log.Logger
}

func New(db *sql.DB, cfg *config.Config, m *metrics.Metrics) *Handler {
	return NewWithDeps(Deps{DB: db, Config: cfg, Metrics: m})
}

func NewWithDeps(d Deps) *Handler {
	cfg := d.Config
	if cfg == nil {
		cfg, _ = config.FromEnv(func(string) string { return "" })
	}
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	st := store.New(d.DB)

	gw := d.Gateway
	if gw == nil && cfg.Stripe.Enabled() {
		if sg := billing.NewStripeGateway(cfg.Stripe.SecretKey, d.Metrics); sg != nil {
			gw = sg
		}
	}

	gc := d.Graph
	if gc == nil {
		gc = graph.NewClient(graph.Options{
			BaseURL: cfg.Facebook.GraphBaseURL,
			Version: cfg.Facebook.GraphVersion,
			Getenv:  os.Getenv,
			Quota:   st.ConsumeGraphRequests,
			Metrics: d.Metrics,
			Logger:  logger,
		})
	}
	images := d.Images
	if images == nil {
		images = imageproxy.New(nil)
	}
	fwd := d.Forwarder
	if fwd == nil {
		fwd = creativescore.NewForwarder(cfg.N8NWebhookURL, nil)
	}

	h := &Handler{
		db:      d.DB,
		cfg:     cfg,
		store:   st,
		graph:   gc,
		images:  images,
		n8n:     fwd,
		metrics: d.Metrics,
		logger:  logger,
		rt:      newRealtimeHub(),
	}
	h.billing = &billing.Service{
		Store:          st,
		Gateway:        gw,
		Catalog:        billing.NewPlanCatalog(cfg.Stripe.PriceIDs),
		MeteredPriceID: cfg.Stripe.UsageMeteredPrice,
		FrontendURL:    cfg.Stripe.FrontendURL,
		Logger:         logger,
		Notify:         h.notify,
	}
	h.scores = &creativescore.Service{Store: st, Notify: h.notify}
	return h
}

// Billing exposes the billing service so background workers share its gateway.
func (h *Handler) Billing() *billing.Service { return h.billing }

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.Handler().ServeHTTP(w, r)
}
