package handlers

import (
	"context"
	"database/sql"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PortNumber53/adlens/backend/internal/billing"
	"github.com/PortNumber53/adlens/backend/internal/config"
	"github.com/PortNumber53/adlens/backend/internal/creativescore"
	"github.com/PortNumber53/adlens/backend/internal/graph"
	"github.com/PortNumber53/adlens/backend/internal/imageproxy"
	"github.com/gorilla/mux"
)

type stubTransport struct {
	fn func(*http.Request) (*http.Response, error)
}

func (t stubTransport) RoundTrip(r *http.Request) (*http.Response, error) { return t.fn(r) }

func httpJSON(status int, body string) *http.Response {
	return httpBody(status, "application/json", body)
}

func httpBody(status int, contentType, body string) *http.Response {
	h := make(http.Header)
	h.Set("Content-Type", contentType)
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(strings.NewReader(body)), ContentLength: int64(len(body))}
}

func stubClient(fn func(*http.Request) (*http.Response, error)) *http.Client {
	if fn == nil {
		fn = func(r *http.Request) (*http.Response, error) {
			return httpJSON(500, `{"error":{"message":"unexpected upstream call"}}`), nil
		}
	}
	return &http.Client{Transport: stubTransport{fn: fn}}
}

type testDeps struct {
	db       *sql.DB
	gateway  billing.Gateway
	graphFn  func(*http.Request) (*http.Response, error)
	imageFn  func(*http.Request) (*http.Response, error)
	n8nFn    func(*http.Request) (*http.Response, error)
	n8nURL   string
	settings map[string]string
}

func newTestHandler(t *testing.T, d testDeps) (*Handler, *mux.Router) {
	t.Helper()
	env := map[string]string{
		"STRIPE_PRICE_GROWTH_MONTHLY":  "price_gm",
		"STRIPE_PRICE_STARTER_MONTHLY": "price_sm",
	}
	for k, v := range d.settings {
		env[k] = v
	}
	cfg, err := config.FromEnv(func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	h := NewWithDeps(Deps{
		DB:      d.db,
		Config:  cfg,
		Gateway: d.gateway,
		Graph: graph.NewClient(graph.Options{
			BaseURL: "https://graph.test",
			HTTP:    stubClient(d.graphFn),
			Logger:  log.New(io.Discard, "", 0),
		}),
		Images:    imageproxy.New(stubClient(d.imageFn)),
		Forwarder: creativescore.NewForwarder(d.n8nURL, stubClient(d.n8nFn)),
		Logger:    log.New(io.Discard, "", 0),
	})
	r := mux.NewRouter()
	RegisterRoutes(h, r)
	return h, r
}

func serve(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

// fakeGateway records calls instead of talking to Stripe.
type fakeGateway struct {
	mu        sync.Mutex
	created   []billing.SubscriptionInput
	canceled  []string
	customers int
}

func (f *fakeGateway) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers++
	return "cus_test", nil
}

func (f *fakeGateway) CreateSubscription(ctx context.Context, in billing.SubscriptionInput) (billing.RemoteSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, in)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	return billing.RemoteSubscription{
		ID: "sub_" + in.AdAccountID, Status: "active", ItemID: "si_" + in.AdAccountID, PriceID: in.PriceID,
		PeriodStart: now, PeriodEnd: now.AddDate(0, 1, 0),
	}, nil
}

func (f *fakeGateway) GetSubscription(ctx context.Context, id string) (billing.RemoteSubscription, error) {
	return billing.RemoteSubscription{ID: id, Status: "active", ItemID: "si_" + id}, nil
}

func (f *fakeGateway) ChangePrice(ctx context.Context, subscriptionID, itemID, priceID string) (billing.RemoteSubscription, error) {
	return billing.RemoteSubscription{ID: subscriptionID, Status: "active", ItemID: itemID, PriceID: priceID}, nil
}

func (f *fakeGateway) CancelSubscription(ctx context.Context, id string) (billing.RemoteSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, id)
	return billing.RemoteSubscription{ID: id, Status: "canceled"}, nil
}

func (f *fakeGateway) FindMeteredItem(ctx context.Context, customerID, meteredPriceID string) (string, error) {
	return "", billing.ErrNoUsageSubscription
}

func (f *fakeGateway) ReportUsage(ctx context.Context, itemID string, quantity int64, at time.Time) error {
	return nil
}

func (f *fakeGateway) CreateCheckoutSession(ctx context.Context, in billing.CheckoutInput) (string, error) {
	return "https://checkout.stripe.test/c/" + in.PriceID, nil
}

func serveRequest(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}
