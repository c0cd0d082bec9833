package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PortNumber53/adlens/backend/db"
	"github.com/PortNumber53/adlens/backend/internal/config"
	"github.com/PortNumber53/adlens/backend/internal/handlers"
	"github.com/PortNumber53/adlens/backend/internal/metrics"
	"github.com/PortNumber53/adlens/backend/internal/middleware"
	"github.com/PortNumber53/adlens/backend/internal/workers"
	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/cors"
)

func main() {
	if err := run(defaultDeps()); err != nil {
		log.Fatal(err)
	}
}

type deps struct {
	loadEnv        func(...string) error
	getenv         func(string) string
	openDB         func(driverName, dataSourceName string) (*sql.DB, error)
	migrateUp      func(*sql.DB) error
	initSentry     func(sentry.ClientOptions) error
	listenAndServe func(*http.Server) error
	notify         func(c chan<- os.Signal, sig ...os.Signal)
	stopCh         chan os.Signal
}

func defaultDeps() deps {
	return deps{
		loadEnv:        godotenv.Load,
		getenv:         os.Getenv,
		openDB:         sql.Open,
		migrateUp:      db.Up,
		initSentry:     sentry.Init,
		listenAndServe: func(s *http.Server) error { return s.ListenAndServe() },
		notify:         signal.Notify,
	}
}

// buildRouter registers every route plus the per-route metrics middleware.
func buildRouter(h *handlers.Handler, m *metrics.Metrics, logger *log.Logger) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Observe(m, logger))
	handlers.RegisterRoutes(h, r)
	return r
}

func buildHandler(r http.Handler, logger *log.Logger) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(middleware.Recover(logger)(middleware.Sentry(r)))
}

func setupSentry(cfg *config.Config, initFn func(sentry.ClientOptions) error) (flush func()) {
	noop := func() {}
	if cfg.SentryDSN == "" || initFn == nil {
		return noop
	}
	env := cfg.AppEnv
	if env == "" {
		env = "development"
	}
	if err := initFn(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      env,
		AttachStacktrace: true,
	}); err != nil {
		log.Printf("[Sentry] init failed: %v", err)
		return noop
	}
	log.Printf("[Sentry] enabled environment=%s", env)
	return func() { sentry.Flush(2 * time.Second) }
}

func startUsageReporterIfEnabled(ctx context.Context, cfg *config.Config, h *handlers.Handler, m *metrics.Metrics) bool {
	svc := h.Billing()
	switch {
	case !cfg.UsageReportEnabled:
		log.Printf("[UsageReportWorker] disabled via USAGE_REPORT_ENABLED")
		return false
	case svc == nil || !svc.Enabled() || svc.MeteredPriceID == "":
		log.Printf("[UsageReportWorker] not started: Stripe or STRIPE_PRICE_USAGE_METERED not configured")
		return false
	}
	w := &workers.UsageReportWorker{
		Users:    svc.Store,
		Billing:  svc,
		Interval: cfg.UsageReportInterval,
		Metrics:  m,
	}
	go w.Start(ctx)
	return true
}

func run(d deps) error {
	if d.loadEnv != nil {
		_ = d.loadEnv()
	}
	cfg, err := config.FromEnv(d.getenv)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	if d.openDB == nil {
		return errors.New("openDB dependency is required")
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sqlDB, err := d.openDB("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer sqlDB.Close()
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if d.migrateUp != nil {
		if err := d.migrateUp(sqlDB); err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		log.Println("Database is up-to-date")
	}

	flush := setupSentry(cfg, d.initSentry)
	defer flush()

	logger := log.Default()
	m := metrics.New(nil).WithRuntimeCollectors()
	h := handlers.New(sqlDB, cfg, m)

	srv := &http.Server{
		Handler:      buildHandler(buildRouter(h, m, logger), logger),
		Addr:         ":" + cfg.Port,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	startUsageReporterIfEnabled(rootCtx, cfg, h, m)

	stop := d.stopCh
	if stop == nil {
		stop = make(chan os.Signal, 1)
	}
	if d.notify != nil {
		d.notify(stop, os.Interrupt, syscall.SIGTERM)
	}

	go func() {
		<-stop
		log.Println("Shutting down server...")
		cancel()
		ctx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on port %s (stripe=%v graph=%s)", cfg.Port, cfg.Stripe.Enabled(), cfg.Facebook.GraphVersion)
	if d.listenAndServe == nil {
		return errors.New("listenAndServe dependency is required")
	}
	if err := d.listenAndServe(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Println("Server stopped")
	return nil
}
