package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"accessgate/internal/api"
	"accessgate/internal/billing"
	"accessgate/internal/config"
	"accessgate/internal/entitlements"
	"accessgate/internal/observability"
	"accessgate/internal/plans"
	"accessgate/internal/queue"
	"accessgate/internal/store"
)

type App struct {
	Config   config.Config
	Logger   zerolog.Logger
	Catalog  *plans.Catalog
	Store    store.Store
	Queue    *queue.Queue
	Registry *prometheus.Registry
	Observer *observability.Observer
	Billing  *billing.PaystackService
	Verifier *entitlements.Verifier
	Handler  *api.Handler
}

func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	catalog, err := LoadCatalog(cfg)
	if err != nil {
		return nil, err
	}

	backend, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	st := store.WithTimeout(backend, cfg.Store.Timeout)

	var q *queue.Queue
	if cfg.Queue.RedisURL != "" {
		q, err = queue.New(cfg.Queue.RedisURL, cfg.Queue.Name)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer := observability.NewObserver(reg, logger)

	billingSvc := billing.NewPaystackService(cfg, catalog, st, observer, logger)
	if q != nil {
		billingSvc.Queue = q
	}
	verifier := entitlements.NewVerifier(st, observer, logger)
	handler := api.NewHandler(catalog, billingSvc, verifier, st, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), logger)

	logger.Info().
		Str("store", cfg.Store.Driver).
		Bool("retry_queue", q != nil).
		Int("plans", len(catalog.All())).
		Msg("app initialized")

	return &App{
		Config:   cfg,
		Logger:   logger,
		Catalog:  catalog,
		Store:    st,
		Queue:    q,
		Registry: reg,
		Observer: observer,
		Billing:  billingSvc,
		Verifier: verifier,
		Handler:  handler,
	}, nil
}

// LoadCatalog returns the plan file named in cfg, or the built-in catalog.
func LoadCatalog(cfg config.Config) (*plans.Catalog, error) {
	if cfg.Plans.Path == "" {
		return plans.Default(), nil
	}
	catalog, err := plans.Load(cfg.Plans.Path)
	if err != nil {
		return nil, fmt.Errorf("load plans: %w", err)
	}
	return catalog, nil
}

// OpenStore opens the configured backend. Postgres is migrated on open.
func OpenStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory, "":
		return store.NewMemoryStore(), nil
	case config.StoreRedis:
		return store.OpenRedis(cfg.Redis.URL, cfg.Store.KeyPrefix)
	case config.StorePostgres:
		pg, err := store.OpenPostgres(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx, pg.DB()); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return pg, nil
	case config.StoreFirestore:
		return store.OpenFirestore(ctx, cfg.Firestore.ProjectID, cfg.Firestore.CredentialsFile, cfg.Firestore.Collection)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func (a *App) Close() error {
	var err error
	if a.Store != nil {
		err = a.Store.Close()
	}
	if a.Queue != nil {
		_ = a.Queue.Close()
	}
	return err
}

// HTTPHandler is the full route set behind the CORS policy.
func (a *App) HTTPHandler() http.Handler {
	mux := http.NewServeMux()
	a.Handler.RegisterRoutes(mux)
	return cors.New(cors.Options{
		AllowedOrigins: a.Config.HTTP.AllowOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "x-paystack-signature"},
	}).Handler(mux)
}

func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.HTTP.Addr,
		Handler:           a.HTTPHandler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.Config.HTTP.ReadTimeout,
		WriteTimeout:      a.Config.HTTP.WriteTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.Logger.Info().Str("addr", srv.Addr).Msg("accessgate listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
