package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/tortilla-discounts/internal/domain/discount"
	"github.com/xenking/tortilla-discounts/internal/domain/reward"
	"github.com/xenking/tortilla-discounts/internal/handler"
	"github.com/xenking/tortilla-discounts/internal/storage/memory"
	"github.com/xenking/tortilla-discounts/internal/storage/postgres"
	"github.com/xenking/tortilla-discounts/internal/storage/rediscache"
	"github.com/xenking/tortilla-discounts/pkg/health"
	"github.com/xenking/tortilla-discounts/pkg/httpmiddleware"
)

const serviceName = "discount-api"

// stores groups the persistence backends the engine needs.
type stores struct {
	codes    discount.Repository
	spins    reward.SpinStore
	feedback reward.FeedbackStore
	drips    reward.DripStore
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	healthSvc := health.New()
	healthSvc.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))

	var st stores
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		healthSvc.Add(health.Readiness, "postgres", 5*time.Second, health.PingCheck(pool))

		rewards := postgres.NewRewardRepository(pool)
		st = stores{
			codes:    postgres.NewCodeRepository(pool),
			spins:    rewards,
			feedback: rewards,
			drips:    rewards,
		}
	} else {
		lg.Warn("No database configured, codes are kept in memory")
		mem := memory.New()
		st = stores{codes: mem, spins: mem, feedback: mem, drips: mem}
	}

	if cfg.RedisURL != "" {
		rdb, err := rediscache.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() { _ = rdb.Close() }()

		healthSvc.Add(health.Readiness, "redis", 3*time.Second, health.RedisCheck(rdb))
		st.codes = rediscache.New(st.codes, rdb, cfg.CacheTTL, lg.Named("cache"))
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain. Adapters claim their prefixes first; the registry takes the rest.
	spin := reward.NewSpinWheel(st.spins, cfg.Rewards.SpinTTL)
	feedback := reward.NewFeedback(st.feedback, cfg.Rewards.FeedbackTTL)
	drip := reward.NewDrip(st.drips)
	registry := discount.NewRegistry(st.codes, spin, feedback, drip)

	service, err := discount.NewService(
		[]discount.Provider{spin, feedback, drip, registry},
		discount.ServiceConfig{
			Logger:         lg.Named("discount"),
			TracerProvider: m.TracerProvider(),
			MeterProvider:  m.MeterProvider(),
		},
	)
	if err != nil {
		return errors.Wrap(err, "create discount service")
	}

	limiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Rate:  cfg.RateLimit.Rate,
		Burst: cfg.RateLimit.Burst,
	})
	go limiter.Run(ctx)

	h := handler.NewHandler(service, registry, spin, feedback, drip)

	r := chi.NewRouter()
	r.Use(
		httpmiddleware.RequestID,
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Recover,
		httpmiddleware.LogRequests(),
		httpmiddleware.Labeler,
	)
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	r.Route("/api", func(r chi.Router) {
		h.Routes(r, limiter.Middleware())
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           httpmiddleware.Wrap(r, httpmiddleware.Instrument(serviceName, m)),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
