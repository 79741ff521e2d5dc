package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"verdeling/internal/auth"
	"verdeling/internal/cache"
	"verdeling/internal/cli"
	apphttp "verdeling/internal/http"
	applog "verdeling/internal/log"
	"verdeling/internal/metrics"
	"verdeling/internal/middleware/ratelimit"
	"verdeling/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	be := cli.InitBackend(context.Background(), logger, cfg)

	// a nil *amqp.Client must not end up inside the interface
	var publisher services.Publisher
	if be.AMQP != nil {
		publisher = be.AMQP
	}

	m := metrics.Default()
	distributions := services.NewDistributionService(be.Store, publisher, cfg.CacheTTL)
	distributions.ObserveCompute(m.ObserveComputation)

	provider := auth.NewProvider(be.Store, cfg.JWTSecret, cfg.SessionTTL)
	provider.OnAuthChange(func(ev auth.AuthEvent) {
		logger.WithComponent(applog.ComponentAuth).Info("Auth state changed",
			"event", string(ev.Type),
			"user_id", ev.User.ID)
	})

	caches := cache.NewManager()
	caches.Register(distributions.Cache())
	caches.Register(provider.RevocationCache())
	caches.StartCleanup(time.Minute)

	rl := ratelimit.DefaultConfig()
	rl.RequestsPerSecond = cfg.RateLimitRPS
	rl.Burst = cfg.RateLimitBurst

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Store:         be.Store,
		Auth:          provider,
		Readings:      services.NewReadingService(be.Store, cfg.Initial(), distributions),
		Invoices:      services.NewInvoiceService(be.Store, distributions),
		Distributions: distributions,
		Metrics:       m,
		Logger:        logger,
		RateLimit:     rl,
		CookieSecure:  cfg.CookieSecure,
	})
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		caches.Stop()
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", "error", err)
		}
	})

	go func() {
		logger.Info("Starting verdeling server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"initial_period", cfg.Initial().String(),
			"events", be.AMQP != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cli.Fatal(logger, "Server error", err)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
