// main wires the defense engine: configuration, stores, service, HTTP
// surface, and the background workers. Business logic lives in the internal
// packages.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"bastion/internal/lockout/handler"
	"bastion/internal/lockout/metrics"
	lockoutMW "bastion/internal/lockout/middleware"
	"bastion/internal/lockout/service"
	memorystore "bastion/internal/lockout/store/memory"
	postgresstore "bastion/internal/lockout/store/postgres"
	redisstore "bastion/internal/lockout/store/redis"
	"bastion/internal/lockout/store/tiered"
	"bastion/internal/lockout/workers/cleanup"
	"bastion/internal/platform/config"
	"bastion/internal/platform/database"
	"bastion/internal/platform/health"
	"bastion/internal/platform/logger"
	platformMW "bastion/internal/platform/middleware"
	platformredis "bastion/internal/platform/redis"
	"bastion/internal/platform/tracing"
	"bastion/pkg/requesttime"
)

const poolStatsInterval = 15 * time.Second

func main() {
	log := logger.New()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log.Info("initializing bastion",
		"addr", cfg.Server.Addr,
		"environment", cfg.Server.Environment,
		"cache_tier_configured", cfg.Redis.URL != "",
	)

	pool, err := database.New(cfg.Database)
	if err != nil {
		log.Error("durable tier unavailable at startup", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("cache tier misconfigured", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	// A nil redis client leaves the cache tier permanently unavailable and
	// every call falls through to the lower tiers.
	var cacheClient *redisstore.Store
	var counter *redisstore.Counter
	if redisClient != nil {
		cacheClient = redisstore.New(redisClient.Client, cfg.Lockout, log)
		counter = redisstore.NewCounter(redisClient.Client, cfg.Lockout.Tiers.CallTimeout)
	} else {
		cacheClient = redisstore.New(nil, cfg.Lockout, log)
	}

	localStore := memorystore.New(cfg.Lockout)
	durableStore := postgresstore.New(pool.DB(), cfg.Lockout)

	windowStore, err := tiered.New(cacheClient, localStore, durableStore, cfg.Lockout,
		tiered.WithLogger(log),
		tiered.WithMetrics(m),
	)
	if err != nil {
		log.Error("failed to build tiered store", "error", err)
		os.Exit(1)
	}

	svcOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithTracer(tracing.NewOTel()),
	}
	if counter != nil {
		svcOpts = append(svcOpts, service.WithCounter(counter))
	}
	svc, err := service.New(windowStore, cfg.Lockout, svcOpts...)
	if err != nil {
		log.Error("failed to build lockout service", "error", err)
		os.Exit(1)
	}

	healthHandler := health.New(cfg.Server.Environment)
	healthHandler.RegisterCheck("database", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Health(ctx)
	})
	if redisClient != nil {
		healthHandler.RegisterCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Health(ctx)
		})
	}

	throttleOpts := []lockoutMW.ThrottleOption{lockoutMW.WithThrottleLogger(log)}
	if counter != nil {
		throttleOpts = append(throttleOpts, lockoutMW.WithCounterChecker(svc))
	}
	throttle := lockoutMW.NewThrottle(lockoutMW.DefaultThrottleConfig(), throttleOpts...)

	router := chi.NewRouter()
	router.Use(platformMW.Recovery(log))
	router.Use(platformMW.RequestID)
	router.Use(platformMW.Metadata(&platformMW.MetadataConfig{TrustedProxies: cfg.TrustedProxies}))
	router.Use(requesttime.Middleware)
	router.Use(platformMW.Logger(log))

	healthHandler.Register(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Group(func(r chi.Router) {
		r.Use(throttle.Handler)
		handler.New(svc, log).Register(r)
	})

	worker := cleanup.New(localStore, durableStore, cfg.Lockout,
		cleanup.WithLogger(log),
		cleanup.WithMetrics(m),
		cleanup.WithInterval(cfg.CleanupInterval),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := worker.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		throttle.StartJanitor(ctx, 2*time.Minute)
		if redisClient == nil {
			<-ctx.Done()
			return nil
		}
		ticker := time.NewTicker(poolStatsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				redisClient.RecordPoolStats()
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
