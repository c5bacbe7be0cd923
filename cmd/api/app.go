package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bdbt/analytics/internal/analytics"
	"github.com/bdbt/analytics/internal/api"
	"github.com/bdbt/analytics/internal/auth"
	"github.com/bdbt/analytics/internal/cache"
	"github.com/bdbt/analytics/internal/config"
	"github.com/bdbt/analytics/internal/feed"
	"github.com/bdbt/analytics/internal/health"
	"github.com/bdbt/analytics/internal/jobs"
	"github.com/bdbt/analytics/internal/middleware"
	"github.com/bdbt/analytics/internal/rollup"
	"github.com/bdbt/analytics/internal/stats"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const (
	serviceName = "bdbt-analytics"

	// tokenLeeway tolerates clock skew between the issuer and this service.
	tokenLeeway = 30 * time.Second

	// rateLimitCleanupInterval is how often expired in-process buckets are dropped.
	rateLimitCleanupInterval = time.Minute

	dbPingTimeout = 5 * time.Second
)

// app holds the wired components of the API server.
type app struct {
	logger  *slog.Logger
	handler http.Handler
	service *analytics.Service
	refresh *rollup.RefreshJob
	hub     *feed.Hub
	ingest  *stats.IngestStats

	memLimiter *middleware.InMemoryRateLimitStore // nil when Redis backs rate limiting
	closers    []func() error
	cancel     context.CancelFunc
}

// newApp wires the store stack, background jobs and HTTP routes described by
// cfg. Metrics are registered on reg.
func newApp(cfg *config.Config, logger *slog.Logger, reg *prometheus.Registry) (*app, error) {
	a := &app{logger: logger, ingest: stats.NewIngestStats()}

	httpMetrics := middleware.NewMetrics()
	analyticsMetrics := analytics.NewMetrics()
	jobMetrics := jobs.NewMetrics()
	rollupMetrics := rollup.NewMetrics()
	for _, r := range []interface {
		Register(prometheus.Registerer) error
	}{httpMetrics, analyticsMetrics, jobMetrics, rollupMetrics} {
		if err := r.Register(reg); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	var healthCfg api.HealthHandlersConfig

	// Primary store
	var store analytics.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		a.closers = append(a.closers, db.Close)

		pingCtx, cancel := context.WithTimeout(context.Background(), dbPingTimeout)
		if err := db.PingContext(pingCtx); err != nil {
			// The breaker and the readiness check surface an unreachable database.
			logger.Warn("database not reachable at startup", "error", err)
		}
		cancel()

		store = analytics.NewPostgresStore(db, logger)
		healthCfg.DBChecker = health.NewDBChecker(db)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory analytics store")
		store = analytics.NewMemoryStore(nil)
	}

	breaker := analytics.NewBreakerStore(store, analytics.BreakerConfig{
		Name:             "analytics-store",
		FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		Timeout:          30 * time.Second,
		MaxRequests:      1,
	}, logger)

	// Read cache and rate limit backend
	var (
		readCache analytics.Cache
		limiter   middleware.RateLimitStore
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, client.Close)

		readCache = cache.NewRedisCache(client, "")
		limiter = middleware.NewRedisRateLimitStore(client).WithMetrics(httpMetrics)
		healthCfg.RedisChecker = health.NewRedisChecker(client)
	} else {
		local, err := cache.NewLocalCache(cache.DefaultLocalConfig())
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, func() error { local.Close(); return nil })
		readCache = local

		a.memLimiter = middleware.NewInMemoryRateLimitStore()
		limiter = a.memLimiter
	}

	a.service = analytics.NewService(
		analytics.NewCachedStore(breaker, readCache, cfg.CacheTTL()),
		analytics.WithIdentity(middleware.ContextIdentity{}),
		analytics.WithObserver(analytics.NewLogObserver(logger, analyticsMetrics)),
		analytics.WithCallTimeout(cfg.CallTimeout()),
		analytics.WithLaunchDate(cfg.LaunchTime()),
		analytics.WithStats(a.ingest),
	)

	a.refresh = rollup.NewRefreshJob(rollup.JobConfig{
		Interval:   cfg.RefreshInterval(),
		Logger:     logger,
		Metrics:    rollupMetrics,
		JobMetrics: jobMetrics,
	}, breaker)

	a.hub = feed.NewHub(a.service, feed.Config{
		PollInterval: cfg.FeedPollInterval(),
		Logger:       logger,
		JobMetrics:   jobMetrics,
	})

	// Routes
	trackLimit := middleware.RateLimitConfig{
		RequestsPerWindow: cfg.TrackRateLimitPerMinute,
		WindowDuration:    time.Minute,
	}
	mux := http.NewServeMux()
	api.NewAnalyticsHandlers(a.service, a.refresh).
		WithTrackMiddleware(middleware.RateLimiter(limiter, trackLimit, middleware.UserKeyFunc(), httpMetrics, "/analytics/track")).
		Register(mux)
	api.NewFeedWebSocketHandlers(a.hub, cfg.CORSAllowedOrigins).Register(mux)
	api.NewHealthHandlers(healthCfg).Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", api.NotFound)

	// Middleware, outermost first:
	// RequestID -> Tracing -> Logging -> HTTPMetrics -> CORS -> Authenticate
	var handler http.Handler = mux
	if cfg.JWTSecret != "" {
		verifier, err := auth.NewTokenVerifier(cfg.JWTSecret, cfg.JWTPreviousSecret, tokenLeeway)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("init token verifier: %w", err)
		}
		handler = middleware.Authenticate(verifier)(handler)
	} else {
		logger.Warn("JWT_SECRET not set, all requests are anonymous")
	}
	handler = middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSAllowedOrigins))(handler)
	handler = middleware.HTTPMetrics(httpMetrics)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Tracing(serviceName)(handler)
	handler = middleware.RequestID(handler)
	a.handler = handler

	return a, nil
}

// start launches the background jobs.
func (a *app) start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	if err := a.refresh.Start(ctx); err != nil {
		return fmt.Errorf("start view refresh job: %w", err)
	}
	if err := a.hub.Start(ctx); err != nil {
		return fmt.Errorf("start feed hub: %w", err)
	}
	if a.memLimiter != nil {
		go func() {
			ticker := time.NewTicker(rateLimitCleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					a.memLimiter.Cleanup()
				}
			}
		}()
	}
	return nil
}

// close stops the jobs and releases backends. Safe to call after a partial
// start.
func (a *app) close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.refresh != nil {
		a.refresh.Stop()
	}
	if a.hub != nil {
		a.hub.Stop()
	}
	a.ingest.LogSummary(a.logger)
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to close backend", "error", err)
		}
	}
	a.closers = nil
}
