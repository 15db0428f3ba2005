// Package app assembles the embedded app: infrastructure, the request
// pipeline, the webhook endpoint and the maintenance schedule.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-shopify-app/adapters/gologger"
	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/pipeline"
	"github.com/goliatone/go-shopify-app/ratelimit"
	"github.com/goliatone/go-shopify-app/security"
	"github.com/goliatone/go-shopify-app/session"
	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2"
)

const (
	installationCacheTTL = time.Minute
	gamesCacheTTL        = 5 * time.Minute
	replayClaimTTL       = 24 * time.Hour
	limiterIdleTTL       = time.Hour
	readHeaderTimeout    = 10 * time.Second
)

type Option func(*options)

type options struct {
	logger            core.Logger
	httpClient        *http.Client
	db                *persistence.Client
	installationCache repositorycache.CacheService
	oauthEndpoint     func(shop string) oauth2.Endpoint
}

// WithLogger replaces the zap logger built from the log config.
func WithLogger(logger core.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithHTTPClient sets the client used for every outbound call.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithDatabase reuses an open persistence client. The app does not close it.
func WithDatabase(client *persistence.Client) Option {
	return func(o *options) {
		o.db = client
	}
}

func WithInstallationCache(cacheService repositorycache.CacheService) Option {
	return func(o *options) {
		o.installationCache = cacheService
	}
}

// WithOAuthEndpoint overrides the per-shop authorize and token URLs.
func WithOAuthEndpoint(endpoint func(shop string) oauth2.Endpoint) Option {
	return func(o *options) {
		o.oauthEndpoint = endpoint
	}
}

type App struct {
	cfg        core.Config
	logger     core.Logger
	router     *gin.Engine
	httpServer *http.Server
	scheduler  *cron.Cron
	metrics    *pipeline.Metrics
	sessions   session.Store
	ledger     core.ReplayLedger
	limiter    *ratelimit.ShopLimiter
	infra      *infra
}

func New(ctx context.Context, cfg core.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	logger := o.logger
	if logger == nil {
		zapLogger, err := gologger.New(gologger.Config{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			Name:   cfg.ServiceName,
		})
		if err != nil {
			return nil, err
		}
		logger = zapLogger
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.Upstream.Timeout}
	}
	if o.installationCache == nil {
		cacheService, err := newCache(installationCacheTTL)
		if err != nil {
			return nil, err
		}
		o.installationCache = cacheService
	}

	keyring, err := security.NewKeyring(cfg.SessionSecret())
	if err != nil {
		return nil, core.WrapConfigError(err, "session keyring")
	}
	sealer, err := keyring.Sealer()
	if err != nil {
		return nil, core.WrapConfigError(err, "session sealer")
	}

	infra, err := setupInfra(ctx, cfg, o, sealer, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		logger:   core.ResolveLogger("app", nil, logger),
		metrics:  pipeline.NewMetrics(),
		sessions: infra.sessions,
		ledger:   infra.ledger,
		limiter:  ratelimit.NewShopLimiter(cfg.Upstream.RateLimit, cfg.Upstream.RateBurst),
		infra:    infra,
	}
	router, err := a.setupHTTP(o, keyring, logger)
	if err != nil {
		_ = infra.close()
		return nil, err
	}
	a.router = router

	a.scheduler = cron.New()
	if _, err := a.scheduler.AddFunc(cfg.Jobs.PurgeSchedule, func() {
		a.Purge(context.Background())
	}); err != nil {
		_ = infra.close()
		return nil, core.WrapConfigError(err, fmt.Sprintf("purge schedule %q", cfg.Jobs.PurgeSchedule))
	}

	a.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return a, nil
}

// Handler exposes the router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.router
}

// Run starts the purge schedule and blocks serving HTTP until Shutdown.
func (a *App) Run() error {
	a.scheduler.Start()
	core.LogWithLevel(context.Background(), a.logger, "info", "listening", map[string]any{
		"addr":          a.httpServer.Addr,
		"session_store": a.cfg.Session.Store,
	})
	if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	serverErr := a.httpServer.Shutdown(ctx)

	select {
	case <-a.scheduler.Stop().Done():
	case <-ctx.Done():
	}

	closeErr := a.infra.close()
	return errors.Join(serverErr, closeErr)
}

// Purge drops expired sessions, expired webhook claims and idle rate limit
// buckets. It runs on the purge schedule.
func (a *App) Purge(ctx context.Context) {
	startedAt := time.Now()
	removed := map[string]int{}
	var errs []error

	if a.sessions != nil {
		n, err := a.sessions.PurgeExpired(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("sessions: %w", err))
		}
		removed["sessions"] = n
	}
	if a.ledger != nil {
		n, err := a.ledger.PurgeExpired(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("webhook claims: %w", err))
		}
		removed["webhook_claims"] = n
	}
	removed["rate_buckets"] = a.limiter.Prune(limiterIdleTTL)

	fields := map[string]any{}
	for kind, n := range removed {
		fields[kind] = n
		if n > 0 {
			a.metrics.IncCounter(ctx, core.MetricPurgedTotal, int64(n), map[string]string{"kind": kind})
		}
	}
	core.ObserveOperation(ctx, a.logger, startedAt, "purge", errors.Join(errs...), fields)
}

func newCache(ttl time.Duration) (repositorycache.CacheService, error) {
	config := repositorycache.DefaultConfig()
	config.TTL = ttl
	cacheService, err := repositorycache.NewCacheService(config)
	if err != nil {
		return nil, fmt.Errorf("app: cache service: %w", err)
	}
	return cacheService, nil
}
