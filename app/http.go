package app

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-shopify-app/api"
	"github.com/goliatone/go-shopify-app/catalog"
	"github.com/goliatone/go-shopify-app/command"
	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/games"
	"github.com/goliatone/go-shopify-app/oauth"
	"github.com/goliatone/go-shopify-app/pipeline"
	"github.com/goliatone/go-shopify-app/proxy"
	"github.com/goliatone/go-shopify-app/query"
	"github.com/goliatone/go-shopify-app/render"
	"github.com/goliatone/go-shopify-app/security"
	"github.com/goliatone/go-shopify-app/session"
	"github.com/goliatone/go-shopify-app/verify"
	"github.com/goliatone/go-shopify-app/webhooks"
)

const (
	PathHealth  = "/healthz"
	PathMetrics = "/metrics"
	PathAssets  = "/assets"
)

// setupHTTP builds the stage chain and mounts it as the router fallback. The
// health, metrics, webhook and asset routes bypass the chain.
func (a *App) setupHTTP(o options, keyring *security.Keyring, logger core.Logger) (*gin.Engine, error) {
	cfg := a.cfg
	installations := a.infra.factory.InstallationStore()

	manager, err := session.NewManager(session.ManagerConfig{
		CookieName: cfg.Session.CookieName,
		TTL:        cfg.Session.TTL,
		Cookie:     session.CookieOptions{Secure: cfg.Session.CookieSecure},
		Keyring:    keyring,
		Store:      a.sessions,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	oauthHandler, err := oauth.NewHandler(oauth.Config{
		APIKey:          cfg.Shopify.APIKey,
		Secret:          cfg.Shopify.Secret,
		Scopes:          cfg.Shopify.Scopes,
		AccessMode:      cfg.Shopify.AccessMode,
		DefaultShop:     cfg.Shopify.DefaultShop,
		AppURL:          cfg.Server.Host,
		StateTTL:        cfg.Session.StateTTL,
		ExchangeTimeout: cfg.Upstream.Timeout,
		Endpoint:        o.oauthEndpoint,
		HTTPClient:      o.httpClient,
		Installations:   installations,
		Metrics:         a.metrics,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	verifier, err := verify.NewVerifier(verify.Config{
		APIKey:        cfg.Shopify.APIKey,
		Secret:        cfg.Shopify.Secret,
		Installations: installations,
		Scopes:        cfg.Shopify.Scopes,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}

	graphqlProxy, err := proxy.New(proxy.Config{
		APIVersion:       cfg.Shopify.APIVersion,
		EndpointTemplate: cfg.Shopify.GraphQLEndpoint,
		Timeout:          cfg.Upstream.Timeout,
		Limiter:          a.limiter,
		Transport:        o.httpClient.Transport,
		Metrics:          a.metrics,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	gamesCache, err := newCache(gamesCacheTTL)
	if err != nil {
		return nil, err
	}
	gamesClient, err := games.NewClient(games.Config{
		URL:     cfg.Render.GamesURL,
		Timeout: cfg.Upstream.Timeout,
		Cache:   gamesCache,
		Client:  o.httpClient,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	adminClient, err := catalog.NewAdminClient(catalog.Config{
		Endpoint: graphqlProxy.Endpoint,
		Client:   o.httpClient,
		Timeout:  cfg.Upstream.Timeout,
		Limiter:  a.limiter,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	apiStage := api.NewStage(api.Config{
		ListGames:     query.NewListGamesQuery(gamesClient),
		ListProducts:  query.NewListProductsQuery(adminClient),
		CreateProduct: command.NewCreateProductCommand(adminClient),
		Logger:        logger,
	})

	renderer, err := render.NewRenderer(render.Config{
		APIKey:     cfg.Shopify.APIKey,
		BundlePath: cfg.Render.BundlePath,
	})
	if err != nil {
		return nil, err
	}
	renderCfg := render.StageConfig{Logger: logger}
	if cfg.Render.PrefetchGames {
		renderCfg.Games = gamesClient
	}

	chain, err := pipeline.NewChain(
		session.NewStage(manager),
		oauthHandler,
		verify.NewStage(verifier, a.metrics),
		graphqlProxy,
		apiStage,
		render.NewStage(renderer, renderCfg),
	)
	if err != nil {
		return nil, err
	}

	processor, err := webhooks.NewProcessor(webhooks.Config{
		Secret:  cfg.Shopify.Secret,
		Ledger:  a.ledger,
		Metrics: a.metrics,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	uninstalled := webhooks.UninstalledHandler{
		Installations: installations,
		Sessions:      a.sessions,
		Logger:        logger,
	}
	if err := processor.Register(webhooks.TopicAppUninstalled, uninstalled); err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(pipeline.Recovery(logger), pipeline.RequestLogger(logger), a.metrics.Middleware())

	router.GET(PathHealth, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "stages": chain.Stages()})
	})
	router.GET(PathMetrics, gin.WrapH(a.metrics.Handler()))
	router.POST(core.PathWebhooks, processor.HTTPHandler())
	if dir := cfg.Render.AssetsDir; dir != "" {
		router.Static(PathAssets, dir)
	}
	router.NoRoute(chain.Handler())

	core.LogWithLevel(context.Background(), a.logger, "debug", "pipeline assembled", map[string]any{
		"stages": chain.Stages(),
	})
	return router, nil
}
