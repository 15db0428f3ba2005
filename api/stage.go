// Package api serves the JSON endpoints the client bundle calls for games and
// products. It runs after the request verifier.
package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-shopify-app/catalog"
	"github.com/goliatone/go-shopify-app/command"
	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/games"
	"github.com/goliatone/go-shopify-app/pipeline"
	"github.com/goliatone/go-shopify-app/query"
	"github.com/goliatone/go-shopify-app/session"
	"github.com/goliatone/go-shopify-app/verify"
)

type Config struct {
	ListGames     gocmd.Querier[query.ListGamesMessage, []games.Game]
	ListProducts  gocmd.Querier[query.ListProductsMessage, []catalog.Product]
	CreateProduct gocmd.Commander[command.CreateProductMessage]
	Logger        core.Logger
}

type Stage struct {
	listGames     gocmd.Querier[query.ListGamesMessage, []games.Game]
	listProducts  gocmd.Querier[query.ListProductsMessage, []catalog.Product]
	createProduct gocmd.Commander[command.CreateProductMessage]
	logger        core.Logger
}

type createProductBody struct {
	Title string `json:"title"`
}

func NewStage(cfg Config) *Stage {
	return &Stage{
		listGames:     cfg.ListGames,
		listProducts:  cfg.ListProducts,
		createProduct: cfg.CreateProduct,
		logger:        core.ResolveLogger("api", nil, cfg.Logger),
	}
}

func (*Stage) Name() string {
	return "api"
}

func (s *Stage) Handle(c *gin.Context) {
	switch strings.TrimSuffix(c.Request.URL.Path, "/") {
	case core.PathAPIGames:
		if !allowMethods(c, http.MethodGet) {
			return
		}
		s.games(c)
	case core.PathAPIProducts:
		if !allowMethods(c, http.MethodGet, http.MethodPost) {
			return
		}
		if c.Request.Method == http.MethodPost {
			s.create(c)
			return
		}
		s.products(c)
	}
}

func (s *Stage) games(c *gin.Context) {
	if s.listGames == nil {
		core.WriteError(c, core.NotFoundError("Not Found"))
		return
	}
	list, err := s.listGames.Query(c.Request.Context(), query.ListGamesMessage{})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"games": list})
}

func (s *Stage) products(c *gin.Context) {
	current, ok := s.session(c)
	if !ok {
		return
	}
	if s.listProducts == nil {
		core.WriteError(c, core.NotFoundError("Not Found"))
		return
	}
	list, err := s.listProducts.Query(c.Request.Context(), query.ListProductsMessage{Session: *current})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": list})
}

func (s *Stage) create(c *gin.Context) {
	current, ok := s.session(c)
	if !ok {
		return
	}
	if s.createProduct == nil {
		core.WriteError(c, core.NotFoundError("Not Found"))
		return
	}
	var body createProductBody
	if err := c.ShouldBindJSON(&body); err != nil {
		core.WriteError(c, core.BadInputError("api: request body must be a json object with a title"))
		return
	}
	collector := gocmd.NewResult[catalog.Product]()
	ctx := gocmd.ContextWithResult(c.Request.Context(), collector)
	if err := s.createProduct.Execute(ctx, command.CreateProductMessage{Session: *current, Title: body.Title}); err != nil {
		s.fail(c, err)
		return
	}
	product, _ := collector.Load()
	c.JSON(http.StatusCreated, gin.H{"product": product})
}

func (s *Stage) session(c *gin.Context) (*core.Session, bool) {
	current := session.FromContext(c).Authenticated()
	if current == nil {
		s.reauthorize(c, "")
		core.WriteError(c, core.AuthError("api: authenticated session is required"))
		return nil, false
	}
	return current, true
}

// fail writes err. An upstream 401 means the stored token is gone, so the
// session is cleared and the client is told to reauthorize.
func (s *Stage) fail(c *gin.Context, err error) {
	status := core.HTTPStatus(err)
	core.LogWithLevel(c.Request.Context(), s.logger, "warn", "api request failed", map[string]any{
		"path":   c.Request.URL.Path,
		"status": status,
		"error":  err.Error(),
	})
	if status == http.StatusUnauthorized {
		handle := session.FromContext(c)
		shop := ""
		if current := handle.Read(); current != nil {
			shop = current.Shop
		}
		if clearErr := handle.Clear(); clearErr != nil {
			core.LogWithLevel(c.Request.Context(), s.logger, "warn", "session clear failed", map[string]any{
				"error": clearErr.Error(),
			})
		}
		s.reauthorize(c, shop)
	}
	core.WriteError(c, err)
}

func (s *Stage) reauthorize(c *gin.Context, shop string) {
	c.Header(verify.HeaderReauthorize, "1")
	c.Header(verify.HeaderReauthorizeURL, core.AuthStartURL(shop))
}

func allowMethods(c *gin.Context, methods ...string) bool {
	for _, method := range methods {
		if c.Request.Method == method {
			return true
		}
	}
	c.Header("Allow", strings.Join(methods, ", "))
	c.String(http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	c.Abort()
	return false
}

var _ pipeline.Stage = (*Stage)(nil)
