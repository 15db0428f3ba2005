package render

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/games"
	"github.com/goliatone/go-shopify-app/pipeline"
	"github.com/goliatone/go-shopify-app/session"
)

const (
	defaultPrefetchTimeout = 3 * time.Second
	gamesFailureReason     = "failed to fetch games"
)

// GamesSource provides the hot list for server-side prefetching.
type GamesSource interface {
	HotList(ctx context.Context) ([]games.Game, error)
}

type StageConfig struct {
	// Games enables server-side prefetch of the home view list when set.
	Games           GamesSource
	PrefetchTimeout time.Duration
	Logger          core.Logger
}

// Stage renders the application shell for every request that reaches it.
type Stage struct {
	renderer        *Renderer
	games           GamesSource
	prefetchTimeout time.Duration
	logger          core.Logger
}

func NewStage(renderer *Renderer, cfg StageConfig) *Stage {
	timeout := cfg.PrefetchTimeout
	if timeout <= 0 {
		timeout = defaultPrefetchTimeout
	}
	return &Stage{
		renderer:        renderer,
		games:           cfg.Games,
		prefetchTimeout: timeout,
		logger:          core.ResolveLogger("render", nil, cfg.Logger),
	}
}

func (*Stage) Name() string {
	return "render"
}

func (s *Stage) Handle(c *gin.Context) {
	if c.Writer.Written() || c.IsAborted() {
		return
	}
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		return
	}

	page, status := s.page(c)
	var buf bytes.Buffer
	if err := s.renderer.Render(&buf, page); err != nil {
		core.LogWithLevel(c.Request.Context(), s.logger, "error", "render failed", map[string]any{
			"path":  c.Request.URL.Path,
			"view":  string(page.View),
			"error": err.Error(),
		})
		core.WriteError(c, core.RenderError(err, "render: view failed"))
		return
	}
	c.Data(status, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Stage) page(c *gin.Context) (Page, int) {
	page := Page{Path: c.Request.URL.Path}
	current := session.FromContext(c).Read()
	if current != nil {
		page.Shop = current.Shop
		page.Host = current.Host
	}
	if host := strings.TrimSpace(c.Query("host")); host != "" {
		page.Host = host
	}

	switch strings.TrimSuffix(c.Request.URL.Path, "/") {
	case "":
		page.View = ViewHome
		page.Games = s.prefetch(c.Request.Context())
		return page, http.StatusOK
	case core.PathSettings:
		page.View = ViewSettings
		page.Title = "Settings"
		return page, http.StatusOK
	default:
		page.View = ViewNotFound
		page.Title = "Not found"
		return page, http.StatusNotFound
	}
}

func (s *Stage) prefetch(ctx context.Context) Result[[]games.Game] {
	if s.games == nil {
		return Pending[[]games.Game]()
	}
	ctx, cancel := context.WithTimeout(ctx, s.prefetchTimeout)
	defer cancel()
	list, err := s.games.HotList(ctx)
	if err != nil {
		core.LogWithLevel(ctx, s.logger, "warn", "games prefetch failed", map[string]any{
			"error": err.Error(),
		})
		return Failed[[]games.Game](gamesFailureReason)
	}
	return Ready(list)
}

var _ pipeline.Stage = (*Stage)(nil)
