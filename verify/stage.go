package verify

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/pipeline"
	"github.com/goliatone/go-shopify-app/session"
)

const (
	HeaderReauthorize    = "X-Shopify-API-Request-Failure-Reauthorize"
	HeaderReauthorizeURL = "X-Shopify-API-Request-Failure-Reauthorize-Url"
)

// Stage redirects requests that fail verification to the auth-start path.
type Stage struct {
	verifier *Verifier
	metrics  core.MetricsRecorder
	logger   core.Logger
}

func NewStage(verifier *Verifier, metrics core.MetricsRecorder) *Stage {
	var logger core.Logger
	if verifier != nil {
		logger = verifier.logger
	}
	return &Stage{
		verifier: verifier,
		metrics:  core.ResolveMetrics(metrics),
		logger:   core.ResolveLogger("verify", nil, logger),
	}
}

func (*Stage) Name() string {
	return "verify"
}

func (s *Stage) Handle(c *gin.Context) {
	if core.IsAuthPath(c.Request.URL.Path) {
		return
	}
	if s == nil || s.verifier == nil {
		core.WriteError(c, fmt.Errorf("verify: verifier is not configured"))
		return
	}
	handle := session.FromContext(c)
	current := handle.Read()
	decision := s.verifier.Verify(c.Request, current)
	if decision.Allowed {
		return
	}

	if clearsSession(decision.Reason) && handle != nil {
		if err := handle.Clear(); err != nil {
			core.LogWithLevel(c.Request.Context(), s.logger, "warn", "session clear failed", map[string]any{
				"error": err.Error(),
			})
		}
	}
	s.metrics.IncCounter(c.Request.Context(), core.MetricVerifyDeniedTotal, 1, map[string]string{
		"reason": decision.Reason,
	})
	core.LogWithLevel(c.Request.Context(), s.logger, "debug", "request denied", map[string]any{
		"path":   c.Request.URL.Path,
		"reason": decision.Reason,
	})

	target := core.AuthStartURL(redirectShop(c.Request, current))
	if isXHR(c.Request) {
		c.Header(HeaderReauthorize, "1")
		c.Header(HeaderReauthorizeURL, target)
	}
	c.Redirect(http.StatusFound, target)
	c.Abort()
}

// clearsSession lists the denials that only a new handshake can resolve. The
// session is dropped so auth-start does not short-circuit back home.
func clearsSession(reason string) bool {
	switch reason {
	case ReasonUninstalled, ReasonScopesChanged, ReasonSessionToken, ReasonInstallationLookup:
		return true
	}
	return false
}

// redirectShop prefers a valid shop from the query over the session shop.
func redirectShop(r *http.Request, current *core.Session) string {
	if raw := strings.TrimSpace(r.URL.Query().Get("shop")); raw != "" {
		if shop, err := core.NormalizeShopDomain(raw); err == nil {
			return shop
		}
	}
	if current != nil {
		return current.Shop
	}
	return ""
}

func isXHR(r *http.Request) bool {
	if strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Requested-With")), "XMLHttpRequest") {
		return true
	}
	_, ok := BearerToken(r)
	return ok
}

var _ pipeline.Stage = (*Stage)(nil)
