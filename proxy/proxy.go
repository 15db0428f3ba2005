package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/pipeline"
	"github.com/goliatone/go-shopify-app/ratelimit"
	"github.com/goliatone/go-shopify-app/session"
)

const (
	DefaultEndpointTemplate = "https://{shop}/admin/api/{version}/graphql.json"
	HeaderAccessToken       = "X-Shopify-Access-Token"
	defaultTimeout          = 15 * time.Second
)

var errUpstreamUnauthorized = errors.New("proxy: upstream rejected the access token")

// strippedHeaders never leave the app; the upstream only sees the session token.
var strippedHeaders = []string{"Authorization", "Cookie", HeaderAccessToken}

type Config struct {
	APIVersion string
	// EndpointTemplate may use {shop} and {version}.
	EndpointTemplate string
	Timeout          time.Duration
	Limiter          *ratelimit.ShopLimiter
	Transport        http.RoundTripper
	Metrics          core.MetricsRecorder
	Logger           core.Logger
}

// Proxy forwards GraphQL calls to the Admin API of the session's shop.
type Proxy struct {
	apiVersion string
	template   string
	timeout    time.Duration
	limiter    *ratelimit.ShopLimiter
	reverse    *httputil.ReverseProxy
	metrics    core.MetricsRecorder
	logger     core.Logger
}

type upstreamCall struct {
	target *url.URL
	token  string
	shop   string
	status int
	err    error
}

type callKey struct{}

func New(cfg Config) (*Proxy, error) {
	version := strings.TrimSpace(cfg.APIVersion)
	if version == "" {
		version = core.DefaultAPIVersion
	}
	template := strings.TrimSpace(cfg.EndpointTemplate)
	if template == "" {
		template = DefaultEndpointTemplate
	}
	if lower := strings.ToLower(template); !strings.HasPrefix(lower, "https://") && !strings.HasPrefix(lower, "http://") {
		return nil, fmt.Errorf("proxy: endpoint template %q is not a url", template)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	p := &Proxy{
		apiVersion: version,
		template:   template,
		timeout:    timeout,
		limiter:    cfg.Limiter,
		metrics:    core.ResolveMetrics(cfg.Metrics),
		logger:     core.ResolveLogger("proxy", nil, cfg.Logger),
	}
	p.reverse = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.handleError,
		Transport:      cfg.Transport,
	}
	return p, nil
}

// Endpoint returns the upstream GraphQL URL for shop.
func (p *Proxy) Endpoint(shop string) (*url.URL, error) {
	raw := strings.NewReplacer("{shop}", shop, "{version}", p.apiVersion).Replace(p.template)
	target, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("proxy: parse endpoint: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("proxy: endpoint %q is not absolute", raw)
	}
	return target, nil
}

func (*Proxy) Name() string {
	return "proxy"
}

func (p *Proxy) Handle(c *gin.Context) {
	if strings.TrimSuffix(c.Request.URL.Path, "/") != core.PathGraphQL {
		return
	}
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodPost {
		return
	}
	handle := session.FromContext(c)
	current := handle.Authenticated()
	if current == nil {
		p.count(c, "unauthenticated")
		p.reauthorize(c, "")
		return
	}
	if err := p.limiter.Take(current.Shop); err != nil {
		var throttled ratelimit.ThrottledError
		if errors.As(err, &throttled) {
			p.count(c, "rate_limited")
			c.Header("Retry-After", strconv.Itoa(throttled.RetryAfterSeconds()))
			core.WriteError(c, throttled.ToServiceError())
			return
		}
		core.WriteError(c, err)
		return
	}
	target, err := p.Endpoint(current.Shop)
	if err != nil {
		core.WriteError(c, err)
		return
	}

	call := &upstreamCall{target: target, token: current.AccessToken, shop: current.Shop}
	ctx, cancel := context.WithTimeout(context.WithValue(c.Request.Context(), callKey{}, call), p.timeout)
	defer cancel()

	startedAt := time.Now()
	p.forward(c, c.Request.WithContext(ctx), current.Shop, startedAt)
	p.metrics.ObserveHistogram(c.Request.Context(), core.MetricProxyUpstreamSeconds, time.Since(startedAt).Seconds(), nil)

	switch {
	case call.err == nil:
		p.count(c, strconv.Itoa(call.status))
		c.Writer.WriteHeaderNow()
		c.Abort()
	case errors.Is(call.err, errUpstreamUnauthorized):
		p.count(c, "unauthorized")
		core.LogWithLevel(c.Request.Context(), p.logger, "warn", "upstream rejected access token", map[string]any{
			"shop": current.Shop,
		})
		if err := handle.Clear(); err != nil {
			core.LogWithLevel(c.Request.Context(), p.logger, "warn", "session clear failed", map[string]any{
				"error": err.Error(),
			})
		}
		p.reauthorize(c, current.Shop)
	case c.Request.Context().Err() != nil:
		// client went away; there is nobody to answer
		p.count(c, "canceled")
		c.Abort()
	default:
		p.count(c, "error")
		core.LogWithLevel(c.Request.Context(), p.logger, "error", "upstream call failed", map[string]any{
			"shop":  current.Shop,
			"error": call.err.Error(),
		})
		core.WriteError(c, core.UpstreamError(call.err, "proxy: upstream request failed"))
	}
}

// forward streams the upstream reply. When the body breaks off after the
// headers went out, ReverseProxy panics with http.ErrAbortHandler; the failure
// is recorded and the panic re-raised so the connection is dropped.
func (p *Proxy) forward(c *gin.Context, req *http.Request, shop string, startedAt time.Time) {
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
			outcome := "aborted"
			if c.Request.Context().Err() != nil {
				outcome = "canceled"
			}
			p.metrics.ObserveHistogram(c.Request.Context(), core.MetricProxyUpstreamSeconds, time.Since(startedAt).Seconds(), nil)
			p.count(c, outcome)
			core.LogWithLevel(c.Request.Context(), p.logger, "warn", "upstream stream aborted", map[string]any{
				"shop":    shop,
				"outcome": outcome,
			})
		}
		panic(recovered)
	}()
	p.reverse.ServeHTTP(c.Writer, req)
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	call, _ := pr.In.Context().Value(callKey{}).(*upstreamCall)
	if call == nil {
		return
	}
	target := *call.target
	if target.RawQuery == "" {
		target.RawQuery = pr.In.URL.RawQuery
	}
	pr.Out.URL = &target
	pr.Out.Host = target.Host
	for _, name := range strippedHeaders {
		pr.Out.Header.Del(name)
	}
	pr.Out.Header.Set("Authorization", "Bearer "+call.token)
	pr.Out.Header.Set(HeaderAccessToken, call.token)
}

func (p *Proxy) modifyResponse(resp *http.Response) error {
	call, _ := resp.Request.Context().Value(callKey{}).(*upstreamCall)
	if call == nil {
		return nil
	}
	call.status = resp.StatusCode
	p.limiter.Observe(call.shop, resp.StatusCode, resp.Header)
	if resp.StatusCode == http.StatusUnauthorized {
		return errUpstreamUnauthorized
	}
	return nil
}

// handleError records the failure; Handle decides what the client sees.
func (p *Proxy) handleError(_ http.ResponseWriter, r *http.Request, err error) {
	if call, _ := r.Context().Value(callKey{}).(*upstreamCall); call != nil {
		call.err = err
	}
}

func (p *Proxy) reauthorize(c *gin.Context, shop string) {
	target := core.AuthStartURL(shop)
	c.Header("X-Shopify-API-Request-Failure-Reauthorize", "1")
	c.Header("X-Shopify-API-Request-Failure-Reauthorize-Url", target)
	c.Redirect(http.StatusFound, target)
	c.Abort()
}

func (p *Proxy) count(c *gin.Context, status string) {
	p.metrics.IncCounter(c.Request.Context(), core.MetricProxyRequestsTotal, 1, map[string]string{"status": status})
}

var _ pipeline.Stage = (*Proxy)(nil)
