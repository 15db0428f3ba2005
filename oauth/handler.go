package oauth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/pipeline"
	"github.com/goliatone/go-shopify-app/security"
	"github.com/goliatone/go-shopify-app/session"
	"golang.org/x/oauth2"
)

const (
	defaultStateTTL        = 10 * time.Minute
	defaultExchangeTimeout = 15 * time.Second
	nonceBytes             = 32

	authorizePath   = "/admin/oauth/authorize"
	accessTokenPath = "/admin/oauth/access_token"
)

const (
	outcomeStarted          = "started"
	outcomeAlreadyAuthed    = "already_authenticated"
	outcomeSucceeded        = "succeeded"
	outcomeStateMismatch    = "state_mismatch"
	outcomeSignatureInvalid = "signature_invalid"
	outcomeExchangeFailed   = "exchange_failed"
	outcomeLoggedOut        = "logged_out"
)

type Config struct {
	APIKey      string
	Secret      string
	Scopes      []string
	AccessMode  string
	DefaultShop string
	// AppURL is the public base URL; empty derives it from the request.
	AppURL          string
	StateTTL        time.Duration
	ExchangeTimeout time.Duration
	// Endpoint overrides the per-shop authorize and token URLs.
	Endpoint      func(shop string) oauth2.Endpoint
	HTTPClient    *http.Client
	Installations core.InstallationWriter
	Metrics       core.MetricsRecorder
	Logger        core.Logger
	Now           func() time.Time
}

// Handler runs the install/authorize handshake on the auth paths.
type Handler struct {
	cfg     Config
	metrics core.MetricsRecorder
	logger  core.Logger
}

func NewHandler(cfg Config) (*Handler, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Secret = strings.TrimSpace(cfg.Secret)
	if cfg.APIKey == "" || cfg.Secret == "" {
		return nil, fmt.Errorf("oauth: api key and secret are required")
	}
	cfg.Scopes = core.NormalizeScopes(cfg.Scopes)
	if len(cfg.Scopes) == 0 {
		return nil, fmt.Errorf("oauth: at least one scope is required")
	}
	cfg.AccessMode = strings.TrimSpace(strings.ToLower(cfg.AccessMode))
	if cfg.AccessMode == "" {
		cfg.AccessMode = core.AccessModeOffline
	}
	if shop := strings.TrimSpace(cfg.DefaultShop); shop != "" {
		normalized, err := core.NormalizeShopDomain(shop)
		if err != nil {
			return nil, fmt.Errorf("oauth: default shop: %w", err)
		}
		cfg.DefaultShop = normalized
	}
	cfg.AppURL = strings.TrimSuffix(strings.TrimSpace(cfg.AppURL), "/")
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = defaultStateTTL
	}
	if cfg.ExchangeTimeout <= 0 {
		cfg.ExchangeTimeout = defaultExchangeTimeout
	}
	if cfg.Endpoint == nil {
		cfg.Endpoint = ShopEndpoint
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Handler{
		cfg:     cfg,
		metrics: core.ResolveMetrics(cfg.Metrics),
		logger:  core.ResolveLogger("oauth", nil, cfg.Logger),
	}, nil
}

// ShopEndpoint returns the authorize and access token URLs of a shop.
func ShopEndpoint(shop string) oauth2.Endpoint {
	base := "https://" + shop
	return oauth2.Endpoint{
		AuthURL:   base + authorizePath,
		TokenURL:  base + accessTokenPath,
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

func (*Handler) Name() string {
	return "oauth"
}

// Handle serves the auth paths and leaves every other request untouched.
func (h *Handler) Handle(c *gin.Context) {
	switch strings.TrimSuffix(c.Request.URL.Path, "/") {
	case core.PathAuthStart:
		h.Start(c)
	case core.PathAuthCallback:
		h.Callback(c)
	case core.PathAuthLogout:
		h.Logout(c)
	}
}

func (h *Handler) Start(c *gin.Context) {
	handle := session.FromContext(c)
	if handle == nil {
		core.WriteError(c, fmt.Errorf("oauth: session is not attached"))
		return
	}
	query := c.Request.URL.Query()
	shop, err := h.resolveShop(query.Get("shop"), handle.Read())
	if err != nil {
		core.WriteError(c, err)
		return
	}
	if query.Has(security.QueryParamHMAC) {
		if err := security.VerifyQuerySignature(query, h.cfg.Secret); err != nil {
			h.count(c, outcomeSignatureInvalid)
			core.WriteError(c, core.SignatureError("oauth: install request signature is invalid"))
			return
		}
	}

	if current := handle.Authenticated(); current != nil && current.Shop == shop && h.grantCovers(current) {
		h.count(c, outcomeAlreadyAuthed)
		c.Redirect(http.StatusFound, "/")
		c.Abort()
		return
	}

	nonce, err := generateNonce()
	if err != nil {
		core.WriteError(c, err)
		return
	}
	now := h.cfg.Now()
	if err := handle.Write(core.Session{
		Shop:      shop,
		State:     nonce,
		Host:      strings.TrimSpace(query.Get("host")),
		ExpiresAt: now.Add(h.cfg.StateTTL),
	}); err != nil {
		core.WriteError(c, err)
		return
	}

	authURL := h.oauthConfig(shop, h.redirectURL(c.Request)).AuthCodeURL(nonce, h.authURLOptions()...)
	h.count(c, outcomeStarted)
	core.LogWithLevel(c.Request.Context(), h.logger, "debug", "oauth handshake started", map[string]any{
		"shop": shop,
	})
	c.Redirect(http.StatusFound, authURL)
	c.Abort()
}

func (h *Handler) Callback(c *gin.Context) {
	handle := session.FromContext(c)
	if handle == nil {
		core.WriteError(c, fmt.Errorf("oauth: session is not attached"))
		return
	}
	startedAt := time.Now()
	query := c.Request.URL.Query()
	stored := handle.Read()

	// the nonce is single use, whatever the outcome
	if stored != nil && stored.State != "" {
		if err := h.consumeState(handle, *stored); err != nil {
			core.WriteError(c, err)
			return
		}
	}

	state := strings.TrimSpace(query.Get("state"))
	if stored == nil || stored.State == "" || state == "" ||
		subtle.ConstantTimeCompare([]byte(state), []byte(stored.State)) != 1 {
		h.count(c, outcomeStateMismatch)
		core.WriteError(c, core.StateMismatchError("oauth: state does not match"))
		return
	}
	shop, err := core.NormalizeShopDomain(query.Get("shop"))
	if err != nil || shop != stored.Shop {
		h.count(c, outcomeStateMismatch)
		core.WriteError(c, core.StateMismatchError("oauth: shop does not match"))
		return
	}
	if err := security.VerifyQuerySignature(query, h.cfg.Secret); err != nil {
		h.count(c, outcomeSignatureInvalid)
		core.WriteError(c, core.SignatureError("oauth: callback signature is invalid"))
		return
	}
	code := strings.TrimSpace(query.Get("code"))
	if code == "" {
		core.WriteError(c, core.BadInputError("oauth: code is required"))
		return
	}

	authenticated, err := h.exchange(c.Request.Context(), shop, code, h.redirectURL(c.Request))
	core.ObserveOperation(c.Request.Context(), h.logger, startedAt, "oauth_exchange", err, map[string]any{
		"shop": shop,
	})
	if err != nil {
		h.count(c, outcomeExchangeFailed)
		_ = handle.Clear()
		core.WriteError(c, core.WrapAuthError(err, "oauth: token exchange failed"))
		return
	}
	authenticated.Host = stored.Host
	if err := handle.Write(authenticated); err != nil {
		core.WriteError(c, err)
		return
	}
	h.recordInstallation(c.Request.Context(), authenticated)
	h.count(c, outcomeSucceeded)
	c.Redirect(http.StatusFound, "/")
	c.Abort()
}

func (h *Handler) Logout(c *gin.Context) {
	handle := session.FromContext(c)
	if handle == nil {
		core.WriteError(c, fmt.Errorf("oauth: session is not attached"))
		return
	}
	if err := handle.Clear(); err != nil {
		core.LogWithLevel(c.Request.Context(), h.logger, "warn", "session clear failed", map[string]any{
			"error": err.Error(),
		})
	}
	h.count(c, outcomeLoggedOut)
	c.AbortWithStatus(http.StatusNoContent)
}

func (h *Handler) resolveShop(raw string, current *core.Session) (string, error) {
	if strings.TrimSpace(raw) != "" {
		shop, err := core.NormalizeShopDomain(raw)
		if err != nil {
			return "", core.BadInputError("oauth: invalid shop domain")
		}
		return shop, nil
	}
	if current != nil && strings.TrimSpace(current.Shop) != "" {
		return current.Shop, nil
	}
	if h.cfg.DefaultShop != "" {
		return h.cfg.DefaultShop, nil
	}
	return "", core.BadInputError("oauth: shop is required")
}

// grantCovers reports whether the session's grant still satisfies the
// configured scopes. A session with no recorded scopes is taken at face value.
func (h *Handler) grantCovers(current *core.Session) bool {
	if len(current.Scopes) == 0 {
		return true
	}
	return core.ScopesSatisfied(h.cfg.Scopes, current.Scopes)
}

// consumeState drops the nonce and keeps any access token already held.
func (h *Handler) consumeState(handle *session.Handle, stored core.Session) error {
	if strings.TrimSpace(stored.AccessToken) == "" {
		return handle.Clear()
	}
	stored.State = ""
	return handle.Write(stored)
}

func (h *Handler) exchange(ctx context.Context, shop string, code string, redirectURL string) (core.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.ExchangeTimeout)
	defer cancel()
	if h.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, h.cfg.HTTPClient)
	}
	token, err := h.oauthConfig(shop, redirectURL).Exchange(ctx, code)
	if err != nil {
		return core.Session{}, err
	}
	return sessionFromToken(shop, token, h.cfg.Scopes), nil
}

func (h *Handler) oauthConfig(shop string, redirectURL string) *oauth2.Config {
	endpoint := h.cfg.Endpoint(shop)
	if endpoint.AuthStyle == oauth2.AuthStyleAutoDetect {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	return &oauth2.Config{
		ClientID:     h.cfg.APIKey,
		ClientSecret: h.cfg.Secret,
		Endpoint:     endpoint,
		RedirectURL:  redirectURL,
	}
}

// authURLOptions sends scopes comma separated, the way the admin expects them.
func (h *Handler) authURLOptions() []oauth2.AuthCodeOption {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("scope", strings.Join(h.cfg.Scopes, ",")),
	}
	if h.cfg.AccessMode == core.AccessModeOnline {
		opts = append(opts, oauth2.SetAuthURLParam("grant_options[]", "per-user"))
	}
	return opts
}

func (h *Handler) redirectURL(r *http.Request) string {
	base := h.cfg.AppURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")); forwarded != "" {
			scheme = strings.ToLower(strings.Split(forwarded, ",")[0])
		}
		base = scheme + "://" + r.Host
	}
	return base + core.PathAuthCallback
}

func (h *Handler) recordInstallation(ctx context.Context, authenticated core.Session) {
	if h.cfg.Installations == nil {
		return
	}
	_, err := h.cfg.Installations.Upsert(ctx, core.UpsertInstallationInput{
		Shop:   authenticated.Shop,
		Scopes: authenticated.Scopes,
		Status: core.InstallationStatusActive,
	})
	if err != nil {
		core.LogWithLevel(ctx, h.logger, "error", "installation upsert failed", map[string]any{
			"shop":  authenticated.Shop,
			"error": err.Error(),
		})
	}
}

func (h *Handler) count(c *gin.Context, outcome string) {
	h.metrics.IncCounter(c.Request.Context(), core.MetricOAuthTotal, 1, map[string]string{"outcome": outcome})
}

func generateNonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("oauth: generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

var _ pipeline.Stage = (*Handler)(nil)
