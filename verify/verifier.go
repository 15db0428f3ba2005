package verify

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/security"
)

const (
	HeaderHMAC          = "X-Shopify-Hmac-Sha256"
	HeaderAuthorization = "Authorization"
	bearerPrefix        = "bearer "
)

const (
	ReasonSessionMissing     = "session_missing"
	ReasonShopMismatch       = "shop_mismatch"
	ReasonQuerySignature     = "query_signature_invalid"
	ReasonHeaderSignature    = "header_signature_invalid"
	ReasonSessionToken       = "session_token_invalid"
	ReasonScopesChanged      = "scopes_changed"
	ReasonUninstalled        = "app_uninstalled"
	ReasonInstallationLookup = "installation_lookup_failed"
	ReasonNotConfigured      = "verifier_not_configured"
)

// Decision is the outcome of verifying one request.
type Decision struct {
	Allowed bool
	Reason  string
}

func Allow() Decision {
	return Decision{Allowed: true}
}

func Deny(reason string) Decision {
	return Decision{Reason: strings.TrimSpace(reason)}
}

type Config struct {
	APIKey string
	Secret string
	// Installations is optional; a shop with no record is allowed.
	Installations core.InstallationReader
	// Scopes are the configured scopes; a session granted fewer is sent back
	// through the handshake.
	Scopes    []string
	ClockSkew time.Duration
	Logger    core.Logger
	Now       func() time.Time
}

type Verifier struct {
	secret        string
	installations core.InstallationReader
	scopes        []string
	tokens        *SessionTokenValidator
	logger        core.Logger
	now           func() time.Time
}

func NewVerifier(cfg Config) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.Secret)
	apiKey := strings.TrimSpace(cfg.APIKey)
	if secret == "" || apiKey == "" {
		return nil, fmt.Errorf("verify: api key and secret are required")
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Verifier{
		secret:        secret,
		installations: cfg.Installations,
		scopes:        core.NormalizeScopes(cfg.Scopes),
		tokens:        NewSessionTokenValidator(apiKey, secret, cfg.ClockSkew, now),
		logger:        core.ResolveLogger("verify", nil, cfg.Logger),
		now:           now,
	}, nil
}

// Verify decides whether r may proceed with the session s.
func (v *Verifier) Verify(r *http.Request, s *core.Session) Decision {
	if v == nil {
		return Deny(ReasonNotConfigured)
	}
	if !s.Authenticated(v.now()) {
		return Deny(ReasonSessionMissing)
	}
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("shop")); raw != "" {
		shop, err := core.NormalizeShopDomain(raw)
		if err != nil || shop != s.Shop {
			return Deny(ReasonShopMismatch)
		}
	}
	if query.Has(security.QueryParamHMAC) {
		if err := security.VerifyQuerySignature(query, v.secret); err != nil {
			return Deny(ReasonQuerySignature)
		}
	}
	if signature := strings.TrimSpace(r.Header.Get(HeaderHMAC)); signature != "" {
		if err := security.VerifyPayloadSignature([]byte(r.URL.RawQuery), signature, v.secret); err != nil {
			return Deny(ReasonHeaderSignature)
		}
	}
	if token, ok := BearerToken(r); ok {
		if _, err := v.tokens.Validate(token, s.Shop); err != nil {
			core.LogWithLevel(r.Context(), v.logger, "debug", "session token rejected", map[string]any{
				"shop":  s.Shop,
				"error": err.Error(),
			})
			return Deny(ReasonSessionToken)
		}
	}
	if len(v.scopes) > 0 && len(s.Scopes) > 0 && !core.ScopesSatisfied(v.scopes, s.Scopes) {
		return Deny(ReasonScopesChanged)
	}
	if v.installations != nil {
		installation, err := v.installations.GetByShop(r.Context(), s.Shop)
		switch {
		case err == nil && !installation.Active():
			return Deny(ReasonUninstalled)
		case err != nil && !core.IsNotFound(err):
			core.LogWithLevel(r.Context(), v.logger, "error", "installation lookup failed", map[string]any{
				"shop":  s.Shop,
				"error": err.Error(),
			})
			return Deny(ReasonInstallationLookup)
		}
	}
	return Allow()
}

// BearerToken returns the token of an Authorization: Bearer header.
func BearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get(HeaderAuthorization))
	if len(header) <= len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return token, token != ""
}
