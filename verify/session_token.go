package verify

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-shopify-app/core"
	"github.com/golang-jwt/jwt/v5"
)

const defaultClockSkew = 30 * time.Second

var ErrInvalidSessionToken = errors.New("verify: invalid session token")

// SessionTokenClaims are the App Bridge session token claims.
type SessionTokenClaims struct {
	Dest string `json:"dest"`
	SID  string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Shop returns the shop domain named by the dest claim.
func (c SessionTokenClaims) Shop() string {
	parsed, err := url.Parse(strings.TrimSpace(c.Dest))
	if err != nil {
		return ""
	}
	shop, err := core.NormalizeShopDomain(parsed.Hostname())
	if err != nil {
		return ""
	}
	return shop
}

type SessionTokenValidator struct {
	apiKey    string
	secret    []byte
	clockSkew time.Duration
	now       func() time.Time
}

func NewSessionTokenValidator(apiKey string, secret string, clockSkew time.Duration, now func() time.Time) *SessionTokenValidator {
	if clockSkew <= 0 {
		clockSkew = defaultClockSkew
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &SessionTokenValidator{
		apiKey:    strings.TrimSpace(apiKey),
		secret:    []byte(strings.TrimSpace(secret)),
		clockSkew: clockSkew,
		now:       now,
	}
}

// Validate parses raw and checks it was issued to this app for expectedShop.
func (v *SessionTokenValidator) Validate(raw string, expectedShop string) (*SessionTokenClaims, error) {
	if v == nil || v.apiKey == "" || len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: validator is not configured", ErrInvalidSessionToken)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: token is required", ErrInvalidSessionToken)
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(v.apiKey),
		jwt.WithLeeway(v.clockSkew),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	)
	claims := &SessionTokenClaims{}
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}

	issuerShop, err := shopFromAdminURL(claims.Issuer, true)
	if err != nil {
		return nil, fmt.Errorf("%w: iss: %v", ErrInvalidSessionToken, err)
	}
	destShop, err := shopFromAdminURL(claims.Dest, false)
	if err != nil {
		return nil, fmt.Errorf("%w: dest: %v", ErrInvalidSessionToken, err)
	}
	if issuerShop != destShop {
		return nil, fmt.Errorf("%w: iss and dest name different shops", ErrInvalidSessionToken)
	}
	if expected := strings.TrimSpace(expectedShop); expected != "" && expected != destShop {
		return nil, fmt.Errorf("%w: token shop does not match session", ErrInvalidSessionToken)
	}
	return claims, nil
}

func shopFromAdminURL(value string, admin bool) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(value))
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(parsed.Scheme, "https") {
		return "", fmt.Errorf("https scheme required")
	}
	if parsed.User != nil || parsed.Port() != "" || parsed.RawQuery != "" || parsed.Fragment != "" {
		return "", fmt.Errorf("unexpected url components")
	}
	path := strings.TrimSuffix(parsed.Path, "/")
	if admin && path != "/admin" {
		return "", fmt.Errorf("admin path required")
	}
	if !admin && path != "" {
		return "", fmt.Errorf("path is not allowed")
	}
	return core.NormalizeShopDomain(parsed.Hostname())
}
