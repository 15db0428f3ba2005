package core

import (
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"
)

const ShopDomainSuffix = ".myshopify.com"

type Session struct {
	ID          string    `json:"id,omitempty"`
	Shop        string    `json:"shop,omitempty"`
	AccessToken string    `json:"access_token,omitempty"`
	State       string    `json:"state,omitempty"`
	Scopes      []string  `json:"scopes,omitempty"`
	Host        string    `json:"host,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Authenticated reports whether the session carries a usable access token at now.
func (s *Session) Authenticated(now time.Time) bool {
	if s == nil {
		return false
	}
	if strings.TrimSpace(s.Shop) == "" || strings.TrimSpace(s.AccessToken) == "" {
		return false
	}
	return !s.Expired(now)
}

func (s *Session) AwaitingCallback() bool {
	if s == nil {
		return false
	}
	return strings.TrimSpace(s.State) != "" && strings.TrimSpace(s.AccessToken) == ""
}

func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

func (s Session) Clone() Session {
	cloned := s
	cloned.Scopes = append([]string(nil), s.Scopes...)
	return cloned
}

type InstallationStatus string

const (
	InstallationStatusActive      InstallationStatus = "active"
	InstallationStatusUninstalled InstallationStatus = "uninstalled"
)

func ParseInstallationStatus(value string) (InstallationStatus, error) {
	switch InstallationStatus(strings.TrimSpace(strings.ToLower(value))) {
	case InstallationStatusActive:
		return InstallationStatusActive, nil
	case InstallationStatusUninstalled:
		return InstallationStatusUninstalled, nil
	default:
		return "", fmt.Errorf("core: unsupported installation status %q", value)
	}
}

type Installation struct {
	ID            string
	Shop          string
	Scopes        []string
	Status        InstallationStatus
	InstalledAt   time.Time
	UninstalledAt *time.Time
	UpdatedAt     time.Time
}

func (i Installation) Active() bool {
	return i.Status == InstallationStatusActive
}

// NormalizeShopDomain returns the canonical <name>.myshopify.com host for value.
func NormalizeShopDomain(value string) (string, error) {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "", fmt.Errorf("core: shop domain is required")
	}
	if strings.Contains(trimmed, "://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", fmt.Errorf("core: parse shop domain: %w", err)
		}
		if parsed.Port() != "" {
			return "", fmt.Errorf("core: invalid shop domain")
		}
		if path := strings.Trim(parsed.Path, "/"); path != "" {
			return "", fmt.Errorf("core: invalid shop domain")
		}
		trimmed = strings.TrimSpace(strings.ToLower(parsed.Hostname()))
	}
	trimmed = strings.TrimSuffix(trimmed, "/")
	if trimmed == "" || strings.ContainsAny(trimmed, "/:?#@ ") {
		return "", fmt.Errorf("core: invalid shop domain")
	}
	if !strings.Contains(trimmed, ".") {
		trimmed += ShopDomainSuffix
	}
	if !strings.HasSuffix(trimmed, ShopDomainSuffix) {
		return "", fmt.Errorf("core: shop domain must end with %q", ShopDomainSuffix)
	}
	name := strings.TrimSuffix(trimmed, ShopDomainSuffix)
	if name == "" || strings.Contains(name, ".") || !validShopName(name) {
		return "", fmt.Errorf("core: invalid shop domain")
	}
	return trimmed, nil
}

func validShopName(name string) bool {
	if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return true
}

// NormalizeScopes splits comma or whitespace separated entries into discrete,
// de-duplicated, sorted scopes.
func NormalizeScopes(scopes []string) []string {
	if len(scopes) == 0 {
		return []string{}
	}
	set := map[string]struct{}{}
	for _, entry := range scopes {
		for _, scope := range strings.FieldsFunc(entry, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		}) {
			normalized := strings.TrimSpace(strings.ToLower(scope))
			if normalized == "" {
				continue
			}
			set[normalized] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for scope := range set {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out
}

// ScopesSatisfied reports whether granted covers every required scope. A write
// scope implies the matching read scope.
func ScopesSatisfied(required []string, granted []string) bool {
	grantedSet := NormalizeScopes(granted)
	for _, scope := range NormalizeScopes(required) {
		if slices.Contains(grantedSet, scope) {
			continue
		}
		if strings.HasPrefix(scope, "read_") &&
			slices.Contains(grantedSet, "write_"+strings.TrimPrefix(scope, "read_")) {
			continue
		}
		return false
	}
	return true
}
