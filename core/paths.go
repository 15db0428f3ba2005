package core

import (
	"net/url"
	"strings"
)

const (
	PathAuthStart    = "/auth"
	PathAuthCallback = "/auth/callback"
	PathAuthLogout   = "/auth/logout"
	PathGraphQL      = "/graphql"
	PathSettings     = "/settings"
	PathWebhooks     = "/webhooks"
	PathAPIGames     = "/api/games"
	PathAPIProducts  = "/api/products"
)

// IsAuthPath reports whether path is handled by the OAuth handshake.
func IsAuthPath(path string) bool {
	switch strings.TrimSuffix(path, "/") {
	case PathAuthStart, PathAuthCallback, PathAuthLogout:
		return true
	default:
		return false
	}
}

// AuthStartURL returns the auth-start path for shop, or the bare path when shop is empty.
func AuthStartURL(shop string) string {
	shop = strings.TrimSpace(shop)
	if shop == "" {
		return PathAuthStart
	}
	return PathAuthStart + "?shop=" + url.QueryEscape(shop)
}
