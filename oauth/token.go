package oauth

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-shopify-app/core"
	"golang.org/x/oauth2"
)

// sessionFromToken maps an access token response onto a session. Granted
// scopes come from the "scope" field and fall back to the requested ones.
func sessionFromToken(shop string, token *oauth2.Token, requested []string) core.Session {
	out := core.Session{
		Shop:        shop,
		AccessToken: strings.TrimSpace(token.AccessToken),
		Scopes:      append([]string(nil), requested...),
	}
	if granted, ok := token.Extra("scope").(string); ok && strings.TrimSpace(granted) != "" {
		out.Scopes = core.NormalizeScopes([]string{granted})
	}
	if !token.Expiry.IsZero() {
		out.ExpiresAt = token.Expiry.UTC()
	}
	if user, ok := token.Extra("associated_user").(map[string]any); ok {
		out.UserID = readUserID(user["id"])
	}
	return out
}

func readUserID(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	case float64:
		return fmt.Sprintf("%.0f", typed)
	default:
		return strings.TrimSpace(fmt.Sprint(typed))
	}
}
