package query

import (
	"strings"

	"github.com/goliatone/go-shopify-app/core"
)

const (
	TypeListProducts = "shopifyapp.query.products.list"
	TypeListGames    = "shopifyapp.query.games.list"
)

type ListProductsMessage struct {
	Session core.Session
}

func (ListProductsMessage) Type() string { return TypeListProducts }

func (m ListProductsMessage) Validate() error {
	if strings.TrimSpace(m.Session.Shop) == "" {
		return queryValidationError("shop", "is required")
	}
	return nil
}

type ListGamesMessage struct{}

func (ListGamesMessage) Type() string { return TypeListGames }

func (ListGamesMessage) Validate() error { return nil }
