package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-shopify-app/catalog"
	"github.com/goliatone/go-shopify-app/games"
)

var (
	_ gocmd.Querier[ListProductsMessage, []catalog.Product] = (*ListProductsQuery)(nil)
	_ gocmd.Querier[ListGamesMessage, []games.Game]         = (*ListGamesQuery)(nil)
)
