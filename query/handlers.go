package query

import (
	"context"

	"github.com/goliatone/go-shopify-app/catalog"
	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/games"
)

type ProductLister interface {
	ListProducts(ctx context.Context, session core.Session) ([]catalog.Product, error)
}

type GamesLister interface {
	HotList(ctx context.Context) ([]games.Game, error)
}

type ListProductsQuery struct {
	lister ProductLister
}

func NewListProductsQuery(lister ProductLister) *ListProductsQuery {
	return &ListProductsQuery{lister: lister}
}

func (q *ListProductsQuery) Query(ctx context.Context, msg ListProductsMessage) ([]catalog.Product, error) {
	if q == nil || q.lister == nil {
		return nil, queryDependencyError("query: product lister is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.lister.ListProducts(ctx, msg.Session)
}

type ListGamesQuery struct {
	lister GamesLister
}

func NewListGamesQuery(lister GamesLister) *ListGamesQuery {
	return &ListGamesQuery{lister: lister}
}

func (q *ListGamesQuery) Query(ctx context.Context, _ ListGamesMessage) ([]games.Game, error) {
	if q == nil || q.lister == nil {
		return nil, queryDependencyError("query: games lister is required")
	}
	return q.lister.HotList(ctx)
}
