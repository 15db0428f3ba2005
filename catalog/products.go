// Package catalog reads and creates the shop's board game products through
// the Admin GraphQL API using the session's offline or online token.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/proxy"
	"github.com/goliatone/go-shopify-app/ratelimit"
	"github.com/goliatone/go-shopify-app/transport"
)

const ProductTypeBoardGame = "Board game"

const productsQuery = `query ProductsQuery {
  shop {
    products(first: 100, sortKey: CREATED_AT, reverse: true) {
      edges {
        cursor
        node {
          id
          title
          productType
        }
      }
    }
  }
}`

const productCreateMutation = `mutation ProductCreate($input: ProductInput!) {
  productCreate(input: $input) {
    product {
      id
      title
      productType
    }
    userErrors {
      field
      message
    }
  }
}`

type Product struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	ProductType string `json:"productType"`
	Cursor      string `json:"cursor,omitempty"`
}

// EndpointFunc resolves the Admin GraphQL endpoint for a shop.
type EndpointFunc func(shop string) (*url.URL, error)

type Config struct {
	Endpoint EndpointFunc
	Client   transport.HTTPDoer
	Timeout  time.Duration
	Limiter  *ratelimit.ShopLimiter
	Logger   core.Logger
}

type AdminClient struct {
	endpoint EndpointFunc
	graphql  *transport.GraphQL
	timeout  time.Duration
	limiter  *ratelimit.ShopLimiter
	logger   core.Logger
}

func NewAdminClient(cfg Config) (*AdminClient, error) {
	if cfg.Endpoint == nil {
		return nil, fmt.Errorf("catalog: endpoint resolver is required")
	}
	return &AdminClient{
		endpoint: cfg.Endpoint,
		graphql:  transport.NewGraphQL(cfg.Client),
		timeout:  cfg.Timeout,
		limiter:  cfg.Limiter,
		logger:   core.ResolveLogger("catalog", nil, cfg.Logger),
	}, nil
}

// ListProducts returns the newest products first.
func (a *AdminClient) ListProducts(ctx context.Context, current core.Session) ([]Product, error) {
	startedAt := time.Now()
	var out struct {
		Shop struct {
			Products struct {
				Edges []struct {
					Cursor string  `json:"cursor"`
					Node   Product `json:"node"`
				} `json:"edges"`
			} `json:"products"`
		} `json:"shop"`
	}
	err := a.do(ctx, current, "ProductsQuery", productsQuery, nil, &out)
	core.ObserveOperation(ctx, a.logger, startedAt, "catalog_list_products", err, map[string]any{
		"shop": current.Shop,
	})
	if err != nil {
		return nil, err
	}
	products := make([]Product, 0, len(out.Shop.Products.Edges))
	for _, edge := range out.Shop.Products.Edges {
		product := edge.Node
		product.Cursor = edge.Cursor
		products = append(products, product)
	}
	return products, nil
}

// CreateProduct creates a board game product titled title.
func (a *AdminClient) CreateProduct(ctx context.Context, current core.Session, title string) (Product, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Product{}, core.BadInputError("catalog: product title is required")
	}
	startedAt := time.Now()
	var out struct {
		ProductCreate struct {
			Product    *Product `json:"product"`
			UserErrors []struct {
				Field   []string `json:"field"`
				Message string   `json:"message"`
			} `json:"userErrors"`
		} `json:"productCreate"`
	}
	variables := map[string]any{
		"input": map[string]any{
			"title":       title,
			"productType": ProductTypeBoardGame,
		},
	}
	err := a.do(ctx, current, "ProductCreate", productCreateMutation, variables, &out)
	if err == nil && len(out.ProductCreate.UserErrors) > 0 {
		messages := make([]string, 0, len(out.ProductCreate.UserErrors))
		for _, item := range out.ProductCreate.UserErrors {
			messages = append(messages, strings.TrimSpace(item.Message))
		}
		err = core.BadInputError("catalog: product rejected: " + strings.Join(messages, "; "))
	}
	if err == nil && out.ProductCreate.Product == nil {
		err = core.UpstreamError(nil, "catalog: productCreate returned no product")
	}
	core.ObserveOperation(ctx, a.logger, startedAt, "catalog_create_product", err, map[string]any{
		"shop": current.Shop,
	})
	if err != nil {
		return Product{}, err
	}
	return *out.ProductCreate.Product, nil
}

func (a *AdminClient) do(
	ctx context.Context,
	current core.Session,
	operation string,
	query string,
	variables map[string]any,
	out any,
) error {
	if a == nil || a.graphql == nil {
		return fmt.Errorf("catalog: admin client is not configured")
	}
	if !current.Authenticated(time.Now()) {
		return core.AuthError("catalog: authenticated session is required")
	}
	endpoint, err := a.endpoint(current.Shop)
	if err != nil {
		return err
	}
	if err := a.limiter.Take(current.Shop); err != nil {
		return ratelimitError(err)
	}
	header := http.Header{}
	header.Set(proxy.HeaderAccessToken, current.AccessToken)
	res, err := a.graphql.Execute(ctx, transport.Operation{
		Endpoint:  endpoint.String(),
		Query:     query,
		Name:      operation,
		Variables: variables,
		Header:    header,
		Timeout:   a.timeout,
	})
	a.limiter.Observe(current.Shop, res.Status, res.Header)
	if err != nil {
		return err
	}
	return res.Decode(out)
}

func ratelimitError(err error) error {
	var throttled ratelimit.ThrottledError
	if errors.As(err, &throttled) {
		return throttled.ToServiceError()
	}
	return err
}
