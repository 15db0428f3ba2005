// Package games reads the board game hot list shown on the home view.
package games

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/transport"
)

const (
	hotListCacheKey       = "shopifyapp::games::hot::v1"
	defaultRequestTimeout = 10 * time.Second
)

type Game struct {
	ID        int    `json:"gameId"`
	Name      string `json:"name"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Rank      int    `json:"rank,omitempty"`
}

type Config struct {
	URL     string
	Timeout time.Duration
	// Cache is optional; when set the hot list is served from it until the
	// cache TTL lapses.
	Cache  repositorycache.CacheService
	Client transport.HTTPDoer
	Logger core.Logger
}

type Client struct {
	url     string
	timeout time.Duration
	cache   repositorycache.CacheService
	rest    *transport.Client
	logger  core.Logger
}

func NewClient(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		endpoint = core.DefaultGamesURL
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return nil, fmt.Errorf("games: url %q must be absolute", endpoint)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	rest := transport.NewClient(cfg.Client, transport.WithHeader("Accept", "application/json"))
	return &Client{
		url:     endpoint,
		timeout: timeout,
		cache:   cfg.Cache,
		rest:    rest,
		logger:  core.ResolveLogger("games", nil, cfg.Logger),
	}, nil
}

// HotList returns the current hot games in upstream order.
func (c *Client) HotList(ctx context.Context) ([]Game, error) {
	if c == nil {
		return nil, fmt.Errorf("games: client is not configured")
	}
	if c.cache == nil {
		return c.fetch(ctx)
	}
	list, err := repositorycache.GetOrFetch(ctx, c.cache, hotListCacheKey, c.fetch)
	if err != nil {
		return nil, err
	}
	return append([]Game(nil), list...), nil
}

func (c *Client) fetch(ctx context.Context) ([]Game, error) {
	startedAt := time.Now()
	res, err := c.rest.Send(ctx, transport.Call{
		Method:  http.MethodGet,
		URL:     c.url,
		Timeout: c.timeout,
	})
	if err == nil {
		err = transport.StatusError(res, fmt.Sprintf("games: hot list returned %d", res.Status))
	}
	var list []Game
	if err == nil {
		if decodeErr := json.Unmarshal(res.Body, &list); decodeErr != nil {
			err = core.UpstreamError(decodeErr, "games: decode hot list")
		}
	}
	core.ObserveOperation(ctx, c.logger, startedAt, "games_hot_list", err, map[string]any{
		"url": c.url,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Game, 0, len(list))
	for _, game := range list {
		game.Name = strings.TrimSpace(game.Name)
		if game.Name == "" {
			continue
		}
		out = append(out, game)
	}
	return out, nil
}
