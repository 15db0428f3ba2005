package games

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-shopify-app/core"
)

const hotListBody = `[
  {"gameId": 174430, "name": "Gloomhaven", "thumbnail": "https://example.com/g.jpg", "rank": 1},
  {"gameId": 0, "name": "  "},
  {"gameId": 224517, "name": "Brass: Birmingham", "rank": 2}
]`

func TestHotListDecodesGames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("expected json accept header, got %q", r.Header.Get("Accept"))
		}
		_, _ = io.WriteString(w, hotListBody)
	}))
	defer server.Close()

	client, err := NewClient(Config{URL: server.URL, Client: server.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	list, err := client.HotList(context.Background())
	if err != nil {
		t.Fatalf("hot list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected blank names to be skipped, got %d games", len(list))
	}
	if list[0].Name != "Gloomhaven" || list[0].ID != 174430 || list[1].Name != "Brass: Birmingham" {
		t.Fatalf("unexpected games %+v", list)
	}
}

func TestHotListUpstreamFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewClient(Config{URL: server.URL, Client: server.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.HotList(context.Background()); core.HTTPStatus(err) != http.StatusBadGateway {
		t.Fatalf("expected 502 envelope, got %v", err)
	}
}

func TestHotListRejectsInvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "<html>")
	}))
	defer server.Close()

	client, err := NewClient(Config{URL: server.URL, Client: server.Client()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.HotList(context.Background()); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestHotListUsesCache(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, hotListBody)
	}))
	defer server.Close()

	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	cacheService, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	client, err := NewClient(Config{URL: server.URL, Client: server.Client(), Cache: cacheService})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	for i := 0; i < 3; i++ {
		list, err := client.HotList(context.Background())
		if err != nil || len(list) != 2 {
			t.Fatalf("call %d: unexpected result %v %v", i, list, err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", calls.Load())
	}
}

func TestNewClientDefaultsAndValidation(t *testing.T) {
	client, err := NewClient(Config{})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.url != core.DefaultGamesURL {
		t.Fatalf("expected default url, got %q", client.url)
	}
	if _, err := NewClient(Config{URL: "bgg-json/hot"}); err == nil {
		t.Fatalf("expected relative url to be rejected")
	}
}
