package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-shopify-app/core"
)

func TestClientSendMergesHeadersAndQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "2" || r.URL.Query().Get("kind") != "hot" {
			t.Errorf("expected merged query, got %q", r.URL.RawQuery)
		}
		if r.Header.Get("X-Trace") != "abc" || r.Header.Get("User-Agent") != "shopify-app" {
			t.Errorf("expected default and call headers, got %v", r.Header)
		}
		w.Header().Set("X-Upstream", "yes")
		_, _ = io.WriteString(w, "ok")
	}))
	defer server.Close()

	client := NewClient(server.Client(), WithHeader("User-Agent", "shopify-app"))
	reply, err := client.Send(context.Background(), Call{
		URL:    server.URL + "/list?kind=hot",
		Query:  url.Values{"page": []string{"2"}},
		Header: http.Header{"X-Trace": []string{"abc"}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !reply.OK() || string(reply.Body) != "ok" || reply.Header.Get("X-Upstream") != "yes" {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestClientSendBodyLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	_, err := NewClient(server.Client(), WithBodyLimit(4)).Send(context.Background(), Call{URL: server.URL})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %v", err)
	}
	if rich.TextCode != core.ErrorUpstreamFailure || rich.Code != http.StatusBadGateway {
		t.Fatalf("expected upstream failure, got %s %d", rich.TextCode, rich.Code)
	}
}

func TestClientSendTimeoutIsBadGateway(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := NewClient(server.Client()).Send(context.Background(), Call{URL: server.URL, Timeout: 20 * time.Millisecond})
	if core.HTTPStatus(err) != http.StatusBadGateway {
		t.Fatalf("expected 502 on timeout, got %v", err)
	}
}

func TestClientSendRejectsRelativeURL(t *testing.T) {
	_, err := NewClient(nil).Send(context.Background(), Call{URL: "/relative"})
	if core.HTTPStatus(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestStatusError(t *testing.T) {
	if err := StatusError(Reply{Status: http.StatusCreated}, "x"); err != nil {
		t.Fatalf("expected nil for 2xx, got %v", err)
	}
	cases := map[int]int{
		http.StatusUnauthorized:        http.StatusUnauthorized,
		http.StatusTooManyRequests:     http.StatusTooManyRequests,
		http.StatusInternalServerError: http.StatusBadGateway,
		http.StatusNotFound:            http.StatusBadGateway,
	}
	for upstream, want := range cases {
		if got := core.HTTPStatus(StatusError(Reply{Status: upstream}, "upstream failed")); got != want {
			t.Fatalf("upstream %d: expected %d, got %d", upstream, want, got)
		}
	}
}

func TestGraphQLExecuteDecodesData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected json post, got %s %q", r.Method, r.Header.Get("Content-Type"))
		}
		if r.Header.Get("X-Shopify-Access-Token") != "shpat" {
			t.Errorf("expected operation header, got %v", r.Header)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["operationName"] != "Shop" {
			t.Errorf("expected operation name, got %v", payload["operationName"])
		}
		variables, _ := payload["variables"].(map[string]any)
		if variables["first"] != float64(10) {
			t.Errorf("expected variables, got %v", payload["variables"])
		}
		_, _ = io.WriteString(w, `{"data":{"shop":{"name":"Demo"}}}`)
	}))
	defer server.Close()

	header := http.Header{}
	header.Set("X-Shopify-Access-Token", "shpat")
	result, err := NewGraphQL(server.Client()).Execute(context.Background(), Operation{
		Endpoint:  server.URL,
		Query:     "query Shop { shop { name } }",
		Name:      "Shop",
		Variables: map[string]any{"first": 10},
		Header:    header,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var out struct {
		Shop struct {
			Name string `json:"name"`
		} `json:"shop"`
	}
	if err := result.Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Shop.Name != "Demo" {
		t.Fatalf("expected shop name, got %q", out.Shop.Name)
	}
}

func TestGraphQLExecuteSurfacesErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"errors":[{"message":"Field 'nope' doesn't exist"}]}`)
	}))
	defer server.Close()

	result, err := NewGraphQL(server.Client()).Execute(context.Background(), Operation{Endpoint: server.URL, Query: "{ nope }"})
	if err == nil || !strings.Contains(err.Error(), "doesn't exist") {
		t.Fatalf("expected graphql error message, got %v", err)
	}
	if len(result.Errors) != 1 || result.Status != http.StatusOK || core.HTTPStatus(err) != http.StatusBadGateway {
		t.Fatalf("expected one error mapped to 502, got %+v %v", result, err)
	}
}

func TestGraphQLExecuteKeepsUnauthorizedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	result, err := NewGraphQL(server.Client()).Execute(context.Background(), Operation{Endpoint: server.URL, Query: "{ shop { name } }"})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryAuth || result.Status != http.StatusUnauthorized {
		t.Fatalf("expected auth category with status, got %+v %v", result, err)
	}
}

func TestGraphQLExecuteKeepsThrottleHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	result, err := NewGraphQL(server.Client()).Execute(context.Background(), Operation{Endpoint: server.URL, Query: "{ shop { name } }"})
	if core.HTTPStatus(err) != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if result.Status != http.StatusTooManyRequests || result.Header.Get("Retry-After") != "12" {
		t.Fatalf("expected status and Retry-After in the result, got %+v", result)
	}
}

func TestGraphQLExecuteRequiresEndpointAndQuery(t *testing.T) {
	gql := NewGraphQL(nil)
	if _, err := gql.Execute(context.Background(), Operation{Query: "{ shop { name } }"}); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := gql.Execute(context.Background(), Operation{Endpoint: "https://example.com/graphql"}); err == nil {
		t.Fatalf("expected query error")
	}
}
