package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/ratelimit"
)

type graphQLCall struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
	token         string
}

func newAdminHarness(t *testing.T, status int, body string, limiter *ratelimit.ShopLimiter) (*AdminClient, *[]graphQLCall) {
	t.Helper()
	calls := []graphQLCall{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call graphQLCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			t.Errorf("decode graphql payload: %v", err)
		}
		call.token = r.Header.Get("X-Shopify-Access-Token")
		calls = append(calls, call)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)

	client, err := NewAdminClient(Config{
		Endpoint: func(shop string) (*url.URL, error) {
			return url.Parse(server.URL + "/admin/api/2024-01/graphql.json?shop=" + shop)
		},
		Client:  server.Client(),
		Limiter: limiter,
	})
	if err != nil {
		t.Fatalf("new admin client: %v", err)
	}
	return client, &calls
}

func testSession() core.Session {
	return core.Session{Shop: "demo.myshopify.com", AccessToken: "shpat_token"}
}

func TestListProducts(t *testing.T) {
	body := `{"data":{"shop":{"products":{"edges":[
		{"cursor":"c1","node":{"id":"gid://shopify/Product/1","title":"Catan","productType":"Board game"}},
		{"cursor":"c2","node":{"id":"gid://shopify/Product/2","title":"Azul","productType":"Board game"}}
	]}}}}`
	client, calls := newAdminHarness(t, http.StatusOK, body, nil)

	products, err := client.ListProducts(context.Background(), testSession())
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) != 2 || products[0].Title != "Catan" || products[1].Cursor != "c2" {
		t.Fatalf("unexpected products %+v", products)
	}
	if len(*calls) != 1 {
		t.Fatalf("expected one upstream call, got %d", len(*calls))
	}
	call := (*calls)[0]
	if call.token != "shpat_token" {
		t.Fatalf("expected access token header, got %q", call.token)
	}
	if call.OperationName != "ProductsQuery" || !strings.Contains(call.Query, "sortKey: CREATED_AT, reverse: true") {
		t.Fatalf("unexpected products query %+v", call)
	}
}

func TestCreateProduct(t *testing.T) {
	body := `{"data":{"productCreate":{"product":{"id":"gid://shopify/Product/3","title":"Wingspan","productType":"Board game"},"userErrors":[]}}}`
	client, calls := newAdminHarness(t, http.StatusOK, body, nil)

	product, err := client.CreateProduct(context.Background(), testSession(), "  Wingspan ")
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if product.ID != "gid://shopify/Product/3" {
		t.Fatalf("unexpected product %+v", product)
	}
	input, _ := (*calls)[0].Variables["input"].(map[string]any)
	if input["title"] != "Wingspan" || input["productType"] != ProductTypeBoardGame {
		t.Fatalf("unexpected mutation input %v", (*calls)[0].Variables)
	}
}

func TestCreateProductUserErrorsAreBadInput(t *testing.T) {
	body := `{"data":{"productCreate":{"product":null,"userErrors":[{"field":["title"],"message":"Title can't be blank"}]}}}`
	client, _ := newAdminHarness(t, http.StatusOK, body, nil)

	_, err := client.CreateProduct(context.Background(), testSession(), "x")
	if core.HTTPStatus(err) != http.StatusBadRequest || !strings.Contains(err.Error(), "can't be blank") {
		t.Fatalf("expected 400 with user error message, got %v", err)
	}
}

func TestCreateProductRequiresTitle(t *testing.T) {
	client, calls := newAdminHarness(t, http.StatusOK, `{}`, nil)
	if _, err := client.CreateProduct(context.Background(), testSession(), " "); core.HTTPStatus(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	if len(*calls) != 0 {
		t.Fatalf("expected no upstream call")
	}
}

func TestAdminClientRequiresAuthenticatedSession(t *testing.T) {
	client, calls := newAdminHarness(t, http.StatusOK, `{}`, nil)
	_, err := client.ListProducts(context.Background(), core.Session{Shop: "demo.myshopify.com"})
	if core.HTTPStatus(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
	if len(*calls) != 0 {
		t.Fatalf("expected no upstream call without a token")
	}
}

func TestAdminClientUpstreamUnauthorized(t *testing.T) {
	client, _ := newAdminHarness(t, http.StatusUnauthorized, `{"errors":"Invalid API key or access token"}`, nil)
	if _, err := client.ListProducts(context.Background(), testSession()); core.HTTPStatus(err) != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestAdminClientRateLimited(t *testing.T) {
	limiter := ratelimit.NewShopLimiter(1, 1)
	body := `{"data":{"shop":{"products":{"edges":[]}}}}`
	client, calls := newAdminHarness(t, http.StatusOK, body, limiter)

	if _, err := client.ListProducts(context.Background(), testSession()); err != nil {
		t.Fatalf("first call: %v", err)
	}
	_, err := client.ListProducts(context.Background(), testSession())
	if core.HTTPStatus(err) != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if len(*calls) != 1 {
		t.Fatalf("expected the throttled call to stay local, got %d calls", len(*calls))
	}
}

func TestAdminClientHonoursUpstreamRetryAfter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	limiter := ratelimit.NewShopLimiter(10, 5)
	limiter.Now = func() time.Time { return now }
	client, err := NewAdminClient(Config{
		Endpoint: func(string) (*url.URL, error) {
			return url.Parse(server.URL + "/admin/api/2024-01/graphql.json")
		},
		Client:  server.Client(),
		Limiter: limiter,
	})
	if err != nil {
		t.Fatalf("new admin client: %v", err)
	}

	if _, err := client.ListProducts(context.Background(), testSession()); core.HTTPStatus(err) != http.StatusTooManyRequests {
		t.Fatalf("expected upstream 429, got %v", err)
	}
	err = limiter.Take(testSession().Shop)
	var throttled ratelimit.ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected the shop to be paused, got %v", err)
	}
	if throttled.RetryAfter != 30*time.Second {
		t.Fatalf("expected the upstream Retry-After to be used, got %v", throttled.RetryAfter)
	}
}

func TestNewAdminClientRequiresEndpoint(t *testing.T) {
	if _, err := NewAdminClient(Config{}); err == nil {
		t.Fatalf("expected endpoint error")
	}
}
