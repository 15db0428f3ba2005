package webhooks

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/security"
	"github.com/goliatone/go-shopify-app/session"
)

const (
	testSecret = "webhook-secret"
	testShop   = "demo.myshopify.com"
)

var testNow = time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingInstallations struct {
	updates []string
	err     error
}

func (r *recordingInstallations) Upsert(_ context.Context, in core.UpsertInstallationInput) (core.Installation, error) {
	return core.Installation{Shop: in.Shop}, nil
}

func (r *recordingInstallations) UpdateStatus(_ context.Context, shop string, status core.InstallationStatus) error {
	r.updates = append(r.updates, shop+"="+string(status))
	return r.err
}

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	processor, err := NewProcessor(Config{
		Secret: testSecret,
		Now:    func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return processor
}

func signedDelivery(topic string, id string, body string) Delivery {
	return Delivery{
		Topic:       topic,
		Shop:        testShop,
		WebhookID:   id,
		TriggeredAt: testNow.Add(-time.Minute),
		Signature:   security.SignPayloadBase64([]byte(body), testSecret),
		Body:        []byte(body),
	}
}

func TestProcessDispatchesByTopic(t *testing.T) {
	processor := newTestProcessor(t)
	var got Delivery
	if err := processor.Register("APP/Uninstalled", HandlerFunc(func(_ context.Context, delivery Delivery) error {
		got = delivery
		return nil
	})); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := processor.Process(context.Background(), signedDelivery("app/uninstalled", "wh_1", `{"id":1}`))
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if result.StatusCode != http.StatusOK || !result.Handled {
		t.Fatalf("unexpected result %+v", result)
	}
	if got.Shop != testShop || string(got.Body) != `{"id":1}` {
		t.Fatalf("unexpected delivery %+v", got)
	}
}

func TestProcessRejectsInvalidSignature(t *testing.T) {
	processor := newTestProcessor(t)
	delivery := signedDelivery(TopicAppUninstalled, "wh_1", `{"id":1}`)
	delivery.Body = []byte(`{"id":2}`)

	result, err := processor.Process(context.Background(), delivery)
	if err == nil || result.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v %v", result, err)
	}
	delivery.Signature = ""
	if result, _ := processor.Process(context.Background(), delivery); result.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected missing signature to be rejected, got %d", result.StatusCode)
	}
}

func TestProcessRejectsStaleDelivery(t *testing.T) {
	processor := newTestProcessor(t)
	delivery := signedDelivery(TopicAppUninstalled, "wh_1", `{}`)
	delivery.TriggeredAt = testNow.Add(-10 * time.Minute)
	if result, err := processor.Process(context.Background(), delivery); err == nil || result.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected stale delivery to be rejected, got %+v %v", result, err)
	}
}

func TestProcessDedupesByWebhookID(t *testing.T) {
	processor := newTestProcessor(t)
	calls := 0
	_ = processor.Register(TopicAppUninstalled, HandlerFunc(func(context.Context, Delivery) error {
		calls++
		return nil
	}))
	delivery := signedDelivery(TopicAppUninstalled, "wh_dup", `{}`)
	if _, err := processor.Process(context.Background(), delivery); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	result, err := processor.Process(context.Background(), delivery)
	if err != nil || result.StatusCode != http.StatusOK || !result.Deduped {
		t.Fatalf("expected deduped 200, got %+v %v", result, err)
	}
	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
}

func TestProcessReleasesClaimOnFailure(t *testing.T) {
	processor := newTestProcessor(t)
	fail := true
	calls := 0
	_ = processor.Register(TopicAppUninstalled, HandlerFunc(func(context.Context, Delivery) error {
		calls++
		if fail {
			return errors.New("database down")
		}
		return nil
	}))
	delivery := signedDelivery(TopicAppUninstalled, "wh_retry", `{}`)
	if result, err := processor.Process(context.Background(), delivery); err == nil || result.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 on handler failure, got %+v %v", result, err)
	}
	fail = false
	if result, err := processor.Process(context.Background(), delivery); err != nil || !result.Handled {
		t.Fatalf("expected retry to be processed, got %+v %v", result, err)
	}
	if calls != 2 {
		t.Fatalf("expected two handler calls, got %d", calls)
	}
}

func TestProcessAcknowledgesUnknownTopic(t *testing.T) {
	result, err := newTestProcessor(t).Process(context.Background(), signedDelivery("orders/create", "wh_1", `{}`))
	if err != nil || result.StatusCode != http.StatusOK || result.Handled {
		t.Fatalf("expected unhandled 200, got %+v %v", result, err)
	}
}

func TestProcessRejectsInvalidShop(t *testing.T) {
	delivery := signedDelivery(TopicAppUninstalled, "wh_1", `{}`)
	delivery.Shop = "evil.example.com"
	if result, _ := newTestProcessor(t).Process(context.Background(), delivery); result.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", result.StatusCode)
	}
}

func TestRegisterValidation(t *testing.T) {
	processor := newTestProcessor(t)
	noop := HandlerFunc(func(context.Context, Delivery) error { return nil })
	if err := processor.Register(" ", noop); err == nil {
		t.Fatalf("expected topic error")
	}
	if err := processor.Register(TopicAppUninstalled, nil); err == nil {
		t.Fatalf("expected nil handler error")
	}
	if err := processor.Register(TopicAppUninstalled, noop); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := processor.Register(TopicAppUninstalled, noop); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if _, err := NewProcessor(Config{}); err == nil {
		t.Fatalf("expected secret error")
	}
}

func TestUninstalledHandlerMarksShopAndDropsSessions(t *testing.T) {
	installations := &recordingInstallations{}
	sessions := session.NewMemoryStore()
	ctx := context.Background()
	for _, s := range []core.Session{
		{ID: "a", Shop: testShop, AccessToken: "t1"},
		{ID: "b", Shop: testShop, AccessToken: "t2"},
		{ID: "c", Shop: "other.myshopify.com", AccessToken: "t3"},
	} {
		if err := sessions.Save(ctx, s); err != nil {
			t.Fatalf("save session: %v", err)
		}
	}

	handler := UninstalledHandler{Installations: installations, Sessions: sessions}
	if err := handler.Handle(ctx, Delivery{Shop: testShop}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(installations.updates) != 1 || installations.updates[0] != testShop+"=uninstalled" {
		t.Fatalf("unexpected installation updates %v", installations.updates)
	}
	if sessions.Len() != 1 {
		t.Fatalf("expected only the other shop's session to remain, got %d", sessions.Len())
	}
}

func TestUninstalledHandlerToleratesMissingInstallation(t *testing.T) {
	installations := &recordingInstallations{err: core.NotFoundError("installation not found")}
	if err := (UninstalledHandler{Installations: installations}).Handle(context.Background(), Delivery{Shop: testShop}); err != nil {
		t.Fatalf("expected missing installation to be ignored, got %v", err)
	}
}

func TestHTTPHandler(t *testing.T) {
	processor := newTestProcessor(t)
	_ = processor.Register(TopicAppUninstalled, HandlerFunc(func(context.Context, Delivery) error { return nil }))
	router := gin.New()
	router.POST(core.PathWebhooks, processor.HTTPHandler())

	body := []byte(`{"id":1}`)
	send := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, core.PathWebhooks, bytes.NewReader(body))
		req.Header.Set(HeaderTopic, TopicAppUninstalled)
		req.Header.Set(HeaderShopDomain, testShop)
		req.Header.Set(HeaderWebhookID, "wh_http")
		req.Header.Set(HeaderTriggeredAt, testNow.Add(-time.Second).Format(time.RFC3339Nano))
		req.Header.Set(HeaderHMAC, signature)
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)
		return recorder
	}

	if recorder := send("bm90LWEtc2lnbmF0dXJl"); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", recorder.Code)
	}
	if recorder := send(security.SignPayloadBase64(body, testSecret)); recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %q", recorder.Code, recorder.Body.String())
	}
}

func TestDeliveryFromRequestIgnoresBadTimestamp(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, core.PathWebhooks, nil)
	req.Header.Set(HeaderTriggeredAt, "yesterday")
	req.Header.Set(HeaderTopic, " app/uninstalled ")
	delivery := DeliveryFromRequest(req, nil)
	if !delivery.TriggeredAt.IsZero() || delivery.Topic != TopicAppUninstalled {
		t.Fatalf("unexpected delivery %+v", delivery)
	}
}
