package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-shopify-app/core"
	"github.com/goliatone/go-shopify-app/security"
)

const (
	HeaderHMAC        = "X-Shopify-Hmac-Sha256"
	HeaderTopic       = "X-Shopify-Topic"
	HeaderShopDomain  = "X-Shopify-Shop-Domain"
	HeaderWebhookID   = "X-Shopify-Webhook-Id"
	HeaderTriggeredAt = "X-Shopify-Triggered-At"
)

const (
	TopicAppUninstalled = "app/uninstalled"

	defaultReplayWindow = 5 * time.Minute
	defaultClaimTTL     = 24 * time.Hour
)

// Delivery is one webhook call as received.
type Delivery struct {
	Topic       string
	Shop        string
	WebhookID   string
	TriggeredAt time.Time
	Signature   string
	Body        []byte
}

type Result struct {
	StatusCode int
	Topic      string
	Deduped    bool
	Handled    bool
}

type Handler interface {
	Handle(ctx context.Context, delivery Delivery) error
}

type HandlerFunc func(ctx context.Context, delivery Delivery) error

func (f HandlerFunc) Handle(ctx context.Context, delivery Delivery) error {
	return f(ctx, delivery)
}

type Config struct {
	Secret string
	Ledger core.ReplayLedger
	// ReplayWindow bounds how old X-Shopify-Triggered-At may be. Zero uses
	// the default, negative disables the check.
	ReplayWindow time.Duration
	ClaimTTL     time.Duration
	Metrics      core.MetricsRecorder
	Logger       core.Logger
	Now          func() time.Time
}

type Processor struct {
	secret       string
	ledger       core.ReplayLedger
	replayWindow time.Duration
	claimTTL     time.Duration
	metrics      core.MetricsRecorder
	logger       core.Logger
	now          func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewProcessor(cfg Config) (*Processor, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, fmt.Errorf("webhooks: secret is required")
	}
	ledger := cfg.Ledger
	if ledger == nil {
		ledger = core.NewMemoryReplayLedger(defaultClaimTTL)
	}
	window := cfg.ReplayWindow
	if window == 0 {
		window = defaultReplayWindow
	}
	claimTTL := cfg.ClaimTTL
	if claimTTL <= 0 {
		claimTTL = defaultClaimTTL
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Processor{
		secret:       secret,
		ledger:       ledger,
		replayWindow: window,
		claimTTL:     claimTTL,
		metrics:      core.ResolveMetrics(cfg.Metrics),
		logger:       core.ResolveLogger("webhooks", nil, cfg.Logger),
		now:          now,
		handlers:     map[string]Handler{},
	}, nil
}

// Register binds handler to topic. Topics are matched case-insensitively.
func (p *Processor) Register(topic string, handler Handler) error {
	topic = normalizeTopic(topic)
	if topic == "" {
		return fmt.Errorf("webhooks: topic is required")
	}
	if handler == nil {
		return fmt.Errorf("webhooks: handler for %q is nil", topic)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.handlers[topic]; exists {
		return fmt.Errorf("webhooks: handler already registered for %q", topic)
	}
	p.handlers[topic] = handler
	return nil
}

func (p *Processor) Ledger() core.ReplayLedger {
	if p == nil {
		return nil
	}
	return p.ledger
}

// Process verifies and dispatches delivery. Unknown topics and duplicates are
// acknowledged with 200 so Shopify stops retrying them.
func (p *Processor) Process(ctx context.Context, delivery Delivery) (Result, error) {
	delivery.Topic = normalizeTopic(delivery.Topic)
	result := Result{Topic: delivery.Topic}

	if err := security.VerifyPayloadSignature(delivery.Body, delivery.Signature, p.secret); err != nil {
		p.count(ctx, "", "rejected")
		result.StatusCode = http.StatusUnauthorized
		return result, core.WrapAuthError(err, "webhooks: signature verification failed")
	}
	if p.replayWindow > 0 && !delivery.TriggeredAt.IsZero() {
		if age := p.now().Sub(delivery.TriggeredAt); age > p.replayWindow {
			p.count(ctx, delivery.Topic, "stale")
			result.StatusCode = http.StatusUnauthorized
			return result, core.AuthError(fmt.Sprintf("webhooks: delivery is older than %s", p.replayWindow))
		}
	}

	shop, err := core.NormalizeShopDomain(delivery.Shop)
	if err != nil {
		p.count(ctx, delivery.Topic, "invalid")
		result.StatusCode = http.StatusBadRequest
		return result, core.BadInputError("webhooks: shop domain header is invalid")
	}
	delivery.Shop = shop

	claimKey := ""
	if id := strings.TrimSpace(delivery.WebhookID); id != "" {
		claimKey = shop + ":" + id
		claimed, err := p.ledger.Claim(ctx, claimKey, p.claimTTL)
		if err != nil {
			result.StatusCode = http.StatusInternalServerError
			return result, err
		}
		if !claimed {
			p.count(ctx, delivery.Topic, "deduped")
			result.StatusCode = http.StatusOK
			result.Deduped = true
			return result, nil
		}
	}

	p.mu.RLock()
	handler := p.handlers[delivery.Topic]
	p.mu.RUnlock()
	if handler == nil {
		p.count(ctx, delivery.Topic, "ignored")
		result.StatusCode = http.StatusOK
		return result, nil
	}

	startedAt := time.Now()
	err = handler.Handle(ctx, delivery)
	core.ObserveOperation(ctx, p.logger, startedAt, "webhook_"+strings.ReplaceAll(delivery.Topic, "/", "_"), err, map[string]any{
		"shop":       shop,
		"webhook_id": delivery.WebhookID,
	})
	if err != nil {
		if claimKey != "" {
			if releaseErr := p.ledger.Release(ctx, claimKey); releaseErr != nil {
				core.LogWithLevel(ctx, p.logger, "warn", "webhook claim release failed", map[string]any{
					"error": releaseErr.Error(),
				})
			}
		}
		p.count(ctx, delivery.Topic, "failed")
		result.StatusCode = http.StatusInternalServerError
		return result, err
	}
	p.count(ctx, delivery.Topic, "handled")
	result.StatusCode = http.StatusOK
	result.Handled = true
	return result, nil
}

func (p *Processor) count(ctx context.Context, topic string, outcome string) {
	if topic == "" {
		topic = "unknown"
	}
	p.metrics.IncCounter(ctx, core.MetricWebhooksTotal, 1, map[string]string{
		"topic":   topic,
		"outcome": outcome,
	})
}

func normalizeTopic(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}
