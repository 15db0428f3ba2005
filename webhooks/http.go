package webhooks

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-shopify-app/core"
)

const maxDeliveryBodyBytes int64 = 1 << 20

// HTTPHandler returns the gin handler for POST /webhooks.
func (p *Processor) HTTPHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDeliveryBodyBytes+1))
		if err != nil {
			core.WriteError(c, core.BadInputError("webhooks: read body"))
			return
		}
		if int64(len(body)) > maxDeliveryBodyBytes {
			core.WriteError(c, core.BadInputError("webhooks: body too large"))
			return
		}
		delivery := DeliveryFromRequest(c.Request, body)
		result, err := p.Process(c.Request.Context(), delivery)
		if err != nil {
			core.LogWithLevel(c.Request.Context(), p.logger, "warn", "webhook delivery failed", map[string]any{
				"topic":  result.Topic,
				"status": result.StatusCode,
				"error":  err.Error(),
			})
			c.String(result.StatusCode, http.StatusText(result.StatusCode))
			c.Abort()
			return
		}
		c.Status(result.StatusCode)
	}
}

// DeliveryFromRequest reads the Shopify delivery headers. An unparseable
// X-Shopify-Triggered-At is treated as absent.
func DeliveryFromRequest(r *http.Request, body []byte) Delivery {
	delivery := Delivery{
		Topic:     strings.TrimSpace(r.Header.Get(HeaderTopic)),
		Shop:      strings.TrimSpace(r.Header.Get(HeaderShopDomain)),
		WebhookID: strings.TrimSpace(r.Header.Get(HeaderWebhookID)),
		Signature: strings.TrimSpace(r.Header.Get(HeaderHMAC)),
		Body:      body,
	}
	if raw := strings.TrimSpace(r.Header.Get(HeaderTriggeredAt)); raw != "" {
		if triggeredAt, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			delivery.TriggeredAt = triggeredAt.UTC()
		}
	}
	return delivery
}
