package ratelimit

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-shopify-app/core"
	"golang.org/x/time/rate"
)

const defaultRetryAfter429 = 2 * time.Second

type ThrottledError struct {
	Shop       string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: shop %q throttled for %s", strings.TrimSpace(e.Shop), e.RetryAfter)
}

// RetryAfterSeconds rounds the wait up to whole seconds, as Retry-After expects.
func (e ThrottledError) RetryAfterSeconds() int {
	seconds := int(math.Ceil(e.RetryAfter.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"shop": strings.TrimSpace(e.Shop),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return core.RateLimitedError(e.Error()).WithMetadata(metadata)
}

type bucket struct {
	limiter        *rate.Limiter
	throttledUntil time.Time
	lastSeen       time.Time
}

// ShopLimiter keeps one token bucket per shop. Upstream 429 responses pause a
// shop until the advertised Retry-After has passed.
type ShopLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*bucket
	Now     func() time.Time
}

// NewShopLimiter returns nil when perSecond is not positive; a nil limiter
// admits every call.
func NewShopLimiter(perSecond float64, burst int) *ShopLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &ShopLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: map[string]*bucket{},
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// Take consumes one token for shop or returns a ThrottledError.
func (l *ShopLimiter) Take(shop string) error {
	if l == nil {
		return nil
	}
	shop = strings.TrimSpace(shop)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.bucketLocked(shop, now)
	if now.Before(b.throttledUntil) {
		return ThrottledError{Shop: shop, RetryAfter: b.throttledUntil.Sub(now)}
	}
	reservation := b.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return ThrottledError{Shop: shop, RetryAfter: defaultRetryAfter429}
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return ThrottledError{Shop: shop, RetryAfter: delay}
	}
	return nil
}

// Observe records an upstream response for shop.
func (l *ShopLimiter) Observe(shop string, statusCode int, header http.Header) {
	if l == nil || statusCode != http.StatusTooManyRequests {
		return
	}
	now := l.now()
	retryAfter, ok := parseRetryAfter(header.Get("Retry-After"), now)
	if !ok {
		retryAfter = defaultRetryAfter429
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.bucketLocked(strings.TrimSpace(shop), now)
	if until := now.Add(retryAfter); until.After(b.throttledUntil) {
		b.throttledUntil = until
	}
}

// Prune drops buckets idle for longer than idle and returns how many went.
func (l *ShopLimiter) Prune(idle time.Duration) int {
	if l == nil {
		return 0
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	pruned := 0
	for shop, b := range l.buckets {
		if now.Sub(b.lastSeen) > idle && !now.Before(b.throttledUntil) {
			delete(l.buckets, shop)
			pruned++
		}
	}
	return pruned
}

func (l *ShopLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *ShopLimiter) bucketLocked(shop string, now time.Time) *bucket {
	b, ok := l.buckets[shop]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[shop] = b
	}
	b.lastSeen = now
	return b
}

func (l *ShopLimiter) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func parseRetryAfter(raw string, now time.Time) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds * float64(time.Second)), true
	}
	if retryAt, err := http.ParseTime(raw); err == nil && retryAt.After(now) {
		return retryAt.Sub(now), true
	}
	return 0, false
}
