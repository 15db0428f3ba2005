// Package transport sends calls to the upstream HTTP and GraphQL APIs and
// maps their failures onto the app error envelope.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-shopify-app/core"
)

const (
	defaultTimeout         = 30 * time.Second
	defaultBodyLimit int64 = 10 << 20
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Call is one outbound request. Query and Header are merged over whatever
// the URL and the client defaults already carry.
type Call struct {
	Method  string
	URL     string
	Query   url.Values
	Header  http.Header
	Body    []byte
	Timeout time.Duration
}

type Reply struct {
	Status  int
	Header  http.Header
	Body    []byte
	Elapsed time.Duration
}

func (r Reply) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

type Option func(*Client)

// WithHeader sets a header sent on every call.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.header.Set(key, value)
	}
}

// WithBodyLimit caps how many reply bytes are read before the call fails.
func WithBodyLimit(limit int64) Option {
	return func(c *Client) {
		if limit > 0 {
			c.limit = limit
		}
	}
}

type Client struct {
	doer   HTTPDoer
	header http.Header
	limit  int64
}

func NewClient(doer HTTPDoer, opts ...Option) *Client {
	if doer == nil {
		doer = &http.Client{Timeout: defaultTimeout}
	}
	c := &Client{doer: doer, header: http.Header{}, limit: defaultBodyLimit}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Send performs the call and returns the reply whatever its status. Only
// transport failures are errors; use StatusError to judge the status.
func (c *Client) Send(ctx context.Context, call Call) (Reply, error) {
	method := strings.ToUpper(strings.TrimSpace(call.Method))
	if method == "" {
		method = http.MethodGet
	}
	target, err := url.Parse(strings.TrimSpace(call.URL))
	if err != nil || !target.IsAbs() || target.Host == "" {
		return Reply{}, core.BadInputError("transport: url must be absolute").
			WithMetadata(map[string]any{"url": call.URL})
	}
	if len(call.Query) > 0 {
		query := target.Query()
		for key, values := range call.Query {
			query[key] = values
		}
		target.RawQuery = query.Encode()
	}

	if call.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, call.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(call.Body) > 0 {
		body = bytes.NewReader(call.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return Reply{}, core.BadInputError("transport: "+err.Error()).
			WithMetadata(map[string]any{"method": method})
	}
	mergeHeader(req.Header, c.header)
	mergeHeader(req.Header, call.Header)

	meta := map[string]any{"method": method, "host": target.Host}
	startedAt := time.Now()
	resp, err := c.doer.Do(req)
	if err != nil {
		return Reply{}, core.UpstreamError(err, "transport: request failed").WithMetadata(meta)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, c.limit+1))
	if err != nil {
		return Reply{}, core.UpstreamError(err, "transport: read reply").WithMetadata(meta)
	}
	if int64(len(payload)) > c.limit {
		meta["limit_bytes"] = c.limit
		return Reply{}, core.UpstreamError(nil, fmt.Sprintf("transport: reply exceeds %d bytes", c.limit)).
			WithMetadata(meta)
	}
	return Reply{
		Status:  resp.StatusCode,
		Header:  resp.Header.Clone(),
		Body:    payload,
		Elapsed: time.Since(startedAt),
	}, nil
}

// StatusError is nil for a 2xx reply. A 401 keeps the auth category, a 429
// the rate limit category; everything else is an upstream failure.
func StatusError(reply Reply, message string) error {
	meta := map[string]any{"status": reply.Status}
	switch {
	case reply.OK():
		return nil
	case reply.Status == http.StatusUnauthorized:
		return core.UpstreamUnauthorizedError(message).WithMetadata(meta)
	case reply.Status == http.StatusTooManyRequests:
		return core.RateLimitedError(message).WithMetadata(meta)
	default:
		return core.UpstreamError(nil, message).WithMetadata(meta)
	}
}

func mergeHeader(dst, src http.Header) {
	for key, values := range src {
		dst.Del(key)
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}
