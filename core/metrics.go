package core

import (
	"context"
	"sort"
)

const (
	MetricOAuthTotal           = "oauth_total"
	MetricVerifyDeniedTotal    = "verify_denied_total"
	MetricProxyRequestsTotal   = "proxy_requests_total"
	MetricProxyUpstreamSeconds = "proxy_upstream_duration_seconds"
	MetricWebhooksTotal        = "webhooks_total"
	MetricPurgedTotal          = "purged_total"
)

// MetricsRecorder receives counters and histogram samples. Tags on one metric
// name must always use the same keys.
type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func ResolveMetrics(recorder MetricsRecorder) MetricsRecorder {
	if recorder == nil {
		return NopMetricsRecorder{}
	}
	return recorder
}

// TagKeys returns the sorted keys of tags.
func TagKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for key := range tags {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

var _ MetricsRecorder = NopMetricsRecorder{}
