package pipeline

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-shopify-app/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "shopify_app"

// Metrics owns a private prometheus registry with the HTTP collectors and
// backs core.MetricsRecorder for the stages.
type Metrics struct {
	registry *prometheus.Registry

	inFlight prometheus.Gauge
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "stage", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "stage"}),
		counters:   map[string]*prometheus.CounterVec{},
		histograms: map[string]*prometheus.HistogramVec{},
	}
	m.registry.MustRegister(
		m.inFlight,
		m.requests,
		m.duration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts, latency and the stage that answered.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		start := time.Now()
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		c.Next()

		method := strings.ToUpper(c.Request.Method)
		stage := stageLabel(c)
		m.requests.WithLabelValues(method, stage, strconv.Itoa(c.Writer.Status())).Inc()
		m.duration.WithLabelValues(method, stage).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if m == nil || value <= 0 {
		return
	}
	counter := m.counter(name, core.TagKeys(tags))
	if counter == nil {
		return
	}
	counter.With(prometheus.Labels(tags)).Add(float64(value))
}

func (m *Metrics) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if m == nil {
		return
	}
	histogram := m.histogram(name, core.TagKeys(tags))
	if histogram == nil {
		return
	}
	histogram.With(prometheus.Labels(tags)).Observe(value)
}

func (m *Metrics) counter(name string, labels []string) *prometheus.CounterVec {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.counters[name]; ok {
		return existing
	}
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      name,
		Help:      "Count of " + strings.ReplaceAll(name, "_", " ") + ".",
	}, labels)
	if err := m.registry.Register(counter); err != nil {
		return nil
	}
	m.counters[name] = counter
	return counter
}

func (m *Metrics) histogram(name string, labels []string) *prometheus.HistogramVec {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.histograms[name]; ok {
		return existing
	}
	histogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      name,
		Help:      "Distribution of " + strings.ReplaceAll(name, "_", " ") + ".",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	}, labels)
	if err := m.registry.Register(histogram); err != nil {
		return nil
	}
	m.histograms[name] = histogram
	return histogram
}

func stageLabel(c *gin.Context) string {
	if stage := WriterStage(c); stage != "" {
		return stage
	}
	return "router"
}

var _ core.MetricsRecorder = (*Metrics)(nil)
