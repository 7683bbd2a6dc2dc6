// metrics.go - Prometheus metrics for the ledger daemon and wallet.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "zerosync"

// Nullifier check sources.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Collector groups the metrics recorded by the server and the wallet.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	eventsApplied   *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	nullifierChecks *prometheus.CounterVec
	proofFetch      prometheus.Histogram
	submissions     *prometheus.CounterVec
	blockHeight     prometheus.Gauge
	subscribers     prometheus.Gauge
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Tracks the number of HTTP requests.",
		}, []string{"route", "method", "code"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Tracks the latencies for HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
		eventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_applied_total",
			Help:      "Ledger events applied to wallet state, by kind.",
		}, []string{"kind"}),
		eventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Subscription frames that could not be decoded.",
		}),
		nullifierChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nullifier_checks_total",
			Help:      "Nullifier checks by the source that answered them.",
		}, []string{"source"}),
		proofFetch: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "nullifier_proof_fetch_seconds",
			Help:      "Latency of remote nullifier proof fetches.",
			Buckets:   prometheus.DefBuckets,
		}),
		submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Transactions submitted, by outcome.",
		}, []string{"outcome"}),
		blockHeight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "block_height",
			Help:      "Number of committed blocks.",
		}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Open event subscriptions.",
		}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps h with request counters and latency curried by route.
// The promhttp wrappers keep http.Hijacker available, so websocket upgrades still work.
func (c *Collector) InstrumentHandler(route string, h http.Handler) http.Handler {
	if c == nil {
		return h
	}
	labels := prometheus.Labels{"route": route}
	counter := c.requestsTotal.MustCurryWith(labels)
	duration := c.requestDuration.MustCurryWith(labels)
	return promhttp.InstrumentHandlerCounter(counter, promhttp.InstrumentHandlerDuration(duration, h))
}

func (c *Collector) EventApplied(kind string) {
	if c == nil {
		return
	}
	c.eventsApplied.WithLabelValues(kind).Inc()
}

func (c *Collector) EventDropped() {
	if c == nil {
		return
	}
	c.eventsDropped.Inc()
}

func (c *Collector) NullifierCheck(source string) {
	if c == nil {
		return
	}
	c.nullifierChecks.WithLabelValues(source).Inc()
}

func (c *Collector) ProofFetch(d time.Duration) {
	if c == nil {
		return
	}
	c.proofFetch.Observe(d.Seconds())
}

func (c *Collector) Submission(outcome string) {
	if c == nil {
		return
	}
	c.submissions.WithLabelValues(outcome).Inc()
}

func (c *Collector) BlockHeight(n uint64) {
	if c == nil {
		return
	}
	c.blockHeight.Set(float64(n))
}

func (c *Collector) SubscriberAdded() {
	if c == nil {
		return
	}
	c.subscribers.Inc()
}

func (c *Collector) SubscriberRemoved() {
	if c == nil {
		return
	}
	c.subscribers.Dec()
}
