// Package telemetry exposes the service's Prometheus metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service counters and histograms.
type Metrics struct {
	DomainsClaimed   prometheus.Counter
	DomainsCompleted prometheus.Counter
	DomainsRequeued  prometheus.Counter
	DomainsFailed    prometheus.Counter
	ResponsesStored  prometheus.Counter
	CallErrors       *prometheus.CounterVec
	CallDuration     *prometheus.HistogramVec
}

// New registers the metrics with the given registerer (the default
// registry when nil) and returns them.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		DomainsClaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "crawl_domains_claimed_total",
			Help: "Domains claimed by workers.",
		}),
		DomainsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "crawl_domains_completed_total",
			Help: "Domains that reached the completed state.",
		}),
		DomainsRequeued: factory.NewCounter(prometheus.CounterOpts{
			Name: "crawl_domains_requeued_total",
			Help: "Domains returned to pending after a partial dispatch.",
		}),
		DomainsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "crawl_domains_failed_total",
			Help: "Domains that exhausted their retry budget.",
		}),
		ResponsesStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "crawl_responses_stored_total",
			Help: "Provider responses persisted.",
		}),
		CallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "crawl_provider_call_errors_total",
			Help: "Failed provider calls by provider and error kind.",
		}, []string{"provider", "kind"}),
		CallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawl_provider_call_duration_seconds",
			Help:    "Provider call latency.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider"}),
	}
}

// ObserveCall records one provider call's latency and, when kind is
// non-empty, its failure.
func (m *Metrics) ObserveCall(provider string, kind string, elapsed time.Duration) {
	m.CallDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
	if kind != "" {
		m.CallErrors.WithLabelValues(provider, kind).Inc()
	}
}
