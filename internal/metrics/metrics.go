// Package metrics exposes Prometheus collectors for the intake pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "intake"

var (
	// MessagesProcessed counts processMessage outcomes by label.
	MessagesProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_processed_total",
		Help:      "Messages processed, by outcome.",
	}, []string{"outcome"})

	// FieldExtractions counts per-field extraction outcomes.
	FieldExtractions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "field_extractions_total",
		Help:      "Field extraction requests, by outcome.",
	}, []string{"outcome"})

	// RateLimitRetries counts retries caused by rate-limit signals.
	RateLimitRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limit_retries_total",
		Help:      "Field requests retried after a rate-limit signal.",
	})

	// BatchCooldowns counts extended pauses after a batch exhausted retries.
	BatchCooldowns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batch_cooldowns_total",
		Help:      "Cool-downs applied after a batch with rate-limit exhaustion.",
	})

	// ExtractionDuration observes wall time of a full extraction run.
	ExtractionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "extraction_duration_seconds",
		Help:      "Wall time of one message's field extraction.",
		Buckets:   prometheus.ExponentialBuckets(5, 2, 8),
	})

	// PollQueueDepth reports ids waiting in the poller queue.
	PollQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "poll_queue_depth",
		Help:      "Message ids queued by the poller and not yet processed.",
	})

	// Registry holds every collector above plus Go runtime collectors.
	Registry = prometheus.NewRegistry()
)

func init() {
	Registry.MustRegister(
		MessagesProcessed,
		FieldExtractions,
		RateLimitRetries,
		BatchCooldowns,
		ExtractionDuration,
		PollQueueDepth,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
