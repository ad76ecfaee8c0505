package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for parcelwatch.
	Registry = prometheus.NewRegistry()

	// Sweeps counts refresh_all executions by outcome (ok, partial, retryable, fatal).
	Sweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "parcelwatch_sweeps_total", Help: "Refresh sweeps by outcome."},
		[]string{"outcome"},
	)
	// RefreshItems counts per-package refresh results inside sweeps.
	RefreshItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "parcelwatch_refresh_items_total", Help: "Per-package refresh results."},
		[]string{"result"},
	)
	// ProviderRequestDuration records upstream call durations in seconds.
	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "parcelwatch_provider_request_duration_seconds", Help: "Provider call duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"op", "status"},
	)
	// WebhooksReceived counts inbound webhook deliveries by disposition.
	WebhooksReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "parcelwatch_webhooks_received_total", Help: "Inbound webhooks by disposition."},
		[]string{"disposition"},
	)
)

var regOnce sync.Once

// RegisterDefault registers all collectors on the dedicated registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(Sweeps)
		Registry.MustRegister(RefreshItems)
		Registry.MustRegister(ProviderRequestDuration)
		Registry.MustRegister(WebhooksReceived)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}
