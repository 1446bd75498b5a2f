package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pdfgate"

var (
	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of batches processed, labeled by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	InvocationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Wall-clock duration of external tool runs (seconds).",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)

	DownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Total number of download token redemptions, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	GeolocationLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geolocation_lookups_total",
			Help:      "Total number of IP geolocation lookups, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	CapabilitiesReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capabilities_reaped_total",
			Help:      "Total number of expired download capabilities removed by the reaper.",
		},
	)

	WorkspacesSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workspaces_swept_total",
			Help:      "Total number of abandoned workspaces removed by the sweeper.",
		},
	)

	BatchesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batches_in_flight",
			Help:      "Number of batches currently being processed.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		BatchesTotal,
		InvocationDurationSeconds,
		DownloadsTotal,
		GeolocationLookupsTotal,
		CapabilitiesReapedTotal,
		WorkspacesSweptTotal,
		BatchesInFlight,
	)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
