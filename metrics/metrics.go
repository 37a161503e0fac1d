// Package metrics holds the Prometheus collectors for a fetch run.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics uses its own registry so tests and multiple runs in one process
// never collide on the default one. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	searchPages           prometheus.Counter
	searchItems           prometheus.Counter
	activationTransitions *prometheus.CounterVec
	downloads             *prometheus.CounterVec
	downloadBytes         prometheus.Counter
	inFlight              prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		searchPages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planet_fetch_search_pages_total",
			Help: "Search result pages fetched.",
		}),
		searchItems: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planet_fetch_search_items_total",
			Help: "Items returned by searches.",
		}),
		activationTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planet_fetch_activation_transitions_total",
			Help: "Asset activation state changes by target state.",
		}, []string{"to"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planet_fetch_downloads_total",
			Help: "Finished download tasks by outcome.",
		}, []string{"status"}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "planet_fetch_download_bytes_total",
			Help: "Asset bytes written to disk.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "planet_fetch_tasks_in_flight",
			Help: "Download tasks currently being worked on.",
		}),
	}
	m.Registry.MustRegister(
		m.searchPages,
		m.searchItems,
		m.activationTransitions,
		m.downloads,
		m.downloadBytes,
		m.inFlight,
	)
	return m
}

func (m *Metrics) SearchPage(items int) {
	if m == nil {
		return
	}
	m.searchPages.Inc()
	m.searchItems.Add(float64(items))
}

func (m *Metrics) ActivationTransition(to string) {
	if m == nil {
		return
	}
	m.activationTransitions.WithLabelValues(to).Inc()
}

// TaskStarted and TaskFinished bracket one download task.
func (m *Metrics) TaskStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) TaskFinished(status string) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.downloads.WithLabelValues(status).Inc()
}

// TaskAbandoned counts a task that ended without ever being started.
func (m *Metrics) TaskAbandoned(status string) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(status).Inc()
}

func (m *Metrics) BytesWritten(n int64) {
	if m == nil {
		return
	}
	m.downloadBytes.Add(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
