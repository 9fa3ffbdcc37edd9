// Package metrics defines the reference backend's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors registered on one registry.
type Metrics struct {
	reg *prometheus.Registry

	ActiveSessions  prometheus.Gauge
	Requests        *prometheus.CounterVec
	Envelopes       *prometheus.CounterVec
	Uploads         *prometheus.CounterVec
	ProcessingTime  *prometheus.HistogramVec
	TemplateMatches prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "voicesession_active_sessions",
			Help: "Number of open session WebSockets",
		}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicesession_requests_total",
			Help: "Client requests received, by type",
		}, []string{"type"}),
		Envelopes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicesession_envelopes_total",
			Help: "Envelopes sent to clients, by type",
		}, []string{"type"}),
		Uploads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voicesession_uploads_total",
			Help: "Knowledge uploads, by kind and result",
		}, []string{"kind", "result"}),
		ProcessingTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicesession_processing_seconds",
			Help:    "Time from request to final reply, by request type",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		TemplateMatches: f.NewCounter(prometheus.CounterOpts{
			Name: "voicesession_template_matches_total",
			Help: "Replies answered from an uploaded template",
		}),
	}
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
