// Package metrics provides Prometheus metrics for the bridge.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericfisherdev/mlbridge/internal/application"
)

// Compile-time interface satisfaction checks.
var (
	_ application.BridgeMetrics = (*Metrics)(nil)
	_ application.WorkObserver  = (*Metrics)(nil)
)

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	EmailsTotal       prometheus.Counter
	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	CooldownDeferrals prometheus.Counter
	QueuePending      prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		EmailsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mlbridge_emails_sent_total",
			Help: "Total number of emails archived and posted to mailing lists.",
		}),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mlbridge_runs_total",
				Help: "Total number of work item runs by result.",
			},
			[]string{"result"},
		),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mlbridge_run_duration_seconds",
			Help:    "Work item run duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		CooldownDeferrals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mlbridge_cooldown_deferrals_total",
			Help: "Total number of passes deferred because new content was still cooling down.",
		}),
		QueuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mlbridge_queue_pending",
			Help: "Number of work items waiting to run.",
		}),
		registry: reg,
	}

	reg.MustRegister(m.EmailsTotal)
	reg.MustRegister(m.RunsTotal)
	reg.MustRegister(m.RunDuration)
	reg.MustRegister(m.CooldownDeferrals)
	reg.MustRegister(m.QueuePending)
	reg.MustRegister(collectors.NewGoCollector())

	return m
}

// TrackQuarantine exposes the number of quarantined pull requests, read from
// count at scrape time.
func (m *Metrics) TrackQuarantine(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "mlbridge_quarantined_prs",
			Help: "Number of pull requests currently held in quarantine.",
		},
		func() float64 { return float64(count()) },
	))
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EmailsSent counts n posted emails.
func (m *Metrics) EmailsSent(n int) {
	m.EmailsTotal.Add(float64(n))
}

// CooldownDeferred counts one deferred pass.
func (m *Metrics) CooldownDeferred() {
	m.CooldownDeferrals.Inc()
}

// WorkFinished records the outcome and duration of one run.
func (m *Metrics) WorkFinished(_ application.WorkItem, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.RunsTotal.WithLabelValues(result).Inc()
	m.RunDuration.Observe(duration.Seconds())
}

// QueueDepth sets the number of waiting items.
func (m *Metrics) QueueDepth(pending int) {
	m.QueuePending.Set(float64(pending))
}
