// Package metrics holds the bot's Prometheus collectors.
//
// All methods are safe on a nil *Metrics so components can run without
// metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "memberbot"

type Metrics struct {
	reg *prometheus.Registry

	changes       *prometheus.CounterVec
	roleErrors    *prometheus.CounterVec
	sweepRuns     prometheus.Counter
	sweepSkips    prometheus.Counter
	sweepDuration prometheus.Histogram
	roleMembers   prometheus.Gauge
	storeRecords  prometheus.Gauge
	webhook       *prometheus.CounterVec
	commands      *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "membership_changes_total",
			Help:      "Membership grants, revokes and expirations.",
		}, []string{"action"}),
		roleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "role_errors_total",
			Help:      "Failed role mutations.",
		}, []string{"op"}),
		sweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Completed expiry sweeps.",
		}),
		sweepSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_skipped_total",
			Help:      "Sweep ticks skipped because a sweep was still running.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expiry sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}),
		roleMembers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "role_members",
			Help:      "Guild members holding the membership role at the last stats refresh.",
		}),
		storeRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_records",
			Help:      "Membership records in the bot's store.",
		}),
		webhook: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_messages_total",
			Help:      "Log webhook deliveries by result.",
		}, []string{"result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Slash commands by name and outcome.",
		}, []string{"command", "outcome"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.changes, m.roleErrors, m.sweepRuns, m.sweepSkips, m.sweepDuration,
		m.roleMembers, m.storeRecords, m.webhook, m.commands,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Change counts a membership change ("grant", "revoke", "expire").
func (m *Metrics) Change(action string) {
	if m != nil {
		m.changes.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) RoleError(op string) {
	if m != nil {
		m.roleErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) SweepDone(d time.Duration) {
	if m != nil {
		m.sweepRuns.Inc()
		m.sweepDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) SweepSkipped() {
	if m != nil {
		m.sweepSkips.Inc()
	}
}

// SetRoleMembers records the role member count reported by Discord.
func (m *Metrics) SetRoleMembers(n int) {
	if m != nil {
		m.roleMembers.Set(float64(n))
	}
}

// SetStoreRecords records how many grants the store holds.
func (m *Metrics) SetStoreRecords(n int) {
	if m != nil {
		m.storeRecords.Set(float64(n))
	}
}

// Webhook counts a log webhook delivery ("sent", "failed", "dropped").
func (m *Metrics) Webhook(result string) {
	if m != nil {
		m.webhook.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Command(name, outcome string) {
	if m != nil {
		m.commands.WithLabelValues(name, outcome).Inc()
	}
}
