// Package metrics exposes the bridge's Prometheus surface: southbound
// request latency/error counters, northbound command counters, and a
// process self-health collector, adapted from the teacher's
// pkg/exporter.TCPInfoCollector (live-queried Describe/Collect pair)
// to this bridge's domain instead of raw tcp_info.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/siliconlabs/cpc-gpio-bridge/pkg/genl"
)

// Direction labels a northbound command as inbound (from the kernel
// driver) or outbound (a reply this bridge sent).
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Metrics holds the bridge's counters/histograms. All fields are safe for
// concurrent use (the underlying prometheus vectors are).
type Metrics struct {
	southboundLatency  *prometheus.HistogramVec
	southboundErrors   *prometheus.CounterVec
	northboundCommands *prometheus.CounterVec
}

// New builds the bridge's metrics and registers them on reg. constLabels
// carries process-identifying values (instance, chip label) the way
// exporter.NewTCPInfoCollector takes constLabels for the whole process.
func New(reg prometheus.Registerer, constLabels prometheus.Labels) *Metrics {
	m := &Metrics{
		southboundLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   "cpc_gpio_bridge",
			Subsystem:   "southbound",
			Name:        "request_duration_seconds",
			Help:        "Latency of southbound secondary requests, by operation.",
			ConstLabels: constLabels,
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms..~4s, spans the 2s request budget
		}, []string{"op"}),
		southboundErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "cpc_gpio_bridge",
			Subsystem:   "southbound",
			Name:        "request_errors_total",
			Help:        "Southbound secondary request failures, by operation and error kind.",
			ConstLabels: constLabels,
		}, []string{"op", "kind"}),
		northboundCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "cpc_gpio_bridge",
			Subsystem:   "northbound",
			Name:        "commands_total",
			Help:        "Generic-netlink commands exchanged with the kernel driver, by command and direction.",
			ConstLabels: constLabels,
		}, []string{"cmd", "direction"}),
	}
	reg.MustRegister(m.southboundLatency, m.southboundErrors, m.northboundCommands)
	return m
}

// ObserveSouthbound records one southbound operation's latency and, if it
// failed, tags the failure with a caller-supplied error kind (the
// RecoverableKind/UnrecoverableKind string, kept untyped here so this
// package doesn't need to import pkg/secondary for an enum it only
// stringifies).
func (m *Metrics) ObserveSouthbound(op string, dur time.Duration, errKind string) {
	m.southboundLatency.WithLabelValues(op).Observe(dur.Seconds())
	if errKind != "" {
		m.southboundErrors.WithLabelValues(op, errKind).Inc()
	}
}

// ObserveNorthbound counts one generic-netlink command exchanged in the
// given direction.
func (m *Metrics) ObserveNorthbound(cmd genl.Command, dir Direction) {
	m.northboundCommands.WithLabelValues(cmd.String(), string(dir)).Inc()
}
