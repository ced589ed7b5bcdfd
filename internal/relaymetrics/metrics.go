// Package relaymetrics exposes the relay's process-internal counters as
// Prometheus collectors (spec §10's ambient observability, additive to
// the StatsD egress protocol itself). Grounded on the domain pattern
// runZeroInc-sockstats uses for instrumenting a network daemon with
// github.com/prometheus/client_golang: a small struct of pre-registered
// collectors passed around by the components that observe the events,
// rather than global package-level metrics.
package relaymetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the relay publishes. A nil *Metrics is
// valid everywhere it's accepted: every Observe* method is a no-op on a
// nil receiver, so wiring metrics in is opt-in.
type Metrics struct {
	PacketsReceived prometheus.Counter
	SamplesRejected prometheus.Counter
	FlushesSent     prometheus.Counter
	EgressDropped   prometheus.Counter
	SendsSucceeded  prometheus.Counter
	SendsFailed     prometheus.Counter
	ProbesUp        prometheus.Counter
	ProbesDown      prometheus.Counter
}

// New builds a Metrics with every collector registered against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statsd_relay",
			Name:      "packets_received_total",
			Help:      "UDP datagrams received on the ingress socket.",
		}),
		SamplesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statsd_relay",
			Name:      "samples_rejected_total",
			Help:      "Samples dropped for malformed input or slot-table capacity loss.",
		}),
		FlushesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statsd_relay",
			Name:      "flushes_total",
			Help:      "Flush windows packed into the egress ring.",
		}),
		EgressDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statsd_relay",
			Name:      "egress_ring_dropped_total",
			Help:      "Queued datagrams discarded because the egress ring was saturated.",
		}),
		SendsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statsd_relay",
			Name:      "sends_succeeded_total",
			Help:      "Egress datagrams written to a downstream collector.",
		}),
		SendsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statsd_relay",
			Name:      "sends_failed_total",
			Help:      "Egress datagrams dropped: no alive downstream, or the write failed.",
		}),
		ProbesUp: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statsd_relay",
			Name:      "probe_up_transitions_total",
			Help:      "Health probe transitions from down/unknown to alive.",
		}),
		ProbesDown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "statsd_relay",
			Name:      "probe_down_transitions_total",
			Help:      "Health probe transitions from alive to down.",
		}),
	}
	reg.MustRegister(
		m.PacketsReceived, m.SamplesRejected, m.FlushesSent,
		m.EgressDropped, m.SendsSucceeded, m.SendsFailed,
		m.ProbesUp, m.ProbesDown,
	)
	return m
}

func observe(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func (m *Metrics) PacketReceived() {
	if m != nil {
		observe(m.PacketsReceived)
	}
}

func (m *Metrics) SampleRejected() {
	if m != nil {
		observe(m.SamplesRejected)
	}
}

func (m *Metrics) FlushSent() {
	if m != nil {
		observe(m.FlushesSent)
	}
}

func (m *Metrics) EgressDrop() {
	if m != nil {
		observe(m.EgressDropped)
	}
}

func (m *Metrics) SendSucceeded() {
	if m != nil {
		observe(m.SendsSucceeded)
	}
}

func (m *Metrics) SendFailed() {
	if m != nil {
		observe(m.SendsFailed)
	}
}

func (m *Metrics) ProbeTransition(alive bool) {
	if m == nil {
		return
	}
	if alive {
		observe(m.ProbesUp)
	} else {
		observe(m.ProbesDown)
	}
}
