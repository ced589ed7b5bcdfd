// Package relay implements the single-threaded event dispatch tying every
// other package together (spec §4.6): ingress datagrams, the flush and
// health periodics, the resolver handoff, and probe results all funnel
// through one goroutine's select loop, which is the only place that ever
// mutates the slot table, the egress ring, or the host set. Grounded on
// the teacher's reactor-style dispatch (its gonesrv/vtransport select
// loops fanned blocking I/O out to helper goroutines reporting back over
// channels); generalized here from HTTP request handling to the relay's
// own five event sources.
package relay

import (
	"context"
	"net"
	"time"

	"github.com/metricflow/statsd-relay/internal/config"
	"github.com/metricflow/statsd-relay/internal/downstream"
	"github.com/metricflow/statsd-relay/internal/health"
	"github.com/metricflow/statsd-relay/internal/pack"
	"github.com/metricflow/statsd-relay/internal/relaylog"
	"github.com/metricflow/statsd-relay/internal/relaymetrics"
	"github.com/metricflow/statsd-relay/internal/resolver"
	"github.com/metricflow/statsd-relay/internal/slottable"
)

// datagram is one inbound UDP read, copied out of the reusable read
// buffer before being handed to the reactor goroutine.
type datagram struct {
	data []byte
}

// Reactor owns every piece of mutable relay state and the one goroutine
// allowed to touch it (spec §4.6's "no locks except on the resolver
// handoff" invariant).
type Reactor struct {
	log *relaylog.Logger

	table  *slottable.Table
	ring   *pack.Ring
	packer *pack.Packer
	hosts  *downstream.HostSet
	probes *health.Tracker
	slot   *resolver.Slot

	ingress  *net.UDPConn
	ingressC chan datagram

	flushInterval  time.Duration
	healthInterval time.Duration

	metrics *relaymetrics.Metrics
}

// SetMetrics wires optional Prometheus observation into the reactor and
// every component it owns. A nil *Metrics (the default) keeps every
// Observe* call a no-op.
func (rx *Reactor) SetMetrics(m *relaymetrics.Metrics) {
	rx.metrics = m
	rx.packer.SetMetrics(m)
	rx.probes.SetMetrics(m)
	rx.table.OnReject = m.SampleRejected
}

// New builds a Reactor from a loaded Config. ingress is the bound UDP
// socket samples arrive on; newEgressConn mints the rotating egress UDP
// sockets the packer sends through.
func New(cfg *config.Config, log *relaylog.Logger, ingress *net.UDPConn, newEgressConn func() (*net.UDPConn, error)) *Reactor {
	ring := pack.NewRing(pack.DownstreamBufNum, pack.MTU)
	rx := &Reactor{
		log:            log,
		table:          slottable.NewTable(pack.MTU, log),
		ring:           ring,
		packer:         pack.NewPacker(ring, log, newEgressConn),
		hosts:          downstream.NewHostSet(cfg.Downstream.DataPort, cfg.Downstream.HealthPort),
		probes:         health.NewTracker(log, cfg.HealthCheckInterval),
		slot:           &resolver.Slot{},
		ingress:        ingress,
		ingressC:       make(chan datagram, 1024),
		flushInterval:  cfg.FlushInterval,
		healthInterval: cfg.HealthCheckInterval,
	}
	rx.hosts.OnRemove = rx.probes.Forget
	return rx
}

// Slot exposes the pending-resolution handoff slot so the caller can wire
// a resolver.Ticker into it (or seed the host set once, for a literal
// downstream address).
func (rx *Reactor) Slot() *resolver.Slot { return rx.slot }

// Hosts exposes the host set for startup seeding.
func (rx *Reactor) Hosts() *downstream.HostSet { return rx.hosts }

// Run drains the ingress socket on its own goroutine and dispatches every
// event — inbound datagrams, the flush periodic, the health periodic, and
// probe results — from this single goroutine, until ctx is canceled.
func (rx *Reactor) Run(ctx context.Context) {
	go rx.readIngress(ctx)

	flushTicker := time.NewTicker(rx.flushInterval)
	defer flushTicker.Stop()
	healthTicker := time.NewTicker(rx.healthInterval)
	defer healthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			rx.packer.Close()
			return

		case d := <-rx.ingressC:
			rx.metrics.PacketReceived()
			slottable.Ingest(rx.table, d.data, rx.flush, rx.log)

		case <-flushTicker.C:
			// Spec §4.2: the periodic only packs when the active buffer
			// has content. Packing an empty table still advances the
			// ring's active slot, so an unconditional call here would
			// have the idle relay send empty datagrams to the currently
			// selected downstream on every tick forever.
			if len(rx.table.Used()) > 0 {
				rx.flush(rx.table)
			}

		case <-healthTicker.C:
			rx.reconcileResolved()
			for _, h := range rx.hosts.Hosts() {
				rx.probes.Tick(h)
			}

		case r := <-rx.probes.Results():
			rx.probes.Collect(r)
		}
	}
}

// flush packs the table's current contents into the egress ring and
// drains every datagram the ring now holds. It is the Flusher passed to
// slottable.Ingest, so it also runs mid-datagram on premature overflow,
// which by construction never fires on an empty table. Callers driving
// it from a periodic must check for content themselves.
func (rx *Reactor) flush(t *slottable.Table) {
	if len(t.Used()) > 0 {
		rx.metrics.FlushSent()
	}
	_, dropped := rx.ring.Pack(t, rx.log)
	if dropped {
		rx.metrics.EgressDrop()
	}
	rx.drainEgress()
}

// drainEgress sends every datagram currently queued in the ring. A real
// non-blocking reactor sends one datagram per writable-readiness event;
// since a Go UDP send essentially never blocks the caller, draining the
// ring fully here is observably equivalent and avoids reimplementing
// readiness polling for a socket that is, in practice, always writable.
func (rx *Reactor) drainEgress() {
	for rx.ring.Pending() {
		if !rx.packer.SendNext(rx.hosts) {
			break
		}
	}
}

// reconcileResolved consumes a freshly published address set from the
// resolver handoff, if one is waiting, and folds it into the host set.
// Spec §4.5: the health periodic is the designated consumer.
func (rx *Reactor) reconcileResolved() {
	addrs, ok := rx.slot.Take()
	if !ok {
		return
	}
	rx.hosts.Reconcile(addrs)
}

func (rx *Reactor) readIngress(ctx context.Context) {
	buf := make([]byte, pack.MTU)
	go func() {
		<-ctx.Done()
		rx.ingress.Close()
	}()

	for {
		n, _, err := rx.ingress.ReadFromUDP(buf)
		if err != nil {
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case rx.ingressC <- datagram{data: cp}:
		case <-ctx.Done():
			return
		}
	}
}
