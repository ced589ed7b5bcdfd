// Package health implements the per-host health probe state machine: a
// non-blocking TCP connect, write the probe request, read the response,
// and update the host's alive bit (spec §4.4). The C original drives this
// with raw epoll readiness events across four states (CONNECTING,
// SENDING, READING plus IDLE/DOWN); re-expressed here as a context-bounded
// goroutine per probe attempt reporting its outcome on a channel, so the
// only place that ever mutates a Host or its tracked State is the single
// reactor goroutine draining that channel — matching spec §5's "no locks
// outside the resolver handoff" invariant.
package health

import (
	"bytes"
	"context"
	"net"
	"time"

	"github.com/rs/xid"

	"github.com/metricflow/statsd-relay/internal/downstream"
	"github.com/metricflow/statsd-relay/internal/relaylog"
	"github.com/metricflow/statsd-relay/internal/relaymetrics"
)

// State names the stage of an in-flight probe. The Tracker records only
// StateIdle and StateConnecting: Tick sets StateConnecting before starting
// the probe goroutine and Collect returns it to StateIdle. The sending,
// reading and down stages happen inside the goroutine and are not recorded;
// the goroutine never writes a Host's or a Tracker's State field, it only
// reports a terminal Result.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateSending
	StateReading
	StateDown
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSending:
		return "sending"
	case StateReading:
		return "reading"
	case StateDown:
		return "down"
	default:
		return "idle"
	}
}

// probeRequest is the literal bytes written to a health port.
var probeRequest = []byte("health")

// upResponse is the exact literal prefix that means alive.
var upResponse = []byte("health: up\n")

// Result is the terminal outcome of one probe attempt, delivered over
// Tracker.Results().
type Result struct {
	Host  *downstream.Host
	Alive bool
	ID    string
}

type probeState struct {
	state  State
	cancel context.CancelFunc
	id     string
}

// Tracker runs and tracks in-flight probes for a set of hosts. It holds no
// exported mutable state reachable from more than one goroutine: the
// states map and Host.Alive are touched only by the goroutine that calls
// Tick/Collect (the reactor).
type Tracker struct {
	log     *relaylog.Logger
	timeout time.Duration
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
	states  map[*downstream.Host]*probeState
	results chan Result
	metrics *relaymetrics.Metrics
}

// SetMetrics wires optional Prometheus observation of up/down transitions
// into Collect. A nil *Metrics (the default) is a no-op.
func (t *Tracker) SetMetrics(m *relaymetrics.Metrics) { t.metrics = m }

// NewTracker builds a Tracker whose probes must complete within timeout.
func NewTracker(log *relaylog.Logger, timeout time.Duration) *Tracker {
	var d net.Dialer
	return &Tracker{
		log:     log,
		timeout: timeout,
		dial:    d.DialContext,
		states:  make(map[*downstream.Host]*probeState),
		results: make(chan Result, 64),
	}
}

// Results is the channel the reactor selects on to collect terminal probe
// outcomes and apply them to Host.Alive.
func (t *Tracker) Results() <-chan Result { return t.results }

// Forget drops bookkeeping for a host removed from the host set, aborting
// any in-flight probe and closing its connection. Wired as
// downstream.HostSet.OnRemove so a removed host can never leak an fd.
func (t *Tracker) Forget(h *downstream.Host) {
	if ps, ok := t.states[h]; ok {
		if ps.cancel != nil {
			ps.cancel()
		}
		delete(t.states, h)
	}
}

// Tick is called once per host on every health periodic firing. If the
// previous probe for this host is still in flight, that's proof of a
// stuck probe: it is force-aborted (closing its connection) and the host
// is marked down on this falling edge before a fresh probe is started.
func (t *Tracker) Tick(h *downstream.Host) {
	ps, ok := t.states[h]
	if !ok {
		ps = &probeState{state: StateIdle}
		t.states[h] = ps
	}

	if ps.state != StateIdle {
		t.log.Warn("health probe overdue, aborting", "host", h.IP.String(), "state", ps.state.String())
		if ps.cancel != nil {
			ps.cancel()
		}
		if h.Alive {
			t.log.Warn("downstream marked down (probe abort)", "host", h.IP.String())
		}
		h.Alive = false
		ps.state = StateIdle
	}

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	ps.cancel = cancel
	ps.state = StateConnecting
	id := xid.New().String()
	ps.id = id

	go t.run(ctx, h, id)
}

func (t *Tracker) run(ctx context.Context, h *downstream.Host, id string) {
	alive := t.attempt(ctx, h, id)
	select {
	case t.results <- Result{Host: h, Alive: alive, ID: id}:
	case <-ctx.Done():
		// Tracker is shutting down or the probe was already force-aborted
		// and superseded; drop the stale result.
	}
}

func (t *Tracker) attempt(ctx context.Context, h *downstream.Host, id string) bool {
	conn, err := t.dial(ctx, "tcp", h.HealthAddr().String())
	if err != nil {
		t.log.Warn("health probe connect failed", "host", h.IP.String(), "probe_id", id, "err", err)
		return false
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	n, err := conn.Write(probeRequest)
	if err != nil || n != len(probeRequest) {
		t.log.Warn("health probe write failed", "host", h.IP.String(), "probe_id", id, "err", err)
		return false
	}

	buf := make([]byte, 512)
	n, err = conn.Read(buf)
	if err != nil || n == 0 {
		t.log.Warn("health probe read failed", "host", h.IP.String(), "probe_id", id, "err", err)
		return false
	}

	return bytes.HasPrefix(buf[:n], upResponse)
}

// Collect applies a terminal probe Result to its Host, logging on the
// falling/rising edge only (spec §4.4/§7e), and returns the tracker to
// IDLE for that host so the next Tick starts a fresh probe.
func (t *Tracker) Collect(r Result) {
	ps, ok := t.states[r.Host]
	if !ok {
		return
	}
	if ps.state == StateIdle || r.ID != ps.id {
		// superseded by a force-abort on a later Tick; ignore.
		return
	}
	wasAlive := r.Host.Alive
	r.Host.Alive = r.Alive
	ps.state = StateIdle
	ps.cancel = nil

	if r.Alive && !wasAlive {
		t.log.Info("downstream up", "host", r.Host.IP.String(), "probe_id", r.ID)
		t.metrics.ProbeTransition(true)
	} else if !r.Alive && wasAlive {
		t.log.Warn("downstream down", "host", r.Host.IP.String(), "probe_id", r.ID)
		t.metrics.ProbeTransition(false)
	}
}
