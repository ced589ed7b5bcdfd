// Package pack implements the packer and double-buffered flush queue:
// serializing the slot table into a ring of fixed-MTU egress buffers and
// draining them over UDP to the currently selected downstream. Grounded on
// the teacher's metric/flusher.go ticker-driven flush idiom, generalized
// from a single in-process sink to a ring of pending egress datagrams.
package pack

import (
	"github.com/metricflow/statsd-relay/internal/relaylog"
	"github.com/metricflow/statsd-relay/internal/slottable"
)

// MTU is the fixed egress datagram capacity.
const MTU = 1450

// DownstreamBufNum is the ring's buffer count. Sized to absorb a handful of
// flush periods' worth of backlog if the downstream selection briefly has
// no alive host, without growing unbounded. Not specified numerically by
// spec; chosen and documented as an open-question decision in DESIGN.md.
const DownstreamBufNum = 8

// Ring is the fixed-capacity ring of DOWNSTREAM_BUF_NUM MTU-sized egress
// buffers (spec §3's Egress Buffer Ring). activeIdx is where the packer
// writes the next datagram; flushIdx is the oldest datagram still awaiting
// send. When they're equal, no flush is in flight.
type Ring struct {
	bufs      [][]byte
	used      []int
	activeIdx int
	flushIdx  int
}

// NewRing allocates a ring of n buffers, each of mtu bytes.
func NewRing(n, mtu int) *Ring {
	bufs := make([][]byte, n)
	for i := range bufs {
		bufs[i] = make([]byte, mtu)
	}
	return &Ring{bufs: bufs, used: make([]int, n)}
}

// Pending reports whether any buffer is queued awaiting send.
func (r *Ring) Pending() bool { return r.activeIdx != r.flushIdx }

// Pack serializes every sample-bearing slot in table, in insertion order,
// into the active buffer, then clears table and rotates to the next
// buffer. It returns arm=true if a writable-readiness watcher must now be
// armed (the queue was empty before this pack), and dropped=true if the
// ring was already full and the about-to-be-overwritten buffer's pending
// datagram was discarded (spec §3's ring-full rule).
func (r *Ring) Pack(table *slottable.Table, log *relaylog.Logger) (armed bool, dropped bool) {
	wasEmpty := !r.Pending()

	buf := r.bufs[r.activeIdx]
	used := 0
	for _, s := range table.Used() {
		if s.HasSamples() {
			s.FinalizeForPack()
			used += copy(buf[used:], s.Bytes())
		}
	}
	r.used[r.activeIdx] = used
	table.Reset()

	next := (r.activeIdx + 1) % len(r.bufs)
	if next == r.flushIdx && r.used[next] != 0 {
		// The ring is full: every buffer but the one we just filled is
		// queued awaiting send, and rotating onto flushIdx would
		// overwrite a datagram that hasn't gone out yet.
		dropped = true
		r.flushIdx = (r.flushIdx + 1) % len(r.bufs)
	}
	r.activeIdx = next

	if dropped {
		log.Error("egress ring saturated, dropping oldest pending datagram")
	}

	armed = wasEmpty && used > 0
	return
}

// Peek returns the datagram currently at flushIdx, ready to send.
func (r *Ring) Peek() []byte {
	return r.bufs[r.flushIdx][:r.used[r.flushIdx]]
}

// Advance marks the buffer at flushIdx as sent (used_length reset to 0)
// and moves flushIdx forward. It returns whether any further buffers
// remain queued.
func (r *Ring) Advance() (moreQueued bool) {
	r.used[r.flushIdx] = 0
	r.flushIdx = (r.flushIdx + 1) % len(r.bufs)
	return r.Pending()
}
