package slottable

import (
	"bytes"
	"errors"

	"github.com/metricflow/statsd-relay/internal/relaylog"
)

// MaxCounterLength is the reserved byte length of a rewritten counter
// payload ("<accumulator>|c\n"): sign, 15 significant digits with a
// decimal point, a two-digit "e±NN" exponent, plus "|c\n" (1+16+4+3).
// An accumulator whose exponent needs three digits renders one byte longer.
const MaxCounterLength = 24

// Flusher is called by the table when adding the next sample would exceed
// the egress MTU. It must pack the table's currently used slots (in
// insertion order) into the egress ring and then call Table.Reset.
type Flusher func(t *Table)

// Table is the ordered, bounded sequence of Slots for the current flush
// window (spec §3's Slot Table). Lookup is linear by name-length then
// byte-compare; insertion is append. All Slots are logically discarded
// (Reset) when the active buffer is rotated.
type Table struct {
	mtu      int
	maxSlots int
	slots    []*Slot
	used     int
	acct     int
	log      *relaylog.Logger

	// OnReject, if set, is called once for every sample the parser or the
	// table itself drops (malformed input or slot-table capacity loss).
	// Optional observability hook; nil is a no-op.
	OnReject func()
}

// NewTable allocates a Table bounded to floor(mtu/7) slots, each backed by
// an mtu-sized arena reused for the process lifetime.
func NewTable(mtu int, log *relaylog.Logger) *Table {
	maxSlots := mtu / 7
	slots := make([]*Slot, maxSlots)
	for i := range slots {
		slots[i] = &Slot{buf: make([]byte, mtu)}
	}
	return &Table{mtu: mtu, maxSlots: maxSlots, slots: slots, log: log}
}

// MTU returns the egress datagram capacity this table was built for.
func (t *Table) MTU() int { return t.mtu }

// MaxSlots returns floor(MTU/7), the bound on distinct metric names per
// flush window.
func (t *Table) MaxSlots() int { return t.maxSlots }

// Used returns the slots currently holding data, in insertion order.
func (t *Table) Used() []*Slot { return t.slots[:t.used] }

// Accounting returns the current active-buffer length accounting value:
// the sum of payload_length over used slots.
func (t *Table) Accounting() int { return t.acct }

// Reset discards all slots, logically starting a fresh flush window.
func (t *Table) Reset() {
	t.used = 0
	t.acct = 0
}

func (t *Table) reject() {
	if t.OnReject != nil {
		t.OnReject()
	}
}

func (t *Table) find(name []byte) *Slot {
	for i := 0; i < t.used; i++ {
		s := t.slots[i]
		if s.nameLen == len(name) && bytes.Equal(s.buf[:s.nameLen], name) {
			return s
		}
	}
	return nil
}

var errCapacityLoss = errors.New("slottable: capacity loss, flush could not free room")

// findOrCreate looks up name, allocating (and, if necessary, flushing
// first to make room) a fresh slot when none exists.
func (t *Table) findOrCreate(name []byte, flush Flusher) (*Slot, error) {
	if s := t.find(name); s != nil {
		return s, nil
	}
	if t.used == t.maxSlots || t.acct+len(name) > t.mtu {
		flush(t)
	}
	if t.used == t.maxSlots || t.acct+len(name) > t.mtu {
		return nil, errCapacityLoss
	}
	s := t.slots[t.used]
	s.reset(name)
	t.used++
	t.acct += len(name)
	return s, nil
}

// applyCounter reconciles type and increments the counter accumulator,
// rewriting the slot's payload in place. flush is invoked (at most once)
// if the worst-case rewritten length would overflow the MTU; the sample is
// then applied to a freshly allocated slot with the same name and tag.
func (t *Table) applyCounter(name []byte, s *Slot, increment float64, flush Flusher) (*Slot, error) {
	if s.tag == TagUnknown {
		s.tag = TagCounter
	} else if s.tag != TagCounter {
		return s, errTypeConflict
	}

	old := s.counterPayloadLen()
	predicted := t.acct - old + MaxCounterLength
	if predicted > t.mtu {
		flush(t)
		var err error
		s, err = t.findOrCreate(name, flush)
		if err != nil {
			return s, err
		}
		s.tag = TagCounter
		old = s.counterPayloadLen()
	}

	s.acc += increment
	beforeLen := s.payloadLen
	s.rewriteCounter()
	t.acct += s.payloadLen - beforeLen
	return s, nil
}

// applyOther reconciles type and appends group verbatim to the slot's
// payload, flushing first (and retrying in a fresh slot) on overflow.
func (t *Table) applyOther(name []byte, s *Slot, group []byte, flush Flusher) (*Slot, error) {
	if s.tag == TagUnknown {
		s.tag = TagOther
	} else if s.tag != TagOther {
		return s, errTypeConflict
	}

	predicted := t.acct + len(group) + 1
	if predicted > t.mtu {
		flush(t)
		var err error
		s, err = t.findOrCreate(name, flush)
		if err != nil {
			return s, err
		}
		s.tag = TagOther
	}

	s.appendOther(group)
	t.acct += len(group) + 1
	return s, nil
}

var errTypeConflict = errors.New("slottable: conflicting sample type for slot")
