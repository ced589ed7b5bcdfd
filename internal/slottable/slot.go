// Package slottable implements the in-memory aggregation arena for one
// flush window: parsing inbound StatsD lines, folding samples into
// per-metric slots, and re-serializing counters in place. It is grounded on
// the teacher's metric/flusher.go and metric/counter.go in spirit (a fixed
// set of named accumulators reset on every flush) but re-expressed with
// explicit byte-slice views instead of pointer arithmetic, per the design
// notes on typed views.
package slottable

import "strconv"

// Tag classifies a slot's accepted sample type. Once promoted away from
// Unknown it never changes for the slot's lifetime.
type Tag int

const (
	TagUnknown Tag = iota
	TagCounter
	TagOther
)

func (t Tag) String() string {
	switch t {
	case TagCounter:
		return "counter"
	case TagOther:
		return "other"
	default:
		return "unknown"
	}
}

// Slot is one unique metric name's accumulator within the current flush
// window. buf is a fixed-length (== egress MTU) arena holding
// name-then-payload contiguously: buf[:nameLen] is the immutable name
// (including the trailing ':'), buf[nameLen:payloadLen] is the current
// serialized payload. buf's length never changes; only nameLen/payloadLen
// delimit the valid range, so re-use across flush windows never reallocates.
type Slot struct {
	buf        []byte
	nameLen    int
	payloadLen int
	tag        Tag
	acc        float64
}

// Name returns the slot's metric name bytes, including the trailing ':'.
func (s *Slot) Name() []byte { return s.buf[:s.nameLen] }

// Tag returns the slot's current type classification.
func (s *Slot) Tag() Tag { return s.tag }

// PayloadLen returns the current total length (name + payload) in bytes.
func (s *Slot) PayloadLen() int { return s.payloadLen }

// HasSamples reports whether any sample has been accepted (payload is
// longer than just the name).
func (s *Slot) HasSamples() bool { return s.payloadLen > s.nameLen }

// Bytes returns the full name-then-payload segment currently valid for
// this slot, suitable for the packer to copy into an egress buffer.
func (s *Slot) Bytes() []byte { return s.buf[:s.payloadLen] }

// counterPayloadLen returns the portion of payloadLen attributable to the
// payload only (excludes the name).
func (s *Slot) counterPayloadLen() int { return s.payloadLen - s.nameLen }

// formatCounter renders the accumulator with 15 significant digits,
// matching spec's "<accumulator>|c\n" serialization.
func formatCounter(acc float64) string {
	return strconv.FormatFloat(acc, 'g', 15, 64) + "|c\n"
}

// reset re-purposes this arena slot for a new metric name at the start of
// its lifetime, discarding anything left over from a prior flush window.
func (s *Slot) reset(name []byte) {
	copy(s.buf, name)
	s.nameLen = len(name)
	s.payloadLen = len(name)
	s.tag = TagUnknown
	s.acc = 0
}

// rewriteCounter overwrites the payload in place with the serialized
// accumulator, per spec §4.1's counter re-serialization rule.
func (s *Slot) rewriteCounter() {
	str := formatCounter(s.acc)
	copy(s.buf[s.nameLen:], str)
	s.payloadLen = s.nameLen + len(str)
}

// appendOther copies group verbatim to the end of the payload followed by
// a ':' separator byte (rewritten to '\n' by the packer on flush).
func (s *Slot) appendOther(group []byte) {
	n := copy(s.buf[s.payloadLen:], group)
	s.buf[s.payloadLen+n] = ':'
	s.payloadLen += n + 1
}

// FinalizeForPack overwrites the slot's last payload byte with '\n',
// turning the trailing ':' (other) or already-'\n' (counter, idempotent)
// into the egress datagram's segment terminator.
func (s *Slot) FinalizeForPack() {
	if s.payloadLen > s.nameLen {
		s.buf[s.payloadLen-1] = '\n'
	}
}
