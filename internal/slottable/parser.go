package slottable

import (
	"bytes"
	"math"
	"strconv"

	"github.com/metricflow/statsd-relay/internal/relaylog"
)

// minLineLength is the boundary established by spec's testable properties:
// a 7-byte line is accepted, a 6-byte line is rejected.
const minLineLength = 7

// SplitLines splits an inbound UDP datagram into StatsD lines, each
// including its terminating '\n'. A dangling final fragment without a
// trailing newline is accepted and synthesized one, per spec §6.
func SplitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' {
			lines = append(lines, data[start:i+1])
			start = i + 1
		}
	}
	if start < len(data) {
		frag := data[start:]
		line := make([]byte, len(frag)+1)
		copy(line, frag)
		line[len(frag)] = '\n'
		lines = append(lines, line)
	}
	return lines
}

// Ingest parses one complete UDP datagram and folds every sample it
// contains into t, flushing prematurely via flush whenever a sample would
// otherwise overflow the egress MTU.
func Ingest(t *Table, data []byte, flush Flusher, log *relaylog.Logger) {
	for _, line := range SplitLines(data) {
		ingestLine(t, line, flush, log)
	}
}

func ingestLine(t *Table, line []byte, flush Flusher, log *relaylog.Logger) {
	if len(line) < minLineLength || len(line) > t.mtu-MaxCounterLength {
		log.Error("statsd line rejected: out of bounds length", "len", len(line))
		t.reject()
		return
	}

	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		log.Error("statsd line rejected: no name separator")
		t.reject()
		return
	}
	name := line[:colon+1]
	body := line[colon+1 : len(line)-1] // strip trailing '\n'

	slot, err := t.findOrCreate(name, flush)
	if err != nil {
		log.Error("statsd line dropped: could not allocate slot", "name", string(name), "err", err)
		t.reject()
		return
	}

	for _, group := range bytes.Split(body, []byte(":")) {
		parts := bytes.Split(group, []byte("|"))
		if len(parts) < 2 {
			log.Error("statsd value group rejected: malformed (no |)", "group", string(group))
			t.reject()
			continue
		}
		valueStr, typeStr := parts[0], parts[1]

		if string(typeStr) == "c" {
			value, err := strconv.ParseFloat(string(valueStr), 64)
			if err != nil {
				log.Error("statsd counter value rejected: not a number", "value", string(valueStr))
				t.reject()
				continue
			}
			rate := 1.0
			if len(parts) == 3 {
				if r, ok := parseRate(parts[2]); ok {
					rate = r
				}
			}
			slot, err = t.applyCounter(name, slot, value/rate, flush)
			if err != nil {
				log.Error("statsd counter sample rejected", "name", string(name), "err", err)
				t.reject()
			}
		} else {
			slot, err = t.applyOther(name, slot, group, flush)
			if err != nil {
				log.Error("statsd sample rejected", "name", string(name), "err", err)
				t.reject()
			}
		}
	}
}

// parseRate parses an "@rate" token. Per spec, a present rate must parse
// to a finite double and consume exactly the remainder of the group;
// otherwise the caller defaults to 1.0.
func parseRate(tok []byte) (float64, bool) {
	if len(tok) < 2 || tok[0] != '@' {
		return 0, false
	}
	r, err := strconv.ParseFloat(string(tok[1:]), 64)
	if err != nil {
		return 0, false
	}
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false
	}
	return r, true
}
