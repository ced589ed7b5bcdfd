// Package resolver implements the background DNS refresh producer (spec
// §4.5): a single goroutine that periodically resolves the configured
// downstream hostname and hands the resulting address set to the reactor
// through a single-producer/single-consumer slot. Grounded on the
// teacher's ticker-driven background-refresh idiom (its metric flusher
// ran a time.Ticker loop with a select on a done channel); generalized
// here from "flush accumulated samples" to "publish a fresh address set".
package resolver

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/metricflow/statsd-relay/internal/downstream"
	"github.com/metricflow/statsd-relay/internal/relaylog"
)

// Lookup resolves a hostname to its current addresses. In production it is
// a thin wrapper over net.DefaultResolver.LookupIPAddr; tests stub it.
type Lookup func(ctx context.Context, host string) ([]net.IP, error)

// Slot is the Pending Resolution Slot (spec §3): a single-entry,
// lock-free handoff between the resolver goroutine (producer) and the
// reactor goroutine (consumer). The producer publishes an address set and
// sets ready; the consumer, on its own periodic, tests ready, takes the
// addresses, and clears it. A producer that finds ready still set skips
// its cycle entirely rather than blocking or overwriting — the handoff's
// built-in backpressure.
type Slot struct {
	ready atomic.Bool
	addrs atomic.Pointer[[]net.IP]
}

// Publish stores a fresh address set and raises ready. Returns false,
// without storing, if the previous set has not yet been consumed. Exposed
// so any producer of a resolved address set - not only Ticker - can feed
// the reactor through the same handoff.
func (s *Slot) Publish(addrs []net.IP) bool {
	if s.ready.Load() {
		return false
	}
	s.addrs.Store(&addrs)
	s.ready.Store(true)
	return true
}

// Take returns the pending address set and clears ready, or ok=false if
// nothing new has been published since the last Take.
func (s *Slot) Take() (addrs []net.IP, ok bool) {
	if !s.ready.Load() {
		return nil, false
	}
	p := s.addrs.Load()
	s.ready.Store(false)
	if p == nil {
		return nil, false
	}
	return *p, true
}

// Ticker is the resolver's background producer. Started only when the
// configured downstream is a hostname rather than a literal address (spec
// §4.5): a literal address is resolved once at startup and never
// refreshed.
type Ticker struct {
	host     string
	interval time.Duration
	lookup   Lookup
	log      *relaylog.Logger
	slot     *Slot

	stop chan struct{}
	done chan struct{}
}

// NewTicker builds a Ticker that refreshes host on interval, publishing
// into slot. lookup defaults to net.DefaultResolver.LookupIPAddr when nil.
func NewTicker(host string, interval time.Duration, slot *Slot, log *relaylog.Logger, lookup Lookup) *Ticker {
	if lookup == nil {
		lookup = defaultLookup
	}
	return &Ticker{
		host:     host,
		interval: interval,
		lookup:   lookup,
		log:      log,
		slot:     slot,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func defaultLookup(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}

// Start runs the refresh loop in its own goroutine until Stop is called.
func (rt *Ticker) Start() {
	go rt.run()
}

// Stop ends the refresh loop and waits for it to exit.
func (rt *Ticker) Stop() {
	close(rt.stop)
	<-rt.done
}

func (rt *Ticker) run() {
	defer close(rt.done)
	t := time.NewTicker(rt.interval)
	defer t.Stop()

	for {
		select {
		case <-rt.stop:
			return
		case <-t.C:
			rt.refresh()
		}
	}
}

func (rt *Ticker) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), rt.interval)
	defer cancel()

	addrs, err := rt.lookup(ctx, rt.host)
	if err != nil {
		rt.log.Warn("dns refresh failed", "host", rt.host, "err", err)
		return
	}
	if len(addrs) > downstream.MaxDownstreamNum {
		rt.log.Warn("dns refresh truncated", "host", rt.host, "resolved", len(addrs), "max", downstream.MaxDownstreamNum)
		addrs = addrs[:downstream.MaxDownstreamNum]
	}

	if !rt.slot.Publish(addrs) {
		rt.log.Debug("dns refresh skipped, previous result not yet consumed", "host", rt.host)
	}
}
