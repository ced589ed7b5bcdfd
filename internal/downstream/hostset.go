package downstream

import "net"

// HostSet is the live set of downstream hosts (spec §3's Downstream Host
// Set / §4.3). It is mutated only from the reactor goroutine: reconciling
// fresh resolution results and round-robin selecting the next alive host
// at send time.
type HostSet struct {
	dataPort   int
	healthPort int
	hosts      []*Host
	cursor     int

	// OnRemove, if set, is called for every Host dropped during
	// Reconcile, before it is forgotten, so the health probe state
	// machine can stop its watcher and close its probe fd (spec §4.3).
	OnRemove func(h *Host)
}

// NewHostSet builds an empty host set for the given data/health ports.
func NewHostSet(dataPort, healthPort int) *HostSet {
	return &HostSet{dataPort: dataPort, healthPort: healthPort}
}

// Hosts returns the current hosts, in set order. Callers must not retain
// or mutate the slice beyond the current reactor tick.
func (hs *HostSet) Hosts() []*Host { return hs.hosts }

// Seed populates the host set once at startup from a literal (non-DNS)
// downstream address, per spec §4.5: "If the configured downstream is a
// literal numeric address, the ticker is never started and the host set
// is populated once at startup."
func (hs *HostSet) Seed(addrs []net.IP) {
	hs.Reconcile(addrs)
}

// Reconcile merges a freshly resolved address set into the live host set,
// preserving identity (and therefore Alive / in-progress probe state) for
// every surviving address. Addresses absent from the new set are removed;
// addresses not already present become new, not-yet-alive hosts.
func (hs *HostSet) Reconcile(addrs []net.IP) {
	consumed := make([]bool, len(addrs))

	var kept []*Host
	for _, h := range hs.hosts {
		idx := indexOfIP(addrs, h.IP, consumed)
		if idx >= 0 {
			consumed[idx] = true
			kept = append(kept, h)
		} else if hs.OnRemove != nil {
			hs.OnRemove(h)
		}
	}

	for i, a := range addrs {
		if !consumed[i] {
			kept = append(kept, &Host{IP: a, DataPort: hs.dataPort, HealthPort: hs.healthPort})
		}
	}

	hs.hosts = kept
	if hs.cursor >= len(hs.hosts) {
		hs.cursor = 0
	}
}

func indexOfIP(addrs []net.IP, ip net.IP, consumed []bool) int {
	for i, a := range addrs {
		if !consumed[i] && a.Equal(ip) {
			return i
		}
	}
	return -1
}

// Next advances the round-robin cursor up to len(hosts) positions,
// wrapping, and returns the first alive host's data address. ok is false
// if no host is currently alive.
func (hs *HostSet) Next() (addr *net.UDPAddr, ok bool) {
	n := len(hs.hosts)
	if n == 0 {
		return nil, false
	}
	for i := 0; i < n; i++ {
		hs.cursor = (hs.cursor + 1) % n
		h := hs.hosts[hs.cursor]
		if h.Alive {
			return h.DataAddr(), true
		}
	}
	return nil, false
}
