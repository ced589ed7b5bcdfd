// Package downstream maintains the live set of downstream collector
// addresses and implements round-robin selection among the currently
// alive ones. Grounded on the teacher's netutil.StreamListener /
// PacketListener split (an object resolving into a concrete set of
// network endpoints) generalized from "the listeners this process binds"
// to "the remote collectors this process forwards to".
package downstream

import "net"

// MaxDownstreamNum bounds how many resolved addresses the resolver ticker
// hands to the host set in one refresh cycle. Not given a numeric value by
// spec; chosen and documented in DESIGN.md.
const MaxDownstreamNum = 32

// Host is one downstream collector: a resolved IP plus the configured
// data (UDP) and health (TCP) ports. Alive reflects the verdict of the
// most recently completed health probe.
type Host struct {
	IP         net.IP
	DataPort   int
	HealthPort int
	Alive      bool
}

// DataAddr is the UDP address samples are forwarded to.
func (h *Host) DataAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: h.IP, Port: h.DataPort}
}

// HealthAddr is the TCP address the health probe connects to.
func (h *Host) HealthAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: h.IP, Port: h.HealthPort}
}
