package pack

import (
	"net"

	"github.com/metricflow/statsd-relay/internal/relaylog"
	"github.com/metricflow/statsd-relay/internal/relaymetrics"
)

// MaxPacketsPerSocket bounds how many flushes a single egress UDP socket
// sends before the packer rotates to a fresh ephemeral source port. Not
// given a numeric value by spec; chosen and documented in DESIGN.md.
const MaxPacketsPerSocket = 100000

// Selector is the subset of the downstream host set the packer needs at
// send time: pick the next alive host's data-plane address.
type Selector interface {
	Next() (addr *net.UDPAddr, ok bool)
}

// Packer owns the egress ring and the rotating UDP socket used to drain
// it, implementing spec §4.2's send policy and socket-rotation rule.
type Packer struct {
	ring        *Ring
	log         *relaylog.Logger
	conn        *net.UDPConn
	packetsSent int
	sendsFailed int
	newConn     func() (*net.UDPConn, error)
	metrics     *relaymetrics.Metrics
}

// NewPacker builds a Packer around ring, using newConn to mint egress
// sockets (normally net.ListenUDP("udp", nil) for an unbound, OS-assigned
// ephemeral source port).
func NewPacker(ring *Ring, log *relaylog.Logger, newConn func() (*net.UDPConn, error)) *Packer {
	return &Packer{ring: ring, log: log, newConn: newConn}
}

// SetMetrics wires optional Prometheus observation into SendNext. A nil
// *Metrics (the default) keeps the packer free of any observability cost.
func (p *Packer) SetMetrics(m *relaymetrics.Metrics) { p.metrics = m }

// Arm ensures an egress socket exists, rotating it first if the previous
// one has sent MaxPacketsPerSocket datagrams.
func (p *Packer) Arm() error {
	if p.conn != nil && p.packetsSent >= MaxPacketsPerSocket {
		p.conn.Close()
		p.conn = nil
		p.packetsSent = 0
	}
	if p.conn == nil {
		c, err := p.newConn()
		if err != nil {
			return err
		}
		p.conn = c
	}
	return nil
}

// SendNext selects the current downstream and sends the datagram at the
// ring's flushIdx to it. Regardless of outcome, the buffer slot is freed
// and flushIdx advances; the send is never retried (best-effort relay).
// It returns whether more datagrams remain queued after this send.
func (p *Packer) SendNext(sel Selector) (moreQueued bool) {
	addr, ok := sel.Next()
	datagram := p.ring.Peek()

	if !ok {
		p.log.Warn("no alive downstream, dropping queued datagram")
		p.metrics.SendFailed()
	} else if err := p.Arm(); err != nil {
		p.log.Warn("could not arm egress socket", "err", err)
		p.metrics.SendFailed()
	} else {
		if _, err := p.conn.WriteToUDP(datagram, addr); err != nil {
			p.sendsFailed++
			p.log.Warn("egress send failed", "downstream", addr.String(), "err", err)
			p.metrics.SendFailed()
		} else {
			p.packetsSent++
			p.metrics.SendSucceeded()
		}
	}

	return p.ring.Advance()
}

// Close releases the current egress socket, if any.
func (p *Packer) Close() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
