package relay

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metricflow/statsd-relay/internal/config"
	"github.com/metricflow/statsd-relay/internal/relaylog"
)

func testLogger() *relaylog.Logger {
	return relaylog.New(relaylog.LevelTrace, io.Discard)
}

func newUDPConn(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	return conn
}

// TestReactorForwardsToAliveDownstream exercises the full path: a
// datagram arrives on the ingress socket, gets aggregated, and - once the
// one seeded downstream is marked alive - is forwarded on the next flush.
func TestReactorForwardsToAliveDownstream(t *testing.T) {
	collector := newUDPConn(t)
	defer collector.Close()
	collectorAddr := collector.LocalAddr().(*net.UDPAddr)

	ingress := newUDPConn(t)
	defer func() {
		if ingress != nil {
			ingress.Close()
		}
	}()
	ingressAddr := ingress.LocalAddr().(*net.UDPAddr)

	cfg := &config.Config{
		FlushInterval:       20 * time.Millisecond,
		HealthCheckInterval: time.Hour, // keep the health ticker from firing during this test
		Downstream:          config.Downstream{Host: collectorAddr.IP.String(), DataPort: collectorAddr.Port, HealthPort: collectorAddr.Port},
	}

	newEgressConn := func() (*net.UDPConn, error) {
		return net.ListenUDP("udp", nil)
	}

	rx := New(cfg, testLogger(), ingress, newEgressConn)
	rx.Hosts().Seed([]net.IP{collectorAddr.IP})
	rx.Hosts().Hosts()[0].Alive = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rx.Run(ctx)

	client, err := net.DialUDP("udp", nil, ingressAddr)
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Write([]byte("requests:1|c\n"))
	require.NoError(t, err)

	collector.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 2048)
	n, err := collector.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "requests:")
	require.Contains(t, string(buf[:n]), "|c\n")
}

// TestReactorIdleFlushSendsNothing guards spec §4.2's content gate: an
// empty table on a flush tick must not produce a datagram, and must not
// leave the ring in a state where the next idle tick would either.
func TestReactorIdleFlushSendsNothing(t *testing.T) {
	collector := newUDPConn(t)
	defer collector.Close()
	collectorAddr := collector.LocalAddr().(*net.UDPAddr)

	ingress := newUDPConn(t)
	defer ingress.Close()

	cfg := &config.Config{
		FlushInterval:       5 * time.Millisecond,
		HealthCheckInterval: time.Hour,
		Downstream:          config.Downstream{Host: collectorAddr.IP.String(), DataPort: collectorAddr.Port, HealthPort: collectorAddr.Port},
	}
	newEgressConn := func() (*net.UDPConn, error) { return net.ListenUDP("udp", nil) }

	rx := New(cfg, testLogger(), ingress, newEgressConn)
	rx.Hosts().Seed([]net.IP{collectorAddr.IP})
	rx.Hosts().Hosts()[0].Alive = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rx.Run(ctx)

	// Let several idle flush ticks pass with nothing ever ingested.
	time.Sleep(60 * time.Millisecond)

	collector.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 2048)
	_, err := collector.Read(buf)
	require.Error(t, err, "an idle relay must never send an empty datagram")
	require.False(t, rx.ring.Pending(), "an idle flush must not advance the ring")
}

func TestReactorDropsSampleWithNoAliveDownstream(t *testing.T) {
	ingress := newUDPConn(t)
	defer ingress.Close()
	ingressAddr := ingress.LocalAddr().(*net.UDPAddr)

	cfg := &config.Config{
		FlushInterval:       10 * time.Millisecond,
		HealthCheckInterval: time.Hour,
		Downstream:          config.Downstream{Host: "10.0.0.1", DataPort: 8125, HealthPort: 8126},
	}

	newEgressConn := func() (*net.UDPConn, error) { return net.ListenUDP("udp", nil) }
	rx := New(cfg, testLogger(), ingress, newEgressConn)
	rx.Hosts().Seed([]net.IP{net.ParseIP("10.0.0.1")})
	// left not alive: the flush must warn and drop, not panic or block.

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rx.Run(ctx)

	client, err := net.DialUDP("udp", nil, ingressAddr)
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Write([]byte("requests:1|c\n"))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.False(t, rx.ring.Pending(), "a dropped send must still advance the ring")
}

func TestReactorConsumesResolvedAddressesOnHealthTick(t *testing.T) {
	ingress := newUDPConn(t)
	defer ingress.Close()

	cfg := &config.Config{
		FlushInterval:       time.Hour,
		HealthCheckInterval: 10 * time.Millisecond,
		Downstream:          config.Downstream{Host: "collector.internal", DataPort: 8125, HealthPort: 8126},
	}
	newEgressConn := func() (*net.UDPConn, error) { return net.ListenUDP("udp", nil) }
	rx := New(cfg, testLogger(), ingress, newEgressConn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rx.Run(ctx)

	fresh := []net.IP{net.ParseIP("10.0.0.5").To4()}
	ok := rx.Slot().Publish(fresh)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		return len(rx.Hosts().Hosts()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "10.0.0.5", rx.Hosts().Hosts()[0].IP.String())
}
