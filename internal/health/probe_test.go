package health

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metricflow/statsd-relay/internal/downstream"
	"github.com/metricflow/statsd-relay/internal/relaylog"
)

func testLogger() *relaylog.Logger {
	return relaylog.New(relaylog.LevelTrace, io.Discard)
}

// serveOnce starts a one-shot TCP listener that replies to the first
// connection with response, then closes.
func serveOnce(t *testing.T, response string) *downstream.Host {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, len("health"))
		_, _ = io.ReadFull(conn, buf) // drain the probe request bytes
		_, _ = io.WriteString(conn, response)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return &downstream.Host{IP: addr.IP, HealthPort: addr.Port}
}

func waitForResult(t *testing.T, tr *Tracker) Result {
	t.Helper()
	select {
	case r := <-tr.Results():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for probe result")
		return Result{}
	}
}

func TestProbeUpResponseMarksAlive(t *testing.T) {
	h := serveOnce(t, "health: up\n")
	tr := NewTracker(testLogger(), time.Second)
	tr.Tick(h)
	r := waitForResult(t, tr)
	require.True(t, r.Alive)
	tr.Collect(r)
	require.True(t, h.Alive)
}

func TestProbeMissingTrailingNewlineMarksDown(t *testing.T) {
	h := serveOnce(t, "health: up")
	tr := NewTracker(testLogger(), time.Second)
	tr.Tick(h)
	r := waitForResult(t, tr)
	require.False(t, r.Alive)
}

func TestProbeWrongResponseMarksDown(t *testing.T) {
	h := serveOnce(t, "nope\n")
	tr := NewTracker(testLogger(), time.Second)
	tr.Tick(h)
	r := waitForResult(t, tr)
	require.False(t, r.Alive)
}

func TestProbeConnectionRefusedMarksDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close() // nobody listening now

	h := &downstream.Host{IP: addr.IP, HealthPort: addr.Port}
	tr := NewTracker(testLogger(), time.Second)
	tr.Tick(h)
	r := waitForResult(t, tr)
	require.False(t, r.Alive)
}

func TestProbeDownAfterUpClearsAlive(t *testing.T) {
	h := serveOnce(t, "health: up\n")
	tr := NewTracker(testLogger(), time.Second)
	tr.Tick(h)
	r := waitForResult(t, tr)
	tr.Collect(r)
	require.True(t, h.Alive)

	h2 := serveOnce(t, "nope\n")
	h.IP = h2.IP
	h.HealthPort = h2.HealthPort
	tr.Tick(h)
	r = waitForResult(t, tr)
	tr.Collect(r)
	require.False(t, h.Alive)
}

func TestStuckProbeForceAbortedOnNextTick(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	// Accept but never write a response: the client's read blocks until
	// its context deadline/cancellation.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		time.Sleep(5 * time.Second)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	h := &downstream.Host{IP: addr.IP, HealthPort: addr.Port}
	h.Alive = true

	tr := NewTracker(testLogger(), 10*time.Second) // long timeout: only a forced Tick() abort should end this probe
	tr.Tick(h)

	// give the goroutine a moment to reach "in flight"
	time.Sleep(50 * time.Millisecond)

	tr.Tick(h) // finds the previous probe still active: force aborts it
	require.False(t, h.Alive, "force-abort on overdue probe must mark down immediately")
}
