package metricsserver

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/metricflow/statsd-relay/internal/netutil"
	"github.com/metricflow/statsd-relay/internal/relaylog"
)

// fixedListener re-serves an already-bound set of listeners, so a test
// can bind an ephemeral port once, read back its address, and still hand
// the same listener to Server.Serve.
type fixedListener struct{ listeners []net.Listener }

func (f fixedListener) Listen() ([]net.Listener, error) { return f.listeners, nil }

func testLogger() *relaylog.Logger {
	return relaylog.New(relaylog.LevelTrace, io.Discard)
}

func TestServerExposesMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "probe_marker_total", Help: "test marker"})
	c.Inc()
	reg.MustRegister(c)

	s := New(netutil.TCPAddr("127.0.0.1:0"), reg, testLogger())

	listeners, err := s.listener.Listen()
	require.NoError(t, err)
	addr := listeners[0].Addr().String()
	s.listener = fixedListener{listeners}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		var err error
		resp, err = http.Get("http://" + addr + "/metrics")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "probe_marker_total 1")

	cancel()
	require.NoError(t, <-done)
}
