// Package metricsserver serves the optional /metrics Prometheus endpoint
// (spec §10/§11's additive observability). Grounded on the teacher's
// http.Server (binding through a netutil.StreamListener) and
// http/graceful.Server (tracking live connections so Shutdown can wait
// for them, with a Timeout forcing the stragglers closed); merged here
// into one server scoped to a single listener and a single handler,
// since the metrics endpoint never needs the original's multi-listener
// fan-out.
package metricsserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/metricflow/statsd-relay/internal/netutil"
	"github.com/metricflow/statsd-relay/internal/relaylog"
)

// Server wraps an *http.Server exposing reg's collectors at /metrics,
// binding through a netutil.StreamListener and supporting a bounded
// graceful shutdown.
type Server struct {
	httpServer *http.Server
	listener   netutil.StreamListener
	log        *relaylog.Logger

	// Timeout bounds how long Shutdown waits for in-flight requests
	// before forcing remaining connections closed. Zero waits forever.
	Timeout time.Duration

	mu          sync.Mutex
	connections map[net.Conn]struct{}
}

// New builds a Server exposing reg at /metrics on the address bound by
// listener.
func New(listener netutil.StreamListener, reg prometheus.Gatherer, log *relaylog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s := &Server{
		listener:    listener,
		log:         log,
		connections: make(map[net.Conn]struct{}),
	}
	s.httpServer = &http.Server{
		Handler: mux,
		ConnState: func(conn net.Conn, state http.ConnState) {
			s.mu.Lock()
			defer s.mu.Unlock()
			switch state {
			case http.StateNew:
				s.connections[conn] = struct{}{}
			case http.StateClosed, http.StateHijacked:
				delete(s.connections, conn)
			}
		},
	}
	return s
}

// Serve binds the listener and serves until ctx is canceled, then
// performs a bounded graceful shutdown. It returns once shutdown
// completes or its Timeout forces the remaining connections closed.
func (s *Server) Serve(ctx context.Context) error {
	listeners, err := s.listener.Listen()
	if err != nil {
		return err
	}
	if len(listeners) == 0 {
		return errors.New("metricsserver: no listener produced")
	}
	ln := listeners[0]

	errCh := make(chan error, 1)
	go func() {
		err := s.httpServer.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case <-ctx.Done():
		s.log.Info("metrics server shutting down")
		shutdownCtx := context.Background()
		if s.Timeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(shutdownCtx, s.Timeout)
			defer cancel()
		}
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.killRemaining()
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) killRemaining() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.connections {
		conn.Close()
	}
}
