// Command statsd-aggregator runs the relay: one positional argument, the
// path to a configuration file. Exit 1 on any configuration or bind
// failure; otherwise runs until SIGINT/SIGTERM (spec §6). Grounded on the
// plain flag-free os.Args style the teacher's own daemon examples use,
// rather than the stdlib flag package.
package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/metricflow/statsd-relay/internal/config"
	"github.com/metricflow/statsd-relay/internal/metricsserver"
	"github.com/metricflow/statsd-relay/internal/netutil"
	"github.com/metricflow/statsd-relay/internal/pack"
	"github.com/metricflow/statsd-relay/internal/relay"
	"github.com/metricflow/statsd-relay/internal/relaylog"
	"github.com/metricflow/statsd-relay/internal/relaymetrics"
	"github.com/metricflow/statsd-relay/internal/resolver"
	"github.com/metricflow/statsd-relay/internal/signals"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 1 && (args[0] == "-version" || args[0] == "--version") {
		fmt.Println("statsd-aggregator", version)
		return 0
	}
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: statsd-aggregator <config-file>")
		return 1
	}

	cfg, err := config.Load(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "statsd-aggregator:", err)
		return 1
	}

	log := relaylog.New(cfg.LogLevel, os.Stdout)

	ingress, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.DataPort})
	if err != nil {
		log.Error("could not bind ingress socket", "port", cfg.DataPort, "err", err)
		return 1
	}

	newEgressConn := func() (*net.UDPConn, error) {
		return net.ListenUDP("udp", nil)
	}

	rx := relay.New(cfg, log, ingress, newEgressConn)

	reg := prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		rx.SetMetrics(relaymetrics.New(reg))
	}

	ctx, cancel := context.WithCancel(context.Background())

	if literal := net.ParseIP(cfg.Downstream.Host); literal != nil {
		rx.Hosts().Seed([]net.IP{literal})
	} else {
		rx.Hosts().Seed(nil) // empty until the first resolution completes
		ticker := resolver.NewTicker(cfg.Downstream.Host, cfg.DNSRefreshInterval, rx.Slot(), log, nil)
		ticker.Start()
		defer ticker.Stop()
	}

	if cfg.MetricsAddr != "" {
		ms := metricsserver.New(netutil.TCPAddr(cfg.MetricsAddr), reg, log)
		go func() {
			if err := ms.Serve(ctx); err != nil {
				log.Warn("metrics server exited", "err", err)
			}
		}()
	}

	signals.Run(signals.Handlers{
		Reload: func() { log.Info("received reopen signal, ignoring") },
		Shutdown: func() {
			log.Info("received shutdown signal, shutting down")
			cancel()
		},
	})

	log.Info("statsd-aggregator starting",
		"data_port", cfg.DataPort,
		"downstream", cfg.Downstream.Host,
		"mtu", pack.MTU,
	)
	rx.Run(ctx)
	return 0
}
