package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metricflow/statsd-relay/internal/relaylog"
)

const validConfig = `
# comment line
data_port=8125

downstream_flush_interval=2.5
log_level=1
dns_refresh_interval=30
downstream_health_check_interval=0.5
downstream=collector.internal:8125:8126
`

func TestParseValidConfig(t *testing.T) {
	cfg, err := parse(strings.NewReader(validConfig))
	require.NoError(t, err)
	require.Equal(t, 8125, cfg.DataPort)
	require.Equal(t, 2500*time.Millisecond, cfg.FlushInterval)
	require.Equal(t, relaylog.LevelDebug, cfg.LogLevel)
	require.Equal(t, 30*time.Second, cfg.DNSRefreshInterval)
	require.Equal(t, 500*time.Millisecond, cfg.HealthCheckInterval)
	require.Equal(t, Downstream{Host: "collector.internal", DataPort: 8125, HealthPort: 8126}, cfg.Downstream)
}

func TestParseDefaultsApplied(t *testing.T) {
	const minimal = `
data_port=8125
downstream_flush_interval=1
downstream=127.0.0.1:8125:8126
`
	cfg, err := parse(strings.NewReader(minimal))
	require.NoError(t, err)
	require.Equal(t, DefaultLogLevel, cfg.LogLevel)
	require.Equal(t, DefaultDNSRefreshInterval, cfg.DNSRefreshInterval)
	require.Equal(t, DefaultHealthCheckInterval, cfg.HealthCheckInterval)
	require.Equal(t, "", cfg.MetricsAddr, "metrics endpoint must be disabled unless configured")
}

func TestParseMetricsAddrOptional(t *testing.T) {
	const withMetrics = `
data_port=8125
downstream_flush_interval=1
downstream=127.0.0.1:8125:8126
metrics_addr=127.0.0.1:9102
`
	cfg, err := parse(strings.NewReader(withMetrics))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9102", cfg.MetricsAddr)
}

func TestParseMissingRequiredKey(t *testing.T) {
	const missing = `
downstream_flush_interval=1
downstream=127.0.0.1:8125:8126
`
	_, err := parse(strings.NewReader(missing))
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "data_port", perr.Key)
}

func TestParseMalformedDownstream(t *testing.T) {
	const bad = `
data_port=8125
downstream_flush_interval=1
downstream=justahostname
`
	_, err := parse(strings.NewReader(bad))
	require.Error(t, err)
}

func TestParseBadLineReportsLineNumber(t *testing.T) {
	const bad = "data_port=8125\nnotkeyvalue\n"
	_, err := parse(strings.NewReader(bad))
	require.Error(t, err)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, 2, perr.Line)
}

func TestParseOutOfRangeLogLevel(t *testing.T) {
	const bad = `
data_port=8125
downstream_flush_interval=1
log_level=9
downstream=127.0.0.1:8125:8126
`
	_, err := parse(strings.NewReader(bad))
	require.Error(t, err)
}
