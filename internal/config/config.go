// Package config loads the relay's configuration file: newline-separated
// key=value pairs, with '#' and blank lines ignored. This is grounded on
// gone/jconf's shape (a dedicated loader producing line-aware parse errors)
// but the wire format itself is key=value, not JSON, so the JSON tokenizer
// itself isn't reusable (see DESIGN.md).
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/metricflow/statsd-relay/internal/relaylog"
)

// Defaults per spec §6.
const (
	DefaultDNSRefreshInterval  = 60 * time.Second
	DefaultHealthCheckInterval = time.Second
	DefaultLogLevel            = relaylog.LevelInfo
)

// Config holds the fully parsed, validated configuration.
type Config struct {
	DataPort            int
	FlushInterval       time.Duration
	LogLevel            relaylog.Level
	DNSRefreshInterval  time.Duration
	HealthCheckInterval time.Duration
	Downstream          Downstream

	// MetricsAddr is the optional bind address for the /metrics endpoint
	// (spec §11's additive observability). Empty disables it.
	MetricsAddr string
}

// Downstream is the parsed form of the "host:dataPort:healthPort" specifier.
type Downstream struct {
	Host       string
	DataPort   int
	HealthPort int
}

// ParseError reports the line at which a configuration file failed to parse,
// mirroring jconf.SyntaxError's "show the offending line" behaviour. Only
// malformed lines carry a line number; errors about a key (missing, or a
// value that does not parse) carry the Key and leave Line at 0.
type ParseError struct {
	Line int
	Key  string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config: line %d (%s): %s", e.Line, e.Key, e.Err)
	}
	return fmt.Sprintf("config: line %d: %s", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	return parse(f)
}

func parse(r io.Reader) (*Config, error) {
	raw := map[string]string{}

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, '=')
		if idx < 0 {
			return nil, &ParseError{Line: lineNo, Err: fmt.Errorf("expected key=value, got %q", line)}
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])
		if key == "" {
			return nil, &ParseError{Line: lineNo, Err: fmt.Errorf("empty key")}
		}
		raw[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := &Config{
		LogLevel:            DefaultLogLevel,
		DNSRefreshInterval:  DefaultDNSRefreshInterval,
		HealthCheckInterval: DefaultHealthCheckInterval,
	}

	dataPort, err := requireInt(raw, "data_port")
	if err != nil {
		return nil, err
	}
	cfg.DataPort = dataPort

	flushSeconds, err := requireFloat(raw, "downstream_flush_interval")
	if err != nil {
		return nil, err
	}
	cfg.FlushInterval = durationFromSeconds(flushSeconds)

	if v, ok := raw["log_level"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, &ParseError{Key: "log_level", Err: err}
		}
		lvl, err := relaylog.ParseLevel(n)
		if err != nil {
			return nil, &ParseError{Key: "log_level", Err: err}
		}
		cfg.LogLevel = lvl
	}

	if v, ok := raw["dns_refresh_interval"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, &ParseError{Key: "dns_refresh_interval", Err: err}
		}
		if n <= 0 {
			return nil, &ParseError{Key: "dns_refresh_interval", Err: fmt.Errorf("must be positive")}
		}
		cfg.DNSRefreshInterval = time.Duration(n) * time.Second
	}

	if v, ok := raw["downstream_health_check_interval"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, &ParseError{Key: "downstream_health_check_interval", Err: err}
		}
		if f <= 0 {
			return nil, &ParseError{Key: "downstream_health_check_interval", Err: fmt.Errorf("must be positive")}
		}
		cfg.HealthCheckInterval = durationFromSeconds(f)
	}

	cfg.MetricsAddr = raw["metrics_addr"]

	downstreamSpec, ok := raw["downstream"]
	if !ok || downstreamSpec == "" {
		return nil, &ParseError{Key: "downstream", Err: fmt.Errorf("missing required key")}
	}
	ds, err := parseDownstream(downstreamSpec)
	if err != nil {
		return nil, &ParseError{Key: "downstream", Err: err}
	}
	cfg.Downstream = ds

	return cfg, nil
}

func requireInt(raw map[string]string, key string) (int, error) {
	v, ok := raw[key]
	if !ok {
		return 0, &ParseError{Key: key, Err: fmt.Errorf("missing required key")}
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ParseError{Key: key, Err: err}
	}
	return n, nil
}

func requireFloat(raw map[string]string, key string) (float64, error) {
	v, ok := raw[key]
	if !ok {
		return 0, &ParseError{Key: key, Err: fmt.Errorf("missing required key")}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &ParseError{Key: key, Err: err}
	}
	return f, nil
}

func durationFromSeconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func parseDownstream(spec string) (Downstream, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return Downstream{}, fmt.Errorf("expected host:dataPort:healthPort, got %q", spec)
	}
	host := parts[0]
	if host == "" {
		return Downstream{}, fmt.Errorf("empty host in %q", spec)
	}
	dataPort, err := strconv.Atoi(parts[1])
	if err != nil {
		return Downstream{}, fmt.Errorf("invalid data port in %q: %w", spec, err)
	}
	healthPort, err := strconv.Atoi(parts[2])
	if err != nil {
		return Downstream{}, fmt.Errorf("invalid health port in %q: %w", spec, err)
	}
	return Downstream{Host: host, DataPort: dataPort, HealthPort: healthPort}, nil
}
