// Package relaylog is a small leveled, structured logger in the style of
// gone/log: a Logger gated by an atomically stored level, With(kv...) for
// contextual fields, and a single-line-per-event format flushed immediately.
// Unlike gone/log it has no named hierarchy, no swappable Handler chain and
// no JSON/syslog transports — the relay only ever needs one flat logger
// writing to one stream, so that machinery is trimmed (see DESIGN.md).
package relaylog

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Logger writes leveled, structured log lines to an underlying io.Writer.
// Safe for concurrent use; With() returns a cheap child sharing the same
// level and output but carrying extra key/value context.
type Logger struct {
	level *int32 // shared with all children created via With()
	out   io.Writer
	mu    *sync.Mutex
	data  []interface{}
	now   func() time.Time
}

// New creates a root Logger at the given level, writing to w.
func New(level Level, w io.Writer) *Logger {
	lvl := int32(level)
	return &Logger{
		level: &lvl,
		out:   w,
		mu:    &sync.Mutex{},
		now:   time.Now,
	}
}

// SetLevel atomically changes the level gating this logger and all of its
// children created via With().
func (l *Logger) SetLevel(level Level) {
	atomic.StoreInt32(l.level, int32(level))
}

// Level returns the currently active level.
func (l *Logger) Level() Level {
	return Level(atomic.LoadInt32(l.level))
}

// Does reports whether an event at the given level would currently be emitted.
func (l *Logger) Does(level Level) bool {
	return level >= l.Level()
}

// With returns a child Logger which always logs the given key/value pairs
// in addition to its own, without copying the mutex or level pointer —
// changes to the parent's level are observed by the child.
func (l *Logger) With(kv ...interface{}) *Logger {
	child := &Logger{
		level: l.level,
		out:   l.out,
		mu:    l.mu,
		now:   l.now,
	}
	child.data = append(append([]interface{}{}, l.data...), kv...)
	return child
}

func (l *Logger) log(level Level, msg string, kv ...interface{}) {
	if !l.Does(level) {
		return
	}
	var b strings.Builder
	b.WriteString(l.now().Format("2006-01-02 15:04:05"))
	b.WriteByte(' ')
	b.WriteString(level.String())
	b.WriteByte(' ')
	b.WriteString(msg)
	writeKV(&b, l.data)
	writeKV(&b, kv)
	b.WriteByte('\n')

	l.mu.Lock()
	io.WriteString(l.out, b.String())
	l.mu.Unlock()
}

func writeKV(b *strings.Builder, kv []interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(b, " %v=%v", kv[i], kv[i+1])
	}
}

func (l *Logger) Trace(msg string, kv ...interface{}) { l.log(LevelTrace, msg, kv...) }
func (l *Logger) Debug(msg string, kv ...interface{}) { l.log(LevelDebug, msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.log(LevelInfo, msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.log(LevelWarn, msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.log(LevelError, msg, kv...) }
