package relaylog

import "fmt"

// Level is the severity of a log event, matching spec's 0..4 TRACE..ERROR scale.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel turns the integer form used in the configuration file (0..4)
// into a Level. Out of range values are rejected.
func ParseLevel(n int) (Level, error) {
	if n < int(LevelTrace) || n > int(LevelError) {
		return 0, fmt.Errorf("log_level out of range 0..4: %d", n)
	}
	return Level(n), nil
}
