package scripting

import (
	"errors"
	"time"
)

var (
	ErrClosed  = errors.New("scripting host is closed")
	ErrTimeout = errors.New("script execution timed out")

	ErrUnknownPreset = errors.New("unknown emulation preset")
)

// Config defines host configuration
type Config struct {
	Timeout          time.Duration // Limit for one Run call
	EnableConsole    bool          // Expose console.log/info/warn/error
	MaxCallStackSize int           // Zero keeps the goja default
	MaxConsole       int           // Retained console entries
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    // log, info, warn, error
	Message string    // Log message
	Time    time.Time // Timestamp
}

// DefaultConfig returns the default host configuration
func DefaultConfig() Config {
	return Config{
		Timeout:          5 * time.Second,
		EnableConsole:    true,
		MaxCallStackSize: 1024,
		MaxConsole:       1000,
	}
}

// Result represents a finished script run
type Result struct {
	Value    interface{}   // Exported completion value
	Duration time.Duration // Wall time spent on the UI sequence
}
