package scripting

import (
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// consoleLog keeps the most recent console entries
type consoleLog struct {
	mu    sync.Mutex
	max   int
	items []LogEntry
}

func newConsoleLog(max int) *consoleLog {
	if max <= 0 {
		max = DefaultConfig().MaxConsole
	}
	return &consoleLog{max: max}
}

func (c *consoleLog) add(e LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = append(c.items, e)
	if over := len(c.items) - c.max; over > 0 {
		c.items = append([]LogEntry(nil), c.items[over:]...)
	}
}

func (c *consoleLog) entries() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LogEntry(nil), c.items...)
}

// makeConsoleFunc creates a console function that also logs through zap
func (h *Host) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		h.console.add(LogEntry{Level: level, Message: msg, Time: time.Now()})

		switch level {
		case "error":
			h.logger.Error(msg, zap.String("source", "console"))
		case "warn":
			h.logger.Warn(msg, zap.String("source", "console"))
		default:
			h.logger.Info(msg, zap.String("source", "console"))
		}
		return goja.Undefined()
	}
}
