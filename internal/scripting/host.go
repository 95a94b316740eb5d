package scripting

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/executor"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/delegate"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/protocol"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/request"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/urlrequest"
)

//go:embed prelude.js
var prelude string

// Deps are the pipeline components a host binds to
type Deps struct {
	Context  *urlrequest.Context
	Registry *protocol.Registry
	Tracker  *request.Tracker
	Logger   *zap.Logger
}

// Host runs application scripts on the UI sequence
type Host struct {
	config   Config
	ctx      *urlrequest.Context
	registry *protocol.Registry
	tracker  *request.Tracker
	ui       *executor.Sequence
	logger   *zap.Logger

	// UI
	vm        *goja.Runtime
	closed    bool
	timers    map[int64]*executor.DelayedTask
	nextTimer int64
	listening map[delegate.Event]bool

	console *consoleLog
}

// New creates a host and evaluates the prelude on the UI sequence
func New(config Config, deps Deps) (*Host, error) {
	if deps.Context == nil || deps.Registry == nil {
		return nil, errors.New("scripting: context and registry are required")
	}
	if deps.Tracker == nil {
		deps.Tracker = request.NewTracker()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	h := &Host{
		config:    config,
		ctx:       deps.Context,
		registry:  deps.Registry,
		tracker:   deps.Tracker,
		ui:        deps.Context.UI(),
		logger:    deps.Logger.With(zap.String("component", "scripting")),
		timers:    make(map[int64]*executor.DelayedTask),
		listening: make(map[delegate.Event]bool),
		console:   newConsoleLog(config.MaxConsole),
	}

	var err error
	if !h.ui.Invoke(func() { err = h.setup() }) {
		return nil, ErrClosed
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (h *Host) setup() error {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if h.config.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(h.config.MaxCallStackSize)
	}
	h.vm = vm

	h.setupGlobals()
	if _, err := vm.RunScript("prelude.js", prelude); err != nil {
		return fmt.Errorf("load prelude: %w", err)
	}
	return nil
}

// setupGlobals removes host escapes and installs the bindings
func (h *Host) setupGlobals() {
	vm := h.vm
	vm.Set("require", goja.Undefined())
	vm.Set("process", goja.Undefined())
	vm.Set("module", goja.Undefined())
	vm.Set("exports", goja.Undefined())

	if h.config.EnableConsole {
		console := vm.NewObject()
		for _, level := range []string{"log", "info", "warn", "error"} {
			console.Set(level, h.makeConsoleFunc(level))
		}
		vm.Set("console", console)
	}

	vm.Set("setTimeout", h.setTimeout)
	vm.Set("clearTimeout", h.clearTimeout)
	vm.Set("textEncode", func(call goja.FunctionCall) goja.Value {
		return h.bytes([]byte(call.Argument(0).String()))
	})
	vm.Set("textDecode", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(string(h.exportBytes(call.Argument(0))))
	})

	vm.Set("protocol", h.protocolObject())
	vm.Set("__net", h.netObject())
	vm.Set("webRequest", h.webRequestObject())
	vm.Set("session", h.sessionObject())
}

// Run evaluates src on the UI sequence. It must not be called from a UI task.
func (h *Host) Run(ctx context.Context, name, src string) (*Result, error) {
	start := time.Now()

	var timeout <-chan time.Time
	if h.config.Timeout > 0 {
		timer := time.NewTimer(h.config.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	stop := make(chan struct{})
	watched := make(chan struct{})
	go func() {
		defer close(watched)
		select {
		case <-timeout:
			h.vm.Interrupt(ErrTimeout)
		case <-ctx.Done():
			h.vm.Interrupt(ctx.Err())
		case <-stop:
		}
	}()

	var (
		value  interface{}
		runErr error
	)
	posted := h.ui.Invoke(func() {
		if h.closed {
			runErr = ErrClosed
			return
		}
		v, err := h.vm.RunScript(name, src)
		if err != nil {
			runErr = err
			return
		}
		value = v.Export()
	})

	close(stop)
	<-watched
	// A late interrupt must not hit the next callback
	h.ui.PostTask(func() { h.vm.ClearInterrupt() })

	if !posted {
		return nil, ErrClosed
	}
	if runErr != nil {
		var interrupted *goja.InterruptedError
		if errors.As(runErr, &interrupted) {
			if err, ok := interrupted.Value().(error); ok {
				return nil, fmt.Errorf("run %s: %w", name, err)
			}
		}
		return nil, fmt.Errorf("run %s: %w", name, runErr)
	}
	return &Result{Value: value, Duration: time.Since(start)}, nil
}

// RunFile evaluates the script at path
func (h *Host) RunFile(ctx context.Context, path string) (*Result, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return h.Run(ctx, filepath.Base(path), string(src))
}

// Console returns retained console output
func (h *Host) Console() []LogEntry {
	return h.console.entries()
}

// Close stops timers and listeners; later callbacks are ignored
func (h *Host) Close() {
	h.ui.Invoke(func() {
		if h.closed {
			return
		}
		h.closed = true
		for tid, t := range h.timers {
			t.Cancel()
			delete(h.timers, tid)
		}
		h.clearListeners()
	})
}

// call invokes a script function on the UI sequence and logs exceptions
func (h *Host) call(fn goja.Callable, this goja.Value, args ...goja.Value) (goja.Value, bool) {
	if h.closed {
		return nil, false
	}
	v, err := fn(this, args...)
	if err != nil {
		h.logger.Warn("Script callback failed", zap.Error(err))
		return nil, false
	}
	return v, true
}

// throw raises err as a script exception
func (h *Host) throw(err error) {
	if err != nil {
		panic(h.vm.NewGoError(err))
	}
}

// ============================================================================
// Timers
// ============================================================================

func (h *Host) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(h.vm.NewTypeError("setTimeout requires a function"))
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	h.nextTimer++
	tid := h.nextTimer
	h.timers[tid] = h.ui.PostDelayedTask(func() {
		if _, ok := h.timers[tid]; !ok {
			return
		}
		delete(h.timers, tid)
		h.call(fn, goja.Undefined(), args...)
	}, delay)
	return h.vm.ToValue(tid)
}

func (h *Host) clearTimeout(call goja.FunctionCall) goja.Value {
	tid := call.Argument(0).ToInteger()
	if t, ok := h.timers[tid]; ok {
		t.Cancel()
		delete(h.timers, tid)
	}
	return goja.Undefined()
}

// ============================================================================
// Byte conversion
// ============================================================================

// bytes wraps a copy of b in a Uint8Array
func (h *Host) bytes(b []byte) goja.Value {
	buf := h.vm.NewArrayBuffer(append([]byte(nil), b...))
	ctor := h.vm.Get("Uint8Array")
	obj, err := h.vm.New(ctor, h.vm.ToValue(buf))
	if err != nil {
		return h.vm.ToValue(buf)
	}
	return obj
}

// exportBytes accepts strings, ArrayBuffers and typed arrays
func (h *Host) exportBytes(v goja.Value) []byte {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	switch x := v.Export().(type) {
	case string:
		return []byte(x)
	case []byte:
		return append([]byte(nil), x...)
	case goja.ArrayBuffer:
		return append([]byte(nil), x.Bytes()...)
	}
	return []byte(v.String())
}
