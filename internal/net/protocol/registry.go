// Package protocol lets application code register custom URL schemes and
// intercept built-in ones.
//
// Registry operations run in two phases. The UI-side bookkeeping is updated
// and validated synchronously, so a second call observes the first at once.
// The job factory is then changed on the IO sequence, and only after that is
// the completion callback run and the event published on the UI sequence.
package protocol

import (
	"sort"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/executor"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/job"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/urlrequest"
)

// Kind distinguishes registered custom schemes from intercepted built-ins
type Kind int

const (
	KindNormal Kind = iota
	KindIntercepted
)

func (k Kind) String() string {
	if k == KindIntercepted {
		return "intercepted"
	}
	return "normal"
}

// EventType names a registry change
type EventType string

const (
	EventRegistered    EventType = "registered"
	EventUnregistered  EventType = "unregistered"
	EventIntercepted   EventType = "intercepted"
	EventUnintercepted EventType = "unintercepted"
)

// Event is published on the UI sequence once a change is live on IO
type Event struct {
	Type   EventType `json:"type"`
	Scheme string    `json:"scheme"`
}

// Entry is a UI-visible registration
type Entry struct {
	Scheme string `json:"scheme"`
	Kind   Kind   `json:"-"`
	// Native is set for handlers installed without a scripting callback
	Native bool `json:"native"`
}

// Hooks observe registry activity, typically for metrics
type Hooks struct {
	// Operation runs on UI after every mutating call
	Operation func(op string, err error)
	// Dispatched runs on IO when an adapter picks its concrete job
	Dispatched func(outcome string)
}

// Registry is the process-wide scheme table of a networking context.
// Mutating methods must be called on the UI sequence.
type Registry struct {
	ctx    *urlrequest.Context
	ui     *executor.Sequence
	io     *executor.Sequence
	logger *zap.Logger
	hooks  Hooks

	// UI
	entries     map[string]Entry
	standard    map[string]bool
	subscribers []func(Event)

	// IO: handlers replaced by interception, restored on unintercept
	originals map[string]job.ProtocolHandler
}

// NewRegistry creates the registry for ctx
func NewRegistry(ctx *urlrequest.Context, hooks Hooks) *Registry {
	return &Registry{
		ctx:       ctx,
		ui:        ctx.UI(),
		io:        ctx.IO(),
		logger:    ctx.Logger().With(zap.String("component", "protocol")),
		hooks:     hooks,
		entries:   make(map[string]Entry),
		standard:  make(map[string]bool),
		originals: make(map[string]job.ProtocolHandler),
	}
}

// Subscribe registers fn for registry events. UI only.
func (r *Registry) Subscribe(fn func(Event)) {
	r.subscribers = append(r.subscribers, fn)
}

// Schemes lists registrations sorted by scheme. UI only.
func (r *Registry) Schemes() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scheme < out[j].Scheme })
	return out
}

// Lookup returns the registration for scheme. UI only.
func (r *Registry) Lookup(scheme string) (Entry, bool) {
	e, ok := r.entries[scheme]
	return e, ok
}

// RegisterProtocol serves scheme with handler
func (r *Registry) RegisterProtocol(scheme string, handler Handler, done func(error)) error {
	if handler == nil {
		return r.reject("register", scheme, ErrNilHandler)
	}
	ph := &adapterHandler{registry: r, scheme: scheme, handler: handler}
	return r.register(scheme, ph, false, done)
}

// RegisterHandler serves scheme with a native protocol handler, such as a
// directory mount
func (r *Registry) RegisterHandler(scheme string, ph job.ProtocolHandler, done func(error)) error {
	if ph == nil {
		return r.reject("register", scheme, ErrNilHandler)
	}
	return r.register(scheme, ph, true, done)
}

func (r *Registry) register(scheme string, ph job.ProtocolHandler, native bool, done func(error)) error {
	if !validScheme(scheme) {
		return r.reject("register", scheme, ErrInvalidScheme)
	}
	if _, ok := r.entries[scheme]; ok || r.ctx.IsBuiltinScheme(scheme) {
		return r.reject("register", scheme, ErrAlreadyRegistered)
	}

	r.entries[scheme] = Entry{Scheme: scheme, Kind: KindNormal, Native: native}
	r.io.PostTask(func() {
		if !r.ctx.Factory().SetProtocolHandler(scheme, ph) {
			r.logger.Warn("Factory already had a handler", zap.String("scheme", scheme))
		}
		r.ui.PostTask(func() { r.complete("register", EventRegistered, scheme, done) })
	})
	return nil
}

// UnregisterProtocol removes a registered custom scheme
func (r *Registry) UnregisterProtocol(scheme string, done func(error)) error {
	e, ok := r.entries[scheme]
	if !ok || e.Kind != KindNormal {
		return r.reject("unregister", scheme, ErrNotRegistered)
	}

	delete(r.entries, scheme)
	r.io.PostTask(func() {
		r.ctx.Factory().SetProtocolHandler(scheme, nil)
		r.ui.PostTask(func() { r.complete("unregister", EventUnregistered, scheme, done) })
	})
	return nil
}

// InterceptProtocol routes a built-in scheme through handler. Requests the
// handler declines fall back to the original handler.
func (r *Registry) InterceptProtocol(scheme string, handler Handler, done func(error)) error {
	if handler == nil {
		return r.reject("intercept", scheme, ErrNilHandler)
	}
	if e, ok := r.entries[scheme]; ok {
		if e.Kind == KindNormal {
			return r.reject("intercept", scheme, ErrCannotInterceptCustomScheme)
		}
		return r.reject("intercept", scheme, ErrAlreadyRegistered)
	}
	if !r.ctx.IsBuiltinScheme(scheme) {
		return r.reject("intercept", scheme, ErrNoExistingHandler)
	}

	r.entries[scheme] = Entry{Scheme: scheme, Kind: KindIntercepted}
	r.io.PostTask(func() {
		factory := r.ctx.Factory()
		ph := &adapterHandler{
			registry: r,
			scheme:   scheme,
			handler:  handler,
			fallback: factory.GetProtocolHandler(scheme),
		}
		r.originals[scheme] = factory.ReplaceProtocol(scheme, ph)
		r.ui.PostTask(func() { r.complete("intercept", EventIntercepted, scheme, done) })
	})
	return nil
}

// UninterceptProtocol restores the original handler of an intercepted scheme
func (r *Registry) UninterceptProtocol(scheme string, done func(error)) error {
	e, ok := r.entries[scheme]
	if !ok {
		return r.reject("unintercept", scheme, ErrNotRegistered)
	}
	if e.Kind != KindIntercepted {
		return r.reject("unintercept", scheme, ErrNotIntercepted)
	}

	delete(r.entries, scheme)
	r.io.PostTask(func() {
		original, ok := r.originals[scheme]
		delete(r.originals, scheme)
		if ok && original != nil {
			r.ctx.Factory().ReplaceProtocol(scheme, original)
		}
		r.ui.PostTask(func() { r.complete("unintercept", EventUnintercepted, scheme, done) })
	})
	return nil
}

// RegisterStandardSchemes marks custom schemes as standard, so they parse
// with an authority and may be the target of a network redirect. Schemes may
// be marked before or after they are registered. Nothing is marked when any
// name is invalid. UI only.
func (r *Registry) RegisterStandardSchemes(schemes []string) error {
	for _, s := range schemes {
		if !validScheme(s) {
			return r.reject("standard", s, ErrInvalidScheme)
		}
	}

	marked := make([]string, 0, len(schemes))
	for _, s := range schemes {
		if r.standard[s] || r.ctx.IsBuiltinScheme(s) {
			continue
		}
		r.standard[s] = true
		marked = append(marked, s)
	}
	r.io.PostTask(func() {
		r.ctx.Factory().MarkStandard(marked...)
	})
	r.logger.Info("Standard schemes registered", zap.Strings("schemes", marked))
	if r.hooks.Operation != nil {
		r.hooks.Operation("standard", nil)
	}
	return nil
}

// StandardSchemes lists the custom schemes marked standard. UI only.
func (r *Registry) StandardSchemes() []string {
	out := make([]string, 0, len(r.standard))
	for s := range r.standard {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// IsHandledProtocol asks the IO-side factory whether scheme is served and
// answers on the UI sequence
func (r *Registry) IsHandledProtocol(scheme string, reply func(bool)) {
	executor.PostTaskAndReplyWithResult(r.io, func() bool {
		return r.ctx.Factory().IsHandledProtocol(scheme)
	}, r.ui, reply)
}

func (r *Registry) reject(op, scheme string, err error) error {
	r.logger.Debug("Registry operation rejected",
		zap.String("op", op),
		zap.String("scheme", scheme),
		zap.Error(err),
	)
	if r.hooks.Operation != nil {
		r.hooks.Operation(op, err)
	}
	return err
}

func (r *Registry) complete(op string, ev EventType, scheme string, done func(error)) {
	r.logger.Info("Protocol "+string(ev), zap.String("scheme", scheme))
	if r.hooks.Operation != nil {
		r.hooks.Operation(op, nil)
	}
	if done != nil {
		done(nil)
	}
	for _, fn := range r.subscribers {
		fn(Event{Type: ev, Scheme: scheme})
	}
}

// validScheme accepts RFC 3986 scheme names. Comparison stays case-sensitive.
func validScheme(scheme string) bool {
	if scheme == "" {
		return false
	}
	for i, c := range scheme {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && (c >= '0' && c <= '9' || c == '+' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}
