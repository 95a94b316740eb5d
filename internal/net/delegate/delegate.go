// Package delegate dispatches engine request lifecycle events to one listener
// per event type and to any number of passive observers.
//
// Listeners are installed and invoked on the UI sequence. Engine requests call
// Run and Notify from the IO sequence; blocking responses are delivered back
// on the IO sequence.
package delegate

import (
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/executor"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/shared/id"
)

// Event identifies a request lifecycle notification
type Event int

const (
	BeforeRequest Event = iota
	BeforeSendHeaders
	SendHeaders
	HeadersReceived
	BeforeRedirect
	ResponseStarted
	Completed
	ErrorOccurred

	eventCount
)

var eventNames = [eventCount]string{
	"onBeforeRequest",
	"onBeforeSendHeaders",
	"onSendHeaders",
	"onHeadersReceived",
	"onBeforeRedirect",
	"onResponseStarted",
	"onCompleted",
	"onErrorOccurred",
}

func (e Event) String() string {
	if e < 0 || e >= eventCount {
		return "unknown"
	}
	return eventNames[e]
}

// Blocking reports whether a listener for e must reply before the request continues
func (e Event) Blocking() bool {
	return e == BeforeRequest || e == BeforeSendHeaders || e == HeadersReceived
}

// ParseEvent maps a listener name such as "onCompleted" to its Event
func ParseEvent(name string) (Event, bool) {
	for i, n := range eventNames {
		if n == name {
			return Event(i), true
		}
	}
	return 0, false
}

// Events lists all event types in lifecycle order
func Events() []Event {
	out := make([]Event, eventCount)
	for i := range out {
		out[i] = Event(i)
	}
	return out
}

// Details describes the request an event is about
type Details struct {
	ID              string      `json:"id"`
	Event           string      `json:"event"`
	URL             string      `json:"url"`
	Method          string      `json:"method"`
	Referrer        string      `json:"referrer,omitempty"`
	ResourceType    string      `json:"resourceType"`
	Timestamp       time.Time   `json:"timestamp"`
	RequestHeaders  http.Header `json:"requestHeaders,omitempty"`
	ResponseHeaders http.Header `json:"responseHeaders,omitempty"`
	StatusCode      int         `json:"statusCode,omitempty"`
	StatusLine      string      `json:"statusLine,omitempty"`
	RedirectURL     string      `json:"redirectURL,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// Response is a blocking listener's verdict. The zero value lets the request continue.
type Response struct {
	Cancel bool
	// RedirectURL redirects the request (BeforeRequest, HeadersReceived)
	RedirectURL string
	// RequestHeaders replaces the outgoing headers (BeforeSendHeaders)
	RequestHeaders http.Header
	// ResponseHeaders replaces the received headers (HeadersReceived)
	ResponseHeaders http.Header
}

// Listener handles one event type. For blocking events reply must be called
// once, from any goroutine; later calls are ignored. reply is nil otherwise.
type Listener func(details Details, reply func(Response))

// Observer sees every event without influencing the request
type Observer func(event Event, details Details)

type entry struct {
	filter *Filter
	fn     Listener
}

// Delegate routes request events to listeners and observers
type Delegate struct {
	ui     *executor.Sequence
	io     *executor.Sequence
	logger *zap.Logger
	now    func() time.Time

	// listeners is confined to the UI sequence; active mirrors which slots
	// are set so IO can skip the round trip
	listeners [eventCount]*entry
	active    atomic.Uint32

	mu        sync.RWMutex
	observers map[id.ListenerID]Observer
}

// New creates a delegate bound to the UI and IO sequences
func New(ui, io *executor.Sequence, logger *zap.Logger) *Delegate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Delegate{
		ui:        ui,
		io:        io,
		logger:    logger,
		now:       time.Now,
		observers: make(map[id.ListenerID]Observer),
	}
}

// SetListener installs fn for ev, replacing any previous listener. A nil fn
// removes it. Must be called on the UI sequence.
func (d *Delegate) SetListener(ev Event, filter *Filter, fn Listener) {
	if ev < 0 || ev >= eventCount {
		return
	}

	bit := uint32(1) << uint(ev)
	if fn == nil {
		d.listeners[ev] = nil
		d.active.And(^bit)
		return
	}
	d.listeners[ev] = &entry{filter: filter, fn: fn}
	d.active.Or(bit)
}

// HasListener reports whether a listener is installed for ev. Safe from any goroutine.
func (d *Delegate) HasListener(ev Event) bool {
	return d.active.Load()&(uint32(1)<<uint(ev)) != 0
}

// Observe registers an observer and returns its id. Safe from any goroutine.
// Observers are called on the IO sequence and must not block.
func (d *Delegate) Observe(fn Observer) id.ListenerID {
	lid := id.NewListenerID()
	d.mu.Lock()
	d.observers[lid] = fn
	d.mu.Unlock()
	return lid
}

// Unobserve removes an observer
func (d *Delegate) Unobserve(lid id.ListenerID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.observers[lid]; !ok {
		return false
	}
	delete(d.observers, lid)
	return true
}

// Run dispatches a blocking event. done is always called later on the IO
// sequence, with the zero Response when no listener applies.
func (d *Delegate) Run(ev Event, details Details, done func(Response)) {
	details = d.prepare(ev, details)
	d.observe(ev, details)

	proceed := func(resp Response) {
		d.io.PostTask(func() { done(resp) })
	}
	if !d.HasListener(ev) {
		proceed(Response{})
		return
	}

	var once sync.Once
	reply := func(resp Response) {
		once.Do(func() { proceed(resp) })
	}
	if !d.ui.PostTask(func() { d.invoke(ev, details, reply) }) {
		reply(Response{})
	}
}

// Notify dispatches a non-blocking event
func (d *Delegate) Notify(ev Event, details Details) {
	details = d.prepare(ev, details)
	d.observe(ev, details)

	if !d.HasListener(ev) {
		return
	}
	d.ui.PostTask(func() { d.invoke(ev, details, nil) })
}

func (d *Delegate) invoke(ev Event, details Details, reply func(Response)) {
	e := d.listeners[ev]
	if e == nil || !d.matches(e.filter, details.URL) {
		if reply != nil {
			reply(Response{})
		}
		return
	}

	d.logger.Debug("Dispatching request event",
		zap.String("event", ev.String()),
		zap.String("request_id", details.ID),
	)
	e.fn(details, reply)
}

func (d *Delegate) matches(f *Filter, raw string) bool {
	if f == nil {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return f.Match(u)
}

func (d *Delegate) prepare(ev Event, details Details) Details {
	details.Event = ev.String()
	if details.Timestamp.IsZero() {
		details.Timestamp = d.now()
	}
	if details.ResourceType == "" {
		details.ResourceType = "other"
	}
	details.RequestHeaders = details.RequestHeaders.Clone()
	details.ResponseHeaders = details.ResponseHeaders.Clone()
	return details
}

func (d *Delegate) observe(ev Event, details Details) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, fn := range d.observers {
		fn(ev, details)
	}
}
