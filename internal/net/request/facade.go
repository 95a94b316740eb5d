package request

import (
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/job"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/urlrequest"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/shared/id"
)

// Request-side event names
const (
	EventResponse = "response"
	EventAbort    = "abort"
	EventError    = "error"
	EventClose    = "close"
	EventFinish   = "finish"
	EventLogin    = "login"
	EventRedirect = "redirect"
)

// Response-side event names
const (
	EventData    = "data"
	EventEnd     = "end"
	EventAborted = "aborted"
)

// EventSink receives facade events on the UI sequence
type EventSink interface {
	EmitRequestEvent(name string, args ...any)
	EmitResponseEvent(name string, args ...any)
}

// LoginCallback answers a "login" event; empty credentials decline it
type LoginCallback func(username, password string)

type state uint8

const (
	stateStarted state = 1 << iota
	stateFinished
	stateCanceled
	stateFailed
	stateClosed

	stateError = stateCanceled | stateFailed | stateClosed
)

// Facade is the UI-side handle of an originated request. All methods must be
// called on the UI sequence.
type Facade struct {
	id      id.RequestID
	loader  *Loader
	sink    EventSink
	tracker *Tracker

	requestState  state
	responseState state
	follow        bool
	response      *job.Response
	// headers mirrors the extra headers handed to the loader
	headers http.Header
}

// NewFacade creates a facade and its loader. Nothing is sent before the
// first Write.
func NewFacade(ctx *urlrequest.Context, tracker *Tracker, sink EventSink, opts Options) (*Facade, error) {
	for name, values := range opts.Headers {
		if err := validHeader(name, strings.Join(values, ", ")); err != nil {
			return nil, err
		}
	}

	f := &Facade{id: id.NewRequestID(), sink: sink, tracker: tracker, headers: make(http.Header)}
	loader, err := Create(ctx, opts.Method, opts.URL, opts.Redirect, f)
	if err != nil {
		return nil, err
	}
	f.loader = loader
	for name, values := range opts.Headers {
		f.setHeader(name, strings.Join(values, ", "))
	}
	return f, nil
}

// ID identifies the facade in the tracker
func (f *Facade) ID() id.RequestID {
	return f.id
}

// NotStarted reports whether nothing has been written yet
func (f *Facade) NotStarted() bool {
	return f.requestState == 0
}

// Finished reports whether the final write happened
func (f *Facade) Finished() bool {
	return f.requestState&stateFinished != 0
}

// Pinned reports whether the tracker holds the facade
func (f *Facade) Pinned() bool {
	return f.tracker.Has(f.id)
}

// StatusCode returns the response status, or -1 before the response
func (f *Facade) StatusCode() int {
	if f.response == nil {
		return -1
	}
	return f.response.StatusCode
}

// StatusMessage returns the response reason phrase
func (f *Facade) StatusMessage() string {
	if f.response == nil {
		return ""
	}
	return f.response.StatusText
}

// HTTPVersion returns the response protocol version, zero before the response
func (f *Facade) HTTPVersion() (major, minor int) {
	if f.response == nil {
		return 0, 0
	}
	if f.response.ProtoMajor == 0 && f.response.ProtoMinor == 0 {
		return 1, 1
	}
	return f.response.ProtoMajor, f.response.ProtoMinor
}

// ResponseHeaders returns the response headers, nil before the response
func (f *Facade) ResponseHeaders() http.Header {
	if f.response == nil {
		return nil
	}
	return f.response.Header
}

// Write sends body data; isLast ends the body. Returns false once the
// request finished, failed, was canceled or closed.
func (f *Facade) Write(data []byte, isLast bool) bool {
	if f.requestState&(stateFinished|stateError) != 0 {
		return false
	}

	if f.requestState == 0 {
		f.requestState = stateStarted
		f.tracker.pin(f)
	}
	if isLast {
		f.requestState |= stateFinished
		f.sink.EmitRequestEvent(EventFinish)
	}
	if f.loader != nil {
		f.loader.Write(data, isLast)
	}
	return true
}

// Cancel aborts the request. Idempotent.
func (f *Facade) Cancel() {
	if f.requestState&(stateCanceled|stateClosed) != 0 {
		return
	}

	started := f.requestState&stateStarted != 0
	f.requestState |= stateCanceled
	if started && f.loader != nil {
		f.loader.Cancel()
	}
	f.sink.EmitRequestEvent(EventAbort)

	if f.responseState&stateStarted != 0 && f.responseState&stateFinished == 0 {
		f.sink.EmitResponseEvent(EventAborted)
	}
	f.Close()
}

// Close ends the scripting-visible lifecycle. Idempotent.
func (f *Facade) Close() {
	if f.requestState&stateClosed == 0 {
		f.requestState |= stateClosed
		if f.responseState&stateStarted != 0 {
			f.sink.EmitResponseEvent(EventClose)
		}
		f.sink.EmitRequestEvent(EventClose)
	}
	f.tracker.unpin(f)
	f.loader = nil
}

// SetExtraHeader sets a request header. Only allowed before the first write.
func (f *Facade) SetExtraHeader(name, value string) error {
	if !f.NotStarted() {
		return ErrHeadersSent
	}
	if err := validHeader(name, value); err != nil {
		return err
	}
	f.setHeader(name, value)
	return nil
}

func (f *Facade) setHeader(name, value string) {
	f.headers.Set(name, value)
	f.loader.SetExtraHeader(name, value)
}

// Header returns a pending request header
func (f *Facade) Header(name string) (string, bool) {
	values, ok := f.headers[http.CanonicalHeaderKey(name)]
	if !ok {
		return "", false
	}
	return strings.Join(values, ", "), true
}

func validHeader(name, value string) error {
	if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
		return fmt.Errorf("%w: %q", ErrInvalidHeader, name)
	}
	return nil
}

// RemoveExtraHeader removes a request header. Only allowed before the first write.
func (f *Facade) RemoveExtraHeader(name string) error {
	if !f.NotStarted() {
		return ErrHeadersSent
	}
	f.headers.Del(name)
	f.loader.RemoveExtraHeader(name)
	return nil
}

// SetChunkedUpload selects chunked transfer. Only allowed before the first write.
func (f *Facade) SetChunkedUpload(chunked bool) error {
	if !f.NotStarted() {
		return ErrHeadersSent
	}
	f.loader.SetChunkedUpload(chunked)
	return nil
}

// FollowRedirect continues a redirect under RedirectManual. It must be
// called while the "redirect" event is being delivered.
func (f *Facade) FollowRedirect() {
	if f.requestState&(stateCanceled|stateClosed) != 0 {
		return
	}
	f.follow = true
}

// ============================================================================
// LoaderDelegate
// ============================================================================

func (f *Facade) OnReceivedRedirect(info Redirect) {
	if f.loader == nil {
		return
	}
	if f.requestState&(stateCanceled|stateClosed) != 0 {
		f.Cancel()
		return
	}

	args := []any{info.StatusCode, info.Method, info.URL, info.Header}
	if f.loader.Mode() != RedirectManual {
		f.sink.EmitRequestEvent(EventRedirect, args...)
		return
	}

	f.follow = false
	f.sink.EmitRequestEvent(EventRedirect, args...)
	if !f.follow {
		f.Cancel()
		return
	}
	if f.loader != nil {
		f.loader.FollowRedirect()
	}
}

func (f *Facade) OnAuthenticationRequired(challenge job.AuthChallenge) {
	if f.requestState&stateError != 0 {
		return
	}

	loader := f.loader
	answered := false
	var answer LoginCallback = func(username, password string) {
		if answered {
			return
		}
		answered = true
		loader.PassLoginInformation(username, password)
	}
	f.sink.EmitRequestEvent(EventLogin, challenge, answer)
}

func (f *Facade) OnResponseStarted(resp *job.Response) {
	if f.requestState&stateError != 0 {
		return
	}
	f.response = resp
	f.responseState |= stateStarted
	f.sink.EmitRequestEvent(EventResponse, resp)
}

func (f *Facade) OnResponseData(data []byte) {
	if len(data) == 0 {
		return
	}
	if f.requestState&stateError != 0 || f.responseState&stateError != 0 {
		return
	}
	f.sink.EmitResponseEvent(EventData, data)
}

func (f *Facade) OnResponseCompleted() {
	if f.requestState&stateError == 0 && f.responseState&stateError == 0 {
		f.responseState |= stateFinished
		f.sink.EmitResponseEvent(EventEnd)
	}
	f.Close()
}

func (f *Facade) OnRequestError(err error) {
	if f.requestState&stateError != 0 {
		return
	}
	f.requestState |= stateFailed
	f.sink.EmitRequestEvent(EventError, err)
	f.Close()
}

func (f *Facade) OnResponseError(err error) {
	if f.requestState&stateError != 0 || f.responseState&stateFailed != 0 {
		return
	}
	f.responseState |= stateFailed
	f.sink.EmitResponseEvent(EventError, err)
	f.Close()
}
