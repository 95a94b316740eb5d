// Package request originates outbound requests on behalf of application
// code. A Loader owns the engine request on the IO sequence; a Facade is its
// UI-side counterpart that tracks the scripting-visible lifecycle and emits
// events.
package request

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/executor"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/job"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/upload"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/urlrequest"
)

// ReadBufferSize is the scratch buffer used for response reads
const ReadBufferSize = 32 * 1024

var (
	ErrEmptyURL      = errors.New("url must not be empty")
	ErrNilDelegate   = errors.New("delegate must not be nil")
	ErrRedirectMode  = errors.New("Request cannot follow redirect with the current redirect mode")
	ErrInvalidHeader = errors.New("invalid header name or value")
	ErrHeadersSent   = errors.New("headers cannot be changed after the request started")
	ErrUnknownMode   = errors.New("unknown redirect mode")
)

const errAfterShutdown = "cannot start a request after shutdown"

// RedirectMode decides what happens when the server redirects
type RedirectMode int

const (
	RedirectFollow RedirectMode = iota
	RedirectError
	RedirectManual
)

func (m RedirectMode) String() string {
	switch m {
	case RedirectError:
		return "error"
	case RedirectManual:
		return "manual"
	default:
		return "follow"
	}
}

// ParseRedirectMode accepts "follow", "error" and "manual"; empty is follow
func ParseRedirectMode(s string) (RedirectMode, error) {
	switch s {
	case "", "follow":
		return RedirectFollow, nil
	case "error":
		return RedirectError, nil
	case "manual":
		return RedirectManual, nil
	}
	return RedirectFollow, fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Redirect describes a redirect reported to the UI side
type Redirect struct {
	StatusCode int
	Method     string
	URL        string
	Header     http.Header
}

// LoaderDelegate receives loader progress. All methods run on the UI sequence.
type LoaderDelegate interface {
	OnReceivedRedirect(info Redirect)
	OnAuthenticationRequired(challenge job.AuthChallenge)
	OnResponseStarted(resp *job.Response)
	OnResponseData(data []byte)
	OnResponseCompleted()
	OnRequestError(err error)
	OnResponseError(err error)
}

// Loader owns one engine request. Public methods are called on the UI
// sequence and re-posted to IO; delegate notifications travel the other way.
type Loader struct {
	ctx      *urlrequest.Context
	ui       *executor.Sequence
	io       *executor.Sequence
	logger   *zap.Logger
	method   string
	url      *url.URL
	mode     RedirectMode
	delegate LoaderDelegate

	// IO; req is nil once terminated
	req      *urlrequest.Request
	chunked  bool
	stream   *upload.ChunkedStream
	elements [][]byte
	started  bool
	buf      []byte
}

// Create validates the arguments and schedules initialization on IO
func Create(ctx *urlrequest.Context, method, rawURL string, mode RedirectMode, d LoaderDelegate) (*Loader, error) {
	if rawURL == "" {
		return nil, ErrEmptyURL
	}
	if d == nil {
		return nil, ErrNilDelegate
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if method == "" {
		method = http.MethodGet
	}

	l := &Loader{
		ctx:      ctx,
		ui:       ctx.UI(),
		io:       ctx.IO(),
		logger:   ctx.Logger().With(zap.String("component", "loader")),
		method:   method,
		url:      u,
		mode:     mode,
		delegate: d,
	}
	if !l.io.PostTask(l.doInitialize) {
		return nil, neterr.Newf(neterr.Aborted, errAfterShutdown)
	}
	return l, nil
}

// Mode returns the redirect mode
func (l *Loader) Mode() RedirectMode {
	return l.mode
}

// URL returns the initial URL
func (l *Loader) URL() *url.URL {
	return l.url
}

// Method returns the initial method
func (l *Loader) Method() string {
	return l.method
}

func (l *Loader) doInitialize() {
	if l.ctx.IsShutdown() {
		err := neterr.Newf(neterr.Aborted, errAfterShutdown)
		l.toUI(func(d LoaderDelegate) { d.OnRequestError(err) })
		return
	}

	l.req = l.ctx.NewRequest(l.method, l.url, (*engineDelegate)(l))
	l.req.SetLoadFlags(job.DoNotSendCookies)
	l.req.SetInternal(true)
	l.buf = make([]byte, ReadBufferSize)
}

// Write appends body data. In chunked mode the request starts with the first
// write; otherwise writes are buffered until isLast. data is copied.
func (l *Loader) Write(data []byte, isLast bool) {
	chunk := append([]byte(nil), data...)
	l.io.PostTask(func() { l.doWrite(chunk, isLast) })
}

func (l *Loader) doWrite(data []byte, isLast bool) {
	if l.req == nil {
		return
	}

	if l.chunked {
		if l.stream == nil {
			if len(data) == 0 && isLast {
				l.start()
				return
			}
			l.stream = upload.NewChunkedStream()
			l.req.SetUpload(l.stream)
			l.start()
		}
		if err := l.stream.AppendChunk(data, isLast); err != nil {
			l.logger.Warn("Dropping chunk after the final one", zap.Error(err))
		}
		return
	}

	if len(data) > 0 {
		l.elements = append(l.elements, data)
	}
	if !isLast || l.started {
		return
	}
	if len(l.elements) > 0 {
		l.req.SetUpload(upload.NewElementsStream(l.elements))
	}
	l.start()
}

func (l *Loader) start() {
	if l.started {
		return
	}
	l.started = true
	l.req.Start()
}

// SetChunkedUpload selects chunked transfer for the body
func (l *Loader) SetChunkedUpload(chunked bool) {
	l.io.PostTask(func() {
		if !l.started {
			l.chunked = chunked
		}
	})
}

// SetExtraHeader sets a request header before the request starts
func (l *Loader) SetExtraHeader(name, value string) {
	l.io.PostTask(func() {
		if l.req != nil && !l.started {
			l.req.Header().Set(name, value)
		}
	})
}

// RemoveExtraHeader removes a request header before the request starts
func (l *Loader) RemoveExtraHeader(name string) {
	l.io.PostTask(func() {
		if l.req != nil && !l.started {
			l.req.Header().Del(name)
		}
	})
}

// FollowRedirect continues a redirect held under RedirectManual
func (l *Loader) FollowRedirect() {
	l.io.PostTask(func() {
		if l.req != nil {
			l.req.FollowDeferredRedirect()
		}
	})
}

// PassLoginInformation answers an auth challenge. Empty credentials decline it.
func (l *Loader) PassLoginInformation(username, password string) {
	l.io.PostTask(func() {
		if l.req == nil {
			return
		}
		if username == "" && password == "" {
			l.req.CancelAuth()
			return
		}
		l.req.SetAuth(username, password)
	})
}

// Cancel stops the request. Idempotent.
func (l *Loader) Cancel() {
	l.io.PostTask(func() {
		if l.req == nil {
			return
		}
		l.req.Cancel()
		l.terminate()
	})
}

// terminate drops the engine request; later engine callbacks are ignored
func (l *Loader) terminate() {
	l.req = nil
	if l.stream != nil {
		l.stream.Close()
	}
	l.elements = nil
	l.buf = nil
}

func (l *Loader) toUI(fn func(LoaderDelegate)) {
	d := l.delegate
	l.ui.PostTask(func() { fn(d) })
}

// readLoop reads until the job goes asynchronous or the body ends
func (l *Loader) readLoop() {
	for l.req != nil {
		n, err := l.req.Read(l.buf)
		if errors.Is(err, neterr.ErrIOPending) {
			return
		}
		if !l.handleRead(n, err) {
			return
		}
	}
}

// handleRead reports one read and tells whether to read again
func (l *Loader) handleRead(n int, err error) bool {
	switch {
	case err != nil:
		l.toUI(func(d LoaderDelegate) { d.OnResponseError(err) })
		l.terminate()
		return false
	case n == 0:
		l.toUI(func(d LoaderDelegate) { d.OnResponseCompleted() })
		l.terminate()
		return false
	}

	data := make([]byte, n)
	copy(data, l.buf[:n])
	l.toUI(func(d LoaderDelegate) { d.OnResponseData(data) })
	return true
}

// engineDelegate receives engine callbacks on IO. Every entry checks that the
// loader still owns r.
type engineDelegate Loader

func (e *engineDelegate) loader(r *urlrequest.Request) *Loader {
	l := (*Loader)(e)
	if l.req == nil || l.req != r {
		return nil
	}
	return l
}

func (e *engineDelegate) OnReceivedRedirect(r *urlrequest.Request, info *job.RedirectInfo) bool {
	l := e.loader(r)
	if l == nil {
		return true
	}

	ev := Redirect{
		StatusCode: info.StatusCode,
		Method:     info.NewMethod,
		URL:        info.NewURL.String(),
		Header:     info.Header.Clone(),
	}
	switch l.mode {
	case RedirectError:
		r.Cancel()
		l.terminate()
		l.toUI(func(d LoaderDelegate) { d.OnRequestError(ErrRedirectMode) })
		return true
	case RedirectManual:
		l.toUI(func(d LoaderDelegate) { d.OnReceivedRedirect(ev) })
		return true
	default:
		l.toUI(func(d LoaderDelegate) { d.OnReceivedRedirect(ev) })
		return false
	}
}

func (e *engineDelegate) OnAuthRequired(r *urlrequest.Request, challenge *job.AuthChallenge) {
	l := e.loader(r)
	if l == nil {
		return
	}
	ch := *challenge
	l.toUI(func(d LoaderDelegate) { d.OnAuthenticationRequired(ch) })
}

func (e *engineDelegate) OnResponseStarted(r *urlrequest.Request, err error) {
	l := e.loader(r)
	if l == nil {
		return
	}
	if err != nil {
		l.toUI(func(d LoaderDelegate) { d.OnRequestError(err) })
		l.terminate()
		return
	}

	resp := *r.Response()
	resp.Header = resp.Header.Clone()
	l.toUI(func(d LoaderDelegate) { d.OnResponseStarted(&resp) })
	l.readLoop()
}

func (e *engineDelegate) OnReadCompleted(r *urlrequest.Request, n int, err error) {
	l := e.loader(r)
	if l == nil {
		return
	}
	if l.handleRead(n, err) {
		l.readLoop()
	}
}
