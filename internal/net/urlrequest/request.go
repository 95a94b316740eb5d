package urlrequest

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/delegate"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/job"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/throttle"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/upload"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/shared/id"
)

// Status is the lifecycle state of a Request
type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusSuccess
	StatusCanceled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusCanceled:
		return "canceled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Delegate receives request progress. All methods run on the IO sequence.
type Delegate interface {
	// OnReceivedRedirect returns true to hold the redirect until FollowDeferredRedirect
	OnReceivedRedirect(r *Request, info *job.RedirectInfo) bool
	OnAuthRequired(r *Request, challenge *job.AuthChallenge)
	// OnResponseStarted reports headers, or the error that ended the request first
	OnResponseStarted(r *Request, err error)
	// OnReadCompleted delivers a Read that returned neterr.ErrIOPending, or a
	// failure after the response started
	OnReadCompleted(r *Request, n int, err error)
}

// Request is one engine request. Confined to the IO sequence.
type Request struct {
	ctx      *Context
	delegate Delegate
	logger   *zap.Logger

	id           id.RequestID
	method       string
	url          *url.URL
	chain        []*url.URL
	referrer     string
	header       http.Header
	upload       upload.Stream
	flags        job.LoadFlags
	internal     bool
	resourceType string

	status Status
	err    error
	// gen invalidates callbacks from a previous job or throttle transfer
	gen       uint64
	job       job.Job
	response  *job.Response
	delivered bool
	deferred  *job.RedirectInfo
	redirects int
	throttled bool
	sendEnd   time.Time
	received  int64
}

func newRequest(c *Context, method string, u *url.URL, d Delegate) *Request {
	if method == "" {
		method = http.MethodGet
	}
	r := &Request{
		ctx:          c,
		delegate:     d,
		id:           id.NewRequestID(),
		method:       strings.ToUpper(method),
		url:          u,
		chain:        []*url.URL{u},
		header:       make(http.Header),
		resourceType: "other",
	}
	r.header.Set(throttle.ClientIDHeader, c.session.String())
	r.logger = c.logger.With(zap.String("request_id", r.id.String()))
	return r
}

// ============================================================================
// Accessors
// ============================================================================

func (r *Request) ID() id.RequestID {
	return r.id
}

func (r *Request) Method() string {
	return r.method
}

// URL is the current URL, which changes as redirects are followed
func (r *Request) URL() *url.URL {
	return r.url
}

// URLChain lists the original URL and every redirect target
func (r *Request) URLChain() []*url.URL {
	return append([]*url.URL(nil), r.chain...)
}

// Header returns the request headers, mutable until Start
func (r *Request) Header() http.Header {
	return r.header
}

// Response returns response metadata once headers were delivered
func (r *Request) Response() *job.Response {
	if !r.delivered {
		return nil
	}
	return r.response
}

func (r *Request) Status() Status {
	return r.status
}

// Err returns the error that ended the request
func (r *Request) Err() error {
	return r.err
}

func (r *Request) IsPending() bool {
	return r.status == StatusPending
}

// Throttled reports whether the request is subject to network emulation
func (r *Request) Throttled() bool {
	return r.throttled
}

// Received counts body bytes read from the job
func (r *Request) Received() int64 {
	return r.received
}

// Redirects counts followed redirects
func (r *Request) Redirects() int {
	return r.redirects
}

// ============================================================================
// Configuration (before Start)
// ============================================================================

func (r *Request) SetReferrer(referrer string) {
	r.referrer = referrer
}

func (r *Request) SetUpload(s upload.Stream) {
	r.upload = s
}

func (r *Request) SetLoadFlags(flags job.LoadFlags) {
	r.flags = flags
}

// SetInternal marks the request as originated by application code, so
// interception layers hand it to the original handler
func (r *Request) SetInternal(internal bool) {
	r.internal = internal
}

func (r *Request) SetResourceType(t string) {
	r.resourceType = t
}

// ============================================================================
// Lifecycle
// ============================================================================

// Start begins the request. Progress arrives through the Delegate.
func (r *Request) Start() {
	if r.status != StatusIdle {
		return
	}
	r.status = StatusPending
	r.ctx.track(r)

	tag := r.header.Get(throttle.ClientIDHeader)
	r.header.Del(throttle.ClientIDHeader)
	r.throttled = tag != "" && tag == r.ctx.clientID.Get()

	r.logger.Debug("Starting request",
		zap.String("method", r.method),
		zap.String("url", r.url.Redacted()),
		zap.Bool("throttled", r.throttled),
	)

	switch {
	case r.ctx.IsShutdown():
		r.failLater(neterr.Newf(neterr.Aborted, "cannot start a request after shutdown"))
	case r.throttled && r.ctx.throttle.IsOffline():
		r.failLater(neterr.New(neterr.InternetDisconnected))
	default:
		r.beforeRequest()
	}
}

// Cancel aborts the request. Idempotent; the Delegate is not notified.
func (r *Request) Cancel() {
	switch r.status {
	case StatusIdle:
		r.status = StatusCanceled
		r.err = neterr.New(neterr.Aborted)
	case StatusPending:
		r.finish(StatusCanceled, neterr.New(neterr.Aborted))
	}
}

// FollowDeferredRedirect follows a redirect held by OnReceivedRedirect
func (r *Request) FollowDeferredRedirect() bool {
	if r.status != StatusPending || r.deferred == nil {
		return false
	}
	info := r.deferred
	r.deferred = nil
	r.releaseJob()

	if !sameOrigin(r.url, info.NewURL) {
		r.header.Del("Authorization")
		r.header.Del("Cookie")
	}
	if info.NewMethod != "" && info.NewMethod != r.method {
		r.method = info.NewMethod
		if r.method == http.MethodGet || r.method == http.MethodHead {
			r.upload = nil
			r.header.Del("Content-Type")
			r.header.Del("Content-Length")
			r.header.Del("Content-Encoding")
		}
	}
	r.url = info.NewURL
	r.chain = append(r.chain, info.NewURL)
	r.response = nil

	r.beforeRequest()
	return true
}

// SetAuth answers an auth challenge
func (r *Request) SetAuth(username, password string) bool {
	a, ok := r.job.(job.Authenticator)
	if !ok || r.status != StatusPending {
		return false
	}
	a.SetAuth(username, password)
	return true
}

// CancelAuth declines an auth challenge; the challenge response is delivered as-is
func (r *Request) CancelAuth() bool {
	a, ok := r.job.(job.Authenticator)
	if !ok || r.status != StatusPending {
		return false
	}
	a.CancelAuth()
	return true
}

// Read fills p with body bytes. (0, nil) is end of stream; neterr.ErrIOPending
// means Delegate.OnReadCompleted delivers the result.
func (r *Request) Read(p []byte) (int, error) {
	if r.status != StatusPending || !r.delivered || r.job == nil {
		if r.err != nil {
			return 0, r.err
		}
		return 0, neterr.Newf(neterr.Failed, "read before response started")
	}
	if len(p) == 0 {
		return 0, neterr.New(neterr.InvalidArgument)
	}

	n, err := r.job.Read(p)
	if errors.Is(err, neterr.ErrIOPending) {
		return 0, err
	}
	return r.settleRead(n, err)
}

// ============================================================================
// Pipeline stages
// ============================================================================

func (r *Request) stale(gen uint64) bool {
	return r.status != StatusPending || r.gen != gen
}

func (r *Request) failLater(err error) {
	gen := r.gen
	r.ctx.io.PostTask(func() {
		if r.stale(gen) {
			return
		}
		r.failStart(err)
	})
}

func (r *Request) beforeRequest() {
	gen := r.gen
	r.ctx.delegate.Run(delegate.BeforeRequest, r.details(), func(v delegate.Response) {
		if r.stale(gen) {
			return
		}
		switch {
		case v.Cancel:
			r.failStart(neterr.New(neterr.BlockedByClient))
		case v.RedirectURL != "":
			r.redirectTo(v.RedirectURL)
		default:
			r.beforeSendHeaders()
		}
	})
}

func (r *Request) beforeSendHeaders() {
	gen := r.gen
	r.ctx.delegate.Run(delegate.BeforeSendHeaders, r.details(), func(v delegate.Response) {
		if r.stale(gen) {
			return
		}
		if v.Cancel {
			r.failStart(neterr.New(neterr.BlockedByClient))
			return
		}
		if v.RequestHeaders != nil {
			r.header = v.RequestHeaders.Clone()
		}
		r.ctx.delegate.Notify(delegate.SendHeaders, r.details())
		r.startJob(r.createJob())
	})
}

func (r *Request) info() *job.RequestInfo {
	return &job.RequestInfo{
		ID:       r.id.String(),
		Method:   r.method,
		URL:      r.url,
		Referrer: r.referrer,
		Header:   r.header.Clone(),
		Upload:   r.upload,
		Flags:    r.flags,
		Internal: r.internal,
	}
}

func (r *Request) createJob() job.Job {
	info := r.info()
	if j := r.ctx.factory.MaybeCreateJob(info); j != nil {
		return j
	}
	return job.NewErrorJob(r.ctx.env, info, neterr.UnknownURLScheme)
}

// redirectTo restarts the request at target through a synthetic redirect
func (r *Request) redirectTo(target string) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" {
		r.failStart(neterr.Newf(neterr.InvalidURL, "invalid redirect target %q", target))
		return
	}
	r.releaseJob()
	r.startJob(job.NewRedirectJob(r.ctx.env, r.info(), u, http.StatusTemporaryRedirect, "Delegate"))
}

func (r *Request) startJob(j job.Job) {
	r.job = j
	r.sendEnd = r.ctx.clock.Now()
	if r.ctx.hooks.JobStarted != nil {
		r.ctx.hooks.JobStarted(j.Kind())
	}
	j.Start(&jobDelegate{r: r, gen: r.gen})
}

// releaseJob drops the current job and any throttled transfer, invalidating
// their pending callbacks
func (r *Request) releaseJob() {
	if r.job != nil {
		r.job.Kill()
		r.job = nil
	}
	if r.throttled {
		r.ctx.throttle.Stop(r.id.String())
	}
	r.gen++
}

func (r *Request) onHeadersComplete(resp *job.Response) {
	details := r.details()
	details.StatusCode = resp.StatusCode
	details.StatusLine = statusLine(resp)
	details.ResponseHeaders = resp.Header

	gen := r.gen
	r.ctx.delegate.Run(delegate.HeadersReceived, details, func(v delegate.Response) {
		if r.stale(gen) {
			return
		}
		switch {
		case v.Cancel:
			r.failStart(neterr.New(neterr.BlockedByClient))
		case v.RedirectURL != "":
			r.redirectTo(v.RedirectURL)
		default:
			if v.ResponseHeaders != nil {
				resp.Header = v.ResponseHeaders.Clone()
			}
			r.response = resp
			r.throttleResponseStart()
		}
	})
}

// throttleResponseStart holds the headers for the emulated latency
func (r *Request) throttleResponseStart() {
	if !r.throttled {
		r.responseStarted()
		return
	}

	gen := r.gen
	rv := r.ctx.throttle.Start(throttle.Transfer{
		ID:      r.id.String(),
		SendEnd: r.sendEnd,
		Start:   true,
		Upload:  r.upload != nil,
		Callback: func(result int, _ int64) {
			if r.stale(gen) {
				return
			}
			r.afterStartThrottle(result)
		},
	})
	if rv != int(neterr.IOPending) {
		r.afterStartThrottle(rv)
	}
}

func (r *Request) afterStartThrottle(result int) {
	if result < 0 {
		r.failStart(neterr.New(neterr.Code(result)))
		return
	}
	r.responseStarted()
}

func (r *Request) responseStarted() {
	r.delivered = true
	details := r.details()
	details.StatusCode = r.response.StatusCode
	details.StatusLine = statusLine(r.response)
	details.ResponseHeaders = r.response.Header
	r.ctx.delegate.Notify(delegate.ResponseStarted, details)
	r.delegate.OnResponseStarted(r, nil)
}

func (r *Request) onRedirect(info *job.RedirectInfo) {
	r.redirects++
	if r.redirects > r.ctx.maxRedirects {
		r.failStart(neterr.New(neterr.TooManyRedirects))
		return
	}
	// Synthetic redirects come from listeners and are trusted
	if r.job.Kind() != "redirect" && !r.ctx.factory.IsSafeRedirectTarget(info.NewURL) {
		r.failStart(neterr.Newf(neterr.UnsafeRedirect, "unsafe redirect to %s", info.NewURL.Scheme))
		return
	}

	details := r.details()
	details.StatusCode = info.StatusCode
	details.RedirectURL = info.NewURL.String()
	r.ctx.delegate.Notify(delegate.BeforeRedirect, details)

	r.deferred = info
	gen := r.gen
	if r.delegate.OnReceivedRedirect(r, info) || r.stale(gen) {
		return
	}
	r.FollowDeferredRedirect()
}

func (r *Request) onAuthRequired(challenge *job.AuthChallenge) {
	r.delegate.OnAuthRequired(r, challenge)
}

func (r *Request) onJobRead(n int, err error) {
	n, err = r.settleRead(n, err)
	if errors.Is(err, neterr.ErrIOPending) {
		return
	}
	r.delegate.OnReadCompleted(r, n, err)
}

// settleRead applies end of stream, errors and throttling to a job read
func (r *Request) settleRead(n int, err error) (int, error) {
	if err != nil {
		r.finish(StatusFailed, err)
		return 0, err
	}
	if n == 0 {
		r.finish(StatusSuccess, nil)
		return 0, nil
	}

	r.received += int64(n)
	if r.ctx.hooks.BytesRead != nil {
		r.ctx.hooks.BytesRead(n)
	}
	if !r.throttled {
		return n, nil
	}

	gen := r.gen
	rv := r.ctx.throttle.Start(throttle.Transfer{
		ID:      r.id.String(),
		Result:  n,
		Bytes:   int64(n),
		SendEnd: r.sendEnd,
		Callback: func(result int, _ int64) {
			if r.stale(gen) {
				return
			}
			n, err := r.throttledRead(result)
			r.delegate.OnReadCompleted(r, n, err)
		},
	})
	if rv == int(neterr.IOPending) {
		return 0, neterr.ErrIOPending
	}
	return r.throttledRead(rv)
}

func (r *Request) throttledRead(result int) (int, error) {
	if result < 0 {
		err := neterr.New(neterr.Code(result))
		r.finish(StatusFailed, err)
		return 0, err
	}
	return result, nil
}

func (r *Request) failStart(err error) {
	r.finish(StatusFailed, err)
	r.delegate.OnResponseStarted(r, err)
}

// abort ends a live request on behalf of the context and tells the delegate
// through whichever callback it is waiting on
func (r *Request) abort(err error) {
	if r.status != StatusPending {
		return
	}
	delivered := r.delivered
	r.finish(StatusFailed, err)
	if delivered {
		r.delegate.OnReadCompleted(r, 0, err)
	} else {
		r.delegate.OnResponseStarted(r, err)
	}
}

// finish moves the request to a terminal status and emits its last event
func (r *Request) finish(status Status, err error) {
	r.releaseJob()
	r.status = status
	r.err = err
	r.deferred = nil
	r.ctx.untrack(r)

	details := r.details()
	if r.response != nil {
		details.StatusCode = r.response.StatusCode
		details.StatusLine = statusLine(r.response)
	}
	if err != nil {
		details.Error = neterr.CodeOf(err).String()
		r.ctx.delegate.Notify(delegate.ErrorOccurred, details)
		r.logger.Debug("Request failed", zap.Stringer("status", status), zap.Error(err))
		return
	}
	r.ctx.delegate.Notify(delegate.Completed, details)
	r.logger.Debug("Request completed", zap.Int64("received", r.received))
}

func (r *Request) details() delegate.Details {
	return delegate.Details{
		ID:             r.id.String(),
		URL:            r.url.String(),
		Method:         r.method,
		Referrer:       r.referrer,
		ResourceType:   r.resourceType,
		RequestHeaders: r.header,
	}
}

func statusLine(resp *job.Response) string {
	return fmt.Sprintf("HTTP/%s %d %s", resp.HTTPVersion(), resp.StatusCode, resp.StatusText)
}

func sameOrigin(a, b *url.URL) bool {
	return a.Scheme == b.Scheme && a.Host == b.Host
}

// jobDelegate forwards job progress to its request while the job is current
type jobDelegate struct {
	r   *Request
	gen uint64
}

func (d *jobDelegate) current() bool {
	return !d.r.stale(d.gen)
}

func (d *jobDelegate) HeadersComplete(resp *job.Response) {
	if d.current() {
		d.r.onHeadersComplete(resp)
	}
}

func (d *jobDelegate) StartError(err error) {
	if d.current() {
		d.r.failStart(err)
	}
}

func (d *jobDelegate) Redirect(info *job.RedirectInfo) {
	if d.current() {
		d.r.onRedirect(info)
	}
}

func (d *jobDelegate) AuthRequired(challenge *job.AuthChallenge) {
	if d.current() {
		d.r.onAuthRequired(challenge)
	}
}

func (d *jobDelegate) ReadCompleted(n int, err error) {
	if d.current() {
		d.r.onJobRead(n, err)
	}
}
