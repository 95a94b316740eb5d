package protocol

import (
	"errors"
	"net/url"
	"sync"
	"weak"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/executor"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/job"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/shared/id"
)

// State is the lifecycle of an AdapterJob
type State int

const (
	StateCreated State = iota
	StateAwaitingHandler
	StateStarted
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaitingHandler:
		return "awaiting_handler"
	case StateStarted:
		return "started"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// OutcomeDelegated names jobs produced by the original handler
const OutcomeDelegated = "delegated"

// AdapterJob asks a Handler on the UI sequence which concrete job should
// serve the request, then proxies to that job. Confined to the IO sequence.
type AdapterJob struct {
	id       id.JobID
	env      *job.Env
	ui       *executor.Sequence
	req      *job.RequestInfo
	handler  Handler
	fallback job.ProtocolHandler
	logger   *zap.Logger
	observe  func(outcome string)

	state    State
	outcome  string
	delegate job.Delegate
	inner    job.Job
}

// ID identifies the job in logs
func (a *AdapterJob) ID() id.JobID {
	return a.id
}

func (a *AdapterJob) Kind() string {
	return "adapter"
}

// State reports the lifecycle state
func (a *AdapterJob) State() State {
	return a.state
}

// Outcome names the concrete job chosen, empty until the handler resolved
func (a *AdapterJob) Outcome() string {
	return a.outcome
}

// Inner returns the concrete job once chosen
func (a *AdapterJob) Inner() job.Job {
	return a.inner
}

func (a *AdapterJob) Start(d job.Delegate) {
	if a.state != StateCreated {
		return
	}
	a.delegate = d

	// Requests originated by application code must not re-enter the handler
	if a.req.Internal {
		if a.fallback != nil {
			if j := a.fallback.MaybeCreateJob(a.req); j != nil {
				a.startInner(j, OutcomeDelegated)
				return
			}
		}
		a.startInner(job.NewErrorJob(a.env, a.req, neterr.UnknownURLScheme), ResultError.String())
		return
	}

	a.state = StateAwaitingHandler
	view := RequestView{
		ID:       a.req.ID,
		Method:   a.req.Method,
		URL:      a.req.URL.String(),
		Referrer: a.req.Referrer,
		Header:   a.req.Header.Clone(),
	}

	// The UI side holds only a weak pointer; the request may drop the job
	// before the handler answers.
	self := weak.Make(a)
	io := a.env.IO
	handler := a.handler
	resolve := func(res Result) {
		io.PostTask(func() {
			a := self.Value()
			if a == nil || a.state != StateAwaitingHandler {
				return
			}
			a.dispatch(res)
		})
	}

	posted := a.ui.PostTask(func() {
		var once sync.Once
		handler(view, func(res Result) {
			once.Do(func() { resolve(res.detach()) })
		})
	})
	if !posted {
		resolve(Error(neterr.Aborted))
	}
}

// dispatch builds and starts the concrete job for res
func (a *AdapterJob) dispatch(res Result) {
	var j job.Job
	outcome := res.Kind.String()

	switch res.Kind {
	case ResultString:
		j = job.NewStringJob(a.env, a.req, res.MimeType, res.Charset, string(res.Data))
	case ResultBuffer:
		j = job.NewBufferJob(a.env, a.req, res.MimeType, res.Encoding, res.Data)
	case ResultFile:
		j = job.NewFileJob(a.env, a.req, res.Path)
	case ResultError:
		j = job.NewErrorJob(a.env, a.req, res.Error)
	case ResultHTTP:
		j = job.NewHTTPJob(a.env, a.req, job.FetchSpec{URL: res.URL, Method: res.Method, Referrer: res.Referrer})
	default:
		if a.fallback != nil {
			j = a.fallback.MaybeCreateJob(a.req)
			outcome = OutcomeDelegated
		}
		if j == nil {
			j = job.NewErrorJob(a.env, a.req, neterr.NotImplemented)
			outcome = ResultError.String()
		}
	}

	a.logger.Debug("Handler resolved",
		zap.String("job_id", a.id.String()),
		zap.String("request_id", a.req.ID),
		zap.String("outcome", outcome),
	)
	a.startInner(j, outcome)
}

func (a *AdapterJob) startInner(j job.Job, outcome string) {
	a.inner = j
	a.outcome = outcome
	a.state = StateStarted
	if a.observe != nil {
		a.observe(outcome)
	}
	j.Start(&adapterDelegate{a: a})
}

func (a *AdapterJob) Read(p []byte) (int, error) {
	if a.inner == nil {
		if a.state == StateCancelled {
			return 0, neterr.New(neterr.Aborted)
		}
		return 0, neterr.Newf(neterr.Failed, "no response yet")
	}
	n, err := a.inner.Read(p)
	a.track(n, err)
	return n, err
}

func (a *AdapterJob) Kill() {
	if a.state == StateCancelled {
		return
	}
	a.state = StateCancelled
	if a.inner != nil {
		a.inner.Kill()
	}
}

// SetAuth forwards credentials to the concrete job
func (a *AdapterJob) SetAuth(username, password string) {
	if auth, ok := a.inner.(job.Authenticator); ok {
		auth.SetAuth(username, password)
	}
}

// CancelAuth forwards to the concrete job
func (a *AdapterJob) CancelAuth() {
	if auth, ok := a.inner.(job.Authenticator); ok {
		auth.CancelAuth()
	}
}

// track moves to a terminal state once the body ends or fails
func (a *AdapterJob) track(n int, err error) {
	if a.state != StateStarted {
		return
	}
	switch {
	case err == nil && n == 0:
		a.state = StateCompleted
	case err != nil && !errors.Is(err, neterr.ErrIOPending):
		a.state = StateFailed
	}
}

// adapterDelegate forwards the concrete job's progress to the engine request
type adapterDelegate struct {
	a *AdapterJob
}

func (d *adapterDelegate) HeadersComplete(resp *job.Response) {
	d.a.delegate.HeadersComplete(resp)
}

func (d *adapterDelegate) StartError(err error) {
	if d.a.state == StateStarted {
		d.a.state = StateFailed
	}
	d.a.delegate.StartError(err)
}

func (d *adapterDelegate) Redirect(info *job.RedirectInfo) {
	d.a.delegate.Redirect(info)
}

func (d *adapterDelegate) AuthRequired(challenge *job.AuthChallenge) {
	d.a.delegate.AuthRequired(challenge)
}

func (d *adapterDelegate) ReadCompleted(n int, err error) {
	d.a.track(n, err)
	d.a.delegate.ReadCompleted(n, err)
}

// adapterHandler installs AdapterJobs for one scheme
type adapterHandler struct {
	registry *Registry
	scheme   string
	handler  Handler
	fallback job.ProtocolHandler
}

func (h *adapterHandler) MaybeCreateJob(req *job.RequestInfo) job.Job {
	r := h.registry
	return &AdapterJob{
		id:       id.NewJobID(),
		env:      r.ctx.Env(),
		ui:       r.ui,
		req:      req,
		handler:  h.handler,
		fallback: h.fallback,
		logger:   r.logger,
		observe:  r.hooks.Dispatched,
	}
}

// IsSafeRedirectTarget defers to the original handler when intercepting
func (h *adapterHandler) IsSafeRedirectTarget(location *url.URL) bool {
	if checker, ok := h.fallback.(job.RedirectChecker); ok {
		return checker.IsSafeRedirectTarget(location)
	}
	return true
}
