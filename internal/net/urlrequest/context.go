// Package urlrequest provides the networking context and the engine request
// that drives a job from start to end of body.
//
// A Context owns the IO-side job factory, the network delegate and the
// throttle. Requests are created, started, read and cancelled on the IO
// sequence; their consumers are notified there too.
package urlrequest

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/executor"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/delegate"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/job"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/throttle"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/shared/id"
)

const (
	DefaultMaxRedirects = 20
	DefaultUserAgent    = "netcore/1.0"
)

// Hooks observe request activity, typically for metrics. Called on IO.
type Hooks struct {
	JobStarted func(kind string)
	BytesRead  func(n int)
}

// Options configures a Context
type Options struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
	// Transport defaults to a pooled transport without retries
	Transport http.RoundTripper
	// Jar defaults to an in-memory public-suffix-aware jar
	Jar      http.CookieJar
	Breakers *resilience.Group
	Clock    throttle.Clock
	Logger   *zap.Logger
	Hooks    Hooks
}

// Context is the networking context shared by all requests
type Context struct {
	ui     *executor.Sequence
	io     *executor.Sequence
	logger *zap.Logger
	clock  throttle.Clock
	hooks  Hooks

	env          *job.Env
	factory      *job.Factory
	delegate     *delegate.Delegate
	throttle     *throttle.Throttle
	clientID     throttle.ClientID
	session      id.SessionID
	builtins     []string
	maxRedirects int

	shutdown atomic.Bool
	// live requests, IO only
	requests map[*Request]struct{}
}

// NewTransport returns a pooled transport. Retries belong to callers, so the
// retrying client is only used for its transport defaults.
func NewTransport() http.RoundTripper {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = nil
	return client.HTTPClient.Transport
}

// NewCookieJar returns an in-memory jar using the public suffix list
func NewCookieJar() (http.CookieJar, error) {
	return cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
}

// NewContext builds a context and installs the built-in protocol handlers.
// It must be called before any task touching the context runs on io.
func NewContext(ui, io *executor.Sequence, opts Options) (*Context, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = throttle.SystemClock
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if opts.Transport == nil {
		opts.Transport = NewTransport()
	}
	if opts.Jar == nil {
		jar, err := NewCookieJar()
		if err != nil {
			return nil, err
		}
		opts.Jar = jar
	}

	logger := opts.Logger.With(zap.String("component", "urlrequest"))
	env := &job.Env{
		IO:        io,
		Logger:    logger,
		Transport: opts.Transport,
		Jar:       opts.Jar,
		UserAgent: opts.UserAgent,
		Timeout:   opts.Timeout,
		Fetcher:   job.NewFetcher(opts.Transport, opts.UserAgent, opts.Breakers),
	}

	factory := job.NewFactory()
	factory.InstallBuiltins(env)

	c := &Context{
		ui:           ui,
		io:           io,
		logger:       logger,
		clock:        opts.Clock,
		hooks:        opts.Hooks,
		env:          env,
		factory:      factory,
		delegate:     delegate.New(ui, io, opts.Logger),
		throttle:     throttle.New(executor.NewOneShotTimer(io), opts.Clock, opts.Logger),
		session:      id.NewSessionID(),
		builtins:     factory.Schemes(),
		maxRedirects: opts.MaxRedirects,
		requests:     make(map[*Request]struct{}),
	}
	return c, nil
}

func (c *Context) UI() *executor.Sequence {
	return c.ui
}

func (c *Context) IO() *executor.Sequence {
	return c.io
}

func (c *Context) Logger() *zap.Logger {
	return c.logger
}

// Env is the environment jobs of this context run in
func (c *Context) Env() *job.Env {
	return c.env
}

// Factory returns the job factory. IO only.
func (c *Context) Factory() *job.Factory {
	return c.factory
}

// Delegate returns the network delegate
func (c *Context) Delegate() *delegate.Delegate {
	return c.delegate
}

// Throttle returns the throttle. IO only.
func (c *Context) Throttle() *throttle.Throttle {
	return c.throttle
}

// Session identifies this context; requests carry it as their emulation client id
func (c *Context) Session() id.SessionID {
	return c.session
}

// BuiltinSchemes is the snapshot of host schemes taken at construction
func (c *Context) BuiltinSchemes() []string {
	return append([]string(nil), c.builtins...)
}

// IsBuiltinScheme reports whether scheme was handled at construction
func (c *Context) IsBuiltinScheme(scheme string) bool {
	for _, s := range c.builtins {
		if s == scheme {
			return true
		}
	}
	return false
}

// ============================================================================
// Network emulation
// ============================================================================

// EmulateNetworkConditions throttles requests tagged with clientID. Safe from any goroutine.
func (c *Context) EmulateNetworkConditions(clientID string, cond throttle.Conditions) {
	c.clientID.Set(clientID)
	c.io.PostTask(func() {
		c.throttle.UpdateConditions(cond)
	})
	c.logger.Info("Network emulation enabled",
		zap.String("client_id", clientID),
		zap.Stringer("conditions", cond),
	)
}

// EnableNetworkEmulation throttles requests of this context's session
func (c *Context) EnableNetworkEmulation(cond throttle.Conditions) {
	c.EmulateNetworkConditions(c.session.String(), cond)
}

// DisableNetworkEmulation releases all throttled transfers
func (c *Context) DisableNetworkEmulation() {
	c.clientID.Set("")
	c.io.PostTask(func() {
		c.throttle.UpdateConditions(throttle.NoConditions())
	})
	c.logger.Info("Network emulation disabled")
}

// EmulationClientID returns the client id currently subject to emulation
func (c *Context) EmulationClientID() string {
	return c.clientID.Get()
}

// ============================================================================
// Lifecycle
// ============================================================================

// NewRequest creates an engine request. IO only.
func (c *Context) NewRequest(method string, u *url.URL, d Delegate) *Request {
	return newRequest(c, method, u, d)
}

// IsShutdown reports whether Shutdown was called
func (c *Context) IsShutdown() bool {
	return c.shutdown.Load()
}

// LiveRequests counts started, unfinished requests. IO only.
func (c *Context) LiveRequests() int {
	return len(c.requests)
}

// Shutdown refuses new requests and aborts live ones. Safe from any goroutine.
func (c *Context) Shutdown() {
	if c.shutdown.Swap(true) {
		return
	}
	c.io.PostTask(func() {
		live := make([]*Request, 0, len(c.requests))
		for r := range c.requests {
			live = append(live, r)
		}
		for _, r := range live {
			r.abort(neterr.Newf(neterr.Aborted, "networking context shut down"))
		}
		c.throttle.UpdateConditions(throttle.NoConditions())
		c.logger.Info("Networking context shut down", zap.Int("aborted", len(live)))
	})
}

func (c *Context) track(r *Request) {
	c.requests[r] = struct{}{}
}

func (c *Context) untrack(r *Request) {
	delete(c.requests, r)
}
