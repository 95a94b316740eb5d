package urlrequest

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/executor"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/delegate"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/job"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
)

const waitTimeout = 3 * time.Second

func newTestContext(t *testing.T, opts Options) *Context {
	t.Helper()
	ui := executor.New("ui", nil)
	io := executor.New("io", nil)
	t.Cleanup(func() {
		io.Shutdown()
		ui.Shutdown()
	})

	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	ctx, err := NewContext(ui, io, opts)
	require.NoError(t, err)
	return ctx
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/hello", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("X-Origin", "server")
		fmt.Fprint(w, "hello world")
	})
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/hello", http.StatusFound)
	})
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	mux.HandleFunc("/to-file", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "file:///etc/hosts", http.StatusFound)
	})
	mux.HandleFunc("/header", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.Header.Get("X-Test"))
	})
	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "user" || pass != "secret" {
			w.Header().Set("WWW-Authenticate", `Basic realm="test"`)
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, "denied")
			return
		}
		fmt.Fprint(w, "welcome")
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(waitTimeout):
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// reader is a request Delegate that drains the body and reports the outcome
type reader struct {
	buf  []byte
	body []byte

	deferRedirects bool
	redirects      chan *job.RedirectInfo
	onAuth         func(r *Request, challenge *job.AuthChallenge)
	done           chan error
}

func newReader() *reader {
	return &reader{
		buf:       make([]byte, 5),
		redirects: make(chan *job.RedirectInfo, 32),
		done:      make(chan error, 1),
	}
}

func (d *reader) OnReceivedRedirect(_ *Request, info *job.RedirectInfo) bool {
	d.redirects <- info
	return d.deferRedirects
}

func (d *reader) OnAuthRequired(r *Request, challenge *job.AuthChallenge) {
	if d.onAuth != nil {
		d.onAuth(r, challenge)
		return
	}
	r.CancelAuth()
}

func (d *reader) OnResponseStarted(r *Request, err error) {
	if err != nil {
		d.done <- err
		return
	}
	d.readLoop(r)
}

func (d *reader) OnReadCompleted(r *Request, n int, err error) {
	if d.consume(n, err) {
		d.readLoop(r)
	}
}

func (d *reader) readLoop(r *Request) {
	for {
		n, err := r.Read(d.buf)
		if errors.Is(err, neterr.ErrIOPending) {
			return
		}
		if !d.consume(n, err) {
			return
		}
	}
}

func (d *reader) consume(n int, err error) bool {
	if err != nil {
		d.done <- err
		return false
	}
	if n == 0 {
		d.done <- nil
		return false
	}
	d.body = append(d.body, d.buf[:n]...)
	return true
}

func (d *reader) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-d.done:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("request did not finish")
	}
	return nil
}

// start creates and starts a request on the IO sequence
func start(t *testing.T, ctx *Context, method, rawURL string, d Delegate, setup func(r *Request)) *Request {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)

	var r *Request
	ctx.IO().Invoke(func() {
		r = ctx.NewRequest(method, u, d)
		if setup != nil {
			setup(r)
		}
		r.Start()
	})
	return r
}

// eventLog collects delegate observer events
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func observe(ctx *Context) *eventLog {
	log := &eventLog{}
	ctx.Delegate().Observe(func(ev delegate.Event, details delegate.Details) {
		log.mu.Lock()
		defer log.mu.Unlock()
		entry := ev.String()
		if details.Error != "" {
			entry += ":" + details.Error
		}
		log.events = append(log.events, entry)
	})
	return log
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}
