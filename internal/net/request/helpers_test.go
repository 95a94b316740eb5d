package request

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/executor"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/urlrequest"
)

const waitTimeout = 3 * time.Second

func newTestContext(t *testing.T) *urlrequest.Context {
	t.Helper()
	ui := executor.New("ui", nil)
	io := executor.New("io", nil)
	t.Cleanup(func() {
		io.Shutdown()
		ui.Shutdown()
	})

	ctx, err := urlrequest.NewContext(ui, io, urlrequest.Options{
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
	})
	require.NoError(t, err)
	return ctx
}

// received is what the test server saw of a request body
type received struct {
	method        string
	contentLength int64
	chunked       bool
	body          string
	header        http.Header
}

type testServer struct {
	*httptest.Server
	uploads chan received
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{uploads: make(chan received, 8)}

	mux := http.NewServeMux()
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.uploads <- received{
			method:        r.Method,
			contentLength: r.ContentLength,
			chunked:       len(r.TransferEncoding) > 0 && r.TransferEncoding[0] == "chunked",
			body:          string(body),
			header:        r.Header.Clone(),
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write(body)
	})
	mux.HandleFunc("/hello", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("X-Origin", "server")
		fmt.Fprint(w, "hello world")
	})
	mux.HandleFunc("/large", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("0123456789", 10000))
	})
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/hello", http.StatusFound)
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
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "first")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(waitTimeout):
		}
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

type event struct {
	side string
	name string
	args []any
}

// recorder is an EventSink that records every event in order
type recorder struct {
	mu     sync.Mutex
	events []event
	closed chan struct{}
	// on runs synchronously on UI for each event
	on func(ev event)
}

func newRecorder() *recorder {
	return &recorder{closed: make(chan struct{})}
}

func (r *recorder) EmitRequestEvent(name string, args ...any) {
	r.record(event{side: "request", name: name, args: args})
	if name == EventClose {
		close(r.closed)
	}
}

func (r *recorder) EmitResponseEvent(name string, args ...any) {
	r.record(event{side: "response", name: name, args: args})
}

func (r *recorder) record(ev event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	on := r.on
	r.mu.Unlock()
	if on != nil {
		on(ev)
	}
}

// names lists "side:name" for every event so far
func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.side+":"+ev.name)
	}
	return out
}

// body concatenates every data event
func (r *recorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for _, ev := range r.events {
		if ev.side == "response" && ev.name == EventData {
			b.Write(ev.args[0].([]byte))
		}
	}
	return b.String()
}

// find returns the first event with side and name
func (r *recorder) find(side, name string) (event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.side == side && ev.name == name {
			return ev, true
		}
	}
	return event{}, false
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.closed:
	case <-time.After(waitTimeout):
		t.Fatalf("request did not close, events: %v", r.names())
	}
}

// open creates a facade on UI
func open(t *testing.T, ctx *urlrequest.Context, tracker *Tracker, rec *recorder, opts Options) *Facade {
	t.Helper()
	var (
		f   *Facade
		err error
	)
	ctx.UI().Invoke(func() { f, err = NewFacade(ctx, tracker, rec, opts) })
	require.NoError(t, err)
	return f
}

// onUI runs fn on the UI sequence and waits
func onUI(ctx *urlrequest.Context, fn func()) {
	ctx.UI().Invoke(fn)
}
