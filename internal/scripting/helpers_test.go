package scripting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/executor"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/job"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/protocol"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/request"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/urlrequest"
)

const waitTimeout = 3 * time.Second

type fixture struct {
	host     *Host
	ctx      *urlrequest.Context
	registry *protocol.Registry
	tracker  *request.Tracker
}

func newFixture(t *testing.T, config Config) *fixture {
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

	f := &fixture{ctx: ctx, registry: protocol.NewRegistry(ctx, protocol.Hooks{}), tracker: request.NewTracker()}
	f.host, err = New(config, Deps{Context: ctx, Registry: f.registry, Tracker: f.tracker})
	require.NoError(t, err)
	t.Cleanup(f.host.Close)
	return f
}

func (f *fixture) run(t *testing.T, src string) interface{} {
	t.Helper()
	res, err := f.host.Run(context.Background(), "test.js", src)
	require.NoError(t, err)
	return res.Value
}

// messages returns console output in order
func (f *fixture) messages() []string {
	var out []string
	for _, e := range f.host.Console() {
		out = append(out, e.Message)
	}
	return out
}

func (f *fixture) waitFor(t *testing.T, msg string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		for _, m := range f.messages() {
			if m == msg {
				return true
			}
		}
		return false
	}, waitTimeout, 5*time.Millisecond, "console never printed %q; got %q", msg, f.messages())
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/hello", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("X-Origin", "server")
		fmt.Fprint(w, "hello world")
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fmt.Fprintf(w, "%s %s %s", r.Method, r.Header.Get("X-Test"), body)
	})
	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/hello", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// fetchScript requests url from script code and prints "<status> <body>" or
// "error <message>"
func fetchScript(url string) string {
	return fmt.Sprintf(`
		(function () {
			const req = net.request(%q);
			req.on('response', (res) => {
				let body = '';
				res.on('data', (chunk) => { body += textDecode(chunk); });
				res.on('end', () => console.log(res.statusCode + ' ' + body));
			});
			req.on('error', (err) => console.log('error ' + err.message));
			req.end();
		})();
	`, url)
}

// pageLoad drains an engine request the way page content is loaded, so
// scripted protocol handlers are consulted
type pageLoad struct {
	buf  []byte
	body []byte
	resp *job.Response
	err  error
	done chan struct{}
}

func (p *pageLoad) OnReceivedRedirect(*urlrequest.Request, *job.RedirectInfo) bool { return false }
func (p *pageLoad) OnAuthRequired(r *urlrequest.Request, _ *job.AuthChallenge)      { r.CancelAuth() }

func (p *pageLoad) OnResponseStarted(r *urlrequest.Request, err error) {
	if err != nil {
		p.finish(err)
		return
	}
	p.resp = r.Response()
	p.read(r)
}

func (p *pageLoad) OnReadCompleted(r *urlrequest.Request, n int, err error) {
	if p.consume(n, err) {
		p.read(r)
	}
}

func (p *pageLoad) read(r *urlrequest.Request) {
	for {
		n, err := r.Read(p.buf)
		if errors.Is(err, neterr.ErrIOPending) || !p.consume(n, err) {
			return
		}
	}
}

func (p *pageLoad) consume(n int, err error) bool {
	if err != nil || n == 0 {
		p.finish(err)
		return false
	}
	p.body = append(p.body, p.buf[:n]...)
	return true
}

func (p *pageLoad) finish(err error) {
	p.err = err
	close(p.done)
}

func (f *fixture) load(t *testing.T, rawURL string) *pageLoad {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)

	p := &pageLoad{buf: make([]byte, 1024), done: make(chan struct{})}
	f.ctx.IO().Invoke(func() {
		f.ctx.NewRequest(http.MethodGet, u, p).Start()
	})
	select {
	case <-p.done:
	case <-time.After(waitTimeout):
		t.Fatal("load did not finish")
	}
	return p
}
