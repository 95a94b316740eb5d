package protocol

import (
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/executor"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/job"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/urlrequest"
)

const waitTimeout = 3 * time.Second

func newTestRegistry(t *testing.T, hooks Hooks) (*Registry, *urlrequest.Context) {
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
	return NewRegistry(ctx, hooks), ctx
}

// onUI runs fn on the UI sequence and waits
func onUI(r *Registry, fn func()) {
	r.ui.Invoke(fn)
}

// settle waits until a registry change is live on IO and announced on UI
func settle(r *Registry) {
	r.io.Flush()
	r.ui.Flush()
}

type fetchResult struct {
	body     []byte
	response *job.Response
	err      error
}

// collector drains one request
type collector struct {
	buf  []byte
	res  fetchResult
	done chan struct{}
}

func (c *collector) OnReceivedRedirect(*urlrequest.Request, *job.RedirectInfo) bool { return false }
func (c *collector) OnAuthRequired(r *urlrequest.Request, _ *job.AuthChallenge)      { r.CancelAuth() }

func (c *collector) OnResponseStarted(r *urlrequest.Request, err error) {
	if err != nil {
		c.finish(err)
		return
	}
	c.res.response = r.Response()
	c.readLoop(r)
}

func (c *collector) OnReadCompleted(r *urlrequest.Request, n int, err error) {
	if c.consume(n, err) {
		c.readLoop(r)
	}
}

func (c *collector) readLoop(r *urlrequest.Request) {
	for {
		n, err := r.Read(c.buf)
		if errors.Is(err, neterr.ErrIOPending) || !c.consume(n, err) {
			return
		}
	}
}

func (c *collector) consume(n int, err error) bool {
	if err != nil || n == 0 {
		c.finish(err)
		return false
	}
	c.res.body = append(c.res.body, c.buf[:n]...)
	return true
}

func (c *collector) finish(err error) {
	c.res.err = err
	close(c.done)
}

// startFetch begins a request and returns its collector without waiting
func startFetch(t *testing.T, ctx *urlrequest.Context, rawURL string, setup func(*urlrequest.Request)) (*collector, *urlrequest.Request) {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)

	c := &collector{buf: make([]byte, 4), done: make(chan struct{})}
	var req *urlrequest.Request
	ctx.IO().Invoke(func() {
		req = ctx.NewRequest(http.MethodGet, u, c)
		if setup != nil {
			setup(req)
		}
		req.Start()
	})
	return c, req
}

func (c *collector) wait(t *testing.T) fetchResult {
	t.Helper()
	select {
	case <-c.done:
		return c.res
	case <-time.After(waitTimeout):
		t.Fatal("request did not finish")
	}
	return fetchResult{}
}

func fetch(t *testing.T, ctx *urlrequest.Context, rawURL string) fetchResult {
	t.Helper()
	c, _ := startFetch(t, ctx, rawURL, nil)
	return c.wait(t)
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}
