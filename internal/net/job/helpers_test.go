package job

import (
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/executor"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
)

const waitTimeout = 2 * time.Second

type readResult struct {
	n   int
	err error
}

// recorder is a Delegate that forwards every notification to channels
type recorder struct {
	headers   chan *Response
	errs      chan error
	redirects chan *RedirectInfo
	auth      chan *AuthChallenge
	reads     chan readResult
}

func newRecorder() *recorder {
	return &recorder{
		headers:   make(chan *Response, 4),
		errs:      make(chan error, 4),
		redirects: make(chan *RedirectInfo, 4),
		auth:      make(chan *AuthChallenge, 4),
		reads:     make(chan readResult, 4),
	}
}

func (r *recorder) HeadersComplete(resp *Response)        { r.headers <- resp }
func (r *recorder) StartError(err error)                  { r.errs <- err }
func (r *recorder) Redirect(info *RedirectInfo)           { r.redirects <- info }
func (r *recorder) AuthRequired(challenge *AuthChallenge) { r.auth <- challenge }
func (r *recorder) ReadCompleted(n int, err error)        { r.reads <- readResult{n, err} }

func (r *recorder) waitHeaders(t *testing.T) *Response {
	t.Helper()
	select {
	case resp := <-r.headers:
		return resp
	case err := <-r.errs:
		t.Fatalf("unexpected start error: %v", err)
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for headers")
	}
	return nil
}

func (r *recorder) waitError(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errs:
		return err
	case resp := <-r.headers:
		t.Fatalf("unexpected headers: %d", resp.StatusCode)
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for error")
	}
	return nil
}

func newTestEnv(t *testing.T) *Env {
	t.Helper()
	io := executor.New("io", nil)
	t.Cleanup(io.Shutdown)

	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &Env{
		IO:        io,
		Logger:    zap.NewNop(),
		Transport: transport,
		UserAgent: "netcore-test",
		Fetcher:   NewFetcher(transport, "netcore-test", nil),
	}
}

func newRequest(t *testing.T, method, rawURL string) *RequestInfo {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return &RequestInfo{ID: "req_test", Method: method, URL: u, Header: http.Header{}}
}

func startJob(env *Env, j Job) *recorder {
	rec := newRecorder()
	env.IO.PostTask(func() { j.Start(rec) })
	return rec
}

// readBody drains j on the IO sequence using a deliberately small buffer
func readBody(t *testing.T, env *Env, j Job, rec *recorder) ([]byte, error) {
	t.Helper()
	buf := make([]byte, 7)
	var out []byte

	for i := 0; i < 100000; i++ {
		var n int
		var err error
		env.IO.Invoke(func() {
			n, err = j.Read(buf)
		})

		if errors.Is(err, neterr.ErrIOPending) {
			select {
			case res := <-rec.reads:
				n, err = res.n, res.err
			case <-time.After(waitTimeout):
				t.Fatal("timed out waiting for read")
			}
		}

		if err != nil {
			return out, err
		}
		if n == 0 {
			return out, nil
		}
		out = append(out, buf[:n]...)
	}
	t.Fatal("body did not terminate")
	return nil, nil
}
