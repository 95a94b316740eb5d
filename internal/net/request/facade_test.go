package request

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/job"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
)

func count(names []string, name string) int {
	n := 0
	for _, got := range names {
		if got == name {
			n++
		}
	}
	return n
}

func indexOf(names []string, name string) int {
	for i, got := range names {
		if got == name {
			return i
		}
	}
	return -1
}

func TestFacadeGet(t *testing.T) {
	srv := newTestServer(t)
	ctx := newTestContext(t)
	tracker := NewTracker()
	rec := newRecorder()

	f := open(t, ctx, tracker, rec, Options{URL: srv.URL + "/hello"})
	onUI(ctx, func() {
		assert.True(t, f.NotStarted())
		assert.Equal(t, -1, f.StatusCode())
		require.True(t, f.Write(nil, true))
		assert.True(t, f.Finished())
		assert.True(t, f.Pinned())
	})
	rec.wait(t)

	names := rec.names()
	require.GreaterOrEqual(t, len(names), 6)
	assert.Equal(t, []string{"request:finish", "request:response"}, names[:2])
	assert.Equal(t, []string{"response:end", "response:close", "request:close"}, names[len(names)-3:])
	assert.Less(t, indexOf(names, "request:response"), indexOf(names, "response:data"))
	assert.Equal(t, "hello world", rec.body())

	onUI(ctx, func() {
		assert.Equal(t, http.StatusOK, f.StatusCode())
		assert.Equal(t, "OK", f.StatusMessage())
		major, minor := f.HTTPVersion()
		assert.Equal(t, 1, major)
		assert.Equal(t, 1, minor)
		assert.Equal(t, "server", f.ResponseHeaders().Get("X-Origin"))
		assert.False(t, f.Pinned())
		assert.False(t, f.Write([]byte("late"), true))
	})
	assert.Zero(t, tracker.Len())
}

func TestFacadeLargeBodyArrivesInChunks(t *testing.T) {
	srv := newTestServer(t)
	ctx := newTestContext(t)
	rec := newRecorder()

	f := open(t, ctx, NewTracker(), rec, Options{URL: srv.URL + "/large"})
	onUI(ctx, func() { f.Write(nil, true) })
	rec.wait(t)

	assert.Equal(t, strings.Repeat("0123456789", 10000), rec.body())
	assert.Greater(t, count(rec.names(), "response:data"), 1)
	assert.Equal(t, 1, count(rec.names(), "response:end"))
}

func TestFacadeEmptyFinalWriteSendsNoBody(t *testing.T) {
	srv := newTestServer(t)
	ctx := newTestContext(t)
	rec := newRecorder()

	f := open(t, ctx, NewTracker(), rec, Options{Method: http.MethodPost, URL: srv.URL + "/echo"})
	onUI(ctx, func() { f.Write(nil, true) })
	rec.wait(t)

	got := <-srv.uploads
	assert.Equal(t, http.MethodPost, got.method)
	assert.Zero(t, got.contentLength)
	assert.Empty(t, got.body)
	assert.Contains(t, rec.names(), "response:end")
}

func TestFacadeBufferedUpload(t *testing.T) {
	srv := newTestServer(t)
	ctx := newTestContext(t)
	rec := newRecorder()

	f := open(t, ctx, NewTracker(), rec, Options{Method: http.MethodPut, URL: srv.URL + "/echo"})
	onUI(ctx, func() {
		assert.True(t, f.Write([]byte("ab"), false))
		assert.True(t, f.Write([]byte("cd"), false))
		assert.True(t, f.Write(nil, true))
	})
	rec.wait(t)

	got := <-srv.uploads
	assert.Equal(t, int64(4), got.contentLength)
	assert.False(t, got.chunked)
	assert.Equal(t, "abcd", got.body)
	assert.Equal(t, "abcd", rec.body())
}

func TestFacadeChunkedUpload(t *testing.T) {
	srv := newTestServer(t)
	ctx := newTestContext(t)
	rec := newRecorder()

	f := open(t, ctx, NewTracker(), rec, Options{Method: http.MethodPost, URL: srv.URL + "/echo"})
	onUI(ctx, func() {
		require.NoError(t, f.SetChunkedUpload(true))
		buf := []byte("a")
		f.Write(buf, false)
		buf[0] = 'X'
		f.Write([]byte("bb"), false)
		f.Write([]byte("ccc"), false)
		f.Write([]byte("dddd"), true)
	})
	rec.wait(t)

	got := <-srv.uploads
	assert.True(t, got.chunked)
	assert.Equal(t, int64(-1), got.contentLength)
	assert.Equal(t, "abbcccdddd", got.body)
}

func TestFacadeHeaders(t *testing.T) {
	srv := newTestServer(t)
	ctx := newTestContext(t)
	rec := newRecorder()

	f := open(t, ctx, NewTracker(), rec, Options{Method: http.MethodPost, URL: srv.URL + "/echo"})
	onUI(ctx, func() {
		require.NoError(t, f.SetExtraHeader("X-Test", "yes"))
		require.NoError(t, f.SetExtraHeader("X-Gone", "soon"))
		require.NoError(t, f.RemoveExtraHeader("X-Gone"))
		assert.ErrorIs(t, f.SetExtraHeader("bad name", "x"), ErrInvalidHeader)
		assert.ErrorIs(t, f.SetExtraHeader("X-Bad", "line\nbreak"), ErrInvalidHeader)

		f.Write(nil, true)
		assert.ErrorIs(t, f.SetExtraHeader("X-Late", "1"), ErrHeadersSent)
		assert.ErrorIs(t, f.RemoveExtraHeader("X-Test"), ErrHeadersSent)
		assert.ErrorIs(t, f.SetChunkedUpload(true), ErrHeadersSent)
	})
	rec.wait(t)

	got := <-srv.uploads
	assert.Equal(t, "yes", got.header.Get("X-Test"))
	assert.Empty(t, got.header.Get("X-Gone"))
	assert.Empty(t, got.header.Get("X-Late"))
}

func TestFacadeOptionHeaders(t *testing.T) {
	srv := newTestServer(t)
	ctx := newTestContext(t)
	rec := newRecorder()

	f := open(t, ctx, NewTracker(), rec, Options{
		Method: http.MethodPost,
		URL:    srv.URL + "/echo",
		Headers: http.Header{
			"X-Test":   {"from-options"},
			"X-Values": {"a", "b"},
		},
	})
	onUI(ctx, func() {
		value, ok := f.Header("x-test")
		assert.True(t, ok)
		assert.Equal(t, "from-options", value)

		require.NoError(t, f.SetExtraHeader("X-Late", "set"))
		require.NoError(t, f.RemoveExtraHeader("X-Late"))
		_, ok = f.Header("X-Late")
		assert.False(t, ok)

		f.Write([]byte("b"), true)
	})
	rec.wait(t)

	got := <-srv.uploads
	assert.Equal(t, "from-options", got.header.Get("X-Test"))
	assert.Equal(t, "a, b", got.header.Get("X-Values"))
	assert.Empty(t, got.header.Get("X-Late"))
}

func TestFacadeRejectsInvalidOptionHeaders(t *testing.T) {
	ctx := newTestContext(t)
	tracker := NewTracker()

	for _, header := range []http.Header{
		{"bad name": {"x"}},
		{"X-Test": {"line\nbreak"}},
	} {
		var err error
		onUI(ctx, func() {
			_, err = NewFacade(ctx, tracker, newRecorder(), Options{URL: "http://example.com/", Headers: header})
		})
		assert.ErrorIs(t, err, ErrInvalidHeader)
	}
	assert.Empty(t, tracker.List())
}

func TestComposeURL(t *testing.T) {
	tests := []struct {
		name    string
		parts   URLParts
		want    string
		wantErr error
	}{
		{name: "defaults", want: "http://localhost/"},
		{name: "hostname and port", parts: URLParts{Hostname: "example.com", Port: "8080", Path: "/a?b=1#c"}, want: "http://example.com:8080/a?b=1#c"},
		{name: "host wins", parts: URLParts{Protocol: "https:", Host: "example.com:9", Hostname: "ignored", Port: "1"}, want: "https://example.com:9/"},
		{name: "escaped path kept", parts: URLParts{Hostname: "x", Path: "/a%20b"}, want: "http://x/a%20b"},
		{name: "ipv6", parts: URLParts{Hostname: "::1", Port: "80"}, want: "http://[::1]:80/"},
		{name: "unsupported protocol", parts: URLParts{Protocol: "ftp:"}, wantErr: ErrUnsupportedProtocol},
		{name: "unescaped path", parts: URLParts{Path: "/a b"}, wantErr: ErrUnescapedPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComposeURL(tt.parts)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFacadeCancelIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	ctx := newTestContext(t)
	tracker := NewTracker()
	rec := newRecorder()
	gotData := make(chan struct{}, 1)
	rec.on = func(ev event) {
		if ev.name == EventData {
			select {
			case gotData <- struct{}{}:
			default:
			}
		}
	}

	f := open(t, ctx, tracker, rec, Options{URL: srv.URL + "/stream"})
	onUI(ctx, func() { f.Write(nil, true) })

	select {
	case <-gotData:
	case <-time.After(waitTimeout):
		t.Fatal("no data")
	}
	assert.Equal(t, 1, tracker.Len())
	assert.Contains(t, tracker.List()[0].URL, "/stream")

	onUI(ctx, func() {
		f.Cancel()
		f.Cancel()
		assert.False(t, f.Write([]byte("more"), true))
	})
	rec.wait(t)

	// Late engine callbacks must not surface
	ctx.IO().Flush()
	ctx.UI().Flush()

	names := rec.names()
	assert.Equal(t, 1, count(names, "request:abort"))
	assert.Equal(t, 1, count(names, "request:close"))
	assert.Equal(t, []string{"request:abort", "response:aborted", "response:close", "request:close"}, names[len(names)-4:])
	assert.Zero(t, count(names, "response:end"))
	assert.Zero(t, tracker.Len())
}

func TestFacadeCancelBeforeStart(t *testing.T) {
	ctx := newTestContext(t)
	rec := newRecorder()

	f := open(t, ctx, NewTracker(), rec, Options{URL: "http://127.0.0.1:1/never"})
	onUI(ctx, func() {
		f.Cancel()
		assert.False(t, f.Write(nil, true))
		assert.False(t, f.Pinned())
	})

	assert.Equal(t, []string{"request:abort", "request:close"}, rec.names())
	ctx.IO().Invoke(func() { assert.Zero(t, ctx.LiveRequests()) })
}

func TestFacadeRedirectModes(t *testing.T) {
	srv := newTestServer(t)

	t.Run("follow", func(t *testing.T) {
		ctx := newTestContext(t)
		rec := newRecorder()
		f := open(t, ctx, NewTracker(), rec, Options{URL: srv.URL + "/redirect"})
		onUI(ctx, func() { f.Write(nil, true) })
		rec.wait(t)

		ev, ok := rec.find("request", EventRedirect)
		require.True(t, ok)
		assert.Equal(t, http.StatusFound, ev.args[0])
		assert.Equal(t, http.MethodGet, ev.args[1])
		assert.Equal(t, srv.URL+"/hello", ev.args[2])
		assert.Equal(t, "hello world", rec.body())
	})

	t.Run("error", func(t *testing.T) {
		ctx := newTestContext(t)
		rec := newRecorder()
		f := open(t, ctx, NewTracker(), rec, Options{URL: srv.URL + "/redirect", Redirect: RedirectError})
		onUI(ctx, func() { f.Write(nil, true) })
		rec.wait(t)

		assert.Equal(t, []string{"request:finish", "request:error", "request:close"}, rec.names())
		ev, _ := rec.find("request", EventError)
		assert.ErrorIs(t, ev.args[0].(error), ErrRedirectMode)
	})

	t.Run("manual without follow", func(t *testing.T) {
		ctx := newTestContext(t)
		rec := newRecorder()
		f := open(t, ctx, NewTracker(), rec, Options{URL: srv.URL + "/redirect", Redirect: RedirectManual})
		onUI(ctx, func() { f.Write(nil, true) })
		rec.wait(t)

		assert.Equal(t, []string{"request:finish", "request:redirect", "request:abort", "request:close"}, rec.names())
	})

	t.Run("manual with follow", func(t *testing.T) {
		ctx := newTestContext(t)
		rec := newRecorder()
		f := open(t, ctx, NewTracker(), rec, Options{URL: srv.URL + "/redirect", Redirect: RedirectManual})
		rec.on = func(ev event) {
			if ev.name == EventRedirect {
				f.FollowRedirect()
			}
		}
		onUI(ctx, func() { f.Write(nil, true) })
		rec.wait(t)

		assert.Equal(t, "hello world", rec.body())
		assert.Zero(t, count(rec.names(), "request:abort"))
	})
}

func TestFacadeLogin(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name     string
		username string
		password string
		status   int
		body     string
	}{
		{name: "credentials", username: "user", password: "secret", status: http.StatusOK, body: "welcome"},
		{name: "declined", status: http.StatusUnauthorized, body: "denied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := newTestContext(t)
			rec := newRecorder()
			var challenge job.AuthChallenge
			rec.on = func(ev event) {
				if ev.name == EventLogin {
					challenge = ev.args[0].(job.AuthChallenge)
					answer := ev.args[1].(LoginCallback)
					answer(tt.username, tt.password)
					answer("ignored", "twice")
				}
			}

			f := open(t, ctx, NewTracker(), rec, Options{URL: srv.URL + "/auth"})
			onUI(ctx, func() { f.Write(nil, true) })
			rec.wait(t)

			assert.Equal(t, 1, count(rec.names(), "request:login"))
			assert.Equal(t, "test", challenge.Realm)
			assert.Equal(t, tt.body, rec.body())
			onUI(ctx, func() { assert.Equal(t, tt.status, f.StatusCode()) })
		})
	}
}

func TestFacadeTransportError(t *testing.T) {
	srv := newTestServer(t)
	target := srv.URL + "/hello"
	srv.Close()

	ctx := newTestContext(t)
	rec := newRecorder()
	f := open(t, ctx, NewTracker(), rec, Options{URL: target})
	onUI(ctx, func() { f.Write(nil, true) })
	rec.wait(t)

	assert.Equal(t, []string{"request:finish", "request:error", "request:close"}, rec.names())
	ev, _ := rec.find("request", EventError)
	assert.Equal(t, neterr.ConnectionRefused, neterr.CodeOf(ev.args[0].(error)))
}

func TestFacadeAfterShutdown(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Shutdown()

	rec := newRecorder()
	f := open(t, ctx, NewTracker(), rec, Options{URL: "http://127.0.0.1:1/"})
	rec.wait(t)

	assert.Equal(t, []string{"request:error", "request:close"}, rec.names())
	ev, _ := rec.find("request", EventError)
	err := ev.args[0].(error)
	assert.Equal(t, neterr.Aborted, neterr.CodeOf(err))
	assert.EqualError(t, err, "cannot start a request after shutdown")
	onUI(ctx, func() { assert.False(t, f.Write(nil, true)) })
}

func TestCreateValidation(t *testing.T) {
	ctx := newTestContext(t)

	_, err := Create(ctx, http.MethodGet, "", RedirectFollow, &Facade{})
	assert.ErrorIs(t, err, ErrEmptyURL)

	_, err = Create(ctx, http.MethodGet, "http://example.com", RedirectFollow, nil)
	assert.ErrorIs(t, err, ErrNilDelegate)

	_, err = Create(ctx, http.MethodGet, "http://[::1", RedirectFollow, &Facade{})
	assert.Error(t, err)
}

func TestParseRedirectMode(t *testing.T) {
	tests := []struct {
		in      string
		want    RedirectMode
		wantErr bool
	}{
		{in: "", want: RedirectFollow},
		{in: "follow", want: RedirectFollow},
		{in: "error", want: RedirectError},
		{in: "manual", want: RedirectManual},
		{in: "Manual", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRedirectMode(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownMode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, s string) RedirectMode {
	t.Helper()
	m, err := ParseRedirectMode(s)
	require.NoError(t, err)
	return m
}
