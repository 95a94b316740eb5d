package protocol

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/urlrequest"
)

func register(t *testing.T, reg *Registry, scheme string, h Handler) {
	t.Helper()
	onUI(reg, func() { require.NoError(t, reg.RegisterProtocol(scheme, h, nil)) })
	settle(reg)
}

func TestAdapterStringResult(t *testing.T) {
	reg, ctx := newTestRegistry(t, Hooks{})
	register(t, reg, "app", textHandler("hello"))

	res := fetch(t, ctx, "app://host/page")
	require.NoError(t, res.err)
	assert.Equal(t, "hello", string(res.body))
	assert.Equal(t, "text/plain", res.response.MimeType)
	assert.Equal(t, "UTF-8", res.response.Charset)
	assert.Equal(t, http.StatusOK, res.response.StatusCode)
}

func TestAdapterSeesRequestView(t *testing.T) {
	reg, ctx := newTestRegistry(t, Hooks{})
	views := make(chan RequestView, 1)
	register(t, reg, "app", func(req RequestView, respond func(Result)) {
		views <- req
		respond(Text(req.Method + " " + req.URL))
	})

	c, _ := startFetch(t, ctx, "app://host/a?b=c", func(r *urlrequest.Request) {
		r.SetReferrer("app://host/")
		r.Header().Set("X-Test", "yes")
	})
	res := c.wait(t)
	require.NoError(t, res.err)
	assert.Equal(t, "GET app://host/a?b=c", string(res.body))

	view := <-views
	assert.Equal(t, "app://host/", view.Referrer)
	assert.Equal(t, "yes", view.Header.Get("X-Test"))
	assert.NotEmpty(t, view.ID)
}

func TestAdapterErrorResult(t *testing.T) {
	reg, ctx := newTestRegistry(t, Hooks{})
	register(t, reg, "app", func(_ RequestView, respond func(Result)) {
		respond(Error(neterr.FileNotFound))
	})

	res := fetch(t, ctx, "app://host/missing")
	require.Error(t, res.err)
	assert.Equal(t, neterr.FileNotFound, neterr.CodeOf(res.err))
}

func TestAdapterNoResultWithoutFallback(t *testing.T) {
	var outcomes []string
	reg, ctx := newTestRegistry(t, Hooks{Dispatched: func(o string) { outcomes = append(outcomes, o) }})
	register(t, reg, "app", func(_ RequestView, respond func(Result)) {
		respond(NoResult())
	})

	res := fetch(t, ctx, "app://host/")
	assert.Equal(t, neterr.NotImplemented, neterr.CodeOf(res.err))
	ctx.IO().Invoke(func() {
		assert.Equal(t, []string{"error"}, outcomes)
	})
}

func TestAdapterBufferIsDetached(t *testing.T) {
	reg, ctx := newTestRegistry(t, Hooks{})
	register(t, reg, "app", func(_ RequestView, respond func(Result)) {
		data := []byte("abcdefgh")
		respond(Buffer("application/octet-stream", "", data))
		copy(data, "XXXXXXXX")
	})

	res := fetch(t, ctx, "app://host/")
	require.NoError(t, res.err)
	assert.Equal(t, "abcdefgh", string(res.body))
	assert.Equal(t, "application/octet-stream", res.response.MimeType)
}

func TestAdapterFileResult(t *testing.T) {
	reg, ctx := newTestRegistry(t, Hooks{})
	path := writeFile(t, t.TempDir(), "data.json", `{"ok":true}`)
	register(t, reg, "app", func(_ RequestView, respond func(Result)) {
		respond(File(path))
	})

	res := fetch(t, ctx, "app://host/data.json")
	require.NoError(t, res.err)
	assert.Equal(t, `{"ok":true}`, string(res.body))
	assert.Equal(t, "application/json", res.response.MimeType)
}

func TestAdapterHTTPResult(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("upstream " + r.Method + " " + r.Header.Get("Referer")))
	}))
	defer upstream.Close()

	reg, ctx := newTestRegistry(t, Hooks{})
	register(t, reg, "app", func(_ RequestView, respond func(Result)) {
		respond(HTTP(upstream.URL+"/x", "", "app://ref/"))
	})

	res := fetch(t, ctx, "app://host/")
	require.NoError(t, res.err)
	assert.Equal(t, "upstream GET app://ref/", string(res.body))
}

func TestAdapterAsyncRespondOnce(t *testing.T) {
	reg, ctx := newTestRegistry(t, Hooks{})
	register(t, reg, "app", func(_ RequestView, respond func(Result)) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			respond(Text("first"))
			respond(Text("second"))
		}()
	})

	res := fetch(t, ctx, "app://host/")
	require.NoError(t, res.err)
	assert.Equal(t, "first", string(res.body))
}

func TestAdapterCancelWhileAwaitingHandler(t *testing.T) {
	var dispatched atomic.Int32
	reg, ctx := newTestRegistry(t, Hooks{Dispatched: func(string) { dispatched.Add(1) }})

	responders := make(chan func(Result), 1)
	register(t, reg, "app", func(_ RequestView, respond func(Result)) {
		responders <- respond
	})

	c, req := startFetch(t, ctx, "app://host/", nil)
	respond := <-responders
	ctx.IO().Invoke(req.Cancel)

	respond(Text("late"))
	settle(reg)
	ctx.IO().Flush()

	assert.Zero(t, dispatched.Load())
	select {
	case <-c.done:
		t.Fatal("cancelled request reported to its consumer")
	default:
	}
	ctx.IO().Invoke(func() {
		assert.Equal(t, urlrequest.StatusCanceled, req.Status())
	})
}

func TestInterceptFallsBackToOriginal(t *testing.T) {
	var outcomes []string
	reg, ctx := newTestRegistry(t, Hooks{Dispatched: func(o string) { outcomes = append(outcomes, o) }})

	onUI(reg, func() {
		require.NoError(t, reg.InterceptProtocol("data", func(req RequestView, respond func(Result)) {
			if req.URL == "data:,mine" {
				respond(Text("intercepted"))
				return
			}
			respond(NoResult())
		}, nil))
	})
	settle(reg)

	assert.Equal(t, "intercepted", string(fetch(t, ctx, "data:,mine").body))
	assert.Equal(t, "theirs", string(fetch(t, ctx, "data:,theirs").body))
	ctx.IO().Invoke(func() {
		assert.Equal(t, []string{"string", OutcomeDelegated}, outcomes)
	})
}

func TestInternalRequestsBypassHandler(t *testing.T) {
	var calls atomic.Int32
	reg, ctx := newTestRegistry(t, Hooks{})
	handler := func(_ RequestView, respond func(Result)) {
		calls.Add(1)
		respond(Text("handled"))
	}

	onUI(reg, func() {
		require.NoError(t, reg.InterceptProtocol("data", handler, nil))
		require.NoError(t, reg.RegisterProtocol("app", handler, nil))
	})
	settle(reg)

	internal := func(r *urlrequest.Request) { r.SetInternal(true) }

	c, _ := startFetch(t, ctx, "data:,raw", internal)
	res := c.wait(t)
	require.NoError(t, res.err)
	assert.Equal(t, "raw", string(res.body))

	c, _ = startFetch(t, ctx, "app://host/", internal)
	res = c.wait(t)
	assert.Equal(t, neterr.UnknownURLScheme, neterr.CodeOf(res.err))

	assert.Zero(t, calls.Load())
}

func TestHandlerSeesRegistrationRemoved(t *testing.T) {
	reg, ctx := newTestRegistry(t, Hooks{})
	register(t, reg, "app", textHandler("hello"))

	onUI(reg, func() { require.NoError(t, reg.UnregisterProtocol("app", nil)) })
	settle(reg)

	res := fetch(t, ctx, "app://host/")
	assert.Equal(t, neterr.UnknownURLScheme, neterr.CodeOf(res.err))
}

func TestResultConstructors(t *testing.T) {
	text := Text("hi")
	assert.Equal(t, ResultString, text.Kind)
	assert.Equal(t, "text/plain", text.MimeType)
	assert.Equal(t, "UTF-8", text.Charset)

	src := []byte("abc")
	buf := Buffer("", "", src)
	src[0] = 'X'
	assert.Equal(t, "abc", string(buf.Data))

	assert.Equal(t, ResultNone, NoResult().Kind)
	assert.Equal(t, neterr.Aborted, Error(neterr.Aborted).Error)
	assert.Equal(t, "buffer", ResultBuffer.String())
}
