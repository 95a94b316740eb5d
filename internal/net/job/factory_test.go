package job

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	name string
	safe bool
}

func (s *stubHandler) MaybeCreateJob(req *RequestInfo) Job {
	return nil
}

func (s *stubHandler) IsSafeRedirectTarget(*url.URL) bool {
	return s.safe
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestFactorySetProtocolHandler(t *testing.T) {
	f := NewFactory()
	a := &stubHandler{name: "a"}
	b := &stubHandler{name: "b"}

	assert.True(t, f.SetProtocolHandler("app", a))
	assert.False(t, f.SetProtocolHandler("app", b), "cannot install over an existing handler")
	assert.Same(t, a, f.GetProtocolHandler("app"))
	assert.True(t, f.IsHandledProtocol("app"))
	assert.True(t, f.IsHandledURL(mustURL(t, "app://x/y")))

	assert.True(t, f.SetProtocolHandler("app", nil))
	assert.False(t, f.SetProtocolHandler("app", nil))
	assert.False(t, f.HasProtocolHandler("app"))
	assert.Nil(t, f.GetProtocolHandler("app"))
}

func TestFactoryReplaceProtocol(t *testing.T) {
	f := NewFactory()
	orig := &stubHandler{name: "orig"}
	wrapper := &stubHandler{name: "wrapper"}

	assert.Nil(t, f.ReplaceProtocol("http", wrapper), "missing scheme is not replaced")
	assert.False(t, f.HasProtocolHandler("http"))

	f.SetProtocolHandler("http", orig)
	prev := f.ReplaceProtocol("http", wrapper)
	assert.Same(t, orig, prev)
	assert.Same(t, wrapper, f.GetProtocolHandler("http"))

	restored := f.ReplaceProtocol("http", prev)
	assert.Same(t, wrapper, restored)
	assert.Same(t, orig, f.GetProtocolHandler("http"))
}

func TestFactoryIsSafeRedirectTarget(t *testing.T) {
	env := &Env{}
	f := NewFactory()
	f.InstallBuiltins(env)
	f.SetProtocolHandler("strict", &stubHandler{safe: false})

	tests := []struct {
		target string
		want   bool
	}{
		{"https://example.com/", true},
		{"http://example.com/", true},
		{"about:blank", true},
		{"file:///etc/passwd", false},
		{"data:,x", false},
		{"strict://host/", false},
		{"unknown://host/", true},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			assert.Equal(t, tt.want, f.IsSafeRedirectTarget(mustURL(t, tt.target)))
		})
	}
	assert.False(t, f.IsSafeRedirectTarget(nil))
}

func TestFactoryStandardSchemes(t *testing.T) {
	f := NewFactory()
	f.InstallBuiltins(&Env{})
	f.SetProtocolHandler("app", &stubHandler{safe: true})
	f.SetProtocolHandler("strict", &stubHandler{safe: false})

	for _, s := range BuiltinSchemes() {
		assert.True(t, f.IsStandardScheme(s), s)
	}
	assert.False(t, f.IsStandardScheme("app"))
	assert.False(t, f.IsSafeRedirectTarget(mustURL(t, "app://host/")), "opaque custom scheme")

	f.MarkStandard("app", "strict", "later")
	assert.True(t, f.IsStandardScheme("app"))
	assert.True(t, f.IsSafeRedirectTarget(mustURL(t, "app://host/")))
	assert.False(t, f.IsSafeRedirectTarget(mustURL(t, "strict://host/")), "handler still decides")

	assert.True(t, f.IsStandardScheme("later"))
	assert.True(t, f.SetProtocolHandler("later", &stubHandler{safe: true}))
	assert.True(t, f.IsSafeRedirectTarget(mustURL(t, "later://host/")))
}

func TestFactoryMaybeCreateJob(t *testing.T) {
	env := &Env{}
	f := NewFactory()
	f.InstallBuiltins(env)

	assert.Equal(t, BuiltinSchemes(), f.Schemes())

	j := f.MaybeCreateJob(&RequestInfo{Method: "GET", URL: mustURL(t, "https://example.com/")})
	require.NotNil(t, j)
	assert.Equal(t, "network", j.Kind())

	j = f.MaybeCreateJob(&RequestInfo{Method: "GET", URL: mustURL(t, "data:,x")})
	require.NotNil(t, j)
	assert.Equal(t, "data", j.Kind())

	assert.Nil(t, f.MaybeCreateJob(&RequestInfo{Method: "GET", URL: mustURL(t, "nope://x")}))
	assert.Nil(t, f.MaybeCreateJob(nil))
}
