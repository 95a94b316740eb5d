package job

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/executor"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/upload"
)

// LoadFlags alter how a request is loaded
type LoadFlags uint32

const (
	// DoNotSendCookies suppresses cookie attach and save
	DoNotSendCookies LoadFlags = 1 << iota
	// BypassCache is accepted for parity with engine requests; there is no cache
	BypassCache
)

// Has reports whether all bits of f are set
func (l LoadFlags) Has(f LoadFlags) bool {
	return l&f == f
}

// RequestInfo is the engine request as seen by a job
type RequestInfo struct {
	ID       string
	Method   string
	URL      *url.URL
	Referrer string
	Header   http.Header
	Upload   upload.Stream
	Flags    LoadFlags
	// Internal marks requests originated by application code; interception
	// layers pass them straight to the original handler.
	Internal bool
	// Credentials supplied after an auth challenge
	Username string
	Password string
}

// Response carries response metadata. The body is read through Job.Read.
type Response struct {
	StatusCode    int
	StatusText    string
	ProtoMajor    int
	ProtoMinor    int
	Header        http.Header
	MimeType      string
	Charset       string
	ContentLength int64
}

// HTTPVersion formats the protocol version, e.g. "1.1"
func (r *Response) HTTPVersion() string {
	if r.ProtoMajor == 0 && r.ProtoMinor == 0 {
		return "1.1"
	}
	return strconv.Itoa(r.ProtoMajor) + "." + strconv.Itoa(r.ProtoMinor)
}

// RedirectInfo describes a redirect a job wants the request to follow
type RedirectInfo struct {
	StatusCode int
	NewURL     *url.URL
	NewMethod  string
	Header     http.Header
}

// AuthChallenge describes a server authentication request
type AuthChallenge struct {
	IsProxy bool
	Scheme  string
	Realm   string
	Host    string
	Port    int
}

// Delegate receives job progress. All methods run on the IO sequence.
type Delegate interface {
	HeadersComplete(resp *Response)
	StartError(err error)
	Redirect(info *RedirectInfo)
	AuthRequired(challenge *AuthChallenge)
	ReadCompleted(n int, err error)
}

// Job produces the response for one request
type Job interface {
	// Kind names the job type for logs and metrics
	Kind() string
	// Start begins the job; progress is reported asynchronously through d
	Start(d Delegate)
	// Read fills p with body bytes. (0, nil) is end of stream.
	// neterr.ErrIOPending means Delegate.ReadCompleted delivers the result.
	Read(p []byte) (int, error)
	// Kill stops the job; no delegate method is called afterwards
	Kill()
}

// Authenticator is implemented by jobs that can answer auth challenges
type Authenticator interface {
	SetAuth(username, password string)
	CancelAuth()
}

// ProtocolHandler creates jobs for one scheme
type ProtocolHandler interface {
	// MaybeCreateJob returns a job for req or nil to decline
	MaybeCreateJob(req *RequestInfo) Job
}

// RedirectChecker is implemented by handlers that restrict redirect targets
type RedirectChecker interface {
	IsSafeRedirectTarget(location *url.URL) bool
}

// Env is shared by all jobs of a networking context
type Env struct {
	IO        *executor.Sequence
	Logger    *zap.Logger
	Transport http.RoundTripper
	Jar       http.CookieJar
	UserAgent string
	Timeout   time.Duration
	Fetcher   *Fetcher
}
