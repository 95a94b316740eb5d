package job

import (
	"context"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/upload"
)

// acceptEncoding lists codings NetworkJob decodes itself
const acceptEncoding = "gzip, deflate, zstd"

// NetworkJob performs an HTTP(S) transaction
type NetworkJob struct {
	base
	authTried   bool
	authPending *http.Response
}

// NewNetworkJob creates a network job
func NewNetworkJob(env *Env, req *RequestInfo) *NetworkJob {
	return &NetworkJob{base: newBase(env, req, "network")}
}

func (j *NetworkJob) Start(d Delegate) {
	j.delegate = d
	j.begin()
}

func (j *NetworkJob) begin() {
	httpReq, cancel, err := j.buildRequest()
	if err != nil {
		j.post(func() { j.fail(err) })
		return
	}
	j.cancel = cancel

	client := &http.Client{
		Transport: j.env.Transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	if j.env.Jar != nil && !j.req.Flags.Has(DoNotSendCookies) {
		client.Jar = j.env.Jar
	}

	var timedOut atomic.Bool
	var headerTimer *time.Timer
	if j.env.Timeout > 0 {
		headerTimer = time.AfterFunc(j.env.Timeout, func() {
			timedOut.Store(true)
			cancel()
		})
	}

	go func() {
		resp, err := client.Do(httpReq)
		if headerTimer != nil {
			headerTimer.Stop()
		}
		j.env.IO.PostTask(func() {
			if j.killed {
				if resp != nil {
					resp.Body.Close()
				}
				return
			}
			if err != nil && timedOut.Load() {
				err = neterr.Newf(neterr.TimedOut, "no response headers within %s", j.env.Timeout)
			}
			if err != nil {
				j.env.Logger.Debug("Network transaction failed",
					zap.String("request_id", j.req.ID),
					zap.String("url", j.req.URL.Redacted()),
					zap.Error(err),
				)
				j.fail(err)
				return
			}
			j.handleResponse(resp)
		})
	}()
}

func (j *NetworkJob) buildRequest() (*http.Request, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(context.Background())

	body, length, err := j.uploadBody()
	if err != nil {
		cancel()
		return nil, nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, j.req.Method, j.req.URL.String(), body)
	if err != nil {
		cancel()
		return nil, nil, neterr.Newf(neterr.InvalidURL, "%v", err)
	}
	httpReq.ContentLength = length

	for k, vs := range j.req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" && j.env.UserAgent != "" {
		httpReq.Header.Set("User-Agent", j.env.UserAgent)
	}
	if httpReq.Header.Get("Accept-Encoding") == "" {
		httpReq.Header.Set("Accept-Encoding", acceptEncoding)
	}
	if j.req.Referrer != "" {
		httpReq.Header.Set("Referer", j.req.Referrer)
	}
	if j.req.Username != "" || j.req.Password != "" {
		httpReq.SetBasicAuth(j.req.Username, j.req.Password)
	}
	return httpReq, cancel, nil
}

// uploadBody returns the request body, rebuilding element streams that a
// previous attempt already consumed
func (j *NetworkJob) uploadBody() (io.Reader, int64, error) {
	s := j.req.Upload
	if s == nil {
		return nil, 0, nil
	}
	if s.Position() > 0 {
		elements, ok := s.(*upload.ElementsStream)
		if !ok {
			return nil, 0, neterr.New(neterr.UploadStreamRewind)
		}
		s = upload.NewElementsStream(elements.Elements())
		j.req.Upload = s
	}
	return s, s.Size(), nil
}

func (j *NetworkJob) handleResponse(resp *http.Response) {
	if info := redirectFor(j.req, resp); info != nil {
		resp.Body.Close()
		j.delegate.Redirect(info)
		return
	}

	if challenge := challengeFor(resp); challenge != nil && !j.authTried {
		j.authPending = resp
		j.delegate.AuthRequired(challenge)
		return
	}

	body, err := decodeBody(resp)
	if err != nil {
		resp.Body.Close()
		j.fail(err)
		return
	}
	j.respond(responseFrom(resp), body)
}

// SetAuth retries the transaction with credentials
func (j *NetworkJob) SetAuth(username, password string) {
	if j.authPending == nil || j.killed {
		return
	}
	j.authPending.Body.Close()
	j.authPending = nil
	j.authTried = true
	j.req.Username = username
	j.req.Password = password
	j.begin()
}

// CancelAuth delivers the challenge response as the final response
func (j *NetworkJob) CancelAuth() {
	resp := j.authPending
	if resp == nil || j.killed {
		return
	}
	j.authPending = nil
	j.authTried = true
	j.post(func() { j.handleResponse(resp) })
}

func (j *NetworkJob) Kill() {
	if j.authPending != nil {
		j.authPending.Body.Close()
		j.authPending = nil
	}
	j.base.Kill()
}

func redirectFor(req *RequestInfo, resp *http.Response) *RedirectInfo {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
	default:
		return nil
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return nil
	}
	target, err := req.URL.Parse(location)
	if err != nil {
		return nil
	}

	method := req.Method
	switch resp.StatusCode {
	case http.StatusSeeOther:
		if method != http.MethodHead {
			method = http.MethodGet
		}
	case http.StatusMovedPermanently, http.StatusFound:
		if method == http.MethodPost {
			method = http.MethodGet
		}
	}

	return &RedirectInfo{
		StatusCode: resp.StatusCode,
		NewURL:     target,
		NewMethod:  method,
		Header:     resp.Header.Clone(),
	}
}

func challengeFor(resp *http.Response) *AuthChallenge {
	var header string
	isProxy := false
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		header = resp.Header.Get("WWW-Authenticate")
	case http.StatusProxyAuthRequired:
		header = resp.Header.Get("Proxy-Authenticate")
		isProxy = true
	default:
		return nil
	}
	if header == "" {
		return nil
	}

	scheme, params, _ := strings.Cut(header, " ")
	challenge := &AuthChallenge{
		IsProxy: isProxy,
		Scheme:  strings.ToLower(scheme),
		Host:    resp.Request.URL.Hostname(),
		Port:    portOf(resp.Request.URL),
	}
	for _, part := range strings.Split(params, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && strings.EqualFold(k, "realm") {
			challenge.Realm = strings.Trim(v, `"`)
		}
	}
	return challenge
}

func portOf(u *url.URL) int {
	if p := u.Port(); p != "" {
		n, _ := strconv.Atoi(p)
		return n
	}
	if u.Scheme == "https" {
		return 443
	}
	return 80
}

func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "", "identity":
		return resp.Body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, neterr.Newf(neterr.ContentDecodingFail, "gzip: %v", err)
		}
		return decodedBody{Reader: zr, closers: []io.Closer{zr, resp.Body}}, nil
	case "deflate":
		fr := flate.NewReader(resp.Body)
		return decodedBody{Reader: fr, closers: []io.Closer{fr, resp.Body}}, nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, neterr.Newf(neterr.ContentDecodingFail, "zstd: %v", err)
		}
		rc := zr.IOReadCloser()
		return decodedBody{Reader: rc, closers: []io.Closer{rc, resp.Body}}, nil
	default:
		return resp.Body, nil
	}
}

// decodedBody maps decoder failures to ContentDecodingFail
type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (d decodedBody) Read(p []byte) (int, error) {
	n, err := d.Reader.Read(p)
	if err == nil || err == io.EOF {
		return n, err
	}
	var ne *neterr.Error
	var netErr net.Error
	if errors.As(err, &ne) || errors.As(err, &netErr) {
		return n, err
	}
	return n, neterr.Newf(neterr.ContentDecodingFail, "%v", err)
}

func (d decodedBody) Close() error {
	for _, c := range d.closers {
		c.Close()
	}
	return nil
}

func responseFrom(resp *http.Response) *Response {
	mimeType, charset := "", ""
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, params, err := mime.ParseMediaType(ct); err == nil {
			mimeType = mt
			charset = params["charset"]
		}
	}
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return &Response{
		StatusCode:    resp.StatusCode,
		StatusText:    text,
		ProtoMajor:    resp.ProtoMajor,
		ProtoMinor:    resp.ProtoMinor,
		Header:        resp.Header.Clone(),
		MimeType:      mimeType,
		Charset:       charset,
		ContentLength: resp.ContentLength,
	}
}

type networkHandler struct {
	env *Env
}

// NewNetworkHandler returns the built-in http/https handler
func NewNetworkHandler(env *Env) ProtocolHandler {
	return &networkHandler{env: env}
}

func (h *networkHandler) MaybeCreateJob(req *RequestInfo) Job {
	return NewNetworkJob(h.env, req)
}
