package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/job"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/request"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/throttle"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/upload"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/urlrequest"
)

// MaxBufferedBody caps request bodies of known length
const MaxBufferedBody = 32 << 20

var clientIDHeader = http.CanonicalHeaderKey(throttle.ClientIDHeader)

// hopHeaders are never forwarded in either direction
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Host":                true,
	"Content-Length":      true,
	"Origin":              true,
}

type fetchHead struct {
	resp     *job.Response
	redirect *job.RedirectInfo
	finalURL string
	err      error
}

type fetchRead struct {
	data []byte
	err  error
}

// fetcher is the engine delegate behind one /fetch call. Fields below req
// are IO-confined; the handler goroutine only receives on the channels.
type fetcher struct {
	mode  request.RedirectMode
	head  chan fetchHead
	reads chan fetchRead

	req    *urlrequest.Request
	buf    []byte
	headed bool
	closed bool
}

func newFetcher(mode request.RedirectMode) *fetcher {
	return &fetcher{
		mode:  mode,
		head:  make(chan fetchHead, 1),
		reads: make(chan fetchRead, 1),
		buf:   make([]byte, request.ReadBufferSize),
	}
}

func (f *fetcher) sendHead(h fetchHead) {
	if f.headed {
		return
	}
	f.headed = true
	f.head <- h
}

// sendRead delivers at most one terminal result
func (f *fetcher) sendRead(r fetchRead) {
	if f.closed {
		return
	}
	if r.err != nil || len(r.data) == 0 {
		f.closed = true
	}
	select {
	case f.reads <- r:
	default:
	}
}

// read posts one body read. IO only.
func (f *fetcher) read() {
	if f.closed {
		return
	}
	n, err := f.req.Read(f.buf)
	if errors.Is(err, neterr.ErrIOPending) {
		return
	}
	f.sendRead(f.result(n, err))
}

func (f *fetcher) result(n int, err error) fetchRead {
	if err != nil || n == 0 {
		return fetchRead{err: err}
	}
	return fetchRead{data: append([]byte(nil), f.buf[:n]...)}
}

func (f *fetcher) cancel() {
	f.closed = true
	if f.req != nil {
		f.req.Cancel()
	}
	if !f.headed {
		f.sendHead(fetchHead{err: neterr.New(neterr.Aborted)})
	}
}

func (f *fetcher) OnReceivedRedirect(r *urlrequest.Request, info *job.RedirectInfo) bool {
	switch f.mode {
	case request.RedirectError:
		r.Cancel()
		f.sendHead(fetchHead{err: request.ErrRedirectMode})
		return true
	case request.RedirectManual:
		redirect := *info
		redirect.Header = info.Header.Clone()
		f.sendHead(fetchHead{redirect: &redirect, finalURL: r.URL().String()})
		return true
	}
	return false
}

// OnAuthRequired declines; the challenge response is returned to the caller
func (f *fetcher) OnAuthRequired(r *urlrequest.Request, _ *job.AuthChallenge) {
	r.CancelAuth()
}

func (f *fetcher) OnResponseStarted(r *urlrequest.Request, err error) {
	if err != nil {
		f.sendHead(fetchHead{err: err})
		return
	}
	resp := *r.Response()
	resp.Header = resp.Header.Clone()
	f.sendHead(fetchHead{resp: &resp, finalURL: r.URL().String()})
}

func (f *fetcher) OnReadCompleted(_ *urlrequest.Request, n int, err error) {
	f.sendRead(f.result(n, err))
}

// Fetch originates a request through the pipeline and streams the response.
// Scripted and mounted schemes are served like any other.
func (h *Handlers) Fetch(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid url: %q", rawURL)})
		return
	}
	mode, err := request.ParseRedirectMode(c.Query("redirect"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	body, chunked, err := h.uploadFor(c.Request)
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}

	f := newFetcher(mode)
	seq := h.ctx.IO()
	started := seq.Invoke(func() {
		f.req = h.ctx.NewRequest(c.Request.Method, u, f)
		copyRequestHeaders(f.req.Header(), c.Request.Header)
		tracing.InjectTraceContext(c.Request.Context(), f.req.Header())
		f.req.SetResourceType("fetch")
		if body != nil {
			f.req.SetUpload(body)
		}
		f.req.Start()
	})
	if !started {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "networking context is shut down"})
		return
	}
	if chunked != nil {
		go pumpChunks(c.Request.Body, chunked, h.logger)
	}

	gone := c.Request.Context().Done()
	cancel := func() { seq.PostTask(f.cancel) }

	var head fetchHead
	select {
	case head = <-f.head:
	case <-gone:
		cancel()
		return
	}

	switch {
	case head.err != nil:
		h.logger.Debug("Fetch failed", zap.String("url", u.Redacted()), zap.Error(head.err))
		c.JSON(http.StatusBadGateway, gin.H{
			"error": head.err.Error(),
			"code":  neterr.CodeOf(head.err).String(),
		})
		return
	case head.redirect != nil:
		cancel()
		copyResponseHeaders(c.Writer.Header(), head.redirect.Header)
		c.Header("Location", head.redirect.NewURL.String())
		c.Header("X-Upstream-Status", strconv.Itoa(head.redirect.StatusCode))
		c.Header("X-Upstream-Url", head.finalURL)
		c.Status(head.redirect.StatusCode)
		return
	}

	resp := head.resp
	copyResponseHeaders(c.Writer.Header(), resp.Header)
	c.Header("X-Upstream-Status", strconv.Itoa(resp.StatusCode))
	c.Header("X-Upstream-Url", head.finalURL)
	if resp.MimeType != "" && c.Writer.Header().Get("Content-Type") == "" {
		ct := resp.MimeType
		if resp.Charset != "" {
			ct += "; charset=" + resp.Charset
		}
		c.Header("Content-Type", ct)
	}
	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()

	for {
		seq.PostTask(f.read)
		var chunk fetchRead
		select {
		case chunk = <-f.reads:
		case <-gone:
			cancel()
			return
		}
		if chunk.err != nil {
			h.logger.Warn("Fetch body failed", zap.String("url", u.Redacted()), zap.Error(chunk.err))
			return
		}
		if len(chunk.data) == 0 {
			return
		}
		if _, err := c.Writer.Write(chunk.data); err != nil {
			cancel()
			return
		}
		c.Writer.Flush()
	}
}

// uploadFor turns the inbound body into an upload stream. A body of known
// length is buffered; an unknown length is forwarded chunk by chunk.
func (h *Handlers) uploadFor(r *http.Request) (upload.Stream, *upload.ChunkedStream, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil, nil
	}
	switch {
	case r.ContentLength > MaxBufferedBody:
		return nil, nil, fmt.Errorf("body exceeds %d bytes", MaxBufferedBody)
	case r.ContentLength > 0:
		data, err := io.ReadAll(io.LimitReader(r.Body, MaxBufferedBody))
		if err != nil {
			return nil, nil, fmt.Errorf("read body: %w", err)
		}
		return upload.NewElementsStream([][]byte{data}), nil, nil
	case r.ContentLength < 0:
		s := upload.NewChunkedStream()
		return s, s, nil
	}
	return nil, nil, nil
}

func pumpChunks(body io.Reader, s *upload.ChunkedStream, logger *zap.Logger) {
	buf := make([]byte, request.ReadBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if aerr := s.AppendChunk(append([]byte(nil), buf[:n]...), false); aerr != nil {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			s.AppendChunk(nil, true)
			return
		}
		if err != nil {
			logger.Debug("Inbound body ended early", zap.Error(err))
			s.Close()
			return
		}
	}
}

func copyRequestHeaders(dst, src http.Header) {
	for k, vv := range src {
		// the engine negotiates encodings it can decode
		if hopHeaders[k] || k == clientIDHeader || k == "Accept-Encoding" {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func copyResponseHeaders(dst, src http.Header) {
	for k, vv := range src {
		// bodies arrive decoded
		if hopHeaders[k] || k == "Content-Encoding" {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
