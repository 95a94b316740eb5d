package job

import (
	"bytes"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
)

// StringJob serves an in-memory string
type StringJob struct {
	base
	mimeType string
	charset  string
	data     string
}

// NewStringJob creates a string job. Empty mime type and charset default to
// text/plain and UTF-8.
func NewStringJob(env *Env, req *RequestInfo, mimeType, charset, data string) *StringJob {
	if mimeType == "" {
		mimeType = "text/plain"
	}
	if charset == "" {
		charset = "UTF-8"
	}
	return &StringJob{
		base:     newBase(env, req, "string"),
		mimeType: mimeType,
		charset:  charset,
		data:     data,
	}
}

func (j *StringJob) Start(d Delegate) {
	j.delegate = d
	j.post(func() {
		j.respond(simpleResponse(j.mimeType, j.charset, int64(len(j.data))), strings.NewReader(j.data))
	})
}

// BufferJob serves a byte slice owned by the job
type BufferJob struct {
	base
	mimeType string
	charset  string
	data     []byte
}

// NewBufferJob creates a buffer job. data must not be modified afterwards.
func NewBufferJob(env *Env, req *RequestInfo, mimeType, charset string, data []byte) *BufferJob {
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return &BufferJob{
		base:     newBase(env, req, "buffer"),
		mimeType: mimeType,
		charset:  charset,
		data:     data,
	}
}

func (j *BufferJob) Start(d Delegate) {
	j.delegate = d
	j.post(func() {
		j.respond(simpleResponse(j.mimeType, j.charset, int64(len(j.data))), bytes.NewReader(j.data))
	})
}

// ErrorJob fails with a fixed code
type ErrorJob struct {
	base
	code neterr.Code
}

// NewErrorJob creates an error job. A non-negative code means NotImplemented.
func NewErrorJob(env *Env, req *RequestInfo, code neterr.Code) *ErrorJob {
	if code >= 0 {
		code = neterr.NotImplemented
	}
	return &ErrorJob{base: newBase(env, req, "error"), code: code}
}

// Code returns the failure code
func (j *ErrorJob) Code() neterr.Code {
	return j.code
}

func (j *ErrorJob) Start(d Delegate) {
	j.delegate = d
	j.post(func() {
		j.fail(neterr.New(j.code))
	})
}

// RedirectJob redirects to another URL without touching the network
type RedirectJob struct {
	base
	target     *url.URL
	statusCode int
	reason     string
}

// NewRedirectJob creates an internal redirect. Zero status means 307.
func NewRedirectJob(env *Env, req *RequestInfo, target *url.URL, statusCode int, reason string) *RedirectJob {
	if statusCode == 0 {
		statusCode = http.StatusTemporaryRedirect
	}
	return &RedirectJob{
		base:       newBase(env, req, "redirect"),
		target:     target,
		statusCode: statusCode,
		reason:     reason,
	}
}

func (j *RedirectJob) Start(d Delegate) {
	j.delegate = d
	j.post(func() {
		method := j.req.Method
		if j.statusCode == http.StatusSeeOther && method != http.MethodHead {
			method = http.MethodGet
		}
		header := http.Header{}
		header.Set("Location", j.target.String())
		if j.reason != "" {
			header.Set("Non-Authoritative-Reason", j.reason)
		}
		j.delegate.Redirect(&RedirectInfo{
			StatusCode: j.statusCode,
			NewURL:     j.target,
			NewMethod:  method,
			Header:     header,
		})
	})
}

func simpleResponse(mimeType, charset string, length int64) *Response {
	contentType := mimeType
	if charset != "" {
		contentType += "; charset=" + charset
	}
	header := http.Header{}
	header.Set("Content-Type", contentType)
	if length >= 0 {
		header.Set("Content-Length", strconv.FormatInt(length, 10))
	}
	return &Response{
		StatusCode:    http.StatusOK,
		StatusText:    http.StatusText(http.StatusOK),
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		MimeType:      mimeType,
		Charset:       charset,
		ContentLength: length,
	}
}
