package protocol

import (
	"net/http"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
)

// ResultKind tags the payload a handler resolved with
type ResultKind int

const (
	ResultNone ResultKind = iota
	ResultString
	ResultBuffer
	ResultFile
	ResultError
	ResultHTTP
)

func (k ResultKind) String() string {
	switch k {
	case ResultString:
		return "string"
	case ResultBuffer:
		return "buffer"
	case ResultFile:
		return "file"
	case ResultError:
		return "error"
	case ResultHTTP:
		return "http"
	default:
		return "none"
	}
}

// Result is what a protocol handler resolves a request with
type Result struct {
	Kind     ResultKind
	MimeType string
	Charset  string
	// Encoding is the text encoding of a buffer payload
	Encoding string
	Data     []byte
	Path     string
	Error    neterr.Code
	URL      string
	Method   string
	Referrer string
}

// NoResult defers to the original handler, if any
func NoResult() Result {
	return Result{}
}

// Text answers with a plain UTF-8 string
func Text(data string) Result {
	return Result{Kind: ResultString, MimeType: "text/plain", Charset: "UTF-8", Data: []byte(data)}
}

// String answers with a string of the given type
func String(mimeType, charset, data string) Result {
	return Result{Kind: ResultString, MimeType: mimeType, Charset: charset, Data: []byte(data)}
}

// Buffer answers with raw bytes. data is copied.
func Buffer(mimeType, encoding string, data []byte) Result {
	return Result{Kind: ResultBuffer, MimeType: mimeType, Encoding: encoding, Data: append([]byte(nil), data...)}
}

// File answers with the contents of a local file
func File(path string) Result {
	return Result{Kind: ResultFile, Path: path}
}

// Error fails the request with code; codes >= 0 become not-implemented
func Error(code neterr.Code) Result {
	return Result{Kind: ResultError, Error: code}
}

// HTTP answers with the response of another URL. Empty method and referrer
// are taken from the intercepted request.
func HTTP(url, method, referrer string) Result {
	return Result{Kind: ResultHTTP, URL: url, Method: method, Referrer: referrer}
}

// detach copies every reference the result shares with its producer
func (r Result) detach() Result {
	if r.Data != nil {
		r.Data = append([]byte(nil), r.Data...)
	}
	return r
}

// RequestView is the read-only copy of a request a handler sees
type RequestView struct {
	ID       string
	Method   string
	URL      string
	Referrer string
	Header   http.Header
}

// Handler resolves a request on the UI sequence. respond may be called
// synchronously or later from any goroutine; only the first call counts.
type Handler func(req RequestView, respond func(Result))
