// Package neterr defines numeric network error codes shared by jobs,
// engine requests and the throttle.
package neterr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"syscall"
)

// Code is a network error code. Zero is success, negative values are errors.
type Code int

const (
	OK                   Code = 0
	IOPending            Code = -1
	Failed               Code = -2
	Aborted              Code = -3
	InvalidArgument      Code = -4
	FileNotFound         Code = -6
	TimedOut             Code = -7
	FileTooBig           Code = -8
	BlockedByClient      Code = -20
	AccessDenied         Code = -10
	NotImplemented       Code = -11
	ConnectionClosed     Code = -100
	ConnectionReset      Code = -101
	ConnectionRefused    Code = -102
	ConnectionAborted    Code = -103
	ConnectionFailed     Code = -104
	NameNotResolved      Code = -105
	InternetDisconnected Code = -106
	SSLProtocolError     Code = -107
	CertInvalid          Code = -207
	InvalidURL           Code = -300
	DisallowedURLScheme  Code = -301
	UnknownURLScheme     Code = -302
	TooManyRedirects     Code = -310
	UnsafeRedirect       Code = -311
	InvalidResponse      Code = -320
	EmptyResponse        Code = -324
	ContentDecodingFail  Code = -330
	UploadStreamRewind   Code = -25
)

var names = map[Code]string{
	OK:                   "OK",
	IOPending:            "IO_PENDING",
	Failed:               "FAILED",
	Aborted:              "ABORTED",
	InvalidArgument:      "INVALID_ARGUMENT",
	FileNotFound:         "FILE_NOT_FOUND",
	TimedOut:             "TIMED_OUT",
	FileTooBig:           "FILE_TOO_BIG",
	BlockedByClient:      "BLOCKED_BY_CLIENT",
	AccessDenied:         "ACCESS_DENIED",
	NotImplemented:       "NOT_IMPLEMENTED",
	ConnectionClosed:     "CONNECTION_CLOSED",
	ConnectionReset:      "CONNECTION_RESET",
	ConnectionRefused:    "CONNECTION_REFUSED",
	ConnectionAborted:    "CONNECTION_ABORTED",
	ConnectionFailed:     "CONNECTION_FAILED",
	NameNotResolved:      "NAME_NOT_RESOLVED",
	InternetDisconnected: "INTERNET_DISCONNECTED",
	SSLProtocolError:     "SSL_PROTOCOL_ERROR",
	CertInvalid:          "CERT_INVALID",
	InvalidURL:           "INVALID_URL",
	DisallowedURLScheme:  "DISALLOWED_URL_SCHEME",
	UnknownURLScheme:     "UNKNOWN_URL_SCHEME",
	TooManyRedirects:     "TOO_MANY_REDIRECTS",
	UnsafeRedirect:       "UNSAFE_REDIRECT",
	InvalidResponse:      "INVALID_RESPONSE",
	EmptyResponse:        "EMPTY_RESPONSE",
	ContentDecodingFail:  "CONTENT_DECODING_FAILED",
	UploadStreamRewind:   "UPLOAD_STREAM_REWIND_NOT_SUPPORTED",
}

// String returns the canonical "net::ERR_*" name
func (c Code) String() string {
	if c == OK {
		return "net::OK"
	}
	if name, ok := names[c]; ok {
		return "net::ERR_" + name
	}
	return fmt.Sprintf("net::ERR_%d", int(c))
}

// Error is a network failure carrying a code and an optional message
type Error struct {
	Code    Code
	Message string
}

// New creates an error for code
func New(code Code) *Error {
	return &Error{Code: code}
}

// Newf creates an error for code with a formatted message
func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.String()
}

// Is matches errors with the same code
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// ErrIOPending signals that an operation will complete through a callback
var ErrIOPending = New(IOPending)

// CodeOf extracts the code of err, mapping foreign errors with FromError
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	return FromError(err).Code
}

// FromError maps Go transport and filesystem errors to network error codes
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var ne *Error
	if errors.As(err, &ne) {
		return ne
	}

	msg := err.Error()
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Code: Aborted, Message: msg}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return &Error{Code: TimedOut, Message: msg}
	case errors.Is(err, os.ErrNotExist):
		return &Error{Code: FileNotFound, Message: msg}
	case errors.Is(err, os.ErrPermission):
		return &Error{Code: AccessDenied, Message: msg}
	case errors.Is(err, syscall.ECONNREFUSED):
		return &Error{Code: ConnectionRefused, Message: msg}
	case errors.Is(err, syscall.ECONNRESET):
		return &Error{Code: ConnectionReset, Message: msg}
	case errors.Is(err, syscall.ECONNABORTED):
		return &Error{Code: ConnectionAborted, Message: msg}
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return &Error{Code: ConnectionClosed, Message: msg}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &Error{Code: NameNotResolved, Message: msg}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Code: TimedOut, Message: msg}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && strings.Contains(urlErr.Err.Error(), "tls") {
		return &Error{Code: SSLProtocolError, Message: msg}
	}

	return &Error{Code: Failed, Message: msg}
}
