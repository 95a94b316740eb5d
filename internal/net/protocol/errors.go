package protocol

import "errors"

// Messages are part of the scripting API and must not change.
var (
	ErrAlreadyRegistered           = errors.New("The scheme is already registered")
	ErrNotRegistered               = errors.New("The scheme has not been registered")
	ErrNoExistingHandler           = errors.New("Scheme does not exist.")
	ErrCannotInterceptCustomScheme = errors.New("Cannot intercept custom protocols")
	ErrNotIntercepted              = errors.New("The protocol is not intercepted")
	ErrNilHandler                  = errors.New("handler must not be nil")
	ErrInvalidScheme               = errors.New("invalid scheme")
)
