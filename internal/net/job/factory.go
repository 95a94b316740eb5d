package job

import (
	"net/url"
	"sort"
)

// Factory maps schemes to protocol handlers. Confined to the IO sequence.
type Factory struct {
	handlers map[string]ProtocolHandler
	// custom schemes that parse like http, with an authority and a path
	standard map[string]bool
}

// NewFactory creates an empty factory
func NewFactory() *Factory {
	return &Factory{
		handlers: make(map[string]ProtocolHandler),
		standard: make(map[string]bool),
	}
}

// MarkStandard records schemes as standard. Marking is permanent and
// independent of whether a handler is installed.
func (f *Factory) MarkStandard(schemes ...string) {
	for _, s := range schemes {
		f.standard[s] = true
	}
}

// IsStandardScheme reports whether scheme is a built-in or was marked
// standard
func (f *Factory) IsStandardScheme(scheme string) bool {
	return isBuiltinScheme(scheme) || f.standard[scheme]
}

// SetProtocolHandler installs h for scheme, or removes the handler when h is
// nil. Installing over an existing handler and removing a missing one fail.
func (f *Factory) SetProtocolHandler(scheme string, h ProtocolHandler) bool {
	_, exists := f.handlers[scheme]
	if h == nil {
		if !exists {
			return false
		}
		delete(f.handlers, scheme)
		return true
	}
	if exists {
		return false
	}
	f.handlers[scheme] = h
	return true
}

// ReplaceProtocol swaps the handler of an existing scheme and returns the
// previous one. Returns nil without changes when the scheme is not handled.
func (f *Factory) ReplaceProtocol(scheme string, h ProtocolHandler) ProtocolHandler {
	prev, exists := f.handlers[scheme]
	if !exists || h == nil {
		return nil
	}
	f.handlers[scheme] = h
	return prev
}

// GetProtocolHandler returns the handler for scheme, or nil
func (f *Factory) GetProtocolHandler(scheme string) ProtocolHandler {
	return f.handlers[scheme]
}

// HasProtocolHandler reports whether scheme has a handler
func (f *Factory) HasProtocolHandler(scheme string) bool {
	_, ok := f.handlers[scheme]
	return ok
}

// IsHandledProtocol reports whether scheme can be served
func (f *Factory) IsHandledProtocol(scheme string) bool {
	return f.HasProtocolHandler(scheme)
}

// IsHandledURL reports whether u can be served
func (f *Factory) IsHandledURL(u *url.URL) bool {
	if u == nil {
		return false
	}
	return f.IsHandledProtocol(u.Scheme)
}

// IsSafeRedirectTarget asks the target scheme's handler whether a redirect
// to location is allowed. Unhandled schemes are allowed here and fail later.
// Custom schemes that were not marked standard have no origin to land in and
// are never redirect targets.
func (f *Factory) IsSafeRedirectTarget(location *url.URL) bool {
	if location == nil {
		return false
	}
	h, ok := f.handlers[location.Scheme]
	if !ok {
		return true
	}
	if !f.IsStandardScheme(location.Scheme) {
		return false
	}
	if checker, ok := h.(RedirectChecker); ok {
		return checker.IsSafeRedirectTarget(location)
	}
	return true
}

// MaybeCreateJob returns a job for req, or nil if no handler accepts it
func (f *Factory) MaybeCreateJob(req *RequestInfo) Job {
	if req == nil || req.URL == nil {
		return nil
	}
	h, ok := f.handlers[req.URL.Scheme]
	if !ok {
		return nil
	}
	return h.MaybeCreateJob(req)
}

// Schemes lists handled schemes in sorted order
func (f *Factory) Schemes() []string {
	schemes := make([]string, 0, len(f.handlers))
	for s := range f.handlers {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// InstallBuiltins registers the host protocol handlers
func (f *Factory) InstallBuiltins(env *Env) {
	network := NewNetworkHandler(env)
	f.SetProtocolHandler("http", network)
	f.SetProtocolHandler("https", network)
	f.SetProtocolHandler("file", NewFileHandler(env))
	f.SetProtocolHandler("data", NewDataHandler(env))
	f.SetProtocolHandler("about", NewAboutHandler(env))
}

// BuiltinSchemes lists the schemes InstallBuiltins registers
func BuiltinSchemes() []string {
	return []string{"about", "data", "file", "http", "https"}
}

func isBuiltinScheme(scheme string) bool {
	switch scheme {
	case "about", "data", "file", "http", "https":
		return true
	}
	return false
}
