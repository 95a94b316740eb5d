package scripting

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/job"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/request"
)

// netObject backs ClientRequest: __net.create(options, emitter) returns the
// native handle of a new facade
func (h *Host) netObject() *goja.Object {
	obj := h.vm.NewObject()
	obj.Set("create", func(call goja.FunctionCall) goja.Value {
		options := call.Argument(0).ToObject(h.vm)
		emitter := call.Argument(1).ToObject(h.vm)

		opt := func(name string) string {
			v := options.Get(name)
			if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
				return ""
			}
			return v.String()
		}

		rawURL := opt("url")
		if rawURL == "" {
			var err error
			rawURL, err = request.ComposeURL(request.URLParts{
				Protocol: opt("protocol"),
				Host:     opt("host"),
				Hostname: opt("hostname"),
				Port:     opt("port"),
				Path:     opt("path"),
			})
			h.throw(err)
		}
		mode, err := request.ParseRedirectMode(opt("redirect"))
		h.throw(err)
		f, err := request.NewFacade(h.ctx, h.tracker, &jsSink{h: h, emitter: emitter}, request.Options{
			Method:   strings.ToUpper(opt("method")),
			URL:      rawURL,
			Redirect: mode,
			Headers:  h.optionHeaders(options.Get("headers")),
		})
		h.throw(err)
		return h.facadeObject(f)
	})
	return obj
}

// optionHeaders reads the headers option; array values become repeated
// values of one header
func (h *Host) optionHeaders(v goja.Value) http.Header {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		panic(h.vm.NewTypeError("headers must be an object"))
	}
	header := make(http.Header)
	for _, name := range obj.Keys() {
		value := obj.Get(name)
		if items, ok := value.Export().([]interface{}); ok {
			for _, item := range items {
				header.Add(name, fmt.Sprint(item))
			}
			continue
		}
		header.Add(name, value.String())
	}
	return header
}

func (h *Host) facadeObject(f *request.Facade) *goja.Object {
	vm := h.vm
	obj := vm.NewObject()

	obj.Set("write", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(f.Write(h.exportBytes(call.Argument(0)), call.Argument(1).ToBoolean()))
	})
	obj.Set("cancel", func(goja.FunctionCall) goja.Value {
		f.Cancel()
		return goja.Undefined()
	})
	obj.Set("setHeader", func(call goja.FunctionCall) goja.Value {
		h.throw(f.SetExtraHeader(call.Argument(0).String(), call.Argument(1).String()))
		return goja.Undefined()
	})
	obj.Set("getHeader", func(call goja.FunctionCall) goja.Value {
		value, ok := f.Header(call.Argument(0).String())
		if !ok {
			return goja.Undefined()
		}
		return vm.ToValue(value)
	})
	obj.Set("removeHeader", func(call goja.FunctionCall) goja.Value {
		h.throw(f.RemoveExtraHeader(call.Argument(0).String()))
		return goja.Undefined()
	})
	obj.Set("setChunkedUpload", func(call goja.FunctionCall) goja.Value {
		h.throw(f.SetChunkedUpload(call.Argument(0).ToBoolean()))
		return goja.Undefined()
	})
	obj.Set("followRedirect", func(goja.FunctionCall) goja.Value {
		f.FollowRedirect()
		return goja.Undefined()
	})
	obj.Set("statusCode", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(f.StatusCode())
	})
	obj.Set("statusMessage", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(f.StatusMessage())
	})
	obj.Set("responseHeaders", func(goja.FunctionCall) goja.Value {
		return h.headerObject(f.ResponseHeaders())
	})
	obj.Set("httpVersion", func(goja.FunctionCall) goja.Value {
		major, minor := f.HTTPVersion()
		return vm.ToValue([]interface{}{major, minor})
	})
	return obj
}

// jsSink forwards facade events to the ClientRequest emitter
type jsSink struct {
	h       *Host
	emitter *goja.Object
}

func (s *jsSink) EmitRequestEvent(name string, args ...any) {
	s.emit("_emitRequestEvent", name, args)
}

func (s *jsSink) EmitResponseEvent(name string, args ...any) {
	s.emit("_emitResponseEvent", name, args)
}

func (s *jsSink) emit(method, name string, args []any) {
	h := s.h
	fn, ok := goja.AssertFunction(s.emitter.Get(method))
	if !ok {
		return
	}
	values := make([]goja.Value, 0, len(args)+1)
	values = append(values, h.vm.ToValue(name))
	for _, a := range args {
		values = append(values, h.toValue(a))
	}
	h.call(fn, s.emitter, values...)
}

// toValue converts event arguments to script values
func (h *Host) toValue(a any) goja.Value {
	switch x := a.(type) {
	case []byte:
		return h.bytes(x)
	case error:
		return h.vm.NewGoError(x)
	case http.Header:
		return h.headerObject(x)
	case job.AuthChallenge:
		obj := h.vm.NewObject()
		obj.Set("isProxy", x.IsProxy)
		obj.Set("scheme", x.Scheme)
		obj.Set("host", x.Host)
		obj.Set("port", x.Port)
		obj.Set("realm", x.Realm)
		return obj
	case request.LoginCallback:
		return h.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			username, password := "", ""
			if v := call.Argument(0); !goja.IsUndefined(v) && !goja.IsNull(v) {
				username = v.String()
			}
			if v := call.Argument(1); !goja.IsUndefined(v) && !goja.IsNull(v) {
				password = v.String()
			}
			x(username, password)
			return goja.Undefined()
		})
	case *job.Response:
		// IncomingMessage reads the response through the native handle
		return goja.Undefined()
	}
	return h.vm.ToValue(a)
}

// headerObject flattens headers to lower-cased keys with comma-joined values
func (h *Host) headerObject(header http.Header) *goja.Object {
	obj := h.vm.NewObject()
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		obj.Set(strings.ToLower(k), strings.Join(header[k], ", "))
	}
	return obj
}
