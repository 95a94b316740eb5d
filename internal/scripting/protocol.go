package scripting

import (
	"strings"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/neterr"
	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/protocol"
)

func (h *Host) protocolObject() *goja.Object {
	obj := h.vm.NewObject()

	obj.Set("registerProtocol", func(call goja.FunctionCall) goja.Value {
		scheme := call.Argument(0).String()
		h.throw(h.registry.RegisterProtocol(scheme, h.handler(call.Argument(1)), h.completion(call.Argument(2))))
		return goja.Undefined()
	})
	obj.Set("unregisterProtocol", func(call goja.FunctionCall) goja.Value {
		scheme := call.Argument(0).String()
		h.throw(h.registry.UnregisterProtocol(scheme, h.completion(call.Argument(1))))
		return goja.Undefined()
	})
	obj.Set("interceptProtocol", func(call goja.FunctionCall) goja.Value {
		scheme := call.Argument(0).String()
		h.throw(h.registry.InterceptProtocol(scheme, h.handler(call.Argument(1)), h.completion(call.Argument(2))))
		return goja.Undefined()
	})
	obj.Set("uninterceptProtocol", func(call goja.FunctionCall) goja.Value {
		scheme := call.Argument(0).String()
		h.throw(h.registry.UninterceptProtocol(scheme, h.completion(call.Argument(1))))
		return goja.Undefined()
	})
	obj.Set("registerStandardSchemes", func(call goja.FunctionCall) goja.Value {
		var schemes []string
		if err := h.vm.ExportTo(call.Argument(0), &schemes); err != nil || schemes == nil {
			panic(h.vm.NewTypeError("registerStandardSchemes requires an array of schemes"))
		}
		h.throw(h.registry.RegisterStandardSchemes(schemes))
		return goja.Undefined()
	})
	obj.Set("isProtocolHandled", func(call goja.FunctionCall) goja.Value {
		scheme := call.Argument(0).String()
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			panic(h.vm.NewTypeError("isProtocolHandled requires a callback"))
		}
		h.registry.IsHandledProtocol(scheme, func(handled bool) {
			h.call(fn, goja.Undefined(), h.vm.ToValue(handled))
		})
		return goja.Undefined()
	})
	return obj
}

// completion adapts an optional script callback to a registry done func
func (h *Host) completion(v goja.Value) func(error) {
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil
	}
	return func(err error) {
		arg := goja.Null()
		if err != nil {
			arg = h.vm.NewGoError(err)
		}
		h.call(fn, goja.Undefined(), arg)
	}
}

// handler adapts a script function to a protocol handler. The function gets
// (request, callback); a returned value other than undefined answers at once.
func (h *Host) handler(v goja.Value) protocol.Handler {
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil
	}
	return func(req protocol.RequestView, respond func(protocol.Result)) {
		if h.closed {
			respond(protocol.NoResult())
			return
		}
		callback := h.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			respond(h.toResult(call.Argument(0)))
			return goja.Undefined()
		})

		ret, ok := h.call(fn, goja.Undefined(), h.requestObject(req), callback)
		if !ok {
			respond(protocol.NoResult())
			return
		}
		if ret != nil && !goja.IsUndefined(ret) {
			respond(h.toResult(ret))
		}
	}
}

func (h *Host) requestObject(req protocol.RequestView) *goja.Object {
	obj := h.vm.NewObject()
	obj.Set("id", req.ID)
	obj.Set("method", req.Method)
	obj.Set("url", req.URL)
	obj.Set("referrer", req.Referrer)
	obj.Set("headers", h.headerObject(req.Header))
	return obj
}

// toResult maps a handler answer to a result. Descriptor objects are told
// apart by constructor name; a bare string is UTF-8 text.
func (h *Host) toResult(v goja.Value) protocol.Result {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return protocol.NoResult()
	}
	switch x := v.Export().(type) {
	case string:
		return protocol.Text(x)
	case []byte, goja.ArrayBuffer:
		return protocol.Buffer("", "", h.exportBytes(v))
	}

	obj := v.ToObject(h.vm)
	field := func(name string) string {
		f := obj.Get(name)
		if f == nil || goja.IsUndefined(f) || goja.IsNull(f) {
			return ""
		}
		return f.String()
	}

	switch h.constructorName(obj) {
	case "RequestStringJob":
		return protocol.String(field("mimeType"), field("charset"), field("data"))
	case "RequestBufferJob":
		return protocol.Buffer(field("mimeType"), field("encoding"), h.exportBytes(obj.Get("data")))
	case "RequestFileJob":
		return protocol.File(field("path"))
	case "RequestErrorJob":
		code := obj.Get("error")
		if code == nil || goja.IsUndefined(code) {
			return protocol.Error(neterr.NotImplemented)
		}
		return protocol.Error(neterr.Code(code.ToInteger()))
	case "RequestHttpJob":
		return protocol.HTTP(field("url"), strings.ToUpper(field("method")), field("referrer"))
	}
	return protocol.NoResult()
}

func (h *Host) constructorName(obj *goja.Object) string {
	ctor := obj.Get("constructor")
	if ctor == nil || goja.IsUndefined(ctor) || goja.IsNull(ctor) {
		return ""
	}
	name := ctor.ToObject(h.vm).Get("name")
	if name == nil {
		return ""
	}
	return name.String()
}
