package scripting

import (
	"net/http"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/delegate"
)

// webRequestObject exposes one method per delegate event:
// webRequest.onBeforeRequest([filter,] listener). A null listener removes it.
func (h *Host) webRequestObject() *goja.Object {
	obj := h.vm.NewObject()
	for _, ev := range delegate.Events() {
		obj.Set(ev.String(), func(call goja.FunctionCall) goja.Value {
			h.setListener(ev, call)
			return goja.Undefined()
		})
	}
	return obj
}

func (h *Host) setListener(ev delegate.Event, call goja.FunctionCall) {
	d := h.ctx.Delegate()

	filterArg, listenerArg := goja.Undefined(), call.Argument(0)
	if len(call.Arguments) > 1 {
		filterArg, listenerArg = call.Argument(0), call.Argument(1)
	}

	if goja.IsUndefined(listenerArg) || goja.IsNull(listenerArg) {
		d.SetListener(ev, nil, nil)
		delete(h.listening, ev)
		return
	}
	fn, ok := goja.AssertFunction(listenerArg)
	if !ok {
		panic(h.vm.NewTypeError("%s requires a function", ev))
	}

	filter, err := h.parseFilter(filterArg)
	h.throw(err)

	d.SetListener(ev, filter, func(details delegate.Details, reply func(delegate.Response)) {
		args := []goja.Value{h.detailsObject(details)}
		if reply != nil {
			args = append(args, h.vm.ToValue(func(call goja.FunctionCall) goja.Value {
				reply(h.toResponse(call.Argument(0)))
				return goja.Undefined()
			}))
		}
		if _, ok := h.call(fn, goja.Undefined(), args...); !ok && reply != nil {
			reply(delegate.Response{})
		}
	})
	h.listening[ev] = true
}

func (h *Host) clearListeners() {
	d := h.ctx.Delegate()
	for ev := range h.listening {
		d.SetListener(ev, nil, nil)
		delete(h.listening, ev)
	}
}

// parseFilter reads {urls: [...]}; a missing filter matches every URL
func (h *Host) parseFilter(v goja.Value) (*delegate.Filter, error) {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, nil
	}
	urls := v.ToObject(h.vm).Get("urls")
	if urls == nil || goja.IsUndefined(urls) || goja.IsNull(urls) {
		return nil, nil
	}
	var patterns []string
	if err := h.vm.ExportTo(urls, &patterns); err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	return delegate.NewFilter(patterns...)
}

func (h *Host) detailsObject(d delegate.Details) *goja.Object {
	obj := h.vm.NewObject()
	obj.Set("id", d.ID)
	obj.Set("url", d.URL)
	obj.Set("method", d.Method)
	obj.Set("resourceType", d.ResourceType)
	obj.Set("timestamp", d.Timestamp.UnixMilli())
	if d.Referrer != "" {
		obj.Set("referrer", d.Referrer)
	}
	if d.RequestHeaders != nil {
		obj.Set("requestHeaders", h.headerObject(d.RequestHeaders))
	}
	if d.ResponseHeaders != nil {
		obj.Set("responseHeaders", h.headerObject(d.ResponseHeaders))
	}
	if d.StatusCode != 0 {
		obj.Set("statusCode", d.StatusCode)
		obj.Set("statusLine", d.StatusLine)
	}
	if d.RedirectURL != "" {
		obj.Set("redirectURL", d.RedirectURL)
	}
	if d.Error != "" {
		obj.Set("error", d.Error)
	}
	return obj
}

// toResponse reads {cancel, redirectURL, requestHeaders, responseHeaders}
func (h *Host) toResponse(v goja.Value) delegate.Response {
	var resp delegate.Response
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return resp
	}
	obj := v.ToObject(h.vm)
	if c := obj.Get("cancel"); c != nil {
		resp.Cancel = c.ToBoolean()
	}
	if r := obj.Get("redirectURL"); r != nil && !goja.IsUndefined(r) && !goja.IsNull(r) {
		resp.RedirectURL = r.String()
	}
	resp.RequestHeaders = h.toHeader(obj.Get("requestHeaders"))
	resp.ResponseHeaders = h.toHeader(obj.Get("responseHeaders"))
	return resp
}

// toHeader accepts {name: value} and {name: [values]}
func (h *Host) toHeader(v goja.Value) http.Header {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	obj := v.ToObject(h.vm)
	header := make(http.Header)
	for _, key := range obj.Keys() {
		val := obj.Get(key)
		list := []string{val.String()}
		if _, ok := val.(*goja.Object); ok {
			if err := h.vm.ExportTo(val, &list); err != nil {
				list = []string{val.String()}
			}
		}
		for _, s := range list {
			header.Add(key, s)
		}
	}
	return header
}
