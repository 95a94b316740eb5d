package scripting

import (
	"fmt"
	"time"

	"github.com/dop251/goja"

	"github.com/GriffinCanCode/AgentOS/netcore/internal/net/throttle"
)

// sessionObject exposes network emulation:
// session.enableNetworkEmulation({offline, latency, downloadThroughput,
// uploadThroughput}) or ({preset: "slow-3g"}). latency is in milliseconds.
func (h *Host) sessionObject() *goja.Object {
	obj := h.vm.NewObject()
	obj.Set("enableNetworkEmulation", func(call goja.FunctionCall) goja.Value {
		cond, err := h.conditions(call.Argument(0))
		h.throw(err)
		h.ctx.EnableNetworkEmulation(cond)
		return goja.Undefined()
	})
	obj.Set("disableNetworkEmulation", func(goja.FunctionCall) goja.Value {
		h.ctx.DisableNetworkEmulation()
		return goja.Undefined()
	})
	obj.Set("emulationPresets", func(goja.FunctionCall) goja.Value {
		return h.vm.ToValue(throttle.PresetNames())
	})
	return obj
}

func (h *Host) conditions(v goja.Value) (throttle.Conditions, error) {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return throttle.NoConditions(), nil
	}
	obj := v.ToObject(h.vm)

	if p := obj.Get("preset"); p != nil && !goja.IsUndefined(p) {
		cond, ok := throttle.Preset(p.String())
		if !ok {
			return cond, fmt.Errorf("%w: %q", ErrUnknownPreset, p.String())
		}
		return cond, nil
	}

	var cond throttle.Conditions
	if o := obj.Get("offline"); o != nil {
		cond.Offline = o.ToBoolean()
	}
	if l := obj.Get("latency"); l != nil && !goja.IsUndefined(l) {
		cond.Latency = time.Duration(l.ToFloat() * float64(time.Millisecond))
	}
	if d := obj.Get("downloadThroughput"); d != nil && !goja.IsUndefined(d) {
		cond.DownloadThroughput = d.ToFloat()
	}
	if u := obj.Get("uploadThroughput"); u != nil && !goja.IsUndefined(u) {
		cond.UploadThroughput = u.ToFloat()
	}
	return cond, nil
}
