package cage

import (
	"github.com/wippyai/jscage/errors"
	"github.com/wippyai/jscage/hostobj"
	"github.com/wippyai/jscage/marshal"
	"github.com/wippyai/jscage/quickjs"
)

// DefineSandboxFunctionRaw installs a guest function on target whose
// callback works directly with guest handles. The function handle is
// managed by the evaluation scope.
func DefineSandboxFunctionRaw(mc *ModuleContext, target *quickjs.Handle, name string, fn quickjs.HostFunc) (*quickjs.Handle, error) {
	h, err := mc.ctx.NewFunction(name, fn)
	if err != nil {
		return nil, err
	}
	if aerr := mc.scope.Add(h); aerr != nil {
		h.Free()
		return nil, aerr
	}
	if err := mc.ctx.SetProp(target, name, h); err != nil {
		return nil, err
	}
	return h, nil
}

// DefineSandboxFn installs a host-typed function: guest arguments are
// dumped to host values, the result goes back through the marshaller. A
// host error or panic becomes a guest exception carrying name and
// message; it never crosses the boundary uncaught.
func DefineSandboxFn(mc *ModuleContext, target *quickjs.Handle, name string, fn func(args []any) (any, error)) (*quickjs.Handle, error) {
	return DefineSandboxFunctionRaw(mc, target, name, func(_ *quickjs.Handle, args []*quickjs.Handle) (*quickjs.Handle, error) {
		hostArgs := make([]any, len(args))
		for i, a := range args {
			v, err := mc.ctx.Dump(a)
			if err != nil {
				return nil, err
			}
			hostArgs[i] = v
		}

		out, err := fn(hostArgs)
		if err != nil {
			return nil, err
		}
		return marshal.ToGuest(mc.ctx, mc.scope, out)
	})
}

// DefineSandboxObject builds a nested object from shape and installs it
// on target under name. Handle leaves are installed verbatim, nested
// maps recurse, other values go through the marshaller. The object
// handle is returned for further installs.
func DefineSandboxObject(mc *ModuleContext, target *quickjs.Handle, name string, shape map[string]any) (*quickjs.Handle, error) {
	obj, err := buildObject(mc, shape)
	if err != nil {
		return nil, err
	}
	if err := mc.ctx.SetProp(target, name, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func buildObject(mc *ModuleContext, shape map[string]any) (*quickjs.Handle, error) {
	obj, err := mc.ctx.NewObject()
	if err != nil {
		return nil, err
	}
	if aerr := mc.scope.Add(obj); aerr != nil {
		obj.Free()
		return nil, aerr
	}

	for key, val := range shape {
		var h *quickjs.Handle
		switch t := val.(type) {
		case *quickjs.Handle:
			h = t
		case map[string]any:
			h, err = buildObject(mc, t)
			if err != nil {
				return nil, err
			}
		default:
			h, err = marshal.ToGuest(mc.ctx, mc.scope, val)
			if err != nil {
				return nil, err
			}
		}
		if err := mc.ctx.SetProp(obj, key, h); err != nil {
			return nil, err
		}
	}
	return obj, nil
}

// receiverSlot is the hidden property sandbox objects use to reference
// their host state through a hostobj table.
const receiverSlot = "__cageHostKey"

// BindReceiver stores value in table and records its key in a
// non-enumerable slot on obj, so method implementations can recover the
// host object from the guest `this`.
func BindReceiver(mc *ModuleContext, obj *quickjs.Handle, table *hostobj.Table, value any) error {
	key := table.Insert(value)
	if key == 0 {
		return errors.InvalidInput(errors.PhaseModule, "host object table closed")
	}
	kh, err := mc.ctx.NewNumber(float64(key))
	if err != nil {
		return err
	}
	defer kh.Free()
	return mc.ctx.DefineProp(obj, receiverSlot, quickjs.PropertyDescriptor{
		Value: kh,
	})
}

// ReceiverValue recovers the host object bound to this via BindReceiver.
func ReceiverValue(mc *ModuleContext, this *quickjs.Handle, table *hostobj.Table) (any, error) {
	kh, err := mc.ctx.GetProp(this, receiverSlot)
	if err != nil {
		return nil, err
	}
	defer kh.Free()

	dumped, err := mc.ctx.Dump(kh)
	if err != nil {
		return nil, err
	}
	key, ok := dumped.(float64)
	if !ok {
		return nil, errors.NotFound(errors.PhaseModule, "receiver slot on", "this")
	}
	v, ok := table.Get(hostobj.Key(key))
	if !ok {
		return nil, errors.NotFound(errors.PhaseModule, "host object", "receiver")
	}
	return v, nil
}
