package quickjs

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// hostCall dispatches a guest invocation of a host-installed function.
// Stack: ctx, func_id, this, argc, argv -> value.
func (e *Engine) hostCall(_ context.Context, mod api.Module, stack []uint64) {
	ctxPtr := api.DecodeU32(stack[0])
	funcID := int32(api.DecodeU32(stack[1]))
	thisPtr := api.DecodeU32(stack[2])
	argc := api.DecodeU32(stack[3])
	argvPtr := api.DecodeU32(stack[4])

	rt := e.lookupRuntime(mod)
	if rt == nil {
		stack[0] = 0
		return
	}
	c := rt.contextFor(ctxPtr)

	fn := rt.lookupFunc(funcID)
	if fn == nil {
		c.throwHostError("ReferenceError", "host function not registered")
		stack[0] = 0
		return
	}

	this := c.borrow(thisPtr)
	args := make([]*Handle, 0, argc)
	for i := uint32(0); i < argc; i++ {
		ptr, err := rt.readU32(argvPtr + i*4)
		if err != nil {
			c.throwHostError("InternalError", "bad argument vector")
			stack[0] = 0
			return
		}
		args = append(args, c.borrow(ptr))
	}

	result, err := safeCall(fn, this, args)
	if err != nil {
		name, message := hostErrorParts(err)
		c.throwHostError(name, message)
		stack[0] = 0
		return
	}

	if result == nil || !result.Alive() {
		und, derr := c.Undefined().Dup()
		if derr != nil {
			stack[0] = 0
			return
		}
		stack[0] = api.EncodeU32(und.ptr)
		return
	}

	// The guest receives its own reference; ownership of result stays
	// with whoever created it (usually a managing scope).
	dup, err := result.Dup()
	if err != nil {
		c.throwHostError("InternalError", "host function returned a dead handle")
		stack[0] = 0
		return
	}
	stack[0] = api.EncodeU32(dup.ptr)
}

// hostModuleNormalize resolves an import specifier via the runtime's
// module loader. Stack: rt, base, base_len, name, name_len, out_len -> ptr.
func (e *Engine) hostModuleNormalize(_ context.Context, mod api.Module, stack []uint64) {
	rt := e.lookupRuntime(mod)
	if rt == nil || rt.loader == nil {
		stack[0] = 0
		return
	}

	base, err := rt.readString(api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
	if err != nil {
		stack[0] = 0
		return
	}
	request, err := rt.readString(api.DecodeU32(stack[3]), api.DecodeU32(stack[4]))
	if err != nil {
		stack[0] = 0
		return
	}
	outLen := api.DecodeU32(stack[5])

	resolved, err := rt.loader.Resolve(base, request)
	if err != nil {
		Logger().Debug("module resolve failed",
			zap.String("base", base), zap.String("request", request), zap.Error(err))
		stack[0] = 0
		return
	}

	stack[0] = api.EncodeU32(rt.writeLoaderResult(resolved, outLen))
}

// hostModuleLoad fetches module source text via the runtime's loader.
// Stack: rt, spec, spec_len, out_len -> ptr.
func (e *Engine) hostModuleLoad(_ context.Context, mod api.Module, stack []uint64) {
	rt := e.lookupRuntime(mod)
	if rt == nil || rt.loader == nil {
		stack[0] = 0
		return
	}

	specifier, err := rt.readString(api.DecodeU32(stack[1]), api.DecodeU32(stack[2]))
	if err != nil {
		stack[0] = 0
		return
	}
	outLen := api.DecodeU32(stack[3])

	text, err := rt.loader.FetchText(rt.callCtx, specifier)
	if err != nil {
		Logger().Debug("module fetch failed",
			zap.String("specifier", specifier), zap.Error(err))
		stack[0] = 0
		return
	}

	stack[0] = api.EncodeU32(rt.writeLoaderResult(text, outLen))
}

// writeLoaderResult copies s into guest memory for the engine to adopt
// (the engine frees it). Returns 0 on allocation failure.
func (r *Runtime) writeLoaderResult(s string, outLen uint32) uint32 {
	ptr, length, err := r.writeString(s)
	if err != nil {
		return 0
	}
	if !r.memory().WriteUint32Le(outLen, length) {
		r.freeBytes(ptr)
		return 0
	}
	return ptr
}

// contextFor returns the tracked context when ptr matches, or a
// transient wrapper otherwise.
func (r *Runtime) contextFor(ptr uint32) *Context {
	if r.mainCtx != nil && r.mainCtx.ptr == ptr {
		return r.mainCtx
	}
	return &Context{rt: r, ptr: ptr}
}

// borrow wraps a call-frame value the guest still owns. Borrowed handles
// cannot be freed by the host; Dup to retain.
func (c *Context) borrow(ptr uint32) *Handle {
	return &Handle{ctx: c, ptr: ptr, alive: ptr != 0, pinned: true}
}

// throwHostError raises a fresh guest error as the pending exception.
func (c *Context) throwHostError(name, message string) {
	errVal, err := c.NewError(name, message)
	if err != nil {
		return
	}
	c.Throw(errVal)
	errVal.Free()
}

func safeCall(fn HostFunc, this *Handle, args []*Handle) (result *Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = &ErrorValue{Name: "InternalError", Message: formatDumped(r)}
			}
		}
	}()
	return fn(this, args)
}

// hostErrorParts splits a callback error into guest error name and
// message.
func hostErrorParts(err error) (string, string) {
	if ev, ok := err.(*ErrorValue); ok {
		name := ev.Name
		if name == "" {
			name = "Error"
		}
		return name, ev.Message
	}
	return "Error", err.Error()
}
