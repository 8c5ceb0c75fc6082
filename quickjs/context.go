package quickjs

import (
	"encoding/binary"
	"math"

	"github.com/wippyai/jscage/errors"
)

// EvalMode selects how Context.Eval treats the source text.
type EvalMode int

const (
	EvalScript EvalMode = iota
	EvalModule
)

// Context is a guest realm with its own global object. All handles it
// produces belong to it and must be freed before the context closes.
type Context struct {
	rt     *Runtime
	ptr    uint32
	closed bool

	// Context-owned singletons, created lazily and pinned.
	undefined *Handle
	null      *Handle
	trueVal   *Handle
	falseVal  *Handle
	global    *Handle
}

// NewContext creates a fresh realm with the default intrinsics installed.
func (r *Runtime) NewContext() (*Context, error) {
	ptr, err := r.callRaw(expContextNew, uint64(r.ptr))
	if err != nil {
		return nil, err
	}
	if ptr == 0 {
		return nil, errors.Engine("create guest context", nil)
	}
	c := &Context{rt: r, ptr: uint32(ptr)}
	r.mainCtx = c
	return c, nil
}

// Close frees the context's singletons and the realm itself.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	for _, h := range []*Handle{c.undefined, c.null, c.trueVal, c.falseVal, c.global} {
		if h != nil {
			h.pinned = false
			h.Free()
		}
	}
	_, err := c.rt.callRaw(expContextFree, uint64(c.ptr))
	return err
}

// Dispose implements scope.Disposable.
func (c *Context) Dispose() { _ = c.Close() }

// Runtime returns the owning runtime.
func (c *Context) Runtime() *Runtime { return c.rt }

// wrap turns a raw guest value pointer into an owned handle.
func (c *Context) wrap(ptr uint32) *Handle {
	return &Handle{ctx: c, ptr: ptr, alive: ptr != 0}
}

func (c *Context) singleton(slot **Handle, export string, args ...uint64) *Handle {
	if *slot == nil {
		callArgs := append([]uint64{uint64(c.ptr)}, args...)
		ptr, err := c.rt.callRaw(export, callArgs...)
		if err != nil {
			// Engine-level failure on a singleton accessor means the
			// instance is gone; a dead handle is the least-bad answer.
			return &Handle{ctx: c}
		}
		h := c.wrap(uint32(ptr))
		h.pinned = true
		*slot = h
	}
	return *slot
}

// Undefined returns the context-owned undefined singleton. Not to be
// freed or scope-managed by callers.
func (c *Context) Undefined() *Handle {
	return c.singleton(&c.undefined, expUndefined)
}

// Null returns the context-owned null singleton.
func (c *Context) Null() *Handle {
	return c.singleton(&c.null, expNull)
}

// True returns the context-owned true singleton.
func (c *Context) True() *Handle {
	return c.singleton(&c.trueVal, expNewBool, 1)
}

// False returns the context-owned false singleton.
func (c *Context) False() *Handle {
	return c.singleton(&c.falseVal, expNewBool, 0)
}

// Bool returns the singleton for b.
func (c *Context) Bool(b bool) *Handle {
	if b {
		return c.True()
	}
	return c.False()
}

// Global returns the context-owned global object handle.
func (c *Context) Global() *Handle {
	return c.singleton(&c.global, expGetGlobal)
}

// NewString creates a guest string value.
func (c *Context) NewString(s string) (*Handle, error) {
	ptr, length, err := c.rt.writeString(s)
	if err != nil {
		return nil, err
	}
	defer c.rt.freeBytes(ptr)

	res, err := c.rt.callRaw(expNewString, uint64(c.ptr), uint64(ptr), uint64(length))
	if err != nil {
		return nil, err
	}
	return c.wrap(uint32(res)), nil
}

// NewNumber creates a guest number value.
func (c *Context) NewNumber(n float64) (*Handle, error) {
	res, err := c.rt.callRaw(expNewNumber, uint64(c.ptr), math.Float64bits(n))
	if err != nil {
		return nil, err
	}
	return c.wrap(uint32(res)), nil
}

// NewArray creates an empty guest array.
func (c *Context) NewArray() (*Handle, error) {
	res, err := c.rt.callRaw(expNewArray, uint64(c.ptr))
	if err != nil {
		return nil, err
	}
	return c.wrap(uint32(res)), nil
}

// NewObject creates an empty guest object.
func (c *Context) NewObject() (*Handle, error) {
	res, err := c.rt.callRaw(expNewObject, uint64(c.ptr))
	if err != nil {
		return nil, err
	}
	return c.wrap(uint32(res)), nil
}

// NewError creates a guest Error with name and message set.
func (c *Context) NewError(name, message string) (*Handle, error) {
	namePtr, nameLen, err := c.rt.writeString(name)
	if err != nil {
		return nil, err
	}
	defer c.rt.freeBytes(namePtr)
	msgPtr, msgLen, err := c.rt.writeString(message)
	if err != nil {
		return nil, err
	}
	defer c.rt.freeBytes(msgPtr)

	res, err := c.rt.callRaw(expNewError, uint64(c.ptr),
		uint64(namePtr), uint64(nameLen), uint64(msgPtr), uint64(msgLen))
	if err != nil {
		return nil, err
	}
	return c.wrap(uint32(res)), nil
}

// NewFunction creates a guest function backed by fn. The function keeps
// fn reachable for the life of the runtime.
func (c *Context) NewFunction(name string, fn HostFunc) (*Handle, error) {
	id := c.rt.registerFunc(fn)

	namePtr, nameLen, err := c.rt.writeString(name)
	if err != nil {
		return nil, err
	}
	defer c.rt.freeBytes(namePtr)

	res, err := c.rt.callRaw(expNewFunc, uint64(c.ptr),
		uint64(namePtr), uint64(nameLen), uint64(uint32(id)))
	if err != nil {
		return nil, err
	}
	return c.wrap(uint32(res)), nil
}

// NewPromise creates a guest promise plus its resolving functions. All
// three handles are owned by the caller.
func (c *Context) NewPromise() (promise, resolve, reject *Handle, err error) {
	out, release, err := c.rt.scratch(8)
	if err != nil {
		return nil, nil, nil, err
	}
	defer release()

	res, err := c.rt.callRaw(expNewPromise, uint64(c.ptr), uint64(out))
	if err != nil {
		return nil, nil, nil, err
	}
	if res == 0 {
		return nil, nil, nil, c.takeException(errors.PhaseEngine)
	}

	resolvePtr, err := c.rt.readU32(out)
	if err != nil {
		return nil, nil, nil, err
	}
	rejectPtr, err := c.rt.readU32(out + 4)
	if err != nil {
		return nil, nil, nil, err
	}
	return c.wrap(uint32(res)), c.wrap(resolvePtr), c.wrap(rejectPtr), nil
}

// GetProp reads obj[key]. Fails with a guest TypeError on non-object
// receivers.
func (c *Context) GetProp(obj *Handle, key string) (*Handle, error) {
	keyPtr, keyLen, err := c.rt.writeString(key)
	if err != nil {
		return nil, err
	}
	defer c.rt.freeBytes(keyPtr)

	res, err := c.rt.callRaw(expGetProp, uint64(c.ptr), obj.raw(), uint64(keyPtr), uint64(keyLen))
	if err != nil {
		return nil, err
	}
	if res == 0 {
		return nil, c.takeException(errors.PhaseEngine)
	}
	return c.wrap(uint32(res)), nil
}

// GetIndex reads obj[idx].
func (c *Context) GetIndex(obj *Handle, idx uint32) (*Handle, error) {
	res, err := c.rt.callRaw(expGetIndex, uint64(c.ptr), obj.raw(), uint64(idx))
	if err != nil {
		return nil, err
	}
	if res == 0 {
		return nil, c.takeException(errors.PhaseEngine)
	}
	return c.wrap(uint32(res)), nil
}

// SetProp writes obj[key] = value. The value's reference count is
// incremented by the guest; the handle stays owned by the caller.
func (c *Context) SetProp(obj *Handle, key string, value *Handle) error {
	keyPtr, keyLen, err := c.rt.writeString(key)
	if err != nil {
		return err
	}
	defer c.rt.freeBytes(keyPtr)

	res, err := c.rt.callRaw(expSetProp, uint64(c.ptr), obj.raw(),
		uint64(keyPtr), uint64(keyLen), value.raw())
	if err != nil {
		return err
	}
	if int32(res) < 0 {
		return c.takeException(errors.PhaseEngine)
	}
	return nil
}

// SetIndex writes obj[idx] = value.
func (c *Context) SetIndex(obj *Handle, idx uint32, value *Handle) error {
	res, err := c.rt.callRaw(expSetIndex, uint64(c.ptr), obj.raw(), uint64(idx), value.raw())
	if err != nil {
		return err
	}
	if int32(res) < 0 {
		return c.takeException(errors.PhaseEngine)
	}
	return nil
}

// PropertyDescriptor describes a property for DefineProp. Nil handle
// fields are absent.
type PropertyDescriptor struct {
	Value        *Handle
	Getter       *Handle
	Setter       *Handle
	Configurable bool
	Enumerable   bool
	Writable     bool
}

const (
	defFlagConfigurable = 1 << 0
	defFlagEnumerable   = 1 << 1
	defFlagWritable     = 1 << 2
	defFlagHasValue     = 1 << 3
	defFlagHasGetter    = 1 << 4
	defFlagHasSetter    = 1 << 5
)

// DefineProp defines obj[key] with the given descriptor.
func (c *Context) DefineProp(obj *Handle, key string, desc PropertyDescriptor) error {
	keyPtr, keyLen, err := c.rt.writeString(key)
	if err != nil {
		return err
	}
	defer c.rt.freeBytes(keyPtr)

	flags := 0
	if desc.Configurable {
		flags |= defFlagConfigurable
	}
	if desc.Enumerable {
		flags |= defFlagEnumerable
	}
	if desc.Writable {
		flags |= defFlagWritable
	}
	value, getter, setter := uint64(0), uint64(0), uint64(0)
	if desc.Value != nil {
		flags |= defFlagHasValue
		value = desc.Value.raw()
	}
	if desc.Getter != nil {
		flags |= defFlagHasGetter
		getter = desc.Getter.raw()
	}
	if desc.Setter != nil {
		flags |= defFlagHasSetter
		setter = desc.Setter.raw()
	}

	res, err := c.rt.callRaw(expDefineProp, uint64(c.ptr), obj.raw(),
		uint64(keyPtr), uint64(keyLen), value, getter, setter, uint64(flags))
	if err != nil {
		return err
	}
	if int32(res) < 0 {
		return c.takeException(errors.PhaseEngine)
	}
	return nil
}

// TypeOf reports the guest type of the value, distinguishing null from
// object.
func (c *Context) TypeOf(h *Handle) (string, error) {
	res, err := c.rt.callRaw(expTypeOf, uint64(c.ptr), h.raw())
	if err != nil {
		return "", err
	}
	switch int32(res) {
	case typeTagUndefined:
		return "undefined", nil
	case typeTagNull:
		return "null", nil
	case typeTagBool:
		return "boolean", nil
	case typeTagNumber:
		return "number", nil
	case typeTagString:
		return "string", nil
	case typeTagObject:
		return "object", nil
	case typeTagFunction:
		return "function", nil
	}
	return "", errors.Engine("unknown type tag", nil)
}

// Call invokes fn with this and args. Guest exceptions come back as
// guest errors carrying the dumped name and message.
func (c *Context) Call(fn, this *Handle, args ...*Handle) (*Handle, error) {
	thisRaw := uint64(0)
	if this != nil {
		thisRaw = this.raw()
	}

	var argvPtr uint32
	if len(args) > 0 {
		buf := make([]byte, 4*len(args))
		for i, a := range args {
			binary.LittleEndian.PutUint32(buf[i*4:], a.ptr)
		}
		ptr, err := c.rt.writeBytes(buf)
		if err != nil {
			return nil, err
		}
		defer c.rt.freeBytes(ptr)
		argvPtr = ptr
	}

	res, err := c.rt.callRaw(expCall, uint64(c.ptr), fn.raw(), thisRaw,
		uint64(len(args)), uint64(argvPtr))
	if err != nil {
		return nil, err
	}
	if res == 0 {
		return nil, c.takeException(errors.PhaseEngine)
	}
	return c.wrap(uint32(res)), nil
}

// Throw sets errVal as the context's pending exception. Used by host
// callbacks to raise into the guest.
func (c *Context) Throw(errVal *Handle) {
	_, _ = c.rt.callRaw(expThrow, uint64(c.ptr), errVal.raw())
}

// Eval evaluates source text. Guest failures (syntax or runtime) are
// returned as guest errors; the method itself never panics.
func (c *Context) Eval(code, filename string, mode EvalMode) (*Handle, error) {
	codePtr, codeLen, err := c.rt.writeString(code)
	if err != nil {
		return nil, err
	}
	defer c.rt.freeBytes(codePtr)
	filePtr, fileLen, err := c.rt.writeString(filename)
	if err != nil {
		return nil, err
	}
	defer c.rt.freeBytes(filePtr)

	flags := evalFlagScript
	if mode == EvalModule {
		flags = evalFlagModule
	}

	res, err := c.rt.callRaw(expEval, uint64(c.ptr),
		uint64(codePtr), uint64(codeLen), uint64(filePtr), uint64(fileLen), uint64(flags))
	if err != nil {
		return nil, err
	}
	if res == 0 {
		return nil, c.takeException(errors.PhaseEval)
	}
	return c.wrap(uint32(res)), nil
}

// takeException pops the pending exception and converts it to a guest
// error at phase.
func (c *Context) takeException(phase errors.Phase) error {
	has, err := c.rt.callRaw(expHasException, uint64(c.ptr))
	if err != nil {
		return err
	}
	if has == 0 {
		return errors.Engine("operation failed without pending exception", nil)
	}
	ptr, err := c.rt.callRaw(expGetException, uint64(c.ptr))
	if err != nil {
		return err
	}
	h := c.wrap(uint32(ptr))
	defer h.Free()
	return guestError(phase, c, h)
}
