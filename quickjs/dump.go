package quickjs

import (
	"math"

	"github.com/wippyai/jscage/errors"
)

// Dump produces a structural host clone of the guest value: scalars map
// directly, arrays become []any, plain objects become *Object with
// insertion order preserved, errors become *ErrorValue, functions become
// the Opaque marker. Cyclic values are rejected.
func (c *Context) Dump(h *Handle) (any, error) {
	return c.dump(h, make(map[uint32]bool))
}

func (c *Context) dump(h *Handle, onPath map[uint32]bool) (any, error) {
	tag, err := c.rt.callRaw(expTypeOf, uint64(c.ptr), h.raw())
	if err != nil {
		return nil, err
	}

	switch int32(tag) {
	case typeTagUndefined:
		return Undefined, nil
	case typeTagNull:
		return nil, nil
	case typeTagBool:
		res, err := c.rt.callRaw(expToBool, uint64(c.ptr), h.raw())
		if err != nil {
			return nil, err
		}
		return res != 0, nil
	case typeTagNumber:
		res, err := c.rt.callRaw(expToFloat64, uint64(c.ptr), h.raw())
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(res), nil
	case typeTagString:
		return c.dumpString(h)
	case typeTagFunction:
		return Opaque, nil
	case typeTagObject:
		if onPath[h.ptr] {
			return nil, errors.InvalidInput(errors.PhaseMarshal, "cannot dump cyclic value")
		}
		onPath[h.ptr] = true
		defer delete(onPath, h.ptr)
		return c.dumpObject(h, onPath)
	}
	return nil, errors.Engine("unknown type tag", nil)
}

func (c *Context) dumpString(h *Handle) (string, error) {
	out, release, err := c.rt.scratch(4)
	if err != nil {
		return "", err
	}
	defer release()

	strPtr, err := c.rt.callRaw(expToCString, uint64(c.ptr), h.raw(), uint64(out))
	if err != nil {
		return "", err
	}
	if strPtr == 0 {
		return "", errors.Engine("string conversion failed", nil)
	}
	defer func() {
		_, _ = c.rt.callRaw(expFreeCString, uint64(c.ptr), strPtr)
	}()

	length, err := c.rt.readU32(out)
	if err != nil {
		return "", err
	}
	return c.rt.readString(uint32(strPtr), length)
}

func (c *Context) dumpObject(h *Handle, onPath map[uint32]bool) (any, error) {
	isErr, err := c.rt.callRaw(expIsError, uint64(c.ptr), h.raw())
	if err != nil {
		return nil, err
	}
	if isErr != 0 {
		return c.dumpError(h)
	}

	isArr, err := c.rt.callRaw(expIsArray, uint64(c.ptr), h.raw())
	if err != nil {
		return nil, err
	}
	if isArr != 0 {
		return c.dumpArray(h, onPath)
	}

	keysHandle, err := c.rt.callRaw(expOwnKeys, uint64(c.ptr), h.raw())
	if err != nil {
		return nil, err
	}
	keys := c.wrap(uint32(keysHandle))
	defer keys.Free()

	n, err := c.arrayLength(keys)
	if err != nil {
		return nil, err
	}

	obj := NewObjectValue()
	for i := uint32(0); i < n; i++ {
		keyHandle, err := c.GetIndex(keys, i)
		if err != nil {
			return nil, err
		}
		key, err := c.dumpString(keyHandle)
		keyHandle.Free()
		if err != nil {
			return nil, err
		}

		valHandle, err := c.GetProp(h, key)
		if err != nil {
			return nil, err
		}
		val, err := c.dump(valHandle, onPath)
		valHandle.Free()
		if err != nil {
			return nil, err
		}
		obj.Set(key, val)
	}
	return obj, nil
}

func (c *Context) dumpArray(h *Handle, onPath map[uint32]bool) (any, error) {
	n, err := c.arrayLength(h)
	if err != nil {
		return nil, err
	}
	items := make([]any, 0, n)
	for i := uint32(0); i < n; i++ {
		elem, err := c.GetIndex(h, i)
		if err != nil {
			return nil, err
		}
		v, err := c.dump(elem, onPath)
		elem.Free()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

func (c *Context) dumpError(h *Handle) (any, error) {
	name, err := c.dumpStringProp(h, "name")
	if err != nil {
		return nil, err
	}
	message, err := c.dumpStringProp(h, "message")
	if err != nil {
		return nil, err
	}
	return &ErrorValue{Name: name, Message: message}, nil
}

func (c *Context) dumpStringProp(h *Handle, key string) (string, error) {
	prop, err := c.GetProp(h, key)
	if err != nil {
		return "", err
	}
	defer prop.Free()

	tag, err := c.rt.callRaw(expTypeOf, uint64(c.ptr), prop.raw())
	if err != nil {
		return "", err
	}
	if int32(tag) != typeTagString {
		return "", nil
	}
	return c.dumpString(prop)
}

func (c *Context) arrayLength(h *Handle) (uint32, error) {
	lh, err := c.GetProp(h, "length")
	if err != nil {
		return 0, err
	}
	defer lh.Free()
	res, err := c.rt.callRaw(expToFloat64, uint64(c.ptr), lh.raw())
	if err != nil {
		return 0, err
	}
	return uint32(math.Float64frombits(res)), nil
}

// guestError converts a thrown guest value into a structured error.
func guestError(phase errors.Phase, c *Context, h *Handle) error {
	dumped, err := c.Dump(h)
	if err != nil {
		return errors.New(phase, errors.KindGuestException).
			Detail("guest threw; exception could not be dumped").Cause(err).Build()
	}
	if ev, ok := dumped.(*ErrorValue); ok {
		ge := errors.GuestException(phase, ev.Name, ev.Message)
		ge.Value = ev
		return ge
	}
	ge := errors.New(phase, errors.KindGuestException).
		Detail("%s", formatDumped(dumped)).Build()
	ge.Value = dumped
	return ge
}
