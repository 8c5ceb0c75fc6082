package quickjs

import (
	"fmt"
)

// DebugHandles makes double-free a panic instead of a no-op. Tests set
// it to catch ownership bugs; release builds leave it off.
var DebugHandles = false

// Handle is a host-side reference to a guest value. The guest value is
// reference-counted; every Handle owns one reference and must be freed
// exactly once, either directly or through a managing scope.
type Handle struct {
	ctx    *Context
	ptr    uint32
	alive  bool
	pinned bool // context-owned singleton; Free is a no-op
}

// Alive reports whether the handle still owns its reference.
func (h *Handle) Alive() bool {
	return h != nil && h.alive
}

// Dup acquires an additional reference to the same guest value and
// returns it as a new independently-owned handle.
func (h *Handle) Dup() (*Handle, error) {
	if !h.Alive() {
		return nil, fmt.Errorf("dup of dead handle")
	}
	ptr, err := h.ctx.rt.callRaw(expDupValue, uint64(h.ctx.ptr), uint64(h.ptr))
	if err != nil {
		return nil, err
	}
	return h.ctx.wrap(uint32(ptr)), nil
}

// Free releases the handle's reference. Freeing a pinned singleton is a
// no-op. Freeing twice panics when DebugHandles is set and is otherwise
// ignored.
func (h *Handle) Free() {
	if h == nil || h.pinned {
		return
	}
	if !h.alive {
		if DebugHandles {
			panic(fmt.Sprintf("quickjs: double free of handle %#x", h.ptr))
		}
		return
	}
	h.alive = false
	_, _ = h.ctx.rt.callRaw(expFreeValue, uint64(h.ctx.ptr), uint64(h.ptr))
}

// Dispose implements scope.Disposable.
func (h *Handle) Dispose() { h.Free() }

// Context returns the owning context.
func (h *Handle) Context() *Context { return h.ctx }

// raw returns the guest value pointer for ABI calls.
func (h *Handle) raw() uint64 { return uint64(h.ptr) }
