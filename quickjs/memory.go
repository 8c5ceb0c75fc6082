package quickjs

import (
	"github.com/wippyai/jscage/errors"
)

// writeBytes copies data into guest memory allocated with the engine's
// malloc. The caller must release the returned pointer with freeBytes.
func (r *Runtime) writeBytes(data []byte) (uint32, error) {
	if len(data) == 0 {
		// malloc(0) is legal but pointless; the ABI treats (0, 0) as empty.
		return 0, nil
	}
	ptr, err := r.callRaw(expMalloc, uint64(len(data)))
	if err != nil {
		return 0, err
	}
	if ptr == 0 {
		return 0, errors.Allocation(uint32(len(data)))
	}
	if !r.memory().Write(uint32(ptr), data) {
		_, _ = r.callRaw(expFree, ptr)
		return 0, errors.Engine("write guest memory", nil)
	}
	return uint32(ptr), nil
}

func (r *Runtime) writeString(s string) (uint32, uint32, error) {
	ptr, err := r.writeBytes([]byte(s))
	return ptr, uint32(len(s)), err
}

func (r *Runtime) freeBytes(ptr uint32) {
	if ptr != 0 {
		_, _ = r.callRaw(expFree, uint64(ptr))
	}
}

// readString copies len bytes at ptr out of guest memory.
func (r *Runtime) readString(ptr, length uint32) (string, error) {
	if length == 0 {
		return "", nil
	}
	data, ok := r.memory().Read(ptr, length)
	if !ok {
		return "", errors.Engine("read guest memory", nil)
	}
	return string(data), nil
}

// readU32 reads a little-endian u32 from guest memory.
func (r *Runtime) readU32(ptr uint32) (uint32, error) {
	v, ok := r.memory().ReadUint32Le(ptr)
	if !ok {
		return 0, errors.Engine("read guest memory", nil)
	}
	return v, nil
}

// scratch allocates n bytes of guest memory for out-parameters.
func (r *Runtime) scratch(n uint32) (uint32, func(), error) {
	ptr, err := r.callRaw(expMalloc, uint64(n))
	if err != nil {
		return 0, nil, err
	}
	if ptr == 0 {
		return 0, nil, errors.Allocation(n)
	}
	return uint32(ptr), func() { r.freeBytes(uint32(ptr)) }, nil
}
