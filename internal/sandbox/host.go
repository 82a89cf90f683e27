package sandbox

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/bytecodealliance/wasmtime-go/v25"
)

const wasiModule = "wasi_snapshot_preview1"

// WASI errno values.
const (
	errnoSuccess int32 = 0
	errnoBadf    int32 = 8
)

const (
	fdStdin  = 0
	fdStderr = 2
)

// hostState is owned by exactly one run.
type hostState struct {
	stdin  []byte
	stderr bytes.Buffer

	exited   bool
	exitCode int32
	fault    error
}

func (h *hostState) define(linker *wasmtime.Linker) error {
	funcs := []struct {
		name string
		fn   any
	}{
		{"fd_read", h.fdRead},
		{"fd_write", h.fdWrite},
		{"environ_sizes_get", h.sizesGet},
		{"environ_get", h.listGet},
		{"args_sizes_get", h.sizesGet},
		{"args_get", h.listGet},
		{"proc_exit", h.procExit},
	}
	for _, f := range funcs {
		if err := linker.FuncWrap(wasiModule, f.name, f.fn); err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
	}
	return nil
}

// faultf records that the contract handed the host an invalid argument and
// aborts the run.
func (h *hostState) faultf(format string, args ...any) *wasmtime.Trap {
	h.fault = fmt.Errorf(format, args...)
	return wasmtime.NewTrap(h.fault.Error())
}

func (h *hostState) memory(caller *wasmtime.Caller) ([]byte, *wasmtime.Trap) {
	ext := caller.GetExport("memory")
	if ext == nil || ext.Memory() == nil {
		return nil, h.faultf("contract does not export memory")
	}
	return ext.Memory().UnsafeData(caller), nil
}

func region(mem []byte, ptr, size uint32) ([]byte, bool) {
	end := uint64(ptr) + uint64(size)
	if end > uint64(len(mem)) {
		return nil, false
	}
	return mem[ptr:end], true
}

func readU32(mem []byte, ptr uint32) (uint32, bool) {
	b, ok := region(mem, ptr, 4)
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

func writeU32(mem []byte, ptr, v uint32) bool {
	b, ok := region(mem, ptr, 4)
	if !ok {
		return false
	}
	binary.LittleEndian.PutUint32(b, v)
	return true
}

// iovecs resolves a WASI iovec array into memory slices.
func (h *hostState) iovecs(mem []byte, iovs, count uint32) ([][]byte, *wasmtime.Trap) {
	if uint64(iovs)+8*uint64(count) > uint64(len(mem)) {
		return nil, h.faultf("iovec array of %d entries out of bounds", count)
	}
	bufs := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		at := uint64(iovs) + 8*uint64(i)
		ptr, _ := readU32(mem, uint32(at))
		size, _ := readU32(mem, uint32(at+4))
		buf, ok := region(mem, ptr, size)
		if !ok {
			return nil, h.faultf("iovec %d buffer out of bounds", i)
		}
		bufs = append(bufs, buf)
	}
	return bufs, nil
}

func (h *hostState) fdRead(caller *wasmtime.Caller, fd, iovs, iovsLen, nread int32) (int32, *wasmtime.Trap) {
	if fd != fdStdin {
		return errnoBadf, nil
	}
	mem, trap := h.memory(caller)
	if trap != nil {
		return 0, trap
	}
	bufs, trap := h.iovecs(mem, uint32(iovs), uint32(iovsLen))
	if trap != nil {
		return 0, trap
	}

	var total uint32
	for _, buf := range bufs {
		n := copy(buf, h.stdin)
		h.stdin = h.stdin[n:]
		total += uint32(n)
		if n < len(buf) {
			break
		}
	}
	if !writeU32(mem, uint32(nread), total) {
		return 0, h.faultf("nread pointer out of bounds")
	}
	return errnoSuccess, nil
}

func (h *hostState) fdWrite(caller *wasmtime.Caller, fd, iovs, iovsLen, nwritten int32) (int32, *wasmtime.Trap) {
	if fd != fdStderr {
		return errnoBadf, nil
	}
	mem, trap := h.memory(caller)
	if trap != nil {
		return 0, trap
	}
	bufs, trap := h.iovecs(mem, uint32(iovs), uint32(iovsLen))
	if trap != nil {
		return 0, trap
	}

	var total uint32
	for _, buf := range bufs {
		h.stderr.Write(buf)
		total += uint32(len(buf))
	}
	if !writeU32(mem, uint32(nwritten), total) {
		return 0, h.faultf("nwritten pointer out of bounds")
	}
	return errnoSuccess, nil
}

// sizesGet reports zero entries and zero bytes for environ and args.
func (h *hostState) sizesGet(caller *wasmtime.Caller, countPtr, sizePtr int32) (int32, *wasmtime.Trap) {
	mem, trap := h.memory(caller)
	if trap != nil {
		return 0, trap
	}
	if !writeU32(mem, uint32(countPtr), 0) || !writeU32(mem, uint32(sizePtr), 0) {
		return 0, h.faultf("size pointer out of bounds")
	}
	return errnoSuccess, nil
}

func (h *hostState) listGet(_ *wasmtime.Caller, _, _ int32) int32 {
	return errnoSuccess
}

func (h *hostState) procExit(_ *wasmtime.Caller, code int32) *wasmtime.Trap {
	h.exited = true
	h.exitCode = code
	return wasmtime.NewTrap("proc_exit")
}
