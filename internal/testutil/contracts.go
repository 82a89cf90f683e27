package testutil

import (
	"fmt"
	"sort"
	"testing"

	"github.com/bytecodealliance/wasmtime-go/v25"
	"github.com/stretchr/testify/require"
)

// Contract modules in WebAssembly text form. Every module imports only
// what the sandbox provides and exports `memory` and `_start`.
//
// $drain reads stdin to the end through a 4 KiB buffer at offset 1024,
// remembering the first and last byte seen, and returns the byte count.
const prelude = `
  (import "wasi_snapshot_preview1" "fd_read" (func $fd_read (param i32 i32 i32 i32) (result i32)))
  (import "wasi_snapshot_preview1" "fd_write" (func $fd_write (param i32 i32 i32 i32) (result i32)))
  (import "wasi_snapshot_preview1" "environ_sizes_get" (func $environ_sizes_get (param i32 i32) (result i32)))
  (import "wasi_snapshot_preview1" "proc_exit" (func $proc_exit (param i32)))
  (memory (export "memory") 1)
  (global $first (mut i32) (i32.const -1))
  (global $last (mut i32) (i32.const -1))
  (func $drain (result i32)
    (local $total i32) (local $n i32)
    (block $done
      (loop $more
        (i32.store (i32.const 0) (i32.const 1024))
        (i32.store (i32.const 4) (i32.const 4096))
        (if (call $fd_read (i32.const 0) (i32.const 0) (i32.const 1) (i32.const 8))
          (then unreachable))
        (local.set $n (i32.load (i32.const 8)))
        (br_if $done (i32.eqz (local.get $n)))
        (if (i32.eqz (local.get $total))
          (then (global.set $first (i32.load8_u (i32.const 1024)))))
        (global.set $last (i32.load8_u (i32.add (i32.const 1023) (local.get $n))))
        (local.set $total (i32.add (local.get $total) (local.get $n)))
        (br $more)))
    (local.get $total))
`

func module(body string) string {
	return "(module" + prelude + body + ")"
}

var contracts = map[string]string{
	// accept reads its whole input and checks it is a 4-element array.
	"accept": module(`
  (func (export "_start")
    (drop (call $drain))
    (if (i32.ne (global.get $first) (i32.const 0x84)) (then unreachable)))`),

	// reject exits with status 1.
	"reject": module(`
  (func (export "_start")
    (call $proc_exit (i32.const 1)))`),

	// exit-zero exits cleanly before reaching a trap.
	"exit-zero": module(`
  (func (export "_start")
    (call $proc_exit (i32.const 0))
    unreachable)`),

	"unreachable": module(`
  (func (export "_start")
    unreachable)`),

	"divide-by-zero": module(`
  (func (export "_start")
    (drop (i32.div_u (call $drain) (i32.const 0))))`),

	// spin never terminates.
	"spin": module(`
  (func (export "_start")
    (loop $forever (br $forever)))`),

	// require-witness rejects when the private input is null.
	"require-witness": module(`
  (func (export "_start")
    (drop (call $drain))
    (if (i32.eq (global.get $last) (i32.const 0xf6))
      (then (call $proc_exit (i32.const 3)))))`),

	// diagnostics writes to stderr and checks stdout is not available.
	"diagnostics": module(`
  (data (i32.const 2048) "contract says hi\n")
  (func (export "_start")
    (i32.store (i32.const 0) (i32.const 2048))
    (i32.store (i32.const 4) (i32.const 17))
    (if (i32.ne (call $fd_write (i32.const 1) (i32.const 0) (i32.const 1) (i32.const 8)) (i32.const 8))
      (then unreachable))
    (if (call $fd_write (i32.const 2) (i32.const 0) (i32.const 1) (i32.const 8))
      (then unreachable))
    (if (i32.ne (i32.load (i32.const 8)) (i32.const 17))
      (then unreachable)))`),

	// environ requires an empty environment and no extra descriptors.
	"environ": module(`
  (func (export "_start")
    (i32.store (i32.const 16) (i32.const 99))
    (i32.store (i32.const 20) (i32.const 99))
    (if (call $environ_sizes_get (i32.const 16) (i32.const 20))
      (then unreachable))
    (if (i32.or (i32.load (i32.const 16)) (i32.load (i32.const 20)))
      (then unreachable))
    (if (i32.ne (call $fd_read (i32.const 3) (i32.const 0) (i32.const 1) (i32.const 8)) (i32.const 8))
      (then unreachable)))`),

	// bad-pointer hands the host an iovec that runs off the end of memory.
	"bad-pointer": module(`
  (func (export "_start")
    (drop (call $fd_read (i32.const 0) (i32.const 65532) (i32.const 1) (i32.const 8))))`),

	// huge-iovec claims 2^32-1 iovecs near the end of memory.
	"huge-iovec": module(`
  (func (export "_start")
    (drop (call $fd_write (i32.const 2) (i32.const 65528) (i32.const -1) (i32.const 0))))`),

	// relaxed-simd uses an instruction whose result depends on the host.
	"relaxed-simd": module(`
  (func (export "_start")
    (drop (f32x4.relaxed_madd
      (v128.const f32x4 1 1 1 1)
      (v128.const f32x4 2 2 2 2)
      (v128.const f32x4 3 3 3 3))))`),

	"out-of-bounds": module(`
  (func (export "_start")
    (drop (i32.load (i32.const 70000))))`),

	"no-start": module(``),
}

// Burn returns a contract that reads its input and then loops n times.
// Larger n consumes strictly more fuel.
func Burn(n uint32) string {
	return module(fmt.Sprintf(`
  (func (export "_start") (local $i i32)
    (drop (call $drain))
    (loop $again
      (local.set $i (i32.add (local.get $i) (i32.const 1)))
      (br_if $again (i32.lt_u (local.get $i) (i32.const %d)))))`, n))
}

// Contract returns the text of a named contract.
func Contract(name string) (string, bool) {
	wat, ok := contracts[name]
	return wat, ok
}

// ContractNames lists the named contracts in order.
func ContractNames() []string {
	names := make([]string, 0, len(contracts))
	for name := range contracts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Wasm compiles a named contract to a binary.
func Wasm(name string) ([]byte, error) {
	wat, ok := contracts[name]
	if !ok {
		return nil, fmt.Errorf("unknown contract %q", name)
	}
	return wasmtime.Wat2Wasm(wat)
}

// MustWasm compiles a named contract or fails the test.
func MustWasm(t testing.TB, name string) []byte {
	t.Helper()
	bin, err := Wasm(name)
	require.NoError(t, err)
	return bin
}

// MustWat compiles contract text or fails the test.
func MustWat(t testing.TB, wat string) []byte {
	t.Helper()
	bin, err := wasmtime.Wat2Wasm(wat)
	require.NoError(t, err)
	return bin
}
