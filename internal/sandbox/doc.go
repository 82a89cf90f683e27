// Package sandbox runs one app contract against one transaction view.
//
// Contracts are WebAssembly modules exporting `_start` and `memory`. The
// only capabilities a contract gets are a minimal subset of WASI
// (wasi_snapshot_preview1):
//
//   - fd_read on fd 0: the canonical CBOR encoding of
//     (app, transaction, public input, private input), nothing else
//   - fd_write on fd 2: diagnostic text, never consulted for correctness
//   - environ_* and args_*: always empty
//   - proc_exit: a nonzero code rejects the transaction
//
// There is no filesystem, network, clock or randomness. Every run gets a
// fresh store, linker and I/O buffers; nothing survives between runs and
// concurrent runs share no mutable state. The only shared resource is the
// compiled engine configuration, which is immutable after New.
//
// # Metering
//
// With metering on, every run starts with a fixed fuel budget. Exhausting
// it aborts with ResourceExhausted; on success the reported cost is
// budget minus remaining fuel. With metering off the cost is always zero
// and execution is unbounded. There is no wall-clock timeout: it would
// make verifiers disagree.
//
// # Outcomes
//
//   - proc_exit(0) or returning from _start: accepted
//   - proc_exit(n != 0), unreachable, integer traps, stack overflow: ContractRejected
//   - fuel exhausted: ResourceExhausted
//   - binary hash != app VK: IntegrityError (nothing is executed)
//   - anything else (bad pointers passed to the host, memory or table
//     faults, modules that fail to compile or link): HostFault
package sandbox
