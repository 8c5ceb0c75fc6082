// Package quickjs adapts an embedded QuickJS interpreter, compiled to a
// WebAssembly reactor, behind a stable handle API.
//
// # Architecture
//
// The package provides four main types:
//
//	Engine  - compiles the engine binary once, owns the wazero runtime
//	Runtime - one isolated interpreter instance with its own job queue
//	Context - a realm: global object, value constructors, eval
//	Handle  - a reference-counted host reference to one guest value
//
// # Handle discipline
//
// Every Handle owns exactly one guest reference and must be freed exactly
// once. Dup acquires an additional reference. Handles returned by
// constructors and property reads are caller-owned; handles passed into
// HostFunc callbacks are borrowed from the call frame and must be Dup'd
// to retain. Context singletons (Undefined, Null, True, False, Global)
// are context-owned; freeing them is a no-op.
//
// # Threading
//
// The interpreter is not thread-safe. An Engine and everything derived
// from it are affine to the creating goroutine. Host goroutines hand
// work back to the guest thread with Runtime.EnqueueHostJob; the closure
// runs during the next ExecutePendingJobs drain.
//
// # Engine binary ABI
//
// The engine is a reactor-model core wasm module: the host drives it
// through exported qjs_* functions (see exports.go) and the binary calls
// back through imports in the "cage" namespace for host functions and
// the ES module loader. Guest values are heap-boxed pointers; 0 is the
// exception sentinel, with the pending exception retrieved separately.
package quickjs
