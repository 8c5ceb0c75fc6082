// Package cage orchestrates sandboxed script evaluations.
//
// # Evaluation pipeline
//
// RunCode owns the whole lifecycle of one evaluation:
//
//  1. open a scope; create a runtime and context inside it
//  2. call each module's Def in caller order with a fresh ModuleContext
//  3. evaluate the source as an ES module
//  4. drain the guest job queue to quiescence
//  5. run after-script hooks (module order, registration order)
//  6. while keep-alives are pending, pump: drain jobs, yield, repeat
//  7. close the scope, releasing every managed handle in reverse order
//
// Any failure in steps 2-6 short-circuits to teardown; the scope closes
// on every path and the outcome is reported through EvalResult. RunCode
// never panics.
//
// # Module authoring
//
// Modules project host capabilities into the guest through the helpers
// in this package: DefineSandboxFunctionRaw and DefineSandboxFn for
// callables, DefineSandboxObject for nested namespaces, BindReceiver and
// ReceiverValue for guest objects backed by host state. Async modules
// register keep-alives so the evaluation waits for their work, and use
// Completion plus the marshaller to surface results as guest promises.
package cage
