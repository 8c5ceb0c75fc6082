// Package jscage executes untrusted JavaScript inside an embedded
// QuickJS interpreter and projects host capabilities into the guest
// through an extensible module surface.
//
// # Architecture Overview
//
// The library is organized into packages with distinct responsibilities:
//
//	jscage/            Root package (this documentation)
//	├── cage/          Evaluation orchestrator and module authoring contract
//	├── quickjs/       Engine adapter: wazero-hosted QuickJS reactor binary
//	├── scope/         Stack-discipline ownership of handles and resources
//	├── marshal/       Host/guest value conversion and promise bridging
//	├── hostobj/       Integer-keyed host object tables for guest receivers
//	├── errors/        Structured Phase/Kind error types
//	├── modules/       Capability modules: console, timers, fetch, crypto,
//	│                  encoding, url, blob, esm
//	└── cmd/run/       Demo CLI with an interactive REPL
//
// # Quick Start
//
//	c, err := cage.NewFromEnginePath(ctx, "qjs.wasm")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close(ctx)
//
//	cons := console.New()
//	result := c.RunCode(ctx, `console.log("hello")`, []cage.Module{cons})
//	if !result.OK() {
//	    log.Fatal(result.Err)
//	}
//	fmt.Println(cons.Messages()) // [hello]
//
// # Lifetime Model
//
// Guest values are reference-counted handles. Every evaluation opens a
// scope that adopts the runtime, the context and every handle created on
// the host side; the scope closes in reverse order on all exit paths, so
// nothing outlives RunCode. Modules doing asynchronous host work
// register keep-alives, and RunCode pumps the guest job queue until all
// of them settle.
//
// # Thread Safety
//
// A Cage's engine is affine to the creating goroutine, and each RunCode
// runs entirely on its caller. Host async work lands back on the guest
// thread through the runtime's host job queue. Independent Cage
// instances share no state.
package jscage
