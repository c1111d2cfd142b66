// Package executor compiles guest WebAssembly modules and creates the
// isolated sandboxes they run in.
//
// # Overview
//
// An [Engine] wraps a wazero runtime. Modules are compiled once per Engine
// and cached by content; every [Module.Instantiate] produces a fresh,
// anonymous [Instance] with its own linear memory, so instances never share
// state and any number may run concurrently.
//
// # Basic Usage
//
//	eng, err := executor.NewEngine(ctx, executor.WithMemoryLimit(executor.MemoryLimit64MB))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	mod, err := eng.Compile(ctx, wasm)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mod.Close(ctx)
//
//	inst, err := mod.Instantiate(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
// # Ownership
//
// The Engine is reference counted. Each Module holds a reference, so the
// caller may Close its own reference as soon as it has compiled what it
// needs; the runtime stays alive until the last Module is closed.
//
// # Capabilities
//
// Guests get WASI preview1 with inherited stdio and args and no filesystem
// mounts. Host modules a guest imports can be instantiated on
// [Engine.Runtime] before the guest is compiled.
package executor
