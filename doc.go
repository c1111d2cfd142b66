// Package wasmudf evaluates scalar user-defined functions compiled to
// WebAssembly over Apache Arrow data.
//
// # Overview
//
// A UDF is a guest export plus a [udf.Spec] declaring its input and output
// types. Every evaluation runs in a fresh wazero sandbox with no filesystem,
// network or host access beyond what the engine is configured with.
//
// # Basic Usage
//
//	spec := udf.Spec{
//	    ExportName:   "concat",
//	    InternalName: "concat",
//	    InputTypes:   []string{"string", "string"},
//	    OutputTypes:  []string{"string"},
//	}
//	r, _ := runner.Load(ctx, spec, wasm)
//	defer r.Close(ctx)
//
//	out, _ := r.Run(ctx, record) // one output column named "concat"
//	defer out.Release()
//
// # Marshalling Strategies
//
// Without Arrow set, the guest is called once per row and values travel as
// wasm scalars or as (offset, length) pointers into guest memory. With
// Arrow set, each input column is handed over as one Arrow IPC stream and
// the guest answers with another.
//
//	spec.Arrow = true
//	r, _ := runner.Load(ctx, spec, wasm,
//	    runner.WithEngineOptions(executor.WithMemoryLimit(executor.MemoryLimit64MB)))
//
// # Sharing an Engine
//
// Compiling is the expensive part. Load many UDFs against one engine to
// share its compilation cache:
//
//	eng, _ := executor.NewEngine(ctx, executor.WithDiskCache())
//	defer eng.Close(ctx)
//	r, _ := runner.Load(ctx, spec, wasm, runner.WithEngine(eng))
//
// See the [udf], [runner], [abi] and [executor] packages for detailed API
// documentation, and cmd/wasmudf for the command line tool.
package wasmudf
