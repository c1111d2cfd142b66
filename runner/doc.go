// Package runner evaluates WebAssembly-backed scalar UDFs over Arrow
// records.
//
// [Load] compiles a guest module once and returns a [udf.Runner] using one
// of two marshalling strategies, chosen by [udf.Spec.Arrow]:
//
//   - [RowWiseRunner] calls the target export once per row. Fixed-width
//     values travel as wasm scalars; strings are copied into guest memory
//     with a NUL terminator and passed as an [abi.Pointer].
//   - [BatchRunner] serializes every input column as an Arrow IPC stream,
//     calls the export once with one pointer per column and decodes the IPC
//     stream it returns.
//
// Both strategies produce the same single-column record for the same
// input. Every Run instantiates its own sandbox and closes it before
// returning, so one runner may be shared by any number of goroutines.
//
// Guests that take or return memory-backed values must export their linear
// memory and an allocator pair:
//
//	memory                        linear memory
//	wasm_alloc(size i32) i32      returns the offset of a fresh region
//	wasm_free(offset i32)         releases a region
package runner
