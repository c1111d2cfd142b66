package wasmtest

// Globals shared by every guest.
const (
	globalHeap  = 0
	globalFreed = 1

	// HeapBase is where the bump allocator starts handing out memory. The
	// bytes below it are scratch space for fixed fixtures.
	HeapBase = 1024

	// BadUTF8Offset holds a single 0xff byte after bad_utf8 runs.
	BadUTF8Offset = 16

	// BadPointer lies far outside the guest's single page of memory.
	BadPointer = int64(16)<<32 | 0xffff0000

	// MillisPerDay is one date64 day.
	MillisPerDay = 86_400_000
)

var (
	none  = []byte{}
	i32   = []byte{I32}
	i64   = []byte{I64}
	i32x2 = []byte{I32, I32}
	i64x2 = []byte{I64, I64}
)

// addAllocator defines memory, the heap globals, a bump allocator and a
// counting free, and returns the allocator's index. exported controls
// whether wasm_alloc and wasm_free are visible to the host.
func addAllocator(b *Builder, exported bool) uint32 {
	b.Memory(1)
	b.ExportMemory("memory")
	b.Global(HeapBase)
	b.Global(0)

	// wasm_alloc(size) -> offset. Grows memory until the new heap top fits
	// and traps when it cannot.
	alloc := b.Func(i32, i32, []byte{I32},
		GlobalGet(globalHeap), LocalSet(1),
		GlobalGet(globalHeap), LocalGet(0), Op(OpI32Add),
		I32Const(7), Op(OpI32Add), I32Const(-8), Op(OpI32And),
		GlobalSet(globalHeap),
		Block(), Loop(),
		GlobalGet(globalHeap), MemorySize(), I32Const(16), Op(OpI32Shl), Op(OpI32LeU),
		BrIf(1),
		I32Const(1), MemoryGrow(), I32Const(-1), Op(OpI32Eq),
		If(), Op(OpUnreachable), End(),
		Br(0),
		End(), End(),
		LocalGet(1),
	)

	// wasm_free(offset) only counts calls; the bump heap never reuses memory.
	free := b.Func(i32, none, nil,
		GlobalGet(globalFreed), I32Const(1), Op(OpI32Add), GlobalSet(globalFreed),
	)

	freed := b.Func(none, i32, nil, GlobalGet(globalFreed))
	b.ExportFunc("freed", freed)

	if exported {
		b.ExportFunc("wasm_alloc", alloc)
		b.ExportFunc("wasm_free", free)
	}
	return alloc
}

// stringLength leaves (len(p) - 1) on the stack for the pointer in local p.
func stringLength(p uint32) []byte {
	var out []byte
	for _, instr := range [][]byte{
		LocalGet(p), I64Const(32), Op(OpI64ShrU), Op(OpI32WrapI64),
		I32Const(1), Op(OpI32Sub),
	} {
		out = append(out, instr...)
	}
	return out
}

// ScalarGuest returns a module implementing row-wise functions:
//
//	add(i32, i32) i32             int32 sum
//	add_i64(i64, i64) i64         int64 sum
//	mul_f32(f32, f32) f32         float32 product
//	mul_f64(f64, f64) f64         float64 product
//	not(i32) i32                  boolean negation
//	next_day(i32) i32             date32 plus one day
//	next_day_ms(i64) i64          date64 plus one day
//	concat(ptr, ptr) ptr          string concatenation
//	echo(ptr) ptr                 returns its argument
//	empty_str(ptr) ptr            returns the empty pointer
//	bad_utf8(ptr) ptr             returns a one byte invalid string
//	bad_ptr(ptr) ptr              returns a pointer out of memory range
//	trap(i32, i32) i32            executes unreachable
//	wrong_kind(i32, i32) i64      wrong result kind for an int32 UDF
//	spin(i32, i32) i32            loops until cancelled
//
// It exports memory, wasm_alloc, wasm_free and freed, which reports how
// many times wasm_free was called.
func ScalarGuest() []byte {
	return scalarGuest(true)
}

// NoAllocGuest is ScalarGuest without the wasm_alloc and wasm_free exports.
func NoAllocGuest() []byte {
	return scalarGuest(false)
}

// AliasedMemoryGuest exports one memory under several names and nothing
// else.
func AliasedMemoryGuest(names ...string) []byte {
	b := NewBuilder()
	b.Memory(1)
	for _, name := range names {
		b.ExportMemory(name)
	}
	return b.Bytes()
}

func scalarGuest(exportAlloc bool) []byte {
	b := NewBuilder()
	alloc := addAllocator(b, exportAlloc)

	b.ExportFunc("add", b.Func(i32x2, i32, nil,
		LocalGet(0), LocalGet(1), Op(OpI32Add)))
	b.ExportFunc("add_i64", b.Func(i64x2, i64, nil,
		LocalGet(0), LocalGet(1), Op(OpI64Add)))
	b.ExportFunc("mul_f32", b.Func([]byte{F32, F32}, []byte{F32}, nil,
		LocalGet(0), LocalGet(1), Op(OpF32Mul)))
	b.ExportFunc("mul_f64", b.Func([]byte{F64, F64}, []byte{F64}, nil,
		LocalGet(0), LocalGet(1), Op(OpF64Mul)))
	b.ExportFunc("not", b.Func(i32, i32, nil,
		LocalGet(0), Op(OpI32Eqz)))
	b.ExportFunc("next_day", b.Func(i32, i32, nil,
		LocalGet(0), I32Const(1), Op(OpI32Add)))
	b.ExportFunc("next_day_ms", b.Func(i64, i64, nil,
		LocalGet(0), I64Const(MillisPerDay), Op(OpI64Add)))

	// Locals: 0 a, 1 b, 2 len(a), 3 len(b), 4 dst.
	b.ExportFunc("concat", b.Func(i64x2, i64, []byte{I32, I32, I32},
		stringLength(0), LocalSet(2),
		stringLength(1), LocalSet(3),
		LocalGet(2), LocalGet(3), Op(OpI32Add), I32Const(1), Op(OpI32Add),
		Call(alloc), LocalSet(4),
		LocalGet(4), LocalGet(0), Op(OpI32WrapI64), LocalGet(2), MemoryCopy(),
		LocalGet(4), LocalGet(2), Op(OpI32Add), LocalGet(1), Op(OpI32WrapI64), LocalGet(3), MemoryCopy(),
		LocalGet(4), LocalGet(2), Op(OpI32Add), LocalGet(3), Op(OpI32Add), I32Const(0), I32Store8(0),
		LocalGet(2), LocalGet(3), Op(OpI32Add), I32Const(1), Op(OpI32Add),
		Op(OpI64ExtendI32U), I64Const(32), Op(OpI64Shl),
		LocalGet(4), Op(OpI64ExtendI32U), Op(OpI64Or),
	))

	b.ExportFunc("echo", b.Func(i64, i64, nil, LocalGet(0)))
	b.ExportFunc("empty_str", b.Func(i64, i64, nil, I64Const(0)))
	b.ExportFunc("bad_utf8", b.Func(i64, i64, nil,
		I32Const(BadUTF8Offset), I32Const(0xff), I32Store8(0),
		I64Const(int64(1)<<32|BadUTF8Offset)))
	b.ExportFunc("bad_ptr", b.Func(i64, i64, nil, I64Const(BadPointer)))
	b.ExportFunc("trap", b.Func(i32x2, i32, nil, Op(OpUnreachable)))
	b.ExportFunc("wrong_kind", b.Func(i32x2, i64, nil, I64Const(1)))
	b.ExportFunc("spin", b.Func(i32x2, i32, nil, Loop(), Br(0), End(), I32Const(0)))

	return b.Bytes()
}

// Batch functions ArrowGuest forwards to the "env" host module. Each takes
// and returns pointers to Arrow IPC streams.
var arrowFuncs = []struct {
	name  string
	arity int
}{
	{"add_arrow", 2},
	{"add_i64_arrow", 2},
	{"add_i8_arrow", 2},
	{"add_i16_arrow", 2},
	{"mul_f32_arrow", 2},
	{"mul_f64_arrow", 2},
	{"next_day_arrow", 1},
	{"next_day_ms_arrow", 1},
	{"concat_arrow", 2},
	{"not_arrow", 1},
	{"split_arrow", 1},
	{"empty_arrow", 1},
	{"garbage_arrow", 1},
	{"wrong_type_arrow", 1},
	{"short_arrow", 1},
}

// ArrowGuest returns a module whose batch functions are thin wrappers over
// host imports, so the batch strategy can be exercised end to end without
// an Arrow implementation inside the guest. Instantiate the host side with
// InstantiateArrowHost before instantiating the guest.
//
//	add_arrow(a, b)         int32 sum, nulls propagate
//	add_i64_arrow(a, b)     int64 sum
//	add_i8_arrow(a, b)      int8 sum, int32 column when a sum overflows
//	add_i16_arrow(a, b)     int16 sum, int32 column when a sum overflows
//	mul_f32_arrow(a, b)     float32 product
//	mul_f64_arrow(a, b)     float64 product
//	next_day_arrow(a)       date32 plus one day
//	next_day_ms_arrow(a)    date64 plus one day
//	concat_arrow(a, b)      string concatenation
//	not_arrow(a)            boolean negation
//	split_arrow(a)          int32 identity, answered in two batches
//	empty_arrow(a)          returns the empty pointer
//	garbage_arrow(a)        returns bytes that are not an IPC stream
//	wrong_type_arrow(a)     returns an int64 column
//	short_arrow(a)          drops the last row
func ArrowGuest() []byte {
	b := NewBuilder()

	imports := make([]uint32, len(arrowFuncs))
	for i, f := range arrowFuncs {
		params := i64
		if f.arity == 2 {
			params = i64x2
		}
		imports[i] = b.Import(HostModule, f.name, params, i64)
	}

	addAllocator(b, true)

	for i, f := range arrowFuncs {
		params := i64
		body := [][]byte{LocalGet(0)}
		if f.arity == 2 {
			params = i64x2
			body = append(body, LocalGet(1))
		}
		body = append(body, Call(imports[i]))
		b.ExportFunc(f.name, b.Func(params, i64, nil, body...))
	}
	return b.Bytes()
}
