package abi

import (
	"context"
	"fmt"
	"slices"

	"github.com/caffeineduck/wasmudf/udf"
	"github.com/tetratelabs/wazero/api"
)

// Default names of the exports a guest must provide.
const (
	DefaultAllocExport  = "wasm_alloc"
	DefaultFreeExport   = "wasm_free"
	DefaultMemoryExport = "memory"
)

// Exports names the guest's allocator pair and linear memory.
type Exports struct {
	Alloc  string
	Free   string
	Memory string
}

// DefaultExports returns the conventional export names.
func DefaultExports() Exports {
	return Exports{
		Alloc:  DefaultAllocExport,
		Free:   DefaultFreeExport,
		Memory: DefaultMemoryExport,
	}
}

// Allocator signatures: alloc(size i32) -> offset i32, free(offset i32).
var (
	AllocParams  = []api.ValueType{api.ValueTypeI32}
	AllocResults = []api.ValueType{api.ValueTypeI32}
	FreeParams   = []api.ValueType{api.ValueTypeI32}
)

// Bridge moves bytes into and out of one live sandbox. All guest memory is
// obtained from the guest's own allocator; the host never carves regions
// itself. Exports are resolved on first use, so a guest that only takes and
// returns numbers needs neither an allocator nor a memory export.
//
// A Bridge is bound to a single instance and is not safe for concurrent use.
type Bridge struct {
	mod     api.Module
	exports Exports
	alloc   api.Function
	free    api.Function
	memory  api.Memory
	owned   []uint32
}

// NewBridge binds a Bridge to mod.
func NewBridge(mod api.Module, exports Exports) *Bridge {
	return &Bridge{mod: mod, exports: exports}
}

// Memory returns the guest's exported linear memory.
func (b *Bridge) Memory() (api.Memory, error) {
	if b.memory != nil {
		return b.memory, nil
	}
	mem := b.mod.ExportedMemory(b.exports.Memory)
	if mem == nil {
		return nil, udf.ExportNotFound(b.exports.Memory, "memory")
	}
	b.memory = mem
	return mem, nil
}

// Function looks up an exported function and checks its signature.
func Function(mod api.Module, name string, params, results []api.ValueType) (api.Function, error) {
	fn := mod.ExportedFunction(name)
	if fn == nil {
		return nil, udf.ExportNotFound(name, "function")
	}
	if err := CheckSignature(name, fn.Definition(), params, results); err != nil {
		return nil, err
	}
	return fn, nil
}

// CheckSignature reports a TypeMismatch unless the function name defined by
// def has exactly the given parameter and result kinds.
func CheckSignature(name string, def api.FunctionDefinition, params, results []api.ValueType) error {
	if slices.Equal(def.ParamTypes(), params) && slices.Equal(def.ResultTypes(), results) {
		return nil
	}
	return udf.TypeMismatch(name, "signature %s, want %s",
		Signature(def.ParamTypes(), def.ResultTypes()), Signature(params, results))
}

// Allocate asks the guest for a region of at least size bytes and returns
// its offset. The region stays valid until Deallocate is called on it.
func (b *Bridge) Allocate(ctx context.Context, size uint32) (uint32, error) {
	if b.alloc == nil {
		fn, err := Function(b.mod, b.exports.Alloc, AllocParams, AllocResults)
		if err != nil {
			return 0, err
		}
		b.alloc = fn
	}

	results, err := b.alloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, udf.GuestTrap(b.exports.Alloc, err)
	}
	return uint32(results[0]), nil
}

// Deallocate returns a region to the guest allocator.
func (b *Bridge) Deallocate(ctx context.Context, offset uint32) error {
	if b.free == nil {
		fn, err := Function(b.mod, b.exports.Free, FreeParams, nil)
		if err != nil {
			return err
		}
		b.free = fn
	}

	if _, err := b.free.Call(ctx, uint64(offset)); err != nil {
		return udf.GuestTrap(b.exports.Free, err)
	}
	return nil
}

// Write copies data into guest memory at offset.
func (b *Bridge) Write(offset uint32, data []byte) error {
	mem, err := b.Memory()
	if err != nil {
		return err
	}
	if !mem.Write(offset, data) {
		return udf.GuestTrap(b.exports.Memory, fmt.Errorf(
			"region %s out of range of %d byte memory", NewPointer(offset, uint32(len(data))), mem.Size()))
	}
	return nil
}

// WriteBytes allocates a guest region, copies data into it and returns the
// pointer describing it. The region is released by the next Release.
func (b *Bridge) WriteBytes(ctx context.Context, data []byte) (Pointer, error) {
	size := uint32(len(data))
	offset, err := b.Allocate(ctx, size)
	if err != nil {
		return 0, err
	}
	b.owned = append(b.owned, offset)

	if err := b.Write(offset, data); err != nil {
		return 0, err
	}
	return NewPointer(offset, size), nil
}

// Read copies the range p out of guest memory. The copy stays valid after
// the guest frees or reuses the region.
func (b *Bridge) Read(p Pointer) ([]byte, error) {
	mem, err := b.Memory()
	if err != nil {
		return nil, err
	}
	view, ok := mem.Read(p.Offset(), p.Length())
	if !ok {
		return nil, udf.Deserialization(b.exports.Memory, nil,
			"pointer %s out of range of %d byte memory", p, mem.Size())
	}
	return slices.Clone(view), nil
}

// Release deallocates every region obtained through WriteBytes since the
// last Release, in allocation order.
func (b *Bridge) Release(ctx context.Context) error {
	owned := b.owned
	b.owned = b.owned[:0]
	for _, offset := range owned {
		if err := b.Deallocate(ctx, offset); err != nil {
			return err
		}
	}
	return nil
}

// CheckAllocator checks export definitions against the memory and allocator
// contract without instantiating anything.
func CheckAllocator(funcs map[string]api.FunctionDefinition, mems map[string]api.MemoryDefinition, exports Exports) error {
	if _, ok := mems[exports.Memory]; !ok {
		return udf.ExportNotFound(exports.Memory, "memory")
	}
	for _, f := range []struct {
		name            string
		params, results []api.ValueType
	}{
		{exports.Alloc, AllocParams, AllocResults},
		{exports.Free, FreeParams, nil},
	} {
		def, ok := funcs[f.name]
		if !ok {
			return udf.ExportNotFound(f.name, "function")
		}
		if err := CheckSignature(f.name, def, f.params, f.results); err != nil {
			return err
		}
	}
	return nil
}

// Signature formats a function type like "(i32, i32) -> (i64)".
func Signature(params, results []api.ValueType) string {
	return "(" + valueTypeNames(params) + ") -> (" + valueTypeNames(results) + ")"
}

func valueTypeNames(types []api.ValueType) string {
	var s string
	for i, t := range types {
		if i > 0 {
			s += ", "
		}
		s += api.ValueTypeName(t)
	}
	return s
}
