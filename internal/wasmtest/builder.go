// Package wasmtest assembles small WebAssembly guests for tests and
// benchmarks, and provides a shared engine with the host imports they use.
package wasmtest

// Value types.
const (
	I32 byte = 0x7f
	I64 byte = 0x7e
	F32 byte = 0x7d
	F64 byte = 0x7c
)

// Single-byte opcodes used by the guests.
const (
	OpUnreachable   byte = 0x00
	OpDrop          byte = 0x1a
	OpI32Eqz        byte = 0x45
	OpI32Eq         byte = 0x46
	OpI32LeU        byte = 0x4d
	OpI32Add        byte = 0x6a
	OpI32Sub        byte = 0x6b
	OpI32And        byte = 0x71
	OpI32Shl        byte = 0x74
	OpI64Add        byte = 0x7c
	OpI64Or         byte = 0x84
	OpI64Shl        byte = 0x86
	OpI64ShrU       byte = 0x88
	OpF32Mul        byte = 0x94
	OpF64Mul        byte = 0xa2
	OpI32WrapI64    byte = 0xa7
	OpI64ExtendI32U byte = 0xad
)

const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionGlobal   = 6
	sectionExport   = 7
	sectionCode     = 10

	exportFunc   = 0x00
	exportMemory = 0x02
)

// Builder assembles a module binary. Imports must be declared before any
// function is defined, since imported functions come first in the index
// space.
type Builder struct {
	types   [][]byte
	imports []importEntry
	funcs   []funcEntry
	memory  *uint32
	globals []int32
	exports []exportEntry
}

type importEntry struct {
	module, name string
	typeIdx      uint32
}

type funcEntry struct {
	typeIdx uint32
	locals  []byte
	body    []byte
}

type exportEntry struct {
	name string
	kind byte
	idx  uint32
}

// NewBuilder returns an empty module builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) typeIndex(params, results []byte) uint32 {
	enc := []byte{0x60}
	enc = appendVec(enc, params)
	enc = appendVec(enc, results)
	for i, t := range b.types {
		if string(t) == string(enc) {
			return uint32(i)
		}
	}
	b.types = append(b.types, enc)
	return uint32(len(b.types) - 1)
}

// Import declares an imported function and returns its index.
func (b *Builder) Import(module, name string, params, results []byte) uint32 {
	if len(b.funcs) > 0 {
		panic("wasmtest: import declared after function " + module + "." + name)
	}
	b.imports = append(b.imports, importEntry{module: module, name: name, typeIdx: b.typeIndex(params, results)})
	return uint32(len(b.imports) - 1)
}

// Func defines a function and returns its index. The body is the
// concatenation of the given instructions; the closing end is appended.
func (b *Builder) Func(params, results, locals []byte, body ...[]byte) uint32 {
	var code []byte
	for _, instr := range body {
		code = append(code, instr...)
	}
	b.funcs = append(b.funcs, funcEntry{typeIdx: b.typeIndex(params, results), locals: locals, body: code})
	return uint32(len(b.imports) + len(b.funcs) - 1)
}

// Memory declares the module's linear memory with an initial size in pages.
func (b *Builder) Memory(pages uint32) {
	b.memory = &pages
}

// Global declares a mutable i32 global and returns its index.
func (b *Builder) Global(init int32) uint32 {
	b.globals = append(b.globals, init)
	return uint32(len(b.globals) - 1)
}

// ExportFunc exports function idx under name.
func (b *Builder) ExportFunc(name string, idx uint32) {
	b.exports = append(b.exports, exportEntry{name: name, kind: exportFunc, idx: idx})
}

// ExportMemory exports the module's memory under name.
func (b *Builder) ExportMemory(name string) {
	b.exports = append(b.exports, exportEntry{name: name, kind: exportMemory})
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	out := []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}

	if len(b.types) > 0 {
		var s []byte
		s = appendU32(s, uint32(len(b.types)))
		for _, t := range b.types {
			s = append(s, t...)
		}
		out = appendSection(out, sectionType, s)
	}

	if len(b.imports) > 0 {
		var s []byte
		s = appendU32(s, uint32(len(b.imports)))
		for _, imp := range b.imports {
			s = appendName(s, imp.module)
			s = appendName(s, imp.name)
			s = append(s, exportFunc)
			s = appendU32(s, imp.typeIdx)
		}
		out = appendSection(out, sectionImport, s)
	}

	if len(b.funcs) > 0 {
		var s []byte
		s = appendU32(s, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			s = appendU32(s, f.typeIdx)
		}
		out = appendSection(out, sectionFunction, s)
	}

	if b.memory != nil {
		s := []byte{0x01, 0x00}
		s = appendU32(s, *b.memory)
		out = appendSection(out, sectionMemory, s)
	}

	if len(b.globals) > 0 {
		var s []byte
		s = appendU32(s, uint32(len(b.globals)))
		for _, init := range b.globals {
			s = append(s, I32, 0x01)
			s = append(s, I32Const(init)...)
			s = append(s, 0x0b)
		}
		out = appendSection(out, sectionGlobal, s)
	}

	if len(b.exports) > 0 {
		var s []byte
		s = appendU32(s, uint32(len(b.exports)))
		for _, e := range b.exports {
			s = appendName(s, e.name)
			s = append(s, e.kind)
			s = appendU32(s, e.idx)
		}
		out = appendSection(out, sectionExport, s)
	}

	if len(b.funcs) > 0 {
		var s []byte
		s = appendU32(s, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			var body []byte
			body = appendU32(body, uint32(len(f.locals)))
			for _, l := range f.locals {
				body = append(body, 0x01, l)
			}
			body = append(body, f.body...)
			body = append(body, 0x0b)

			s = appendU32(s, uint32(len(body)))
			s = append(s, body...)
		}
		out = appendSection(out, sectionCode, s)
	}

	return out
}

// Op emits raw opcodes.
func Op(codes ...byte) []byte { return codes }

func LocalGet(i uint32) []byte  { return appendU32([]byte{0x20}, i) }
func LocalSet(i uint32) []byte  { return appendU32([]byte{0x21}, i) }
func GlobalGet(i uint32) []byte { return appendU32([]byte{0x23}, i) }
func GlobalSet(i uint32) []byte { return appendU32([]byte{0x24}, i) }
func Call(fn uint32) []byte     { return appendU32([]byte{0x10}, fn) }
func Br(depth uint32) []byte    { return appendU32([]byte{0x0c}, depth) }
func BrIf(depth uint32) []byte  { return appendU32([]byte{0x0d}, depth) }

func I32Const(v int32) []byte { return appendS64([]byte{0x41}, int64(v)) }
func I64Const(v int64) []byte { return appendS64([]byte{0x42}, v) }

// Structured control with an empty block type.
func Block() []byte { return []byte{0x02, 0x40} }
func Loop() []byte  { return []byte{0x03, 0x40} }
func If() []byte    { return []byte{0x04, 0x40} }
func End() []byte   { return []byte{0x0b} }

func MemorySize() []byte { return []byte{0x3f, 0x00} }
func MemoryGrow() []byte { return []byte{0x40, 0x00} }
func MemoryCopy() []byte { return []byte{0xfc, 0x0a, 0x00, 0x00} }

// I32Store8 stores the low byte of a value at address+offset.
func I32Store8(offset uint32) []byte { return appendU32([]byte{0x3a, 0x00}, offset) }

func appendSection(out []byte, id byte, content []byte) []byte {
	out = append(out, id)
	out = appendU32(out, uint32(len(content)))
	return append(out, content...)
}

func appendVec(out, items []byte) []byte {
	out = appendU32(out, uint32(len(items)))
	return append(out, items...)
}

func appendName(out []byte, name string) []byte {
	out = appendU32(out, uint32(len(name)))
	return append(out, name...)
}

func appendU32(out []byte, v uint32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, c|0x80)
			continue
		}
		return append(out, c)
	}
}

func appendS64(out []byte, v int64) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			return append(out, c)
		}
		out = append(out, c|0x80)
	}
}

