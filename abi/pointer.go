package abi

import "fmt"

// Pointer locates a byte range in a sandbox's linear memory. The length is
// packed into the high 32 bits and the offset into the low 32 bits, so a
// range fits in a single i64 argument or result.
type Pointer uint64

// NewPointer packs offset and length.
func NewPointer(offset, length uint32) Pointer {
	return Pointer(uint64(length)<<32 | uint64(offset))
}

// Offset is the start of the range.
func (p Pointer) Offset() uint32 {
	return uint32(p)
}

// Length is the size of the range in bytes.
func (p Pointer) Length() uint32 {
	return uint32(p >> 32)
}

// IsEmpty reports a zero length. Guests return an empty pointer to signal
// failure; it never denotes a valid empty answer.
func (p Pointer) IsEmpty() bool {
	return p.Length() == 0
}

func (p Pointer) String() string {
	return fmt.Sprintf("%d+%d", p.Offset(), p.Length())
}
