// Package vm implements the execution core: the linked class model, the
// handle-addressed heap, the bytecode interpreter with its cooperative
// thread scheduler, the native API bridge, and fault propagation.
package vm

import "math"

// Value represents one operand-stack or field slot using NaN-boxing.
//
// All values are 64-bit words. Floats are stored as native IEEE 754
// doubles; everything else lives in the quiet-NaN space with tag bits:
//   - Int: Quiet NaN + tagInt + 32-bit payload
//   - Ref: Quiet NaN + tagRef + heap handle (0 is never a valid handle)
//   - Null: Quiet NaN + tagSpecial + 0
//   - RetAddr: Quiet NaN + tagRetAddr + bytecode offset (jsr/ret)
//
// The interpreter never lets a mistyped value flow: accessor mismatches
// panic, and the interpreter converts that into a fatal verification
// failure rather than a recoverable branch.
type Value uint64

const (
	nanBits uint64 = 0x7FF8000000000000

	tagMask     uint64 = 0x0007000000000000
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	tagRefBits     uint64 = 0x0001000000000000
	tagIntBits     uint64 = 0x0002000000000000
	tagSpecialBits uint64 = 0x0003000000000000
	tagRetAddrBits uint64 = 0x0004000000000000
)

// Null is the null object reference.
const Null Value = Value(nanBits | tagSpecialBits)

// Handle is a stable reference to a heap slot. Handles are indices, not
// addresses; they survive reclamation cycles. 0 is reserved and invalid.
type Handle uint32

// IsFloat returns true if v is an untagged IEEE 754 double.
func (v Value) IsFloat() bool {
	bits := uint64(v)
	if (bits & 0x7FF0000000000000) != 0x7FF0000000000000 {
		return true // regular float
	}
	if bits&0x000FFFFFFFFFFFFF == 0 {
		return true // +/- Inf
	}
	if (bits & nanBits) != nanBits {
		return true // signaling NaN
	}
	return bits&tagMask == 0 // untagged quiet NaN is a real float NaN
}

// IsInt returns true if v is a tagged 32-bit integer.
func (v Value) IsInt() bool {
	return uint64(v)&(nanBits|tagMask) == nanBits|tagIntBits
}

// IsRef returns true if v is a non-null object reference.
func (v Value) IsRef() bool {
	return uint64(v)&(nanBits|tagMask) == nanBits|tagRefBits
}

// IsNull returns true if v is the null reference.
func (v Value) IsNull() bool {
	return v == Null
}

// IsRetAddr returns true if v is a returnAddress produced by jsr.
func (v Value) IsRetAddr() bool {
	return uint64(v)&(nanBits|tagMask) == nanBits|tagRetAddrBits
}

// Int returns v as an int32. Panics if v is not an integer.
func (v Value) Int() int32 {
	if !v.IsInt() {
		panic("Value.Int: not an integer")
	}
	return int32(uint64(v) & 0xFFFFFFFF)
}

// FromInt creates an integer Value.
func FromInt(n int32) Value {
	return Value(nanBits | tagIntBits | uint64(uint32(n)))
}

// Float returns v as a float64. Panics if v is not a float.
func (v Value) Float() float64 {
	if !v.IsFloat() {
		panic("Value.Float: not a float")
	}
	return math.Float64frombits(uint64(v))
}

// FromFloat creates a float Value.
func FromFloat(f float64) Value {
	v := Value(math.Float64bits(f))
	if !v.IsFloat() {
		// Collapse tagged NaN bit patterns to the canonical quiet NaN.
		return Value(nanBits)
	}
	return v
}

// Ref returns the heap handle. Panics if v is not a reference.
func (v Value) Ref() Handle {
	if !v.IsRef() {
		panic("Value.Ref: not a reference")
	}
	return Handle(uint64(v) & payloadMask)
}

// FromRef creates a reference Value from a heap handle.
func FromRef(h Handle) Value {
	if h == 0 {
		return Null
	}
	return Value(nanBits | tagRefBits | uint64(h))
}

// RetAddr returns the bytecode offset. Panics if v is not a returnAddress.
func (v Value) RetAddr() int {
	if !v.IsRetAddr() {
		panic("Value.RetAddr: not a returnAddress")
	}
	return int(uint64(v) & payloadMask)
}

// FromRetAddr creates a returnAddress Value.
func FromRetAddr(pc int) Value {
	return Value(nanBits | tagRetAddrBits | (uint64(pc) & payloadMask))
}

// TypeTag classifies a declared field, argument or array element type.
// Tags follow descriptor characters; the sub-int tags (boolean, byte,
// short, char) all occupy an int slot at runtime.
type TypeTag byte

const (
	TagInt   TypeTag = 'I'
	TagBool  TypeTag = 'Z'
	TagByte  TypeTag = 'B'
	TagShort TypeTag = 'S'
	TagChar  TypeTag = 'C'
	TagFloat TypeTag = 'F'
	TagRef   TypeTag = 'L'
	TagArray TypeTag = '['
	TagVoid  TypeTag = 'V'
)

// IsIntLike returns true for tags stored as tagged integers.
func (t TypeTag) IsIntLike() bool {
	switch t {
	case TagInt, TagBool, TagByte, TagShort, TagChar:
		return true
	}
	return false
}

// IsRefLike returns true for object and array tags.
func (t TypeTag) IsRefLike() bool {
	return t == TagRef || t == TagArray
}

// Zero returns the default value for a slot of this type.
func (t TypeTag) Zero() Value {
	switch {
	case t.IsIntLike():
		return FromInt(0)
	case t == TagFloat:
		return FromFloat(0)
	default:
		return Null
	}
}
