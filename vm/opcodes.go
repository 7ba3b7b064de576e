package vm

import "fmt"

// Opcode is one instruction byte. Operands follow big-endian in the code
// stream; widths are fixed per opcode.
type Opcode byte

const (
	OpNop  Opcode = 0x00
	OpPop  Opcode = 0x01
	OpDup  Opcode = 0x02
	OpSwap Opcode = 0x03

	OpConstNull Opcode = 0x10
	OpIConst8   Opcode = 0x11 // s8 immediate
	OpIConst32  Opcode = 0x12 // s32 immediate
	OpFConst    Opcode = 0x13 // f64 immediate
	OpLdc       Opcode = 0x14 // u16 constant pool index

	OpLoad  Opcode = 0x20 // u8 local slot
	OpStore Opcode = 0x21 // u8 local slot

	OpIAdd  Opcode = 0x30
	OpISub  Opcode = 0x31
	OpIMul  Opcode = 0x32
	OpIDiv  Opcode = 0x33
	OpIRem  Opcode = 0x34
	OpINeg  Opcode = 0x35
	OpIShl  Opcode = 0x36
	OpIShr  Opcode = 0x37
	OpIUShr Opcode = 0x38
	OpIAnd  Opcode = 0x39
	OpIOr   Opcode = 0x3a
	OpIXor  Opcode = 0x3b

	OpFAdd Opcode = 0x40
	OpFSub Opcode = 0x41
	OpFMul Opcode = 0x42
	OpFDiv Opcode = 0x43
	OpFNeg Opcode = 0x44
	OpFCmp Opcode = 0x45 // pushes -1/0/1
	OpI2F  Opcode = 0x46
	OpF2I  Opcode = 0x47

	OpGoto      Opcode = 0x50 // s16 relative offset
	OpIfICmpEq  Opcode = 0x51
	OpIfICmpNe  Opcode = 0x52
	OpIfICmpLt  Opcode = 0x53
	OpIfICmpGe  Opcode = 0x54
	OpIfICmpGt  Opcode = 0x55
	OpIfICmpLe  Opcode = 0x56
	OpIfEq      Opcode = 0x57
	OpIfNe      Opcode = 0x58
	OpIfNull    Opcode = 0x59
	OpIfNonNull Opcode = 0x5a
	OpJsr       Opcode = 0x5b // s16 offset, pushes returnAddress
	OpRet       Opcode = 0x5c // u8 local slot holding returnAddress

	OpNew         Opcode = 0x60 // u16 cp index (ClassRef)
	OpNewArray    Opcode = 0x61 // u8 element tag character
	OpArrayLength Opcode = 0x62
	OpArrGet      Opcode = 0x63
	OpArrPut      Opcode = 0x64
	OpInstanceOf  Opcode = 0x65 // u16 cp index (ClassRef)

	OpGetField  Opcode = 0x70 // u16 cp index (FieldRef)
	OpPutField  Opcode = 0x71
	OpGetStatic Opcode = 0x72
	OpPutStatic Opcode = 0x73

	OpInvokeVirtual Opcode = 0x80 // u16 cp index (MethodRef)
	OpInvokeStatic  Opcode = 0x81
	OpInvokeSpecial Opcode = 0x82

	OpReturn Opcode = 0x90
	OpRetVal Opcode = 0x91

	OpThrow Opcode = 0xa0
)

// opInfo carries per-opcode metadata for decoding and disassembly.
type opInfo struct {
	name  string
	width int // operand bytes after the opcode
}

var opTable = map[Opcode]opInfo{
	OpNop:  {"nop", 0},
	OpPop:  {"pop", 0},
	OpDup:  {"dup", 0},
	OpSwap: {"swap", 0},

	OpConstNull: {"const_null", 0},
	OpIConst8:   {"iconst8", 1},
	OpIConst32:  {"iconst32", 4},
	OpFConst:    {"fconst", 8},
	OpLdc:       {"ldc", 2},

	OpLoad:  {"load", 1},
	OpStore: {"store", 1},

	OpIAdd:  {"iadd", 0},
	OpISub:  {"isub", 0},
	OpIMul:  {"imul", 0},
	OpIDiv:  {"idiv", 0},
	OpIRem:  {"irem", 0},
	OpINeg:  {"ineg", 0},
	OpIShl:  {"ishl", 0},
	OpIShr:  {"ishr", 0},
	OpIUShr: {"iushr", 0},
	OpIAnd:  {"iand", 0},
	OpIOr:   {"ior", 0},
	OpIXor:  {"ixor", 0},

	OpFAdd: {"fadd", 0},
	OpFSub: {"fsub", 0},
	OpFMul: {"fmul", 0},
	OpFDiv: {"fdiv", 0},
	OpFNeg: {"fneg", 0},
	OpFCmp: {"fcmp", 0},
	OpI2F:  {"i2f", 0},
	OpF2I:  {"f2i", 0},

	OpGoto:      {"goto", 2},
	OpIfICmpEq:  {"if_icmpeq", 2},
	OpIfICmpNe:  {"if_icmpne", 2},
	OpIfICmpLt:  {"if_icmplt", 2},
	OpIfICmpGe:  {"if_icmpge", 2},
	OpIfICmpGt:  {"if_icmpgt", 2},
	OpIfICmpLe:  {"if_icmple", 2},
	OpIfEq:      {"ifeq", 2},
	OpIfNe:      {"ifne", 2},
	OpIfNull:    {"ifnull", 2},
	OpIfNonNull: {"ifnonnull", 2},
	OpJsr:       {"jsr", 2},
	OpRet:       {"ret", 1},

	OpNew:         {"new", 2},
	OpNewArray:    {"newarray", 1},
	OpArrayLength: {"arraylength", 0},
	OpArrGet:      {"arrget", 0},
	OpArrPut:      {"arrput", 0},
	OpInstanceOf:  {"instanceof", 2},

	OpGetField:  {"getfield", 2},
	OpPutField:  {"putfield", 2},
	OpGetStatic: {"getstatic", 2},
	OpPutStatic: {"putstatic", 2},

	OpInvokeVirtual: {"invokevirtual", 2},
	OpInvokeStatic:  {"invokestatic", 2},
	OpInvokeSpecial: {"invokespecial", 2},

	OpReturn: {"return", 0},
	OpRetVal: {"retval", 0},

	OpThrow: {"throw", 0},
}

// String returns the mnemonic for diagnostics.
func (op Opcode) String() string {
	if info, ok := opTable[op]; ok {
		return info.name
	}
	return fmt.Sprintf("op(0x%02x)", byte(op))
}
