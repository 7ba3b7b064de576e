package archive

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Class record binary format, big-endian throughout:
//
//	magic "KCL1"
//	u16 class flags
//	u16 constant pool count, then tagged entries (index 0 is reserved and
//	    not stored, matching the carrier tool's numbering)
//	u16 this-class name index (Utf8)
//	u16 super-class name index (Utf8, 0 = none)
//	u16 field count × { u16 name, u16 desc, u16 flags }
//	u16 method count × { u16 name, u16 desc, u16 flags, u16 maxStack,
//	    u16 maxLocals, u32 code length + bytes, u16 handler count ×
//	    { u16 start, u16 end, u16 handler, u16 catch class (Utf8, 0 = any) } }

const classMagic = "KCL1"

// CPKind tags a constant pool entry. Values follow the classfile
// convention.
type CPKind byte

const (
	CPUtf8      CPKind = 1
	CPInt       CPKind = 3
	CPFloat     CPKind = 4
	CPString    CPKind = 8
	CPClassRef  CPKind = 7
	CPFieldRef  CPKind = 9
	CPMethodRef CPKind = 10
)

// CPEntry is one decoded constant pool entry. String-valued fields are
// resolved from Utf8 entries at decode time; the raw indices do not
// survive decoding.
type CPEntry struct {
	Kind  CPKind
	Int   int32
	Float float64
	Str   string // CPUtf8 value, or the literal for CPString
	Class string // class name for CPClassRef/CPFieldRef/CPMethodRef
	Name  string // member name for CPFieldRef/CPMethodRef
	Desc  string // member descriptor for CPFieldRef/CPMethodRef
}

// Member flags.
const (
	FlagStatic uint16 = 0x0008
	FlagNative uint16 = 0x0100
)

// FieldDef is one raw field definition.
type FieldDef struct {
	Name  string
	Desc  string
	Flags uint16
}

// IsStatic reports whether the field is static.
func (f *FieldDef) IsStatic() bool { return f.Flags&FlagStatic != 0 }

// HandlerDef is one exception table row. Start/End cover [Start, End) in
// code offsets; Catch is the caught class name, empty for catch-any
// (finally) rows. Rows are matched in declaration order.
type HandlerDef struct {
	Start   int
	End     int
	Handler int
	Catch   string
}

// MethodDef is one raw method definition. Native methods carry no code.
type MethodDef struct {
	Name      string
	Desc      string
	Flags     uint16
	MaxStack  int
	MaxLocals int
	Code      []byte
	Handlers  []HandlerDef
}

// IsStatic reports whether the method is static.
func (m *MethodDef) IsStatic() bool { return m.Flags&FlagStatic != 0 }

// IsNative reports whether the method is bridge-implemented.
func (m *MethodDef) IsNative() bool { return m.Flags&FlagNative != 0 }

// ClassRecord is one raw decoded class: structure only, nothing resolved.
type ClassRecord struct {
	Name      string
	SuperName string // empty for the root class
	Flags     uint16
	CP        []CPEntry // index 0 is a zero entry, never referenced
	Fields    []FieldDef
	Methods   []MethodDef
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// recCursor walks a class record byte slice, failing with
// ErrMalformedArchive on any read past the end.
type recCursor struct {
	data []byte
	off  int
}

func (c *recCursor) need(n int) error {
	if c.off+n > len(c.data) {
		return fmt.Errorf("%w: truncated class record at offset %d", ErrMalformedArchive, c.off)
	}
	return nil
}

func (c *recCursor) u16() (int, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(c.data[c.off:])
	c.off += 2
	return int(v), nil
}

func (c *recCursor) u32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(c.data[c.off:])
	c.off += 4
	return v, nil
}

func (c *recCursor) u64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(c.data[c.off:])
	c.off += 8
	return v, nil
}

func (c *recCursor) bytes(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b, nil
}

// rawCPEntry holds an entry before Utf8 index resolution.
type rawCPEntry struct {
	kind       CPKind
	intVal     int32
	floatVal   float64
	utf8       string
	strIndex   int // CPString, CPClassRef
	classIndex int // CPFieldRef/CPMethodRef: Utf8 index of class name
	nameIndex  int
	descIndex  int
}

// DecodeClassRecord parses one .kcl class record.
func DecodeClassRecord(data []byte) (*ClassRecord, error) {
	c := &recCursor{data: data}

	magic, err := c.bytes(4)
	if err != nil {
		return nil, err
	}
	if string(magic) != classMagic {
		return nil, fmt.Errorf("%w: bad class record magic %q", ErrUnsupportedFormat, magic)
	}

	flags, err := c.u16()
	if err != nil {
		return nil, err
	}

	raw, err := decodeConstantPool(c)
	if err != nil {
		return nil, err
	}
	cp, err := resolveConstantPool(raw)
	if err != nil {
		return nil, err
	}

	utf8At := func(index int) (string, error) {
		if index <= 0 || index >= len(cp) || cp[index].Kind != CPUtf8 {
			return "", fmt.Errorf("%w: constant %d is not Utf8", ErrMalformedArchive, index)
		}
		return cp[index].Str, nil
	}

	thisIndex, err := c.u16()
	if err != nil {
		return nil, err
	}
	name, err := utf8At(thisIndex)
	if err != nil {
		return nil, err
	}

	superIndex, err := c.u16()
	if err != nil {
		return nil, err
	}
	superName := ""
	if superIndex != 0 {
		if superName, err = utf8At(superIndex); err != nil {
			return nil, err
		}
	}

	rec := &ClassRecord{
		Name:      name,
		SuperName: superName,
		Flags:     uint16(flags),
		CP:        cp,
	}

	fieldCount, err := c.u16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < fieldCount; i++ {
		nameIdx, err := c.u16()
		if err != nil {
			return nil, err
		}
		descIdx, err := c.u16()
		if err != nil {
			return nil, err
		}
		fflags, err := c.u16()
		if err != nil {
			return nil, err
		}
		fname, err := utf8At(nameIdx)
		if err != nil {
			return nil, err
		}
		fdesc, err := utf8At(descIdx)
		if err != nil {
			return nil, err
		}
		rec.Fields = append(rec.Fields, FieldDef{Name: fname, Desc: fdesc, Flags: uint16(fflags)})
	}

	methodCount, err := c.u16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < methodCount; i++ {
		m, err := decodeMethod(c, utf8At)
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", name, err)
		}
		rec.Methods = append(rec.Methods, *m)
	}

	if c.off != len(c.data) {
		return nil, fmt.Errorf("%w: %d trailing bytes after class %s", ErrMalformedArchive, len(c.data)-c.off, name)
	}
	return rec, nil
}

func decodeConstantPool(c *recCursor) ([]rawCPEntry, error) {
	count, err := c.u16()
	if err != nil {
		return nil, err
	}
	// Entry 0 is reserved.
	raw := make([]rawCPEntry, count+1)
	for i := 1; i <= count; i++ {
		tag, err := c.bytes(1)
		if err != nil {
			return nil, err
		}
		entry := rawCPEntry{kind: CPKind(tag[0])}
		switch entry.kind {
		case CPUtf8:
			n, err := c.u16()
			if err != nil {
				return nil, err
			}
			b, err := c.bytes(n)
			if err != nil {
				return nil, err
			}
			entry.utf8 = string(b)
		case CPInt:
			v, err := c.u32()
			if err != nil {
				return nil, err
			}
			entry.intVal = int32(v)
		case CPFloat:
			v, err := c.u64()
			if err != nil {
				return nil, err
			}
			entry.floatVal = math.Float64frombits(v)
		case CPString, CPClassRef:
			idx, err := c.u16()
			if err != nil {
				return nil, err
			}
			entry.strIndex = idx
		case CPFieldRef, CPMethodRef:
			classIdx, err := c.u16()
			if err != nil {
				return nil, err
			}
			nameIdx, err := c.u16()
			if err != nil {
				return nil, err
			}
			descIdx, err := c.u16()
			if err != nil {
				return nil, err
			}
			entry.classIndex = classIdx
			entry.nameIndex = nameIdx
			entry.descIndex = descIdx
		default:
			return nil, fmt.Errorf("%w: unknown constant tag %d", ErrMalformedArchive, tag[0])
		}
		raw[i] = entry
	}
	return raw, nil
}

func resolveConstantPool(raw []rawCPEntry) ([]CPEntry, error) {
	utf8At := func(index int) (string, error) {
		if index <= 0 || index >= len(raw) || raw[index].kind != CPUtf8 {
			return "", fmt.Errorf("%w: constant %d is not Utf8", ErrMalformedArchive, index)
		}
		return raw[index].utf8, nil
	}

	cp := make([]CPEntry, len(raw))
	for i := 1; i < len(raw); i++ {
		r := raw[i]
		entry := CPEntry{Kind: r.kind}
		var err error
		switch r.kind {
		case CPUtf8:
			entry.Str = r.utf8
		case CPInt:
			entry.Int = r.intVal
		case CPFloat:
			entry.Float = r.floatVal
		case CPString:
			if entry.Str, err = utf8At(r.strIndex); err != nil {
				return nil, err
			}
		case CPClassRef:
			if entry.Class, err = utf8At(r.strIndex); err != nil {
				return nil, err
			}
		case CPFieldRef, CPMethodRef:
			if entry.Class, err = utf8At(r.classIndex); err != nil {
				return nil, err
			}
			if entry.Name, err = utf8At(r.nameIndex); err != nil {
				return nil, err
			}
			if entry.Desc, err = utf8At(r.descIndex); err != nil {
				return nil, err
			}
		}
		cp[i] = entry
	}
	return cp, nil
}

func decodeMethod(c *recCursor, utf8At func(int) (string, error)) (*MethodDef, error) {
	nameIdx, err := c.u16()
	if err != nil {
		return nil, err
	}
	descIdx, err := c.u16()
	if err != nil {
		return nil, err
	}
	flags, err := c.u16()
	if err != nil {
		return nil, err
	}
	maxStack, err := c.u16()
	if err != nil {
		return nil, err
	}
	maxLocals, err := c.u16()
	if err != nil {
		return nil, err
	}
	codeLen, err := c.u32()
	if err != nil {
		return nil, err
	}
	code, err := c.bytes(int(codeLen))
	if err != nil {
		return nil, err
	}

	name, err := utf8At(nameIdx)
	if err != nil {
		return nil, err
	}
	desc, err := utf8At(descIdx)
	if err != nil {
		return nil, err
	}

	m := &MethodDef{
		Name:      name,
		Desc:      desc,
		Flags:     uint16(flags),
		MaxStack:  maxStack,
		MaxLocals: maxLocals,
	}
	if codeLen > 0 {
		m.Code = make([]byte, codeLen)
		copy(m.Code, code)
	}

	handlerCount, err := c.u16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < handlerCount; i++ {
		start, err := c.u16()
		if err != nil {
			return nil, err
		}
		end, err := c.u16()
		if err != nil {
			return nil, err
		}
		handler, err := c.u16()
		if err != nil {
			return nil, err
		}
		catchIdx, err := c.u16()
		if err != nil {
			return nil, err
		}
		catch := ""
		if catchIdx != 0 {
			if catch, err = utf8At(catchIdx); err != nil {
				return nil, err
			}
		}
		m.Handlers = append(m.Handlers, HandlerDef{Start: start, End: end, Handler: handler, Catch: catch})
	}
	return m, nil
}
