package vm

import (
	"fmt"

	"github.com/sonagi-emu/sonagi/archive"
)

// Method is one linked method: descriptor parsed, bytecode attached, and
// for native methods the bridge function resolved.
type Method struct {
	Owner *Class
	Name  string
	Desc  string
	Flags uint16

	Args []TypeTag // receiver excluded
	Ret  TypeTag

	MaxStack  int
	MaxLocals int
	Code      []byte
	Handlers  []archive.HandlerDef

	// Native is the bridge implementation, nil for bytecode methods.
	Native NativeFunc

	// VSlot is the method's vtable slot, -1 for statics.
	VSlot int
}

// IsStatic reports whether the method dispatches without a receiver.
func (m *Method) IsStatic() bool { return m.Flags&archive.FlagStatic != 0 }

// IsNative reports whether the method is bridge-implemented.
func (m *Method) IsNative() bool { return m.Flags&archive.FlagNative != 0 }

// Key identifies a method within its class: name plus descriptor, so
// overloads stay distinct.
func (m *Method) Key() string { return m.Name + m.Desc }

// QualifiedName is the method's full diagnostic name.
func (m *Method) QualifiedName() string {
	if m.Owner == nil {
		return m.Name + m.Desc
	}
	return m.Owner.Name + "." + m.Name + m.Desc
}

// NumArgSlots returns the local slots consumed by the arguments, plus one
// for the receiver of instance methods.
func (m *Method) NumArgSlots() int {
	n := len(m.Args)
	if !m.IsStatic() {
		n++
	}
	return n
}

// ParseDescriptor splits a method descriptor like "(I[CLjava/lang/String;)V"
// into argument tags and a return tag.
func ParseDescriptor(desc string) (args []TypeTag, ret TypeTag, err error) {
	if len(desc) < 3 || desc[0] != '(' {
		return nil, 0, fmt.Errorf("%w: bad descriptor %q", ErrVerification, desc)
	}

	i := 1
	for i < len(desc) && desc[i] != ')' {
		tag, next, perr := parseTypeAt(desc, i)
		if perr != nil {
			return nil, 0, perr
		}
		args = append(args, tag)
		i = next
	}
	if i >= len(desc) || desc[i] != ')' {
		return nil, 0, fmt.Errorf("%w: unterminated descriptor %q", ErrVerification, desc)
	}

	i++
	if i >= len(desc) {
		return nil, 0, fmt.Errorf("%w: descriptor %q has no return type", ErrVerification, desc)
	}
	if desc[i] == 'V' {
		if i+1 != len(desc) {
			return nil, 0, fmt.Errorf("%w: trailing characters in descriptor %q", ErrVerification, desc)
		}
		return args, TagVoid, nil
	}
	ret, next, err := parseTypeAt(desc, i)
	if err != nil {
		return nil, 0, err
	}
	if next != len(desc) {
		return nil, 0, fmt.Errorf("%w: trailing characters in descriptor %q", ErrVerification, desc)
	}
	return args, ret, nil
}

// ParseFieldDescriptor resolves a field descriptor like "I" or
// "Ljava/lang/String;" to its tag.
func ParseFieldDescriptor(desc string) (TypeTag, error) {
	tag, next, err := parseTypeAt(desc, 0)
	if err != nil {
		return 0, err
	}
	if next != len(desc) {
		return 0, fmt.Errorf("%w: trailing characters in field descriptor %q", ErrVerification, desc)
	}
	return tag, nil
}

// parseTypeAt consumes one type starting at offset i, returning its tag
// and the offset just past it. Array and class names collapse to their
// tag; the runtime does not track element classes.
func parseTypeAt(desc string, i int) (TypeTag, int, error) {
	switch desc[i] {
	case 'I', 'Z', 'B', 'S', 'C', 'F':
		return TypeTag(desc[i]), i + 1, nil
	case 'L':
		end := i + 1
		for end < len(desc) && desc[end] != ';' {
			end++
		}
		if end >= len(desc) {
			return 0, 0, fmt.Errorf("%w: unterminated class type in %q", ErrVerification, desc)
		}
		return TagRef, end + 1, nil
	case '[':
		// Consume the element type, then report the whole thing as array.
		_, next, err := parseTypeAt(desc, i+1)
		if err != nil {
			return 0, 0, err
		}
		return TagArray, next, nil
	default:
		return 0, 0, fmt.Errorf("%w: unknown type character %q in %q", ErrVerification, desc[i], desc)
	}
}

// descriptorClassName extracts the class name from a "Lpkg/Name;" field
// descriptor, or "" when the descriptor is not a plain class type.
func descriptorClassName(desc string) string {
	if len(desc) >= 3 && desc[0] == 'L' && desc[len(desc)-1] == ';' {
		return desc[1 : len(desc)-1]
	}
	return ""
}
