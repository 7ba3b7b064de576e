package vm

import (
	"github.com/sonagi-emu/sonagi/archive"
)

// Field is one linked field. Instance fields carry a slot in the object
// layout; static fields carry an index into the owner's Statics.
type Field struct {
	Owner  *Class
	Name   string
	Desc   string
	Tag    TypeTag
	Slot   int
	Static bool
}

// Class is one linked class: superclass resolved, instance layout
// flattened, virtual dispatch table built. Classes are immutable after
// linking; the interpreter reads them without locking.
type Class struct {
	Name  string
	Super *Class
	Flags uint16

	// CP is the class's constant pool, kept for bytecode operand
	// resolution.
	CP []archive.CPEntry

	// SlotTags is the flattened instance layout, superclass slots first.
	SlotTags []TypeTag
	NumSlots int

	// Statics holds this class's own static field values.
	Statics []Value

	fields  map[string]*Field  // name -> field, inherited included
	methods map[string]*Method // name+desc -> own method, statics included
	vtable  []*Method
	vslots  map[string]int // name+desc -> vtable slot
}

// IsSubclassOf reports whether c is other or a descendant of other.
func (c *Class) IsSubclassOf(other *Class) bool {
	for k := c; k != nil; k = k.Super {
		if k == other {
			return true
		}
	}
	return false
}

// FieldByName resolves a field by name, searching the inherited layout.
func (c *Class) FieldByName(name string) (*Field, bool) {
	f, ok := c.fields[name]
	return f, ok
}

// OwnMethod resolves a method declared on this class itself.
func (c *Class) OwnMethod(name, desc string) (*Method, bool) {
	m, ok := c.methods[name+desc]
	return m, ok
}

// LookupMethod resolves a method by name and descriptor, walking the
// superclass chain. This is the non-virtual (invokestatic/invokespecial)
// resolution path.
func (c *Class) LookupMethod(name, desc string) (*Method, bool) {
	for k := c; k != nil; k = k.Super {
		if m, ok := k.methods[name+desc]; ok {
			return m, true
		}
	}
	return nil, false
}

// VSlot resolves a virtual method's vtable slot by name and descriptor.
func (c *Class) VSlot(name, desc string) (int, bool) {
	slot, ok := c.vslots[name+desc]
	return slot, ok
}

// MethodAt returns the vtable entry for a slot. Virtual dispatch is one
// index into the receiver class's table.
func (c *Class) MethodAt(slot int) *Method {
	if slot < 0 || slot >= len(c.vtable) {
		return nil
	}
	return c.vtable[slot]
}

// NumVirtual returns the vtable length. Diagnostic/test helper.
func (c *Class) NumVirtual() int { return len(c.vtable) }
