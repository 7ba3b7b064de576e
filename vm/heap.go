package vm

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNegativeArraySize indicates an array allocation with length < 0.
	ErrNegativeArraySize = errors.New("negative array size")
	// ErrFieldAccess indicates a field slot outside the class layout.
	ErrFieldAccess = errors.New("field access outside layout")
	// ErrArrayIndex indicates an array access outside [0, length).
	ErrArrayIndex = errors.New("array index out of bounds")
	// ErrNullReference indicates a dereference of the null reference.
	ErrNullReference = errors.New("null reference")
	// errBadHandle indicates a handle that addresses no live object. This
	// is corrupt runtime state, fatal to the process.
	errBadHandle = errors.New("dangling heap handle")
)

type objectKind byte

const (
	kindInstance objectKind = iota
	kindArray
)

// heapObject is one arena slot: an instance with field slots, or an array
// with element storage.
type heapObject struct {
	kind   objectKind
	class  *Class  // instance class; nil for arrays
	elem   TypeTag // array element type
	fields []Value // field slots or array elements
	marked bool
}

// Heap is the object manager: an arena of slots addressed by stable
// handles, reclaimed by stop-the-world mark-sweep. Objects reachable from
// thread frames, static fields or bridge pins survive; everything else is
// eventually swept back onto the free list.
type Heap struct {
	mu    sync.Mutex
	slots []*heapObject
	free  []Handle
	pins  map[Handle]int

	allocsSinceGC int
	gcThreshold   int

	// roots enumerates external roots (thread frames, statics, interned
	// strings). Set once by the VM before execution starts. Must not call
	// back into the heap.
	roots func(mark func(Handle))
}

// defaultGCThreshold is the allocation count between collections.
const defaultGCThreshold = 4096

// NewHeap creates an empty heap.
func NewHeap() *Heap {
	return &Heap{
		slots:       make([]*heapObject, 1), // slot 0 reserved
		pins:        make(map[Handle]int),
		gcThreshold: defaultGCThreshold,
	}
}

// SetRootEnumerator installs the external root walker used by Collect.
func (h *Heap) SetRootEnumerator(roots func(mark func(Handle))) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roots = roots
}

// Allocate creates an instance of the class with all field slots zeroed
// per their declared types.
func (h *Heap) Allocate(c *Class) Handle {
	h.mu.Lock()
	defer h.mu.Unlock()

	fields := make([]Value, c.NumSlots)
	for i, tag := range c.SlotTags {
		fields[i] = tag.Zero()
	}
	return h.place(&heapObject{kind: kindInstance, class: c, fields: fields})
}

// AllocateArray creates an array of the element type. Zero length is
// valid; negative length fails with ErrNegativeArraySize.
func (h *Heap) AllocateArray(elem TypeTag, length int32) (Handle, error) {
	if length < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeArraySize, length)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	elems := make([]Value, length)
	zero := elem.Zero()
	for i := range elems {
		elems[i] = zero
	}
	return h.place(&heapObject{kind: kindArray, elem: elem, fields: elems}), nil
}

// place stores the object in a free slot, collecting first when due.
// Caller holds h.mu.
func (h *Heap) place(obj *heapObject) Handle {
	h.allocsSinceGC++
	if h.allocsSinceGC >= h.gcThreshold {
		h.collectLocked()
	}

	if n := len(h.free); n > 0 {
		handle := h.free[n-1]
		h.free = h.free[:n-1]
		h.slots[handle] = obj
		return handle
	}
	h.slots = append(h.slots, obj)
	return Handle(len(h.slots) - 1)
}

func (h *Heap) object(handle Handle) (*heapObject, error) {
	if handle == 0 || int(handle) >= len(h.slots) || h.slots[handle] == nil {
		return nil, fmt.Errorf("%w: %d", errBadHandle, handle)
	}
	return h.slots[handle], nil
}

// Class returns the class of an instance, or nil for arrays.
func (h *Heap) Class(handle Handle) *Class {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, err := h.object(handle)
	if err != nil {
		return nil
	}
	return obj.class
}

// IsArray reports whether the handle addresses an array.
func (h *Heap) IsArray(handle Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, err := h.object(handle)
	return err == nil && obj.kind == kindArray
}

// ArrayElem returns the element type of an array.
func (h *Heap) ArrayElem(handle Handle) TypeTag {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, err := h.object(handle)
	if err != nil || obj.kind != kindArray {
		return 0
	}
	return obj.elem
}

// GetField reads an instance field slot, bounds-checked against the class
// layout.
func (h *Heap) GetField(handle Handle, slot int) (Value, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, err := h.object(handle)
	if err != nil {
		return Null, err
	}
	if obj.kind != kindInstance || slot < 0 || slot >= len(obj.fields) {
		return Null, fmt.Errorf("%w: slot %d of %s", ErrFieldAccess, slot, obj.describe())
	}
	return obj.fields[slot], nil
}

// SetField writes an instance field slot, bounds-checked.
func (h *Heap) SetField(handle Handle, slot int, v Value) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, err := h.object(handle)
	if err != nil {
		return err
	}
	if obj.kind != kindInstance || slot < 0 || slot >= len(obj.fields) {
		return fmt.Errorf("%w: slot %d of %s", ErrFieldAccess, slot, obj.describe())
	}
	obj.fields[slot] = v
	return nil
}

// ArrayLen returns the length of an array.
func (h *Heap) ArrayLen(handle Handle) (int32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, err := h.object(handle)
	if err != nil {
		return 0, err
	}
	if obj.kind != kindArray {
		return 0, fmt.Errorf("%w: arraylength on %s", ErrFieldAccess, obj.describe())
	}
	return int32(len(obj.fields)), nil
}

// ArrayGet reads one array element.
func (h *Heap) ArrayGet(handle Handle, index int32) (Value, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, err := h.object(handle)
	if err != nil {
		return Null, err
	}
	if obj.kind != kindArray {
		return Null, fmt.Errorf("%w: element read on %s", ErrFieldAccess, obj.describe())
	}
	if index < 0 || int(index) >= len(obj.fields) {
		return Null, fmt.Errorf("%w: %d of length %d", ErrArrayIndex, index, len(obj.fields))
	}
	return obj.fields[index], nil
}

// ArrayPut writes one array element.
func (h *Heap) ArrayPut(handle Handle, index int32, v Value) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, err := h.object(handle)
	if err != nil {
		return err
	}
	if obj.kind != kindArray {
		return fmt.Errorf("%w: element write on %s", ErrFieldAccess, obj.describe())
	}
	if index < 0 || int(index) >= len(obj.fields) {
		return fmt.Errorf("%w: %d of length %d", ErrArrayIndex, index, len(obj.fields))
	}
	obj.fields[index] = v
	return nil
}

func (o *heapObject) describe() string {
	if o.kind == kindArray {
		return fmt.Sprintf("%c[] (length %d)", o.elem, len(o.fields))
	}
	if o.class != nil {
		return o.class.Name
	}
	return "<classless object>"
}

// ---------------------------------------------------------------------------
// Pinning
// ---------------------------------------------------------------------------

// Pin marks the handle as a bridge-held root. Pins nest.
func (h *Heap) Pin(handle Handle) {
	if handle == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pins[handle]++
}

// Unpin releases one pin on the handle.
func (h *Heap) Unpin(handle Handle) {
	if handle == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pins[handle] <= 1 {
		delete(h.pins, handle)
	} else {
		h.pins[handle]--
	}
}

// ---------------------------------------------------------------------------
// Reclamation
// ---------------------------------------------------------------------------

// Collect runs a full mark-sweep cycle.
func (h *Heap) Collect() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.collectLocked()
}

func (h *Heap) collectLocked() {
	h.allocsSinceGC = 0

	for _, obj := range h.slots {
		if obj != nil {
			obj.marked = false
		}
	}

	var stack []Handle
	mark := func(handle Handle) {
		if handle == 0 || int(handle) >= len(h.slots) {
			return
		}
		obj := h.slots[handle]
		if obj == nil || obj.marked {
			return
		}
		obj.marked = true
		stack = append(stack, handle)
	}

	for handle := range h.pins {
		mark(handle)
	}
	if h.roots != nil {
		h.roots(mark)
	}

	for len(stack) > 0 {
		handle := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, v := range h.slots[handle].fields {
			if v.IsRef() {
				mark(v.Ref())
			}
		}
	}

	for i := 1; i < len(h.slots); i++ {
		if h.slots[i] != nil && !h.slots[i].marked {
			h.slots[i] = nil
			h.free = append(h.free, Handle(i))
		}
	}
}

// Live returns the number of live objects. Diagnostic/test helper.
func (h *Heap) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for i := 1; i < len(h.slots); i++ {
		if h.slots[i] != nil {
			n++
		}
	}
	return n
}
