package vm

import (
	"errors"
	"testing"
)

func testClass(name string, tags ...TypeTag) *Class {
	return &Class{Name: name, SlotTags: tags, NumSlots: len(tags)}
}

func TestAllocateZeroesFields(t *testing.T) {
	h := NewHeap()
	c := testClass("X", TagInt, TagRef, TagFloat)

	obj := h.Allocate(c)
	if obj == 0 {
		t.Fatal("Allocate returned the reserved handle")
	}

	v, err := h.GetField(obj, 0)
	if err != nil || !v.IsInt() || v.Int() != 0 {
		t.Errorf("int slot should start at 0, got %v (%v)", v, err)
	}
	v, _ = h.GetField(obj, 1)
	if !v.IsNull() {
		t.Errorf("ref slot should start null")
	}
	v, _ = h.GetField(obj, 2)
	if !v.IsFloat() || v.Float() != 0 {
		t.Errorf("float slot should start at 0.0")
	}
}

func TestFieldAccessBounds(t *testing.T) {
	h := NewHeap()
	obj := h.Allocate(testClass("X", TagInt))

	if err := h.SetField(obj, 0, FromInt(7)); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	v, err := h.GetField(obj, 0)
	if err != nil || v.Int() != 7 {
		t.Fatalf("GetField = %v, %v", v, err)
	}

	if _, err := h.GetField(obj, 1); !errors.Is(err, ErrFieldAccess) {
		t.Errorf("out-of-layout read should fail with ErrFieldAccess, got %v", err)
	}
	if err := h.SetField(obj, -1, FromInt(0)); !errors.Is(err, ErrFieldAccess) {
		t.Errorf("negative slot write should fail with ErrFieldAccess, got %v", err)
	}
}

func TestAllocateArray(t *testing.T) {
	h := NewHeap()

	arr, err := h.AllocateArray(TagInt, 3)
	if err != nil {
		t.Fatalf("AllocateArray: %v", err)
	}
	if !h.IsArray(arr) {
		t.Error("IsArray should be true")
	}
	if h.ArrayElem(arr) != TagInt {
		t.Error("element type lost")
	}
	n, err := h.ArrayLen(arr)
	if err != nil || n != 3 {
		t.Errorf("ArrayLen = %d, %v", n, err)
	}
	v, err := h.ArrayGet(arr, 0)
	if err != nil || !v.IsInt() || v.Int() != 0 {
		t.Errorf("elements should start zeroed, got %v", v)
	}
}

func TestAllocateArrayZeroLength(t *testing.T) {
	h := NewHeap()
	arr, err := h.AllocateArray(TagRef, 0)
	if err != nil {
		t.Fatalf("zero-length allocation should succeed: %v", err)
	}
	n, err := h.ArrayLen(arr)
	if err != nil || n != 0 {
		t.Errorf("ArrayLen = %d, %v", n, err)
	}
}

func TestAllocateArrayNegative(t *testing.T) {
	h := NewHeap()
	if _, err := h.AllocateArray(TagInt, -1); !errors.Is(err, ErrNegativeArraySize) {
		t.Errorf("want ErrNegativeArraySize, got %v", err)
	}
}

func TestArrayIndexBounds(t *testing.T) {
	h := NewHeap()
	arr, _ := h.AllocateArray(TagInt, 2)

	if _, err := h.ArrayGet(arr, -1); !errors.Is(err, ErrArrayIndex) {
		t.Errorf("negative index: want ErrArrayIndex, got %v", err)
	}
	if _, err := h.ArrayGet(arr, 2); !errors.Is(err, ErrArrayIndex) {
		t.Errorf("index == length: want ErrArrayIndex, got %v", err)
	}
	if err := h.ArrayPut(arr, 2, FromInt(1)); !errors.Is(err, ErrArrayIndex) {
		t.Errorf("put past end: want ErrArrayIndex, got %v", err)
	}
}

func TestArrayOpsOnInstance(t *testing.T) {
	h := NewHeap()
	obj := h.Allocate(testClass("X", TagInt))

	if _, err := h.ArrayLen(obj); !errors.Is(err, ErrFieldAccess) {
		t.Errorf("arraylength on instance: got %v", err)
	}
	if _, err := h.ArrayGet(obj, 0); !errors.Is(err, ErrFieldAccess) {
		t.Errorf("element read on instance: got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Reclamation
// ---------------------------------------------------------------------------

func TestCollectSweepsUnreachable(t *testing.T) {
	h := NewHeap()
	c := testClass("X", TagRef)

	root := h.Allocate(c)
	child := h.Allocate(c)
	garbage := h.Allocate(c)
	if err := h.SetField(root, 0, FromRef(child)); err != nil {
		t.Fatal(err)
	}

	h.SetRootEnumerator(func(mark func(Handle)) { mark(root) })
	h.Collect()

	if h.Live() != 2 {
		t.Fatalf("Live = %d, want 2 (root + child)", h.Live())
	}
	if _, err := h.GetField(root, 0); err != nil {
		t.Errorf("root should survive: %v", err)
	}
	if _, err := h.GetField(child, 0); err != nil {
		t.Errorf("field-reachable object should survive: %v", err)
	}
	if _, err := h.GetField(garbage, 0); err == nil {
		t.Error("unreachable object should be swept")
	}
}

func TestCollectTracesArrays(t *testing.T) {
	h := NewHeap()
	c := testClass("X", TagInt)

	arr, _ := h.AllocateArray(TagRef, 1)
	held := h.Allocate(c)
	if err := h.ArrayPut(arr, 0, FromRef(held)); err != nil {
		t.Fatal(err)
	}

	h.SetRootEnumerator(func(mark func(Handle)) { mark(arr) })
	h.Collect()

	if _, err := h.ArrayGet(arr, 0); err != nil {
		t.Errorf("rooted array should survive: %v", err)
	}
	if _, err := h.GetField(held, 0); err != nil {
		t.Errorf("array-held object should survive: %v", err)
	}
}

func TestPinNesting(t *testing.T) {
	h := NewHeap()
	obj := h.Allocate(testClass("X"))

	h.Pin(obj)
	h.Pin(obj)
	h.Unpin(obj)
	h.Collect()
	if h.Live() != 1 {
		t.Fatal("object with one remaining pin should survive")
	}

	h.Unpin(obj)
	h.Collect()
	if h.Live() != 0 {
		t.Fatal("fully unpinned object should be swept")
	}
}

func TestFreeSlotReuse(t *testing.T) {
	h := NewHeap()
	c := testClass("X")

	first := h.Allocate(c)
	h.Collect() // no roots, everything goes

	second := h.Allocate(c)
	if second != first {
		t.Errorf("freed slot should be reused: first=%d second=%d", first, second)
	}
}

// ---------------------------------------------------------------------------
// Collection during construction
// ---------------------------------------------------------------------------

// eagerRig builds a VM whose heap collects before every allocation, so an
// intermediate left unrooted during multi-step construction gets swept.
func eagerRig(t *testing.T) *testRig {
	t.Helper()
	rig := buildVM(t, "App", newClass("App", classObject).record())
	rig.vm.heap.gcThreshold = 1
	return rig
}

func TestStringConstructionSurvivesEagerCollection(t *testing.T) {
	rig := eagerRig(t)

	h, err := rig.vm.newString("비 rain")
	if err != nil {
		t.Fatalf("newString: %v", err)
	}
	got, err := rig.vm.goString(h)
	if err != nil {
		t.Fatalf("goString: %v", err)
	}
	if got != "비 rain" {
		t.Errorf("round trip = %q", got)
	}
}

func TestThrowableConstructionSurvivesEagerCollection(t *testing.T) {
	rig := eagerRig(t)

	h, err := rig.vm.newThrowable(classArithmetic, "division by zero")
	if err != nil {
		t.Fatalf("newThrowable: %v", err)
	}
	if got := rig.vm.throwableMessage(h); got != "division by zero" {
		t.Errorf("message = %q", got)
	}
}

func TestImageConstructionSurvivesEagerCollection(t *testing.T) {
	rig := eagerRig(t)

	img, err := rig.vm.newImage("img/hero.png", 12, 34)
	if err != nil {
		t.Fatalf("newImage: %v", err)
	}
	ctx := &NativeCtx{VM: rig.vm}
	name, err := ctx.Field(img, "name")
	if err != nil {
		t.Fatal(err)
	}
	s, err := rig.vm.goString(name.Ref())
	if err != nil || s != "img/hero.png" {
		t.Errorf("name = %q, %v", s, err)
	}
	w, err := ctx.Field(img, "width")
	if err != nil || w.Int() != 12 {
		t.Errorf("width = %v, %v", w, err)
	}
}

func TestConstructionLeavesNoPins(t *testing.T) {
	rig := eagerRig(t)

	if _, err := rig.vm.newThrowable(classArithmetic, "boom"); err != nil {
		t.Fatal(err)
	}
	rig.vm.heap.Collect()
	if n := len(rig.vm.heap.pins); n != 0 {
		t.Errorf("construction helpers leaked %d pins", n)
	}
}
