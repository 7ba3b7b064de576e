package vm

import (
	"errors"
	"testing"

	"github.com/sonagi-emu/sonagi/archive"
)

func testRegistry(records ...*archive.ClassRecord) *Registry {
	pkg := archive.NewPackage("TestApp", "App", "1.0", records, nil)
	return NewRegistry(pkg, NewBridge())
}

func returnOnly(t *testing.T) []byte {
	return newAsm().op(OpReturn).build(t)
}

func TestResolveIdempotent(t *testing.T) {
	r := testRegistry(
		newClass("A", classObject).
			method("ping", "()V", 0, 1, returnOnly(t)).
			record(),
	)

	first, err := r.Resolve("A")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := r.Resolve("A")
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if first != second {
		t.Error("resolving the same name twice should return the same *Class")
	}
	if r.Linked("A") != first {
		t.Error("Linked should return the resolved class")
	}
}

func TestResolveUnknownClass(t *testing.T) {
	r := testRegistry()
	if _, err := r.Resolve("no/such/Class"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("want ErrClassNotFound, got %v", err)
	}
}

func TestInheritanceChainLinks(t *testing.T) {
	r := testRegistry(
		newClass("A", classObject).
			field("base", "I", 0).
			method("greet", "()V", 0, 1, returnOnly(t)).
			record(),
		newClass("B", "A").
			field("mid", "I", 0).
			record(),
		newClass("C", "B").
			field("leaf", "I", 0).
			record(),
	)

	c, err := r.Resolve("C")
	if err != nil {
		t.Fatalf("Resolve C: %v", err)
	}

	// Superclass layout comes first; each level adds one int slot.
	a := r.Linked("A")
	b := r.Linked("B")
	if a == nil || b == nil {
		t.Fatal("resolving C should have linked its ancestry")
	}
	if c.NumSlots != a.NumSlots+2 {
		t.Errorf("C layout should extend A's by 2 slots, got %d vs %d", c.NumSlots, a.NumSlots)
	}
	base, ok := c.FieldByName("base")
	if !ok {
		t.Fatal("C should inherit base")
	}
	leaf, _ := c.FieldByName("leaf")
	if base.Slot >= leaf.Slot {
		t.Error("inherited slots should precede own slots")
	}

	// Inherited method resolution walks the chain.
	if _, ok := c.LookupMethod("greet", "()V"); !ok {
		t.Error("C should resolve the inherited greet")
	}
	if !c.IsSubclassOf(a) || !c.IsSubclassOf(b) || !c.IsSubclassOf(c) {
		t.Error("IsSubclassOf should hold along the chain and reflexively")
	}
	if a.IsSubclassOf(c) {
		t.Error("superclass is not a subclass")
	}
}

func TestInheritanceChainMissingLink(t *testing.T) {
	// C extends B extends A, but B is absent from the archive.
	r := testRegistry(
		newClass("A", classObject).record(),
		newClass("C", "B").record(),
	)
	if _, err := r.Resolve("C"); !errors.Is(err, ErrClassNotFound) {
		t.Errorf("missing middle class: want ErrClassNotFound, got %v", err)
	}
}

func TestInheritanceCycle(t *testing.T) {
	r := testRegistry(
		newClass("A", "B").record(),
		newClass("B", "A").record(),
	)
	if _, err := r.Resolve("A"); !errors.Is(err, ErrVerification) {
		t.Errorf("cycle: want ErrVerification, got %v", err)
	}
}

func TestVtableOverride(t *testing.T) {
	r := testRegistry(
		newClass("Animal", classObject).
			method("speak", "()I", 0, 1, newAsm().i8(1).op(OpRetVal).build(t)).
			record(),
		newClass("Dog", "Animal").
			method("speak", "()I", 0, 1, newAsm().i8(2).op(OpRetVal).build(t)).
			record(),
	)

	animal, err := r.Resolve("Animal")
	if err != nil {
		t.Fatal(err)
	}
	dog, err := r.Resolve("Dog")
	if err != nil {
		t.Fatal(err)
	}

	slot, ok := animal.VSlot("speak", "()I")
	if !ok {
		t.Fatal("Animal should have a vtable slot for speak")
	}
	dogSlot, ok := dog.VSlot("speak", "()I")
	if !ok || dogSlot != slot {
		t.Fatalf("override should reuse the slot: %d vs %d", dogSlot, slot)
	}
	if dog.MethodAt(slot).Owner != dog {
		t.Error("Dog's vtable entry should be the override")
	}
	if animal.MethodAt(slot).Owner != animal {
		t.Error("Animal's vtable entry should remain its own method")
	}
	if dog.NumVirtual() != animal.NumVirtual() {
		t.Error("an override should not grow the vtable")
	}
}

func TestStaticFieldsOffLayout(t *testing.T) {
	r := testRegistry(
		newClass("A", classObject).
			field("shared", "I", archive.FlagStatic).
			field("own", "I", 0).
			record(),
	)
	c, err := r.Resolve("A")
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Statics) != 1 {
		t.Fatalf("Statics = %d, want 1", len(c.Statics))
	}
	shared, _ := c.FieldByName("shared")
	if !shared.Static || shared.Slot != 0 {
		t.Error("static field should index Statics")
	}
	obj := r.Linked(classObject)
	if c.NumSlots != obj.NumSlots+1 {
		t.Errorf("static field must not consume an instance slot: NumSlots=%d", c.NumSlots)
	}
}

func TestMethodWithoutCode(t *testing.T) {
	r := testRegistry(
		newClass("A", classObject).
			method("empty", "()V", 0, 1, nil).
			record(),
	)
	if _, err := r.Resolve("A"); !errors.Is(err, ErrVerification) {
		t.Errorf("codeless bytecode method: want ErrVerification, got %v", err)
	}
}

func TestBadFieldDescriptor(t *testing.T) {
	r := testRegistry(
		newClass("A", classObject).
			field("bad", "Q", 0).
			record(),
	)
	if _, err := r.Resolve("A"); !errors.Is(err, ErrVerification) {
		t.Errorf("bad descriptor: want ErrVerification, got %v", err)
	}
}

func TestBuiltinsShadowArchiveClasses(t *testing.T) {
	// An archive cannot redefine the platform root.
	r := testRegistry(
		newClass(classObject, "").
			field("bogus", "I", 0).
			record(),
	)
	c, err := r.Resolve(classObject)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.FieldByName("bogus"); ok {
		t.Error("built-in Object should shadow the archive's definition")
	}
	if _, ok := c.LookupMethod("hashCode", "()I"); !ok {
		t.Error("built-in Object should carry hashCode")
	}
}

// ---------------------------------------------------------------------------
// Descriptor parsing
// ---------------------------------------------------------------------------

func TestParseDescriptor(t *testing.T) {
	args, ret, err := ParseDescriptor("(I[CLjava/lang/String;)V")
	if err != nil {
		t.Fatalf("ParseDescriptor: %v", err)
	}
	want := []TypeTag{TagInt, TagArray, TagRef}
	if len(args) != len(want) {
		t.Fatalf("args = %v", args)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("arg %d = %c, want %c", i, args[i], want[i])
		}
	}
	if ret != TagVoid {
		t.Errorf("ret = %c, want V", ret)
	}

	_, ret, err = ParseDescriptor("()[B")
	if err != nil || ret != TagArray {
		t.Errorf("array return: ret=%c err=%v", ret, err)
	}
}

func TestParseDescriptorRejectsMalformed(t *testing.T) {
	for _, desc := range []string{"", "()", "I)V", "(I", "(Ljava/lang/String)V", "(I)VX", "(Q)V"} {
		if _, _, err := ParseDescriptor(desc); !errors.Is(err, ErrVerification) {
			t.Errorf("%q: want ErrVerification, got %v", desc, err)
		}
	}
}
