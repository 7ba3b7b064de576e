package vm

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/sonagi-emu/sonagi/archive"
	"github.com/sonagi-emu/sonagi/host"
)

// ---------------------------------------------------------------------------
// Bytecode assembler
// ---------------------------------------------------------------------------

// asm accumulates method bytecode. Branch targets are symbolic labels
// patched at build time; branch offsets are relative to the opcode byte.
type asm struct {
	code   []byte
	labels map[string]int
	fixups []fixup
}

type fixup struct {
	at     int // offset of the s16 operand
	opcode int // address the offset is relative to
	label  string
}

func newAsm() *asm {
	return &asm{labels: make(map[string]int)}
}

func (a *asm) op(op Opcode) *asm {
	a.code = append(a.code, byte(op))
	return a
}

func (a *asm) i8(n int8) *asm {
	a.code = append(a.code, byte(OpIConst8), byte(n))
	return a
}

func (a *asm) i32(n int32) *asm {
	a.code = append(a.code, byte(OpIConst32))
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n))
	a.code = append(a.code, b[:]...)
	return a
}

func (a *asm) f64(f float64) *asm {
	a.code = append(a.code, byte(OpFConst))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
	a.code = append(a.code, b[:]...)
	return a
}

func (a *asm) u8op(op Opcode, v int) *asm {
	a.code = append(a.code, byte(op), byte(v))
	return a
}

func (a *asm) u16op(op Opcode, v int) *asm {
	a.code = append(a.code, byte(op), byte(v>>8), byte(v))
	return a
}

func (a *asm) load(slot int) *asm  { return a.u8op(OpLoad, slot) }
func (a *asm) store(slot int) *asm { return a.u8op(OpStore, slot) }

// branch emits a control transfer whose offset is resolved at build time.
func (a *asm) branch(op Opcode, label string) *asm {
	a.fixups = append(a.fixups, fixup{at: len(a.code) + 1, opcode: len(a.code), label: label})
	a.code = append(a.code, byte(op), 0, 0)
	return a
}

// label marks the current offset as a branch target.
func (a *asm) label(name string) *asm {
	a.labels[name] = len(a.code)
	return a
}

// pc returns the current offset, for exception table rows.
func (a *asm) pc() int { return len(a.code) }

func (a *asm) build(t *testing.T) []byte {
	t.Helper()
	for _, f := range a.fixups {
		target, ok := a.labels[f.label]
		if !ok {
			t.Fatalf("undefined label %q", f.label)
		}
		binary.BigEndian.PutUint16(a.code[f.at:], uint16(target-f.opcode))
	}
	return a.code
}

// ---------------------------------------------------------------------------
// Class record fixtures
// ---------------------------------------------------------------------------

// classBuilder assembles one raw class record.
type classBuilder struct {
	rec *archive.ClassRecord
}

func newClass(name, super string) *classBuilder {
	return &classBuilder{rec: &archive.ClassRecord{
		Name:      name,
		SuperName: super,
		CP:        make([]archive.CPEntry, 1), // reserved entry 0
	}}
}

func (b *classBuilder) cp(e archive.CPEntry) int {
	b.rec.CP = append(b.rec.CP, e)
	return len(b.rec.CP) - 1
}

func (b *classBuilder) cpInt(v int32) int {
	return b.cp(archive.CPEntry{Kind: archive.CPInt, Int: v})
}

func (b *classBuilder) cpString(s string) int {
	return b.cp(archive.CPEntry{Kind: archive.CPString, Str: s})
}

func (b *classBuilder) cpClass(name string) int {
	return b.cp(archive.CPEntry{Kind: archive.CPClassRef, Class: name})
}

func (b *classBuilder) cpField(class, name, desc string) int {
	return b.cp(archive.CPEntry{Kind: archive.CPFieldRef, Class: class, Name: name, Desc: desc})
}

func (b *classBuilder) cpMethod(class, name, desc string) int {
	return b.cp(archive.CPEntry{Kind: archive.CPMethodRef, Class: class, Name: name, Desc: desc})
}

func (b *classBuilder) field(name, desc string, flags uint16) *classBuilder {
	b.rec.Fields = append(b.rec.Fields, archive.FieldDef{Name: name, Desc: desc, Flags: flags})
	return b
}

func (b *classBuilder) method(name, desc string, flags uint16, maxLocals int, code []byte, handlers ...archive.HandlerDef) *classBuilder {
	b.rec.Methods = append(b.rec.Methods, archive.MethodDef{
		Name:      name,
		Desc:      desc,
		Flags:     flags,
		MaxStack:  16,
		MaxLocals: maxLocals,
		Code:      code,
		Handlers:  handlers,
	})
	return b
}

func (b *classBuilder) record() *archive.ClassRecord { return b.rec }

// ---------------------------------------------------------------------------
// VM harness
// ---------------------------------------------------------------------------

// testRig is one assembled application plus its host collaborators.
type testRig struct {
	vm       *VM
	reporter *host.CollectReporter
	sink     *host.TraceSink
}

func buildVM(t *testing.T, entry string, records ...*archive.ClassRecord) *testRig {
	t.Helper()
	pkg := archive.NewPackage("TestApp", entry, "1.0", records, nil)
	rig := &testRig{
		reporter: host.NewCollectReporter(),
		sink:     host.NewTraceSink(),
	}
	m, err := New(pkg, Options{Display: rig.sink, Reporter: rig.reporter})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rig.vm = m
	return rig
}

func (r *testRig) run(t *testing.T) {
	t.Helper()
	if err := r.vm.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// staticOf reads a static field off a linked class.
func (r *testRig) staticOf(t *testing.T, class, field string) Value {
	t.Helper()
	c := r.vm.registry.Linked(class)
	if c == nil {
		t.Fatalf("class %s not linked", class)
	}
	f, ok := c.FieldByName(field)
	if !ok || !f.Static {
		t.Fatalf("no static field %s.%s", class, field)
	}
	return f.Owner.Statics[f.Slot]
}

func (r *testRig) staticInt(t *testing.T, class, field string) int32 {
	t.Helper()
	v := r.staticOf(t, class, field)
	if !v.IsInt() {
		t.Fatalf("%s.%s is not an int", class, field)
	}
	return v.Int()
}
