package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/sonagi-emu/sonagi/archive"
)

// errYield is the internal scheduling signal: the running native parked
// or yielded the thread, cut the slice without raising anything.
var errYield = errors.New("yield")

// runSlice executes up to budget instructions on the thread. It returns
// when the budget runs out, the thread parks, or the thread finishes.
// Panics from mistyped values or stack underflow become fatal
// verification failures.
func (vm *VM) runSlice(t *Thread, budget int) {
	defer func() {
		if r := recover(); r != nil {
			vm.killThread(t, fmt.Errorf("%w: %v", ErrVerification, r))
		}
	}()

	for i := 0; i < budget; i++ {
		if t.state != threadRunnable || len(t.frames) == 0 {
			break
		}
		if err := vm.step(t); err != nil {
			if errors.Is(err, errYield) {
				return
			}
			vm.raise(t, err)
		}
	}
	if len(t.frames) == 0 && t.state == threadRunnable {
		t.state = threadFinished
	}
}

// raise converts an error into an in-flight throwable and unwinds, or
// kills the thread when the error has no throwable form.
func (vm *VM) raise(t *Thread, err error) {
	thrown, ferr := vm.materializeFault(err)
	if ferr != nil {
		vm.killThread(t, ferr)
		return
	}
	vm.unwind(t, thrown)
}

// unwind walks the call stack looking for a handler covering the
// faulting instruction. Matching frames resume at the handler with only
// the throwable on the operand stack; non-matching frames pop. A
// throwable that escapes the outermost frame finishes the thread and is
// reported.
func (vm *VM) unwind(t *Thread, thrown Handle) {
	thrownClass := vm.heap.Class(thrown)
	if thrownClass == nil {
		vm.killThread(t, fmt.Errorf("%w: thrown value is not an object", ErrVerification))
		return
	}

	var trace []string
	for len(t.frames) > 0 {
		f := t.top()
		handlerPC, ok, err := vm.findHandler(f.method, f.insn, thrownClass)
		if err != nil {
			vm.killThread(t, err)
			return
		}
		if ok {
			t.stack = t.stack[:f.bp]
			t.push(FromRef(thrown))
			f.pc = handlerPC
			return
		}
		trace = append(trace, fmt.Sprintf("%s @%d", f.method.QualifiedName(), f.insn))
		t.popFrame(nil)
	}

	t.Fault = thrown
	t.state = threadFinished
	vm.reportUnhandled(t, thrownClass.Name, vm.throwableMessage(thrown), trace)
}

// killThread finishes a thread on a fatal, non-throwable failure.
func (vm *VM) killThread(t *Thread, err error) {
	var trace []string
	for i := len(t.frames) - 1; i >= 0; i-- {
		f := &t.frames[i]
		trace = append(trace, fmt.Sprintf("%s @%d", f.method.QualifiedName(), f.insn))
	}
	t.Err = err
	t.state = threadFinished
	vm.reportUnhandled(t, "", err.Error(), trace)
}

// step executes one instruction on the thread's top frame, or runs a
// native frame to completion.
func (vm *VM) step(t *Thread) error {
	f := t.top()
	if f.method.IsNative() {
		return vm.stepNative(t, f)
	}
	code := f.method.Code
	if f.pc < 0 || f.pc >= len(code) {
		return fmt.Errorf("%w: pc %d outside %s", ErrVerification, f.pc, f.method.QualifiedName())
	}
	f.insn = f.pc

	op := Opcode(code[f.pc])
	info, ok := opTable[op]
	if !ok {
		return fmt.Errorf("%w: unknown opcode 0x%02x in %s", ErrVerification, byte(op), f.method.QualifiedName())
	}
	if f.pc+1+info.width > len(code) {
		return fmt.Errorf("%w: truncated %s in %s", ErrVerification, op, f.method.QualifiedName())
	}
	operands := code[f.pc+1 : f.pc+1+info.width]
	next := f.pc + 1 + info.width

	switch op {
	case OpNop:

	case OpPop:
		t.pop()
	case OpDup:
		t.push(t.peek())
	case OpSwap:
		b, a := t.pop(), t.pop()
		t.push(b)
		t.push(a)

	case OpConstNull:
		t.push(Null)
	case OpIConst8:
		t.push(FromInt(int32(int8(operands[0]))))
	case OpIConst32:
		t.push(FromInt(int32(binary.BigEndian.Uint32(operands))))
	case OpFConst:
		t.push(FromFloat(math.Float64frombits(binary.BigEndian.Uint64(operands))))
	case OpLdc:
		if err := vm.ldc(t, f, u16of(operands)); err != nil {
			return err
		}

	case OpLoad:
		slot := int(operands[0])
		if slot >= len(f.locals) {
			return fmt.Errorf("%w: load from local %d of %d in %s", ErrVerification, slot, len(f.locals), f.method.QualifiedName())
		}
		t.push(f.locals[slot])
	case OpStore:
		slot := int(operands[0])
		if slot >= len(f.locals) {
			return fmt.Errorf("%w: store to local %d of %d in %s", ErrVerification, slot, len(f.locals), f.method.QualifiedName())
		}
		f.locals[slot] = t.pop()

	case OpIAdd, OpISub, OpIMul, OpIDiv, OpIRem, OpIShl, OpIShr, OpIUShr, OpIAnd, OpIOr, OpIXor:
		b := t.pop().Int()
		a := t.pop().Int()
		r, err := intBinOp(op, a, b)
		if err != nil {
			return err
		}
		t.push(FromInt(r))
	case OpINeg:
		t.push(FromInt(-t.pop().Int()))

	case OpFAdd:
		b, a := t.pop().Float(), t.pop().Float()
		t.push(FromFloat(a + b))
	case OpFSub:
		b, a := t.pop().Float(), t.pop().Float()
		t.push(FromFloat(a - b))
	case OpFMul:
		b, a := t.pop().Float(), t.pop().Float()
		t.push(FromFloat(a * b))
	case OpFDiv:
		b, a := t.pop().Float(), t.pop().Float()
		t.push(FromFloat(a / b))
	case OpFNeg:
		t.push(FromFloat(-t.pop().Float()))
	case OpFCmp:
		b, a := t.pop().Float(), t.pop().Float()
		switch {
		case a < b:
			t.push(FromInt(-1))
		case a > b:
			t.push(FromInt(1))
		case a == b:
			t.push(FromInt(0))
		default: // at least one NaN
			t.push(FromInt(-1))
		}
	case OpI2F:
		t.push(FromFloat(float64(t.pop().Int())))
	case OpF2I:
		t.push(FromInt(truncToInt(t.pop().Float())))

	case OpGoto:
		f.pc += s16of(operands)
		return nil
	case OpIfICmpEq, OpIfICmpNe, OpIfICmpLt, OpIfICmpGe, OpIfICmpGt, OpIfICmpLe:
		b := t.pop().Int()
		a := t.pop().Int()
		if intCompare(op, a, b) {
			f.pc += s16of(operands)
			return nil
		}
	case OpIfEq:
		if t.pop().Int() == 0 {
			f.pc += s16of(operands)
			return nil
		}
	case OpIfNe:
		if t.pop().Int() != 0 {
			f.pc += s16of(operands)
			return nil
		}
	case OpIfNull:
		if t.pop().IsNull() {
			f.pc += s16of(operands)
			return nil
		}
	case OpIfNonNull:
		if !t.pop().IsNull() {
			f.pc += s16of(operands)
			return nil
		}
	case OpJsr:
		t.push(FromRetAddr(next))
		f.pc += s16of(operands)
		return nil
	case OpRet:
		slot := int(operands[0])
		if slot >= len(f.locals) {
			return fmt.Errorf("%w: ret from local %d in %s", ErrVerification, slot, f.method.QualifiedName())
		}
		f.pc = f.locals[slot].RetAddr()
		return nil

	case OpNew:
		entry, err := vm.cpAt(f, u16of(operands), archive.CPClassRef)
		if err != nil {
			return err
		}
		c, err := vm.registry.Resolve(entry.Class)
		if err != nil {
			return err
		}
		t.push(FromRef(vm.heap.Allocate(c)))
	case OpNewArray:
		elem := TypeTag(operands[0])
		if !elem.IsIntLike() && elem != TagFloat && !elem.IsRefLike() {
			return fmt.Errorf("%w: newarray of %q in %s", ErrVerification, operands[0], f.method.QualifiedName())
		}
		length := t.pop().Int()
		h, err := vm.heap.AllocateArray(elem, length)
		if err != nil {
			return err
		}
		t.push(FromRef(h))
	case OpArrayLength:
		ref := t.pop()
		if ref.IsNull() {
			return fmt.Errorf("%w: arraylength", ErrNullReference)
		}
		n, err := vm.heap.ArrayLen(ref.Ref())
		if err != nil {
			return err
		}
		t.push(FromInt(n))
	case OpArrGet:
		index := t.pop().Int()
		ref := t.pop()
		if ref.IsNull() {
			return fmt.Errorf("%w: array read", ErrNullReference)
		}
		v, err := vm.heap.ArrayGet(ref.Ref(), index)
		if err != nil {
			return err
		}
		t.push(v)
	case OpArrPut:
		v := t.pop()
		index := t.pop().Int()
		ref := t.pop()
		if ref.IsNull() {
			return fmt.Errorf("%w: array write", ErrNullReference)
		}
		if err := vm.heap.ArrayPut(ref.Ref(), index, v); err != nil {
			return err
		}
	case OpInstanceOf:
		entry, err := vm.cpAt(f, u16of(operands), archive.CPClassRef)
		if err != nil {
			return err
		}
		v := t.pop()
		t.push(FromInt(vm.instanceOf(v, entry.Class)))

	case OpGetField:
		field, err := vm.resolveField(f, u16of(operands), false)
		if err != nil {
			return err
		}
		ref := t.pop()
		if ref.IsNull() {
			return fmt.Errorf("%w: reading %s.%s", ErrNullReference, field.Owner.Name, field.Name)
		}
		v, err := vm.heap.GetField(ref.Ref(), field.Slot)
		if err != nil {
			return err
		}
		t.push(v)
	case OpPutField:
		field, err := vm.resolveField(f, u16of(operands), false)
		if err != nil {
			return err
		}
		v := t.pop()
		ref := t.pop()
		if ref.IsNull() {
			return fmt.Errorf("%w: writing %s.%s", ErrNullReference, field.Owner.Name, field.Name)
		}
		if err := vm.heap.SetField(ref.Ref(), field.Slot, v); err != nil {
			return err
		}
	case OpGetStatic:
		field, err := vm.resolveField(f, u16of(operands), true)
		if err != nil {
			return err
		}
		t.push(field.Owner.Statics[field.Slot])
	case OpPutStatic:
		field, err := vm.resolveField(f, u16of(operands), true)
		if err != nil {
			return err
		}
		field.Owner.Statics[field.Slot] = t.pop()

	case OpInvokeVirtual, OpInvokeStatic, OpInvokeSpecial:
		f.pc = next // callee returns past the invoke
		if err := vm.invoke(t, f, op, u16of(operands)); err != nil {
			return err
		}
		return nil

	case OpReturn:
		if f.method.Ret != TagVoid {
			return fmt.Errorf("%w: void return from %s", ErrVerification, f.method.QualifiedName())
		}
		t.popFrame(nil)
		return nil
	case OpRetVal:
		if f.method.Ret == TagVoid {
			return fmt.Errorf("%w: value return from %s", ErrVerification, f.method.QualifiedName())
		}
		v := t.pop()
		t.popFrame(&v)
		return nil

	case OpThrow:
		ref := t.pop()
		if ref.IsNull() {
			return fmt.Errorf("%w: throw", ErrNullReference)
		}
		return vm.throwObject(ref.Ref())
	}

	f.pc = next
	return nil
}

// ldc pushes a constant pool literal: int, float, or interned string.
func (vm *VM) ldc(t *Thread, f *frame, index int) error {
	cp := f.method.Owner.CP
	if index <= 0 || index >= len(cp) {
		return fmt.Errorf("%w: ldc index %d in %s", ErrVerification, index, f.method.QualifiedName())
	}
	switch entry := &cp[index]; entry.Kind {
	case archive.CPInt:
		t.push(FromInt(entry.Int))
	case archive.CPFloat:
		t.push(FromFloat(entry.Float))
	case archive.CPString:
		h, err := vm.internString(entry.Str)
		if err != nil {
			return err
		}
		t.push(FromRef(h))
	default:
		return fmt.Errorf("%w: ldc of constant kind %d in %s", ErrVerification, entry.Kind, f.method.QualifiedName())
	}
	return nil
}

// invoke resolves and calls a method. Bytecode methods push a frame;
// native methods run on the spot through the bridge.
func (vm *VM) invoke(t *Thread, f *frame, op Opcode, index int) error {
	entry, err := vm.cpAt(f, index, archive.CPMethodRef)
	if err != nil {
		return err
	}
	named, err := vm.registry.Resolve(entry.Class)
	if err != nil {
		return err
	}

	m, ok := named.LookupMethod(entry.Name, entry.Desc)
	if !ok {
		return fmt.Errorf("%w: no method %s.%s%s", ErrVerification, entry.Class, entry.Name, entry.Desc)
	}
	if (op == OpInvokeStatic) != m.IsStatic() {
		return fmt.Errorf("%w: static mismatch calling %s", ErrVerification, m.QualifiedName())
	}

	args := make([]Value, m.NumArgSlots())
	for i := len(args) - 1; i >= 0; i-- {
		args[i] = t.pop()
	}

	if !m.IsStatic() {
		recv := args[0]
		if recv.IsNull() {
			return fmt.Errorf("%w: calling %s", ErrNullReference, m.QualifiedName())
		}
		if op == OpInvokeVirtual {
			m, err = vm.virtualTarget(recv, named, entry.Name, entry.Desc, m)
			if err != nil {
				return err
			}
		}
	}

	return vm.call(t, m, args)
}

// virtualTarget re-dispatches through the receiver's vtable.
func (vm *VM) virtualTarget(recv Value, named *Class, name, desc string, resolved *Method) (*Method, error) {
	recvClass := vm.heap.Class(recv.Ref())
	if recvClass == nil {
		// Arrays have no class; only inherited Object methods apply.
		return resolved, nil
	}
	slot, ok := named.VSlot(name, desc)
	if !ok {
		return resolved, nil
	}
	if m := recvClass.MethodAt(slot); m != nil {
		return m, nil
	}
	return resolved, nil
}

// call transfers control into a method. args carry the receiver in slot
// 0 for instance methods. Native methods get a frame too; step runs them
// in one shot, which keeps spawned threads and dispatch jobs uniform.
func (vm *VM) call(t *Thread, m *Method, args []Value) error {
	t.pushFrame(m, args)
	return nil
}

// stepNative runs a native frame to completion. A yield pops the frame
// first so resumption continues in the caller.
func (vm *VM) stepNative(t *Thread, f *frame) error {
	m := f.method
	if m.Native == nil {
		vm.reporter.ReportMissingNative(m.Owner.Name, m.Name, m.Desc)
		return fmt.Errorf("%w: %s", ErrNativeNotImplemented, m.QualifiedName())
	}

	recv := Null
	args := f.locals[:m.NumArgSlots()]
	if !m.IsStatic() {
		recv = args[0]
		args = args[1:]
	}
	ret, err := m.Native(&NativeCtx{VM: vm, Thread: t}, recv, args)
	if errors.Is(err, errYield) {
		t.popFrame(nil)
		return err
	}
	if err != nil {
		return err
	}
	if m.Ret == TagVoid {
		t.popFrame(nil)
	} else {
		t.popFrame(&ret)
	}
	return nil
}

// throwObject starts propagation of an already-allocated throwable.
func (vm *VM) throwObject(h Handle) error {
	c := vm.heap.Class(h)
	if c == nil {
		return fmt.Errorf("%w: thrown value is not an object", ErrVerification)
	}
	throwable, err := vm.registry.Resolve(classThrowable)
	if err != nil {
		return err
	}
	if !c.IsSubclassOf(throwable) {
		return fmt.Errorf("%w: %s is not throwable", ErrVerification, c.Name)
	}
	return &Thrown{Class: c.Name, Object: h}
}

// instanceOf evaluates the instanceof result for a value against a named
// class. Null is never an instance; arrays only match the root class.
func (vm *VM) instanceOf(v Value, className string) int32 {
	if !v.IsRef() {
		return 0
	}
	c := vm.heap.Class(v.Ref())
	if c == nil {
		if className == classObject {
			return 1
		}
		return 0
	}
	target, err := vm.registry.Resolve(className)
	if err != nil {
		return 0
	}
	if c.IsSubclassOf(target) {
		return 1
	}
	return 0
}

// resolveField looks up a FieldRef operand and checks the static/instance
// expectation.
func (vm *VM) resolveField(f *frame, index int, wantStatic bool) (*Field, error) {
	entry, err := vm.cpAt(f, index, archive.CPFieldRef)
	if err != nil {
		return nil, err
	}
	c, err := vm.registry.Resolve(entry.Class)
	if err != nil {
		return nil, err
	}
	field, ok := c.FieldByName(entry.Name)
	if !ok || field.Desc != entry.Desc {
		return nil, fmt.Errorf("%w: no field %s.%s %s", ErrFieldAccess, entry.Class, entry.Name, entry.Desc)
	}
	if field.Static != wantStatic {
		return nil, fmt.Errorf("%w: static mismatch on %s.%s", ErrFieldAccess, entry.Class, entry.Name)
	}
	return field, nil
}

func (vm *VM) cpAt(f *frame, index int, kind archive.CPKind) (*archive.CPEntry, error) {
	cp := f.method.Owner.CP
	if index <= 0 || index >= len(cp) || cp[index].Kind != kind {
		return nil, fmt.Errorf("%w: constant %d is not kind %d in %s", ErrVerification, index, kind, f.method.QualifiedName())
	}
	return &cp[index], nil
}

// intBinOp evaluates two-operand integer arithmetic with 32-bit wrapping.
func intBinOp(op Opcode, a, b int32) (int32, error) {
	switch op {
	case OpIAdd:
		return a + b, nil
	case OpISub:
		return a - b, nil
	case OpIMul:
		return a * b, nil
	case OpIDiv:
		if b == 0 {
			return 0, Throw(classArithmetic, "division by zero")
		}
		if a == math.MinInt32 && b == -1 {
			return math.MinInt32, nil
		}
		return a / b, nil
	case OpIRem:
		if b == 0 {
			return 0, Throw(classArithmetic, "division by zero")
		}
		if a == math.MinInt32 && b == -1 {
			return 0, nil
		}
		return a % b, nil
	case OpIShl:
		return a << (uint32(b) & 31), nil
	case OpIShr:
		return a >> (uint32(b) & 31), nil
	case OpIUShr:
		return int32(uint32(a) >> (uint32(b) & 31)), nil
	case OpIAnd:
		return a & b, nil
	case OpIOr:
		return a | b, nil
	default: // OpIXor
		return a ^ b, nil
	}
}

func intCompare(op Opcode, a, b int32) bool {
	switch op {
	case OpIfICmpEq:
		return a == b
	case OpIfICmpNe:
		return a != b
	case OpIfICmpLt:
		return a < b
	case OpIfICmpGe:
		return a >= b
	case OpIfICmpGt:
		return a > b
	default: // OpIfICmpLe
		return a <= b
	}
}

// truncToInt converts a double to int32 with saturation; NaN becomes 0.
func truncToInt(f float64) int32 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt32:
		return math.MaxInt32
	case f <= math.MinInt32:
		return math.MinInt32
	default:
		return int32(f)
	}
}

func u16of(b []byte) int { return int(binary.BigEndian.Uint16(b)) }
func s16of(b []byte) int { return int(int16(binary.BigEndian.Uint16(b))) }
