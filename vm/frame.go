package vm

import (
	"fmt"
	"time"
)

// frame is one activation record. Frames share the thread's operand
// stack; bp marks where this frame's operands begin.
type frame struct {
	method *Method
	pc     int
	// insn is the start offset of the instruction being executed. The pc
	// advances past an invoke before the callee runs, so handler ranges
	// and traces match on insn, not pc.
	insn   int
	bp     int
	locals []Value
}

type threadState int

const (
	threadRunnable threadState = iota
	threadSleeping
	threadFinished
)

// Thread is one cooperative execution context: a call stack, a shared
// operand stack, and scheduling state. Threads never run concurrently;
// the scheduler interleaves them in instruction slices.
type Thread struct {
	ID   int
	Name string

	stack  []Value
	frames []frame

	state threadState
	wake  time.Time

	// Result holds the entry method's return value once finished.
	Result Value
	// Fault holds the throwable that escaped the outermost frame, 0 when
	// the thread finished cleanly.
	Fault Handle
	// Err holds a fatal (non-throwable) failure: verification errors,
	// corrupt state.
	Err error
}

func (t *Thread) push(v Value) {
	t.stack = append(t.stack, v)
}

func (t *Thread) pop() Value {
	top := t.top()
	if len(t.stack) <= top.bp {
		panic(fmt.Sprintf("%s: operand stack underflow at pc %d", top.method.QualifiedName(), top.pc))
	}
	v := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	return v
}

func (t *Thread) peek() Value {
	top := t.top()
	if len(t.stack) <= top.bp {
		panic(fmt.Sprintf("%s: operand stack underflow at pc %d", top.method.QualifiedName(), top.pc))
	}
	return t.stack[len(t.stack)-1]
}

func (t *Thread) top() *frame {
	return &t.frames[len(t.frames)-1]
}

// pushFrame enters a method. Arguments (receiver first for instance
// methods) land in the low local slots.
func (t *Thread) pushFrame(m *Method, args []Value) {
	nlocals := m.MaxLocals
	if nlocals < len(args) {
		nlocals = len(args)
	}
	locals := make([]Value, nlocals)
	copy(locals, args)
	t.frames = append(t.frames, frame{method: m, bp: len(t.stack), locals: locals})
}

// popFrame leaves the current method, truncating its operands. When ret
// is non-nil the value is pushed for the caller.
func (t *Thread) popFrame(ret *Value) {
	f := t.top()
	t.stack = t.stack[:f.bp]
	t.frames = t.frames[:len(t.frames)-1]
	if ret != nil && len(t.frames) > 0 {
		t.push(*ret)
	} else if ret != nil {
		t.Result = *ret
	}
}

// Depth returns the call depth. Diagnostic/test helper.
func (t *Thread) Depth() int { return len(t.frames) }

// Finished reports whether the thread has run to completion or died.
func (t *Thread) Finished() bool { return t.state == threadFinished }

// eachRoot enumerates reference values reachable from this thread's
// stacks for reclamation.
func (t *Thread) eachRoot(mark func(Handle)) {
	for _, v := range t.stack {
		if v.IsRef() {
			mark(v.Ref())
		}
	}
	for i := range t.frames {
		for _, v := range t.frames[i].locals {
			if v.IsRef() {
				mark(v.Ref())
			}
		}
	}
	if t.Result.IsRef() {
		mark(t.Result.Ref())
	}
	if t.Fault != 0 {
		mark(t.Fault)
	}
}
