package vm

import (
	"fmt"

	"github.com/tliron/commonlog"
)

// NativeCtx is what a bridge function sees: the VM for heap and registry
// access, and the thread it runs on for scheduling calls.
type NativeCtx struct {
	VM     *VM
	Thread *Thread
}

// NativeFunc is one bridge implementation. recv is Null for statics. A
// returned *Thrown propagates as an in-program exception; any other
// error is fatal.
type NativeFunc func(ctx *NativeCtx, recv Value, args []Value) (Value, error)

// Bridge is the native dispatch table, keyed by class, method name and
// descriptor. It is built once at boot and read-only afterwards, so
// lookup needs no locking.
type Bridge struct {
	fns map[string]NativeFunc
	log commonlog.Logger
}

// NewBridge creates an empty table.
func NewBridge() *Bridge {
	return &Bridge{
		fns: make(map[string]NativeFunc),
		log: commonlog.GetLogger("sonagi.bridge"),
	}
}

func nativeKey(class, name, desc string) string {
	return class + "." + name + desc
}

// Register binds one native method. Re-registering a key replaces the
// binding; boot code relies on that for test doubles.
func (b *Bridge) Register(class, name, desc string, fn NativeFunc) {
	b.fns[nativeKey(class, name, desc)] = fn
}

// Lookup returns the binding for a native method, or nil.
func (b *Bridge) Lookup(class, name, desc string) NativeFunc {
	return b.fns[nativeKey(class, name, desc)]
}

// Size returns the number of bindings. Diagnostic/test helper.
func (b *Bridge) Size() int { return len(b.fns) }

// ---------------------------------------------------------------------------
// Argument helpers
// ---------------------------------------------------------------------------

// GoString converts a String reference argument to a Go string.
func (ctx *NativeCtx) GoString(v Value) (string, error) {
	if v.IsNull() {
		return "", fmt.Errorf("%w: string argument", ErrNullReference)
	}
	if !v.IsRef() {
		return "", fmt.Errorf("%w: expected a string reference", ErrVerification)
	}
	return ctx.VM.goString(v.Ref())
}

// NewString allocates a String object for a Go string.
func (ctx *NativeCtx) NewString(s string) (Value, error) {
	h, err := ctx.VM.newString(s)
	if err != nil {
		return Null, err
	}
	return FromRef(h), nil
}

// Bytes converts a byte array argument to a Go slice.
func (ctx *NativeCtx) Bytes(v Value) ([]byte, error) {
	if v.IsNull() {
		return nil, fmt.Errorf("%w: byte array argument", ErrNullReference)
	}
	h := v.Ref()
	n, err := ctx.VM.heap.ArrayLen(h)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	for i := int32(0); i < n; i++ {
		e, err := ctx.VM.heap.ArrayGet(h, i)
		if err != nil {
			return nil, err
		}
		out[i] = byte(e.Int())
	}
	return out, nil
}

// NewBytes allocates a byte array holding the slice contents.
func (ctx *NativeCtx) NewBytes(data []byte) (Value, error) {
	h, err := ctx.VM.heap.AllocateArray(TagByte, int32(len(data)))
	if err != nil {
		return Null, err
	}
	for i, b := range data {
		if err := ctx.VM.heap.ArrayPut(h, int32(i), FromInt(int32(int8(b)))); err != nil {
			return Null, err
		}
	}
	return FromRef(h), nil
}

// Field reads a named instance field off a receiver.
func (ctx *NativeCtx) Field(recv Value, name string) (Value, error) {
	if recv.IsNull() {
		return Null, fmt.Errorf("%w: reading %s", ErrNullReference, name)
	}
	c := ctx.VM.heap.Class(recv.Ref())
	if c == nil {
		return Null, fmt.Errorf("%w: field read on array", ErrFieldAccess)
	}
	f, ok := c.FieldByName(name)
	if !ok || f.Static {
		return Null, fmt.Errorf("%w: no field %s on %s", ErrFieldAccess, name, c.Name)
	}
	return ctx.VM.heap.GetField(recv.Ref(), f.Slot)
}

// SetField writes a named instance field on a receiver.
func (ctx *NativeCtx) SetField(recv Value, name string, v Value) error {
	if recv.IsNull() {
		return fmt.Errorf("%w: writing %s", ErrNullReference, name)
	}
	c := ctx.VM.heap.Class(recv.Ref())
	if c == nil {
		return fmt.Errorf("%w: field write on array", ErrFieldAccess)
	}
	f, ok := c.FieldByName(name)
	if !ok || f.Static {
		return fmt.Errorf("%w: no field %s on %s", ErrFieldAccess, name, c.Name)
	}
	return ctx.VM.heap.SetField(recv.Ref(), f.Slot, v)
}
