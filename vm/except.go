package vm

import (
	"errors"
	"fmt"
)

// ErrNativeNotImplemented indicates a native method with no bridge
// binding. It surfaces in-program as the sonagi/NativeError throwable and
// is always reported to the host, caught or not.
var ErrNativeNotImplemented = errors.New("native method not implemented")

// Well-known platform class names.
const (
	classObject    = "java/lang/Object"
	classString    = "java/lang/String"
	classThrowable = "java/lang/Throwable"
	classException = "java/lang/Exception"
	classRuntime   = "java/lang/RuntimeException"
	classError     = "java/lang/Error"

	classArithmetic    = "java/lang/ArithmeticException"
	classNullPointer   = "java/lang/NullPointerException"
	classArrayBounds   = "java/lang/ArrayIndexOutOfBoundsException"
	classNegativeArray = "java/lang/NegativeArraySizeException"
	classNoClassDef    = "java/lang/NoClassDefFoundError"
	classInterrupted   = "java/lang/InterruptedException"

	// classNativeError is the runtime's own throwable for native methods
	// with no bridge binding.
	classNativeError = "sonagi/NativeError"
)

// Thrown carries an in-program throwable through Go error returns, so
// bridge functions and interpreter helpers raise exceptions the same way.
type Thrown struct {
	Class   string
	Message string
	// Object is the already-allocated throwable, 0 when the raiser left
	// allocation to the unwinder.
	Object Handle
}

func (e *Thrown) Error() string {
	if e.Message == "" {
		return e.Class
	}
	return e.Class + ": " + e.Message
}

// Throw builds a Thrown for a platform class. The throwable object is
// allocated when the fault enters the unwinder.
func Throw(className, format string, args ...any) *Thrown {
	return &Thrown{Class: className, Message: fmt.Sprintf(format, args...)}
}

// newThrowable allocates an instance of the named throwable class with
// its message set.
func (vm *VM) newThrowable(className, message string) (Handle, error) {
	c, err := vm.registry.Resolve(className)
	if err != nil {
		return 0, err
	}
	h := vm.heap.Allocate(c)
	// The message String allocates; keep the half-built throwable rooted
	// until the caller takes it.
	vm.heap.Pin(h)
	defer vm.heap.Unpin(h)
	if message != "" {
		f, ok := c.FieldByName("message")
		if ok && !f.Static {
			s, err := vm.newString(message)
			if err != nil {
				return 0, err
			}
			if err := vm.heap.SetField(h, f.Slot, FromRef(s)); err != nil {
				return 0, err
			}
		}
	}
	return h, nil
}

// materializeFault converts a raised error into a throwable handle.
// Errors with no throwable mapping are fatal and come back as a plain
// error instead.
func (vm *VM) materializeFault(err error) (Handle, error) {
	var thrown *Thrown
	if errors.As(err, &thrown) {
		if thrown.Object != 0 {
			return thrown.Object, nil
		}
		return vm.newThrowable(thrown.Class, thrown.Message)
	}
	switch {
	case errors.Is(err, ErrNullReference):
		return vm.newThrowable(classNullPointer, err.Error())
	case errors.Is(err, ErrArrayIndex):
		return vm.newThrowable(classArrayBounds, err.Error())
	case errors.Is(err, ErrNegativeArraySize):
		return vm.newThrowable(classNegativeArray, err.Error())
	case errors.Is(err, ErrNativeNotImplemented):
		return vm.newThrowable(classNativeError, err.Error())
	case errors.Is(err, ErrClassNotFound):
		return vm.newThrowable(classNoClassDef, err.Error())
	default:
		return 0, err
	}
}

// findHandler locates the first exception table row of the method
// covering pc whose catch type matches the thrown class. Rows match in
// declaration order; an empty catch type matches anything, which is how
// finally blocks are encoded.
func (vm *VM) findHandler(m *Method, pc int, thrown *Class) (int, bool, error) {
	for i := range m.Handlers {
		h := &m.Handlers[i]
		if pc < h.Start || pc >= h.End {
			continue
		}
		if h.Catch == "" {
			return h.Handler, true, nil
		}
		catch, err := vm.registry.Resolve(h.Catch)
		if err != nil {
			return 0, false, fmt.Errorf("resolving catch type in %s: %w", m.QualifiedName(), err)
		}
		if thrown.IsSubclassOf(catch) {
			return h.Handler, true, nil
		}
	}
	return 0, false, nil
}

// throwableMessage reads the message string off a throwable object, best
// effort.
func (vm *VM) throwableMessage(h Handle) string {
	c := vm.heap.Class(h)
	if c == nil {
		return ""
	}
	f, ok := c.FieldByName("message")
	if !ok || f.Static {
		return ""
	}
	v, err := vm.heap.GetField(h, f.Slot)
	if err != nil || !v.IsRef() {
		return ""
	}
	s, _ := vm.goString(v.Ref())
	return s
}
