package vm

import (
	"fmt"
	"strconv"
	"time"
)

// java/lang natives. Each binding validates its own argument shapes;
// anything structurally wrong is a verification failure, anything the
// platform defines a throwable for raises that throwable.

func registerLangNatives(b *Bridge) {
	b.Register(classObject, "<init>", "()V", nativeNop)
	b.Register(classObject, "hashCode", "()I", objectHashCode)
	b.Register(classObject, "equals", "(Ljava/lang/Object;)Z", objectEquals)
	b.Register(classObject, "toString", "()Ljava/lang/String;", objectToString)

	b.Register(classString, "length", "()I", stringLength)
	b.Register(classString, "charAt", "(I)C", stringCharAt)
	b.Register(classString, "equals", "(Ljava/lang/Object;)Z", stringEquals)
	b.Register(classString, "concat", "(Ljava/lang/String;)Ljava/lang/String;", stringConcat)
	b.Register(classString, "getBytes", "()[B", stringGetBytes)
	b.Register(classString, "toString", "()Ljava/lang/String;", stringToString)
	b.Register(classString, "valueOf", "(I)Ljava/lang/String;", stringValueOf)

	b.Register("java/lang/StringBuffer", "<init>", "()V", bufferInit)
	b.Register("java/lang/StringBuffer", "append", "(Ljava/lang/String;)Ljava/lang/StringBuffer;", bufferAppendString)
	b.Register("java/lang/StringBuffer", "append", "(I)Ljava/lang/StringBuffer;", bufferAppendInt)
	b.Register("java/lang/StringBuffer", "toString", "()Ljava/lang/String;", bufferToString)

	b.Register(classThrowable, "<init>", "()V", nativeNop)
	b.Register(classThrowable, "<init>", "(Ljava/lang/String;)V", throwableInitMessage)
	b.Register(classThrowable, "getMessage", "()Ljava/lang/String;", throwableGetMessage)
	b.Register(classThrowable, "printStackTrace", "()V", throwablePrint)

	b.Register("java/lang/System", "currentTimeMillis", "()I", systemTimeMillis)
	b.Register("java/lang/System", "arraycopy", "(Ljava/lang/Object;ILjava/lang/Object;II)V", systemArraycopy)
	b.Register("java/lang/System", "exit", "(I)V", systemExit)

	b.Register("java/lang/Math", "abs", "(I)I", mathAbs)
	b.Register("java/lang/Math", "max", "(II)I", mathMax)
	b.Register("java/lang/Math", "min", "(II)I", mathMin)

	b.Register("java/lang/Thread", "<init>", "()V", nativeNop)
	b.Register("java/lang/Thread", "run", "()V", nativeNop)
	b.Register("java/lang/Thread", "start", "()V", threadStart)
	b.Register("java/lang/Thread", "sleep", "(I)V", threadSleep)
	b.Register("java/lang/Thread", "yield", "()V", threadYield)
	b.Register("java/lang/Thread", "currentThread", "()Ljava/lang/Thread;", threadCurrent)

	b.Register("java/lang/Runtime", "getRuntime", "()Ljava/lang/Runtime;", runtimeGet)
	b.Register("java/lang/Runtime", "freeMemory", "()I", runtimeFreeMemory)
	b.Register("java/lang/Runtime", "gc", "()V", runtimeGC)
}

func nativeNop(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	return Null, nil
}

// ---------------------------------------------------------------------------
// Object
// ---------------------------------------------------------------------------

func objectHashCode(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	return FromInt(int32(recv.Ref())), nil
}

func objectEquals(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	if args[0].IsRef() && args[0].Ref() == recv.Ref() {
		return FromInt(1), nil
	}
	return FromInt(0), nil
}

func objectToString(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	name := "array"
	if c := ctx.VM.heap.Class(recv.Ref()); c != nil {
		name = c.Name
	}
	return ctx.NewString(fmt.Sprintf("%s@%d", name, recv.Ref()))
}

// ---------------------------------------------------------------------------
// String
// ---------------------------------------------------------------------------

func stringLength(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	s, err := ctx.GoString(recv)
	if err != nil {
		return Null, err
	}
	return FromInt(int32(len([]rune(s)))), nil
}

func stringCharAt(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	s, err := ctx.GoString(recv)
	if err != nil {
		return Null, err
	}
	runes := []rune(s)
	i := args[0].Int()
	if i < 0 || int(i) >= len(runes) {
		return Null, Throw(classArrayBounds, "index %d of string length %d", i, len(runes))
	}
	return FromInt(int32(runes[i])), nil
}

func stringEquals(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	if !args[0].IsRef() {
		return FromInt(0), nil
	}
	a, err := ctx.GoString(recv)
	if err != nil {
		return Null, err
	}
	b, err := ctx.VM.goString(args[0].Ref())
	if err != nil {
		return FromInt(0), nil // not a string, never equal
	}
	if a == b {
		return FromInt(1), nil
	}
	return FromInt(0), nil
}

func stringConcat(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	a, err := ctx.GoString(recv)
	if err != nil {
		return Null, err
	}
	b, err := ctx.GoString(args[0])
	if err != nil {
		return Null, err
	}
	return ctx.NewString(a + b)
}

func stringGetBytes(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	s, err := ctx.GoString(recv)
	if err != nil {
		return Null, err
	}
	return ctx.NewBytes([]byte(s))
}

func stringToString(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	return recv, nil
}

func stringValueOf(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	return ctx.NewString(strconv.FormatInt(int64(args[0].Int()), 10))
}

// ---------------------------------------------------------------------------
// StringBuffer
// ---------------------------------------------------------------------------

func bufferInit(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	empty, err := ctx.NewString("")
	if err != nil {
		return Null, err
	}
	return Null, ctx.SetField(recv, "str", empty)
}

func bufferContents(ctx *NativeCtx, recv Value) (string, error) {
	v, err := ctx.Field(recv, "str")
	if err != nil {
		return "", err
	}
	if v.IsNull() {
		return "", nil
	}
	return ctx.VM.goString(v.Ref())
}

func bufferAppend(ctx *NativeCtx, recv Value, tail string) (Value, error) {
	cur, err := bufferContents(ctx, recv)
	if err != nil {
		return Null, err
	}
	s, err := ctx.NewString(cur + tail)
	if err != nil {
		return Null, err
	}
	if err := ctx.SetField(recv, "str", s); err != nil {
		return Null, err
	}
	return recv, nil
}

func bufferAppendString(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	tail := "null"
	if !args[0].IsNull() {
		var err error
		tail, err = ctx.GoString(args[0])
		if err != nil {
			return Null, err
		}
	}
	return bufferAppend(ctx, recv, tail)
}

func bufferAppendInt(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	return bufferAppend(ctx, recv, strconv.FormatInt(int64(args[0].Int()), 10))
}

func bufferToString(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	s, err := bufferContents(ctx, recv)
	if err != nil {
		return Null, err
	}
	return ctx.NewString(s)
}

// ---------------------------------------------------------------------------
// Throwable
// ---------------------------------------------------------------------------

func throwableInitMessage(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	return Null, ctx.SetField(recv, "message", args[0])
}

func throwableGetMessage(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	return ctx.Field(recv, "message")
}

func throwablePrint(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	name := "java/lang/Throwable"
	if c := ctx.VM.heap.Class(recv.Ref()); c != nil {
		name = c.Name
	}
	ctx.VM.log.Errorf("%s: %s", name, ctx.VM.throwableMessage(recv.Ref()))
	return Null, nil
}

// ---------------------------------------------------------------------------
// System, Math
// ---------------------------------------------------------------------------

// systemTimeMillis returns milliseconds since VM boot. The platform's
// 32-bit int cannot hold an epoch timestamp; handsets reported uptime.
func systemTimeMillis(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	return FromInt(int32(time.Since(ctx.VM.bootAt) / time.Millisecond)), nil
}

func systemArraycopy(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	src, srcPos, dst, dstPos, n := args[0], args[1].Int(), args[2], args[3].Int(), args[4].Int()
	if src.IsNull() || dst.IsNull() {
		return Null, fmt.Errorf("%w: arraycopy", ErrNullReference)
	}
	if n < 0 {
		return Null, Throw(classArrayBounds, "arraycopy length %d", n)
	}
	// Stage through a buffer so overlapping self-copies behave.
	buf := make([]Value, n)
	for i := int32(0); i < n; i++ {
		v, err := ctx.VM.heap.ArrayGet(src.Ref(), srcPos+i)
		if err != nil {
			return Null, err
		}
		buf[i] = v
	}
	for i := int32(0); i < n; i++ {
		if err := ctx.VM.heap.ArrayPut(dst.Ref(), dstPos+i, buf[i]); err != nil {
			return Null, err
		}
	}
	return Null, nil
}

func systemExit(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	ctx.VM.exitCode = args[0].Int()
	ctx.VM.stopped = true
	return Null, errYield
}

func mathAbs(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	v := args[0].Int()
	if v < 0 {
		v = -v
	}
	return FromInt(v), nil
}

func mathMax(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	a, b := args[0].Int(), args[1].Int()
	if a > b {
		return FromInt(a), nil
	}
	return FromInt(b), nil
}

func mathMin(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	a, b := args[0].Int(), args[1].Int()
	if a < b {
		return FromInt(a), nil
	}
	return FromInt(b), nil
}

// ---------------------------------------------------------------------------
// Thread, Runtime
// ---------------------------------------------------------------------------

func threadStart(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	vm := ctx.VM
	h := recv.Ref()
	if _, ok := vm.threadOf[h]; ok {
		return Null, Throw(classRuntime, "thread already started")
	}
	c := vm.heap.Class(h)
	if c == nil {
		return Null, fmt.Errorf("%w: thread receiver", ErrVerification)
	}
	run, ok := c.LookupMethod("run", "()V")
	if !ok {
		return Null, fmt.Errorf("%w: %s has no run method", ErrVerification, c.Name)
	}
	t := vm.spawn(fmt.Sprintf("thread-%d", vm.nextID), run, []Value{recv})
	vm.threadOf[h] = t
	vm.objOf[t] = h
	return Null, nil
}

func threadSleep(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	ms := args[0].Int()
	if ms < 0 {
		ms = 0
	}
	ctx.Thread.state = threadSleeping
	ctx.Thread.wake = time.Now().Add(time.Duration(ms) * time.Millisecond)
	return Null, errYield
}

func threadYield(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	return Null, errYield
}

func threadCurrent(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	vm := ctx.VM
	if h, ok := vm.objOf[ctx.Thread]; ok {
		return FromRef(h), nil
	}
	c, err := vm.registry.Resolve("java/lang/Thread")
	if err != nil {
		return Null, err
	}
	h := vm.heap.Allocate(c)
	vm.threadOf[h] = ctx.Thread
	vm.objOf[ctx.Thread] = h
	return FromRef(h), nil
}

func runtimeGet(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	vm := ctx.VM
	if vm.runtimeObj == 0 {
		c, err := vm.registry.Resolve("java/lang/Runtime")
		if err != nil {
			return Null, err
		}
		vm.runtimeObj = vm.heap.Allocate(c)
	}
	return FromRef(vm.runtimeObj), nil
}

// runtimeFreeMemory reports a nominal handset heap headroom; the Go heap
// has no fixed budget to expose.
func runtimeFreeMemory(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	const nominal = 4 << 20
	used := int32(ctx.VM.heap.Live()) * 64
	if used >= nominal {
		return FromInt(0), nil
	}
	return FromInt(nominal - used), nil
}

func runtimeGC(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	ctx.VM.heap.Collect()
	return Null, nil
}
