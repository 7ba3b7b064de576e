package vm

// java.util natives. Vector keeps its backing array in an instance field,
// so elements stay visible to the collector through the ordinary field
// walk.

const vectorClass = "java/util/Vector"

const vectorInitialCapacity = 10

func registerUtilNatives(b *Bridge) {
	b.Register(vectorClass, "<init>", "()V", vectorInit)
	b.Register(vectorClass, "addElement", "(Ljava/lang/Object;)V", vectorAdd)
	b.Register(vectorClass, "elementAt", "(I)Ljava/lang/Object;", vectorElementAt)
	b.Register(vectorClass, "size", "()I", vectorSize)
	b.Register(vectorClass, "isEmpty", "()Z", vectorIsEmpty)
	b.Register(vectorClass, "removeElementAt", "(I)V", vectorRemoveAt)
	b.Register(vectorClass, "removeAllElements", "()V", vectorRemoveAll)
}

func vectorInit(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	arr, err := ctx.VM.heap.AllocateArray(TagRef, vectorInitialCapacity)
	if err != nil {
		return Null, err
	}
	if err := ctx.SetField(recv, "elements", FromRef(arr)); err != nil {
		return Null, err
	}
	return Null, ctx.SetField(recv, "count", FromInt(0))
}

// vectorState reads the backing array and element count off a receiver.
func vectorState(ctx *NativeCtx, recv Value) (Handle, int32, error) {
	ev, err := ctx.Field(recv, "elements")
	if err != nil {
		return 0, 0, err
	}
	if ev.IsNull() {
		return 0, 0, Throw(classNullPointer, "vector not constructed")
	}
	cv, err := ctx.Field(recv, "count")
	if err != nil {
		return 0, 0, err
	}
	return ev.Ref(), cv.Int(), nil
}

func vectorAdd(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	heap := ctx.VM.heap
	arr, count, err := vectorState(ctx, recv)
	if err != nil {
		return Null, err
	}
	capacity, err := heap.ArrayLen(arr)
	if err != nil {
		return Null, err
	}
	if count == capacity {
		grown, err := heap.AllocateArray(TagRef, capacity*2)
		if err != nil {
			return Null, err
		}
		for i := int32(0); i < count; i++ {
			v, err := heap.ArrayGet(arr, i)
			if err != nil {
				return Null, err
			}
			if err := heap.ArrayPut(grown, i, v); err != nil {
				return Null, err
			}
		}
		if err := ctx.SetField(recv, "elements", FromRef(grown)); err != nil {
			return Null, err
		}
		arr = grown
	}
	if err := heap.ArrayPut(arr, count, args[0]); err != nil {
		return Null, err
	}
	return Null, ctx.SetField(recv, "count", FromInt(count+1))
}

func vectorElementAt(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	arr, count, err := vectorState(ctx, recv)
	if err != nil {
		return Null, err
	}
	i := args[0].Int()
	if i < 0 || i >= count {
		return Null, Throw(classArrayBounds, "%d of vector size %d", i, count)
	}
	return ctx.VM.heap.ArrayGet(arr, i)
}

func vectorSize(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	_, count, err := vectorState(ctx, recv)
	if err != nil {
		return Null, err
	}
	return FromInt(count), nil
}

func vectorIsEmpty(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	_, count, err := vectorState(ctx, recv)
	if err != nil {
		return Null, err
	}
	if count == 0 {
		return FromInt(1), nil
	}
	return FromInt(0), nil
}

func vectorRemoveAt(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	heap := ctx.VM.heap
	arr, count, err := vectorState(ctx, recv)
	if err != nil {
		return Null, err
	}
	i := args[0].Int()
	if i < 0 || i >= count {
		return Null, Throw(classArrayBounds, "%d of vector size %d", i, count)
	}
	for j := i; j < count-1; j++ {
		v, err := heap.ArrayGet(arr, j+1)
		if err != nil {
			return Null, err
		}
		if err := heap.ArrayPut(arr, j, v); err != nil {
			return Null, err
		}
	}
	if err := heap.ArrayPut(arr, count-1, Null); err != nil {
		return Null, err
	}
	return Null, ctx.SetField(recv, "count", FromInt(count-1))
}

func vectorRemoveAll(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	heap := ctx.VM.heap
	arr, count, err := vectorState(ctx, recv)
	if err != nil {
		return Null, err
	}
	for i := int32(0); i < count; i++ {
		if err := heap.ArrayPut(arr, i, Null); err != nil {
			return Null, err
		}
	}
	return Null, ctx.SetField(recv, "count", FromInt(0))
}
