package vm

import "github.com/sonagi-emu/sonagi/host"

// org/kwis/msp/io natives: the polled event queue. Apps that poll here
// take events before the scheduler dispatches them to Card callbacks.

const ioEventQueue = "org/kwis/msp/io/EventQueue"

func registerInputNatives(b *Bridge) {
	b.Register(ioEventQueue, "getEvent", "([I)Z", eventQueueGet)
}

// eventQueueGet fills a 4-int array {kind, code, x, y} with the next
// pending input event. Returns false and leaves the array alone when no
// event is available.
func eventQueueGet(ctx *NativeCtx, recv Value, args []Value) (Value, error) {
	if args[0].IsNull() {
		return Null, Throw(classNullPointer, "getEvent")
	}
	arr := args[0].Ref()
	n, err := ctx.VM.heap.ArrayLen(arr)
	if err != nil {
		return Null, err
	}
	if n < 4 {
		return Null, Throw(classArrayBounds, "event array length %d, need 4", n)
	}

	ev, ok := ctx.VM.takeEvent()
	if !ok {
		return FromInt(0), nil
	}
	fields := [4]int32{int32(ev.Kind), int32(ev.Code), int32(ev.X), int32(ev.Y)}
	for i, v := range fields {
		if err := ctx.VM.heap.ArrayPut(arr, int32(i), FromInt(v)); err != nil {
			return Null, err
		}
	}
	return FromInt(1), nil
}

// takeEvent pops the next input event, preferring ones already queued
// for dispatch so polling and callbacks never both see one.
func (vm *VM) takeEvent() (host.Event, bool) {
	for i, d := range vm.dispatches {
		if d.kind == dispatchEvent {
			vm.dispatches = append(vm.dispatches[:i], vm.dispatches[i+1:]...)
			return d.event, true
		}
	}
	if vm.input != nil {
		return vm.input.Poll()
	}
	return host.Event{}, false
}
