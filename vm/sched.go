package vm

import (
	"context"
	"time"

	"github.com/sonagi-emu/sonagi/host"
)

// sliceBudget is the instruction count a thread runs before the
// scheduler rotates.
const sliceBudget = 1000

// Key event types passed to Card.keyNotify.
const (
	keyPressed  = 1
	keyReleased = 2
)

type dispatchKind int

const (
	dispatchEvent dispatchKind = iota
	dispatchPaint
)

// dispatch is one queued callback job for the event thread: an input
// event for the active card, or a paint pass.
type dispatch struct {
	kind  dispatchKind
	event host.Event
}

// Run executes the application until every thread finishes, the app
// stops itself (System.exit, Jlet.notifyDestroyed), or the context is
// cancelled. The returned error is a fatal runtime failure; clean exits
// and unhandled application throwables return nil (the latter are
// reported through the Reporter).
func (vm *VM) Run(ctx context.Context) error {
	if vm.main == nil {
		if err := vm.Start(); err != nil {
			return err
		}
	}
	vm.bootAt = time.Now()

	for !vm.stopped {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		vm.wakeSleepers(time.Now())
		t := vm.nextRunnable()
		if t != nil {
			vm.runSlice(t, sliceBudget)
		}

		vm.pumpEvents()
		vm.serviceDispatch()
		vm.prune()

		if t == nil {
			if vm.idle() {
				break
			}
			vm.napUntilWork(ctx)
		}
	}

	if vm.main != nil && vm.main.Err != nil {
		return vm.main.Err
	}
	return nil
}

// Stop requests termination at the next slice boundary.
func (vm *VM) Stop() {
	vm.stopped = true
}

func (vm *VM) wakeSleepers(now time.Time) {
	for _, t := range vm.threads {
		if t.state == threadSleeping && !now.Before(t.wake) {
			t.state = threadRunnable
		}
	}
	// Callbacks can sleep too; the event thread never joins vm.threads.
	if t := vm.eventThread; t != nil && t.state == threadSleeping && !now.Before(t.wake) {
		t.state = threadRunnable
	}
}

// nextRunnable picks the event thread when it has work, otherwise the
// next application thread round-robin.
func (vm *VM) nextRunnable() *Thread {
	if et := vm.eventThread; et != nil && et.state == threadRunnable && len(et.frames) > 0 {
		return et
	}
	n := len(vm.threads)
	for i := 0; i < n; i++ {
		vm.rr = (vm.rr + 1) % n
		t := vm.threads[vm.rr]
		if t.state == threadRunnable && len(t.frames) > 0 {
			return t
		}
	}
	return nil
}

// prune drops finished threads. The main thread stays for exit status.
func (vm *VM) prune() {
	kept := vm.threads[:0]
	for _, t := range vm.threads {
		if !t.Finished() || t == vm.main {
			kept = append(kept, t)
			continue
		}
		if h, ok := vm.objOf[t]; ok {
			delete(vm.objOf, t)
			delete(vm.threadOf, h)
		}
	}
	vm.threads = kept
}

// idle reports that nothing can make progress anymore without external
// stimulus. A Jlet app with an input source stays alive for events.
func (vm *VM) idle() bool {
	for _, t := range vm.threads {
		if !t.Finished() {
			return false
		}
	}
	if vm.eventThread != nil && !vm.eventThread.Finished() && len(vm.eventThread.frames) > 0 {
		return false
	}
	if len(vm.dispatches) > 0 || vm.repaint {
		return false
	}
	if vm.activeJlet != 0 && vm.input != nil {
		return false // event-driven app, parked on input
	}
	return true
}

// napUntilWork sleeps until the earliest sleeper wakes, bounded so input
// polling stays responsive.
func (vm *VM) napUntilWork(ctx context.Context) {
	nap := 2 * time.Millisecond
	now := time.Now()
	deadline := func(t *Thread) {
		if t.state == threadSleeping {
			if d := t.wake.Sub(now); d > 0 && d < nap {
				nap = d
			}
		}
	}
	for _, t := range vm.threads {
		deadline(t)
	}
	if vm.eventThread != nil {
		deadline(vm.eventThread)
	}
	timer := time.NewTimer(nap)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// ---------------------------------------------------------------------------
// Event and paint dispatch
// ---------------------------------------------------------------------------

// pumpEvents drains the host input source into the dispatch queue.
func (vm *VM) pumpEvents() {
	if vm.input == nil {
		return
	}
	for {
		ev, ok := vm.input.Poll()
		if !ok {
			return
		}
		vm.dispatches = append(vm.dispatches, dispatch{kind: dispatchEvent, event: ev})
	}
}

// serviceDispatch starts the next queued callback once the event thread
// is free. Paint jobs flip the display when their callback returns.
func (vm *VM) serviceDispatch() {
	if vm.eventThread != nil && !vm.eventThread.Finished() && len(vm.eventThread.frames) > 0 {
		return
	}
	if vm.painting {
		vm.painting = false
		vm.sink.Flip()
	}

	var job dispatch
	switch {
	case len(vm.dispatches) > 0:
		job = vm.dispatches[0]
		vm.dispatches = vm.dispatches[1:]
	case vm.repaint:
		vm.repaint = false
		job = dispatch{kind: dispatchPaint}
	default:
		return
	}

	if vm.activeCard == 0 {
		return
	}
	card := vm.heap.Class(vm.activeCard)
	if card == nil {
		return
	}

	switch job.kind {
	case dispatchPaint:
		m, ok := card.LookupMethod("paint", "(Lorg/kwis/msp/lcdui/Graphics;)V")
		if !ok {
			return
		}
		g, err := vm.newGraphics()
		if err != nil {
			vm.log.Errorf("allocating graphics context: %s", err)
			return
		}
		vm.startCallback(m, []Value{FromRef(vm.activeCard), FromRef(g)})
		vm.painting = true

	case dispatchEvent:
		switch job.event.Kind {
		case host.EventKeyDown:
			vm.startKeyCallback(card, keyPressed, job.event.Code)
		case host.EventKeyUp:
			vm.startKeyCallback(card, keyReleased, job.event.Code)
		case host.EventPointer:
			if m, ok := card.LookupMethod("penNotify", "(III)Z"); ok {
				vm.startCallback(m, []Value{
					FromRef(vm.activeCard),
					FromInt(keyPressed),
					FromInt(int32(job.event.X)),
					FromInt(int32(job.event.Y)),
				})
			}
		}
	}
}

func (vm *VM) startKeyCallback(card *Class, kind, code int) {
	m, ok := card.LookupMethod("keyNotify", "(II)Z")
	if !ok {
		return
	}
	vm.startCallback(m, []Value{
		FromRef(vm.activeCard),
		FromInt(int32(kind)),
		FromInt(int32(code)),
	})
}

// startCallback resets the event thread onto a fresh activation.
func (vm *VM) startCallback(m *Method, args []Value) {
	if vm.eventThread == nil {
		vm.eventThread = &Thread{ID: -1, Name: "event"}
	}
	t := vm.eventThread
	t.frames = t.frames[:0]
	t.stack = t.stack[:0]
	t.state = threadRunnable
	t.Fault = 0
	t.Err = nil
	t.pushFrame(m, args)
}

// newGraphics allocates a Graphics context clipped to the full screen.
func (vm *VM) newGraphics() (Handle, error) {
	c, err := vm.registry.Resolve("org/kwis/msp/lcdui/Graphics")
	if err != nil {
		return 0, err
	}
	g := vm.heap.Allocate(c)
	set := func(name string, v int32) error {
		f, ok := c.FieldByName(name)
		if !ok {
			return nil
		}
		return vm.heap.SetField(g, f.Slot, FromInt(v))
	}
	if err := set("clipW", int32(vm.screenW)); err != nil {
		return 0, err
	}
	if err := set("clipH", int32(vm.screenH)); err != nil {
		return 0, err
	}
	return g, nil
}
