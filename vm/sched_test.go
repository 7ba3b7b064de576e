package vm

import (
	"testing"
	"time"

	"github.com/sonagi-emu/sonagi/archive"
	"github.com/sonagi-emu/sonagi/host"
)

const (
	jletClass    = "org/kwis/msp/lcdui/Jlet"
	displayClass = "org/kwis/msp/lcdui/Display"
	cardClass    = "org/kwis/msp/lcdui/Card"
	threadClass  = "java/lang/Thread"
)

// workerRecord is a Thread subclass whose run body sets Worker.ran.
func workerRecord(t *testing.T) *archive.ClassRecord {
	t.Helper()
	b := newClass("Worker", threadClass)
	ran := b.cpField("Worker", "ran", "I")
	run := newAsm().i8(1).u16op(OpPutStatic, ran).op(OpReturn).build(t)
	return b.
		field("ran", "I", archive.FlagStatic).
		method("run", "()V", 0, 1, run).
		record()
}

func TestThreadStartRunsOverride(t *testing.T) {
	b := newClass("App", classObject)
	workerRef := b.cpClass("Worker")
	ctor := b.cpMethod(threadClass, "<init>", "()V")
	start := b.cpMethod(threadClass, "start", "()V")

	a := newAsm()
	a.u16op(OpNew, workerRef).op(OpDup)
	a.u16op(OpInvokeSpecial, ctor)
	a.u16op(OpInvokeVirtual, start)
	a.op(OpReturn)

	rec := b.method("main", mainDesc, archive.FlagStatic, 2, a.build(t)).record()
	rig := buildVM(t, "App", workerRecord(t), rec)
	rig.run(t)

	if got := rig.staticInt(t, "Worker", "ran"); got != 1 {
		t.Errorf("spawned thread should have run, ran = %d", got)
	}
}

func TestYieldLetsSpawnedThreadRun(t *testing.T) {
	// After start plus one yield the round-robin runs the worker to
	// completion before main resumes.
	b := newClass("App", classObject)
	seen := b.cpField("App", "seen", "I")
	ran := b.cpField("Worker", "ran", "I")
	workerRef := b.cpClass("Worker")
	ctor := b.cpMethod(threadClass, "<init>", "()V")
	start := b.cpMethod(threadClass, "start", "()V")
	yield := b.cpMethod(threadClass, "yield", "()V")

	a := newAsm()
	a.u16op(OpNew, workerRef).op(OpDup)
	a.u16op(OpInvokeSpecial, ctor)
	a.u16op(OpInvokeVirtual, start)
	a.u16op(OpInvokeStatic, yield)
	a.u16op(OpGetStatic, ran)
	a.u16op(OpPutStatic, seen)
	a.op(OpReturn)

	rec := b.
		field("seen", "I", archive.FlagStatic).
		method("main", mainDesc, archive.FlagStatic, 2, a.build(t)).
		record()
	rig := buildVM(t, "App", workerRecord(t), rec)
	rig.run(t)

	if got := rig.staticInt(t, "App", "seen"); got != 1 {
		t.Errorf("main should observe the worker's write after yield, seen = %d", got)
	}
}

func TestThreadStartTwiceThrows(t *testing.T) {
	b := newClass("App", classObject)
	caught := b.cpField("App", "caught", "I")
	workerRef := b.cpClass("Worker")
	ctor := b.cpMethod(threadClass, "<init>", "()V")
	start := b.cpMethod(threadClass, "start", "()V")

	a := newAsm()
	a.u16op(OpNew, workerRef).op(OpDup)
	a.u16op(OpInvokeSpecial, ctor)
	a.op(OpDup)
	a.u16op(OpInvokeVirtual, start)
	tryStart := a.pc()
	a.u16op(OpInvokeVirtual, start)
	tryEnd := a.pc()
	a.branch(OpGoto, "done")
	handler := a.pc()
	a.op(OpPop)
	a.i8(1).u16op(OpPutStatic, caught)
	a.label("done")
	a.op(OpReturn)

	rec := b.
		field("caught", "I", archive.FlagStatic).
		method("main", mainDesc, archive.FlagStatic, 2, a.build(t),
			archive.HandlerDef{Start: tryStart, End: tryEnd, Handler: handler, Catch: classRuntime}).
		record()
	rig := buildVM(t, "App", workerRecord(t), rec)
	rig.run(t)

	if got := rig.staticInt(t, "App", "caught"); got != 1 {
		t.Errorf("second start should throw, caught = %d", got)
	}
}

func TestSleepParksAndWakes(t *testing.T) {
	b := newClass("App", classObject)
	done := b.cpField("App", "done", "I")
	sleep := b.cpMethod(threadClass, "sleep", "(I)V")

	a := newAsm()
	a.i8(30).u16op(OpInvokeStatic, sleep)
	a.i8(1).u16op(OpPutStatic, done)
	a.op(OpReturn)

	rec := b.
		field("done", "I", archive.FlagStatic).
		method("main", mainDesc, archive.FlagStatic, 2, a.build(t)).
		record()
	rig := buildVM(t, "App", rec)

	before := time.Now()
	rig.run(t)
	elapsed := time.Since(before)

	if got := rig.staticInt(t, "App", "done"); got != 1 {
		t.Errorf("sleeper should resume, done = %d", got)
	}
	if elapsed < 30*time.Millisecond {
		t.Errorf("Run returned after %v, sleep was 30ms", elapsed)
	}
}

func TestSystemExitStopsEverything(t *testing.T) {
	b := newClass("App", classObject)
	after := b.cpField("App", "after", "I")
	exit := b.cpMethod("java/lang/System", "exit", "(I)V")

	a := newAsm()
	a.i8(3).u16op(OpInvokeStatic, exit)
	a.i8(9).u16op(OpPutStatic, after)
	a.op(OpReturn)

	rec := b.
		field("after", "I", archive.FlagStatic).
		method("main", mainDesc, archive.FlagStatic, 2, a.build(t)).
		record()
	rig := buildVM(t, "App", rec)
	rig.run(t)

	if got := rig.vm.ExitCode(); got != 3 {
		t.Errorf("ExitCode = %d, want 3", got)
	}
	if got := rig.staticInt(t, "App", "after"); got != 0 {
		t.Errorf("nothing should run past exit, after = %d", got)
	}
}

// ---------------------------------------------------------------------------
// Jlet lifecycle
// ---------------------------------------------------------------------------

func TestJletConstructorRunsBeforeStartApp(t *testing.T) {
	b := newClass("MyApp", jletClass)
	initDone := b.cpField("MyApp", "initDone", "I")
	seen := b.cpField("MyApp", "seen", "I")
	getActive := b.cpMethod(jletClass, "getActiveJlet", "()Lorg/kwis/msp/lcdui/Jlet;")
	destroy := b.cpMethod(jletClass, "notifyDestroyed", "()V")

	ctor := newAsm().i8(1).u16op(OpPutStatic, initDone).op(OpReturn).build(t)

	sa := newAsm()
	sa.u16op(OpGetStatic, initDone)
	sa.u16op(OpPutStatic, seen)
	sa.u16op(OpInvokeStatic, getActive)
	sa.u16op(OpInvokeVirtual, destroy)
	sa.op(OpReturn)

	rec := b.
		field("initDone", "I", archive.FlagStatic).
		field("seen", "I", archive.FlagStatic).
		method("<init>", "()V", 0, 1, ctor).
		method("startApp", "([Ljava/lang/String;)V", 0, 2, sa.build(t)).
		record()

	rig := buildVM(t, "MyApp", rec)
	rig.run(t)

	if got := rig.staticInt(t, "MyApp", "seen"); got != 1 {
		t.Errorf("startApp should observe the constructor's write, seen = %d", got)
	}
}

func TestEntryClassMustBeRunnable(t *testing.T) {
	// Neither a static main nor a Jlet subclass: Start must refuse.
	rec := newClass("App", classObject).record()
	pkg := archive.NewPackage("TestApp", "App", "1.0", []*archive.ClassRecord{rec}, nil)
	m, err := New(pkg, Options{Display: host.NewTraceSink(), Reporter: host.NewCollectReporter()})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err == nil {
		t.Fatal("Start should reject an entry class with no entry point")
	}
}

// ---------------------------------------------------------------------------
// Event and paint dispatch
// ---------------------------------------------------------------------------

// cardApp wires a Jlet that pushes one card of the given class on start.
func cardApp(t *testing.T, cardName string) *archive.ClassRecord {
	t.Helper()
	b := newClass("MyApp", jletClass)
	card := b.cpClass(cardName)
	cardInit := b.cpMethod(cardName, "<init>", "()V")
	getDisplay := b.cpMethod(displayClass, "getDefaultDisplay", "()Lorg/kwis/msp/lcdui/Display;")
	pushCard := b.cpMethod(displayClass, "pushCard", "(Lorg/kwis/msp/lcdui/Card;)V")

	sa := newAsm()
	sa.u16op(OpNew, card).op(OpDup)
	sa.u16op(OpInvokeSpecial, cardInit)
	sa.store(2)
	sa.u16op(OpInvokeStatic, getDisplay)
	sa.load(2)
	sa.u16op(OpInvokeVirtual, pushCard)
	sa.op(OpReturn)

	return b.method("startApp", "([Ljava/lang/String;)V", 0, 3, sa.build(t)).record()
}

func TestKeyEventDispatch(t *testing.T) {
	b := newClass("MyCard", cardClass)
	typ := b.cpField("MyCard", "type", "I")
	code := b.cpField("MyCard", "code", "I")
	getActive := b.cpMethod(jletClass, "getActiveJlet", "()Lorg/kwis/msp/lcdui/Jlet;")
	destroy := b.cpMethod(jletClass, "notifyDestroyed", "()V")

	// keyNotify(II)Z: record the arguments and shut the app down.
	kn := newAsm()
	kn.load(1).u16op(OpPutStatic, typ)
	kn.load(2).u16op(OpPutStatic, code)
	kn.u16op(OpInvokeStatic, getActive)
	kn.u16op(OpInvokeVirtual, destroy)
	kn.i8(1).op(OpRetVal)

	rec := b.
		field("type", "I", archive.FlagStatic).
		field("code", "I", archive.FlagStatic).
		method("keyNotify", "(II)Z", 0, 3, kn.build(t)).
		record()

	rig := buildVM(t, "MyApp", rec, cardApp(t, "MyCard"))
	input := host.NewQueueSource()
	input.Push(host.Event{Kind: host.EventKeyDown, Code: host.KeySelect})
	rig.vm.input = input
	rig.run(t)

	if got := rig.staticInt(t, "MyCard", "type"); got != keyPressed {
		t.Errorf("type = %d, want pressed (%d)", got, keyPressed)
	}
	if got := rig.staticInt(t, "MyCard", "code"); got != host.KeySelect {
		t.Errorf("code = %d, want %d", got, host.KeySelect)
	}
}

func TestPaintDispatchAndFlip(t *testing.T) {
	b := newClass("MyCard", cardClass)
	setColor := b.cpMethod("org/kwis/msp/lcdui/Graphics", "setColor", "(I)V")
	fillRect := b.cpMethod("org/kwis/msp/lcdui/Graphics", "fillRect", "(IIII)V")

	// paint(Graphics)V: one red rectangle.
	pa := newAsm()
	pa.load(1).i32(0xFF0000)
	pa.u16op(OpInvokeVirtual, setColor)
	pa.load(1).i8(10).i8(20).i8(30).i8(40)
	pa.u16op(OpInvokeVirtual, fillRect)
	pa.op(OpReturn)

	rec := b.
		method("paint", "(Lorg/kwis/msp/lcdui/Graphics;)V", 0, 2, pa.build(t)).
		record()

	// No input source: after the paint pass the scheduler has nothing left
	// and Run returns.
	rig := buildVM(t, "MyApp", rec, cardApp(t, "MyCard"))
	rig.run(t)

	if got := rig.sink.Flips(); got != 1 {
		t.Fatalf("Flips = %d, want 1", got)
	}
	var fill host.DrawOp
	found := false
	for _, op := range rig.sink.Ops() {
		if op.Kind == host.OpFillRect {
			fill = op
			found = true
			break
		}
	}
	if !found {
		t.Fatal("no FILL_RECT op submitted")
	}
	if fill.X != 10 || fill.Y != 20 || fill.W != 30 || fill.H != 40 {
		t.Errorf("fill bounds = (%d,%d %dx%d)", fill.X, fill.Y, fill.W, fill.H)
	}
	if fill.Color != 0xFF0000 {
		t.Errorf("fill color = %06x, want ff0000", fill.Color)
	}
}

func TestEventQueuePolling(t *testing.T) {
	b := newClass("App", classObject)
	got1 := b.cpField("App", "got1", "I")
	got2 := b.cpField("App", "got2", "I")
	kind := b.cpField("App", "kind", "I")
	code := b.cpField("App", "code", "I")
	getEvent := b.cpMethod("org/kwis/msp/io/EventQueue", "getEvent", "([I)Z")

	a := newAsm()
	a.i8(4).u8op(OpNewArray, int(TagInt)).store(1)
	a.load(1).u16op(OpInvokeStatic, getEvent).u16op(OpPutStatic, got1)
	a.load(1).i8(0).op(OpArrGet).u16op(OpPutStatic, kind)
	a.load(1).i8(1).op(OpArrGet).u16op(OpPutStatic, code)
	a.load(1).u16op(OpInvokeStatic, getEvent).u16op(OpPutStatic, got2)
	a.op(OpReturn)

	rec := b.
		field("got1", "I", archive.FlagStatic).
		field("got2", "I", archive.FlagStatic).
		field("kind", "I", archive.FlagStatic).
		field("code", "I", archive.FlagStatic).
		method("main", mainDesc, archive.FlagStatic, 2, a.build(t)).
		record()

	rig := buildVM(t, "App", rec)
	input := host.NewQueueSource()
	input.Push(host.Event{Kind: host.EventKeyDown, Code: host.KeyLeft})
	rig.vm.input = input
	rig.run(t)

	if got := rig.staticInt(t, "App", "got1"); got != 1 {
		t.Errorf("first poll = %d, want 1", got)
	}
	if got := rig.staticInt(t, "App", "kind"); got != int32(host.EventKeyDown) {
		t.Errorf("kind = %d", got)
	}
	if got := rig.staticInt(t, "App", "code"); got != host.KeyLeft {
		t.Errorf("code = %d", got)
	}
	if got := rig.staticInt(t, "App", "got2"); got != 0 {
		t.Errorf("drained queue should report no event, got2 = %d", got)
	}
}

func TestCallbackSleepWakes(t *testing.T) {
	b := newClass("MyCard", cardClass)
	done := b.cpField("MyCard", "done", "I")
	sleep := b.cpMethod(threadClass, "sleep", "(I)V")
	getActive := b.cpMethod(jletClass, "getActiveJlet", "()Lorg/kwis/msp/lcdui/Jlet;")
	destroy := b.cpMethod(jletClass, "notifyDestroyed", "()V")

	// keyNotify(II)Z parks its own thread, then shuts the app down.
	kn := newAsm()
	kn.i8(20).u16op(OpInvokeStatic, sleep)
	kn.i8(1).u16op(OpPutStatic, done)
	kn.u16op(OpInvokeStatic, getActive)
	kn.u16op(OpInvokeVirtual, destroy)
	kn.i8(1).op(OpRetVal)

	rec := b.
		field("done", "I", archive.FlagStatic).
		method("keyNotify", "(II)Z", 0, 3, kn.build(t)).
		record()

	rig := buildVM(t, "MyApp", rec, cardApp(t, "MyCard"))
	input := host.NewQueueSource()
	input.Push(host.Event{Kind: host.EventKeyDown, Code: host.KeySelect})
	rig.vm.input = input

	before := time.Now()
	rig.run(t)
	elapsed := time.Since(before)

	if got := rig.staticInt(t, "MyCard", "done"); got != 1 {
		t.Errorf("callback should resume after sleeping, done = %d", got)
	}
	if elapsed < 20*time.Millisecond {
		t.Errorf("Run returned after %v, callback slept 20ms", elapsed)
	}
}
