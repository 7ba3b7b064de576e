package vm

import (
	"fmt"
	"strings"
	"time"

	"github.com/tliron/commonlog"

	"github.com/sonagi-emu/sonagi/archive"
	"github.com/sonagi-emu/sonagi/host"
)

// Options configures a VM. Zero-value collaborators get quiet defaults:
// discarded display output, no input, in-memory records, log reporting.
type Options struct {
	Display  host.DisplaySink
	Input    host.EventSource
	Records  host.RecordStore
	Reporter host.Reporter

	// AppID scopes record names in the store. Defaults to the archive's
	// AppName.
	AppID string

	// Screen size; falls back to the descriptor hints, then 240x320.
	ScreenWidth  int
	ScreenHeight int
}

// VM is one loaded application: linked classes, heap, bridge, threads and
// host collaborators. Create with New, start with Run.
type VM struct {
	pkg      *archive.Package
	registry *Registry
	heap     *Heap
	bridge   *Bridge

	sink     host.DisplaySink
	input    host.EventSource
	records  host.RecordStore
	reporter host.Reporter
	log      commonlog.Logger

	appID   string
	screenW int
	screenH int
	bootAt  time.Time

	threads []*Thread
	main    *Thread
	nextID  int
	rr      int

	eventThread *Thread
	dispatches  []dispatch
	painting    bool
	repaint     bool

	strings  map[string]Handle
	threadOf map[Handle]*Thread // java/lang/Thread object -> thread
	objOf    map[*Thread]Handle

	activeJlet  Handle
	activeCard  Handle
	displayObj  Handle
	defaultFont Handle
	runtimeObj  Handle

	databases map[Handle]string // open DataBase object -> store prefix

	stopped  bool
	exitCode int32
}

// New builds a VM over a loaded package. The bridge table and registry
// are fully assembled here; nothing executes until Run.
func New(pkg *archive.Package, opts Options) (*VM, error) {
	if pkg == nil {
		return nil, fmt.Errorf("%w: no package", ErrVerification)
	}

	vm := &VM{
		pkg:       pkg,
		heap:      NewHeap(),
		sink:      opts.Display,
		input:     opts.Input,
		records:   opts.Records,
		reporter:  opts.Reporter,
		log:       commonlog.GetLogger("sonagi.vm"),
		appID:     opts.AppID,
		screenW:   opts.ScreenWidth,
		screenH:   opts.ScreenHeight,
		strings:   make(map[string]Handle),
		threadOf:  make(map[Handle]*Thread),
		objOf:     make(map[*Thread]Handle),
		databases: make(map[Handle]string),
	}
	if vm.sink == nil {
		vm.sink = host.NullSink{}
	}
	if vm.records == nil {
		vm.records = host.NewMemoryStore()
	}
	if vm.reporter == nil {
		vm.reporter = host.NewLogReporter()
	}
	if vm.appID == "" {
		vm.appID = pkg.AppName
	}
	if vm.screenW == 0 {
		vm.screenW = pkg.ScreenWidth
	}
	if vm.screenH == 0 {
		vm.screenH = pkg.ScreenHeight
	}
	if vm.screenW == 0 {
		vm.screenW = 240
	}
	if vm.screenH == 0 {
		vm.screenH = 320
	}

	vm.bridge = NewBridge()
	registerLangNatives(vm.bridge)
	registerUtilNatives(vm.bridge)
	registerLcduiNatives(vm.bridge)
	registerRecordNatives(vm.bridge)
	registerHandsetNatives(vm.bridge)
	registerInputNatives(vm.bridge)

	vm.registry = NewRegistry(pkg, vm.bridge)
	vm.heap.SetRootEnumerator(vm.eachRoot)
	return vm, nil
}

// Registry exposes the class registry, mainly for tests and diagnostics.
func (vm *VM) Registry() *Registry { return vm.registry }

// Heap exposes the object manager.
func (vm *VM) Heap() *Heap { return vm.heap }

// Bridge exposes the native table; bindings may be replaced before Run.
func (vm *VM) Bridge() *Bridge { return vm.bridge }

// ExitCode returns the status passed to System.exit, 0 otherwise.
func (vm *VM) ExitCode() int32 { return vm.exitCode }

// eachRoot enumerates reclamation roots: thread stacks, static fields,
// interned strings and the platform singletons.
func (vm *VM) eachRoot(mark func(Handle)) {
	for _, t := range vm.threads {
		t.eachRoot(mark)
	}
	if vm.eventThread != nil {
		vm.eventThread.eachRoot(mark)
	}
	vm.registry.EachLinked(func(c *Class) {
		for _, v := range c.Statics {
			if v.IsRef() {
				mark(v.Ref())
			}
		}
	})
	for _, h := range vm.strings {
		mark(h)
	}
	for h := range vm.threadOf {
		mark(h)
	}
	for h := range vm.databases {
		mark(h)
	}
	mark(vm.activeJlet)
	mark(vm.activeCard)
	mark(vm.displayObj)
	mark(vm.defaultFont)
	mark(vm.runtimeObj)
}

// spawn creates a runnable thread entered at the method.
func (vm *VM) spawn(name string, m *Method, args []Value) *Thread {
	t := &Thread{ID: vm.nextID, Name: name}
	vm.nextID++
	t.pushFrame(m, args)
	vm.threads = append(vm.threads, t)
	return t
}

// entryClassName normalizes the descriptor's entry class to the
// slash-separated runtime form.
func (vm *VM) entryClassName() string {
	return strings.ReplaceAll(vm.pkg.Entry, ".", "/")
}

// Start resolves the entry point and spawns the main thread. A static
// main([Ljava/lang/String;)V on the entry class wins; otherwise the
// class must be a Jlet and gets the constructor-then-startApp lifecycle.
func (vm *VM) Start() error {
	entry := vm.entryClassName()
	c, err := vm.registry.Resolve(entry)
	if err != nil {
		return fmt.Errorf("resolving entry class: %w", err)
	}

	argv, err := vm.heap.AllocateArray(TagRef, 0)
	if err != nil {
		return err
	}
	// Not rooted until it lands in the main thread's locals.
	vm.heap.Pin(argv)
	defer vm.heap.Unpin(argv)

	if m, ok := c.LookupMethod("main", "([Ljava/lang/String;)V"); ok && m.IsStatic() {
		vm.main = vm.spawn("main", m, []Value{FromRef(argv)})
		return nil
	}

	jlet, err := vm.registry.Resolve("org/kwis/msp/lcdui/Jlet")
	if err != nil {
		return err
	}
	if !c.IsSubclassOf(jlet) {
		return fmt.Errorf("%w: entry class %s is neither a main holder nor a Jlet", ErrVerification, entry)
	}

	h := vm.heap.Allocate(c)
	vm.activeJlet = h

	start, ok := c.LookupMethod("startApp", "([Ljava/lang/String;)V")
	if !ok {
		return fmt.Errorf("%w: %s has no startApp", ErrVerification, entry)
	}
	vm.main = vm.spawn("main", start, []Value{FromRef(h), FromRef(argv)})

	// The constructor frame sits on top so it runs before startApp.
	if init, ok := c.LookupMethod("<init>", "()V"); ok {
		vm.main.pushFrame(init, []Value{FromRef(h)})
	}
	return nil
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

// newString allocates a String backed by a fresh char array.
func (vm *VM) newString(s string) (Handle, error) {
	c, err := vm.registry.Resolve(classString)
	if err != nil {
		return 0, err
	}
	runes := []rune(s)
	arr, err := vm.heap.AllocateArray(TagChar, int32(len(runes)))
	if err != nil {
		return 0, err
	}
	// The array is unreachable until the String's value field holds it;
	// pin it so the allocation below cannot collect it.
	vm.heap.Pin(arr)
	defer vm.heap.Unpin(arr)
	for i, r := range runes {
		if err := vm.heap.ArrayPut(arr, int32(i), FromInt(int32(r))); err != nil {
			return 0, err
		}
	}
	h := vm.heap.Allocate(c)
	f, ok := c.FieldByName("value")
	if !ok {
		return 0, fmt.Errorf("%w: String has no value field", ErrVerification)
	}
	if err := vm.heap.SetField(h, f.Slot, FromRef(arr)); err != nil {
		return 0, err
	}
	return h, nil
}

// internString returns the canonical String object for a literal.
func (vm *VM) internString(s string) (Handle, error) {
	if h, ok := vm.strings[s]; ok {
		return h, nil
	}
	h, err := vm.newString(s)
	if err != nil {
		return 0, err
	}
	vm.strings[s] = h
	return h, nil
}

// goString reads a String object back into a Go string.
func (vm *VM) goString(h Handle) (string, error) {
	c := vm.heap.Class(h)
	if c == nil {
		return "", fmt.Errorf("%w: not a string object", ErrVerification)
	}
	f, ok := c.FieldByName("value")
	if !ok || f.Static {
		return "", fmt.Errorf("%w: %s is not a string", ErrVerification, c.Name)
	}
	v, err := vm.heap.GetField(h, f.Slot)
	if err != nil {
		return "", err
	}
	if v.IsNull() {
		return "", nil
	}
	arr := v.Ref()
	n, err := vm.heap.ArrayLen(arr)
	if err != nil {
		return "", err
	}
	runes := make([]rune, n)
	for i := int32(0); i < n; i++ {
		e, err := vm.heap.ArrayGet(arr, i)
		if err != nil {
			return "", err
		}
		runes[i] = rune(e.Int())
	}
	return string(runes), nil
}

// reportUnhandled turns a dead thread's trace into a host fault report.
func (vm *VM) reportUnhandled(t *Thread, thrownClass, cause string, trace []string) {
	report := host.FaultReport{Cause: cause, Frames: trace}
	if thrownClass != "" {
		report.Cause = thrownClass
		if cause != "" {
			report.Cause = thrownClass + ": " + cause
		}
	}
	if len(trace) > 0 {
		// Innermost frame identifies the fault site.
		name, pc := splitTraceEntry(trace[0])
		if dot := strings.LastIndex(name, "."); dot > 0 {
			report.Class = name[:dot]
			rest := name[dot+1:]
			if paren := strings.Index(rest, "("); paren > 0 {
				report.Method = rest[:paren]
				report.Signature = rest[paren:]
			} else {
				report.Method = rest
			}
		}
		report.PC = pc
	}
	vm.reporter.ReportFault(report)
	vm.log.Errorf("thread %q died: %s", t.Name, report.Cause)
}

func splitTraceEntry(entry string) (string, int) {
	at := strings.LastIndex(entry, " @")
	if at < 0 {
		return entry, 0
	}
	pc := 0
	fmt.Sscanf(entry[at+2:], "%d", &pc)
	return entry[:at], pc
}
