package vm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/sonagi-emu/sonagi/archive"
)

var (
	// ErrClassNotFound indicates a reference to a class that is in neither
	// the archive nor the built-in set.
	ErrClassNotFound = errors.New("class not found")
	// ErrVerification indicates structurally invalid input that linking or
	// execution cannot proceed past: inheritance cycles, bad descriptors,
	// malformed bytecode.
	ErrVerification = errors.New("verification failure")
)

// Registry owns the linked class set. Classes link lazily on first
// resolution: superclass first, then layout, then the dispatch table.
// Linking the same name twice returns the same *Class.
type Registry struct {
	mu      sync.Mutex
	records map[string]*archive.ClassRecord
	classes map[string]*Class
	linking map[string]bool

	bridge *Bridge
	log    commonlog.Logger
}

// NewRegistry builds a registry over the archive's class records plus the
// built-in platform classes. Built-ins take precedence; an archive cannot
// redefine java/lang/Object.
func NewRegistry(pkg *archive.Package, bridge *Bridge) *Registry {
	r := &Registry{
		records: make(map[string]*archive.ClassRecord),
		classes: make(map[string]*Class),
		linking: make(map[string]bool),
		bridge:  bridge,
		log:     commonlog.GetLogger("sonagi.linker"),
	}
	if pkg != nil {
		for _, name := range pkg.ClassNames() {
			r.records[name] = pkg.Class(name)
		}
	}
	for _, rec := range builtinRecords() {
		r.records[rec.Name] = rec
	}
	return r
}

// Resolve returns the linked class for a slash-separated name, linking it
// and its ancestry on first use.
func (r *Registry) Resolve(name string) (*Class, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(name)
}

func (r *Registry) resolveLocked(name string) (*Class, error) {
	if c, ok := r.classes[name]; ok {
		return c, nil
	}
	if r.linking[name] {
		return nil, fmt.Errorf("%w: inheritance cycle through %s", ErrVerification, name)
	}
	rec, ok := r.records[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, name)
	}

	r.linking[name] = true
	defer delete(r.linking, name)

	c, err := r.link(rec)
	if err != nil {
		return nil, err
	}
	r.classes[name] = c
	r.log.Debugf("linked %s (%d fields, %d methods)", c.Name, len(rec.Fields), len(rec.Methods))
	return c, nil
}

// link turns one raw record into a Class: superclass resolved, instance
// layout flattened on top of the inherited one, statics allocated, and
// the vtable extended or overridden per own method.
func (r *Registry) link(rec *archive.ClassRecord) (*Class, error) {
	var super *Class
	if rec.SuperName != "" {
		s, err := r.resolveLocked(rec.SuperName)
		if err != nil {
			return nil, fmt.Errorf("linking %s: %w", rec.Name, err)
		}
		super = s
	}

	c := &Class{
		Name:    rec.Name,
		Super:   super,
		Flags:   rec.Flags,
		CP:      rec.CP,
		fields:  make(map[string]*Field),
		methods: make(map[string]*Method),
		vslots:  make(map[string]int),
	}

	if super != nil {
		c.SlotTags = append(c.SlotTags, super.SlotTags...)
		for name, f := range super.fields {
			c.fields[name] = f
		}
		c.vtable = append(c.vtable, super.vtable...)
		for key, slot := range super.vslots {
			c.vslots[key] = slot
		}
	}

	staticCount := 0
	for i := range rec.Fields {
		fd := &rec.Fields[i]
		tag, err := ParseFieldDescriptor(fd.Desc)
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", rec.Name, fd.Name, err)
		}
		f := &Field{Owner: c, Name: fd.Name, Desc: fd.Desc, Tag: tag, Static: fd.IsStatic()}
		if f.Static {
			f.Slot = staticCount
			staticCount++
		} else {
			f.Slot = len(c.SlotTags)
			c.SlotTags = append(c.SlotTags, tag)
		}
		c.fields[fd.Name] = f
	}
	c.NumSlots = len(c.SlotTags)
	c.Statics = make([]Value, staticCount)
	for _, f := range c.fields {
		if f.Static && f.Owner == c {
			c.Statics[f.Slot] = f.Tag.Zero()
		}
	}

	for i := range rec.Methods {
		md := &rec.Methods[i]
		m, err := r.linkMethod(c, md)
		if err != nil {
			return nil, err
		}
		c.methods[m.Key()] = m
		if m.IsStatic() {
			continue
		}
		if slot, ok := c.vslots[m.Key()]; ok {
			c.vtable[slot] = m
			m.VSlot = slot
		} else {
			m.VSlot = len(c.vtable)
			c.vtable = append(c.vtable, m)
			c.vslots[m.Key()] = m.VSlot
		}
	}

	return c, nil
}

func (r *Registry) linkMethod(c *Class, md *archive.MethodDef) (*Method, error) {
	args, ret, err := ParseDescriptor(md.Desc)
	if err != nil {
		return nil, fmt.Errorf("method %s.%s: %w", c.Name, md.Name, err)
	}
	m := &Method{
		Owner:     c,
		Name:      md.Name,
		Desc:      md.Desc,
		Flags:     md.Flags,
		Args:      args,
		Ret:       ret,
		MaxStack:  md.MaxStack,
		MaxLocals: md.MaxLocals,
		Code:      md.Code,
		Handlers:  md.Handlers,
		VSlot:     -1,
	}
	if m.IsNative() && r.bridge != nil {
		// Unbound natives stay nil; calling one raises a
		// NativeError at runtime.
		m.Native = r.bridge.Lookup(c.Name, m.Name, m.Desc)
	}
	if !m.IsNative() && len(m.Code) == 0 {
		return nil, fmt.Errorf("%w: method %s.%s%s has no code", ErrVerification, c.Name, m.Name, m.Desc)
	}
	return m, nil
}

// Linked returns the already-linked class without triggering a link, or
// nil. Used by the heap and diagnostics.
func (r *Registry) Linked(name string) *Class {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.classes[name]
}

// EachLinked visits every linked class. Static fields enumerated here are
// reclamation roots.
func (r *Registry) EachLinked(visit func(*Class)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.classes {
		visit(c)
	}
}
