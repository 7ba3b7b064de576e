// Package archive decodes carrier application archives (.sap files) into
// raw class records and resource blobs. It is purely structural: no
// linking, no bytecode interpretation. The container is a zip holding an
// EUC-KR app.adf descriptor, classes/*.kcl class records, and res/**
// resources.
package archive

import (
	"errors"
	"sort"
)

var (
	// ErrMalformedArchive indicates structural damage: truncated records,
	// bad constant-pool indices, zip corruption.
	ErrMalformedArchive = errors.New("malformed archive")
	// ErrUnsupportedFormat indicates the bytes are not the targeted
	// packaging variant: not a zip, missing descriptor, wrong record magic
	// or version.
	ErrUnsupportedFormat = errors.New("unsupported archive format")
)

// Package is one decoded application archive: ordered class records plus
// named resource blobs plus descriptor metadata. Immutable once loaded.
type Package struct {
	AppName string
	Entry   string // entry class, slash-separated
	Version string

	// Screen size hints from the descriptor; zero when absent.
	ScreenWidth  int
	ScreenHeight int

	classes   map[string]*ClassRecord
	order     []string // class names in archive order
	resources map[string][]byte
}

// Class returns the raw record for a class name, or nil when absent.
func (p *Package) Class(name string) *ClassRecord {
	return p.classes[name]
}

// ClassNames returns class names in archive order.
func (p *Package) ClassNames() []string {
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Resource returns the named resource blob, or nil when absent. The blob
// is shared, not copied; callers must treat it as read-only.
func (p *Package) Resource(name string) []byte {
	return p.resources[name]
}

// HasResource reports whether the named resource exists.
func (p *Package) HasResource(name string) bool {
	_, ok := p.resources[name]
	return ok
}

// ResourceNames returns all resource names, sorted.
func (p *Package) ResourceNames() []string {
	names := make([]string, 0, len(p.resources))
	for name := range p.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NumClasses returns the number of class records.
func (p *Package) NumClasses() int {
	return len(p.classes)
}
