package archive

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/text/encoding/korean"
)

// Write encodes a Package back into .sap bytes. Reading the result yields
// the same class/resource set; this is the format's round-trip contract
// and backs the `sonagi pack` tool.
func Write(pkg *Package) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	adf, err := encodeDescriptor(pkg)
	if err != nil {
		return nil, err
	}
	if err := writeZipFile(zw, descriptorName, adf); err != nil {
		return nil, err
	}

	for _, name := range pkg.order {
		rec := pkg.classes[name]
		data, err := EncodeClassRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("encoding class %s: %w", name, err)
		}
		if err := writeZipFile(zw, classDir+classFileName(name), data); err != nil {
			return nil, err
		}
	}

	for _, name := range pkg.ResourceNames() {
		if err := writeZipFile(zw, resourceDir+name, pkg.resources[name]); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("closing archive: %w", err)
	}
	return buf.Bytes(), nil
}

// classFileName flattens a slash-separated class name into one .kcl entry
// name, the way the carrier tool does.
func classFileName(className string) string {
	out := make([]byte, 0, len(className)+len(classExt))
	for i := 0; i < len(className); i++ {
		if className[i] == '/' {
			out = append(out, '.')
		} else {
			out = append(out, className[i])
		}
	}
	return string(out) + classExt
}

func writeZipFile(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func encodeDescriptor(pkg *Package) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "AppName: %s\r\n", pkg.AppName)
	fmt.Fprintf(&buf, "Entry: %s\r\n", pkg.Entry)
	fmt.Fprintf(&buf, "Version: %s\r\n", pkg.Version)
	if pkg.ScreenWidth > 0 {
		fmt.Fprintf(&buf, "ScreenWidth: %d\r\n", pkg.ScreenWidth)
	}
	if pkg.ScreenHeight > 0 {
		fmt.Fprintf(&buf, "ScreenHeight: %d\r\n", pkg.ScreenHeight)
	}

	encoded, err := korean.EUCKR.NewEncoder().Bytes(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("encoding descriptor: %w", err)
	}
	return encoded, nil
}

// NewPackage assembles a Package from parts. The carrier tool does this
// when packing; tests use it to build fixtures.
func NewPackage(appName, entry, version string, records []*ClassRecord, resources map[string][]byte) *Package {
	pkg := &Package{
		AppName:   appName,
		Entry:     entry,
		Version:   version,
		classes:   make(map[string]*ClassRecord),
		resources: make(map[string][]byte),
	}
	for _, rec := range records {
		pkg.classes[rec.Name] = rec
		pkg.order = append(pkg.order, rec.Name)
	}
	for name, blob := range resources {
		pkg.resources[name] = blob
	}
	return pkg
}

// ---------------------------------------------------------------------------
// Class record encoding
// ---------------------------------------------------------------------------

// cpBuilder extends a constant pool with Utf8 entries without disturbing
// existing indices, so bytecode references stay valid.
type cpBuilder struct {
	pool []CPEntry
	utf8 map[string]int
}

func newCPBuilder(cp []CPEntry) *cpBuilder {
	b := &cpBuilder{utf8: make(map[string]int)}
	if len(cp) == 0 {
		b.pool = make([]CPEntry, 1) // reserved entry 0
	} else {
		b.pool = append(b.pool, cp...)
	}
	for i := 1; i < len(b.pool); i++ {
		if b.pool[i].Kind == CPUtf8 {
			if _, ok := b.utf8[b.pool[i].Str]; !ok {
				b.utf8[b.pool[i].Str] = i
			}
		}
	}
	return b
}

func (b *cpBuilder) utf8Index(s string) int {
	if i, ok := b.utf8[s]; ok {
		return i
	}
	b.pool = append(b.pool, CPEntry{Kind: CPUtf8, Str: s})
	i := len(b.pool) - 1
	b.utf8[s] = i
	return i
}

// EncodeClassRecord serializes one class record to .kcl bytes.
func EncodeClassRecord(rec *ClassRecord) ([]byte, error) {
	b := newCPBuilder(rec.CP)

	// Make sure every string the pool itself references has a Utf8 home.
	for i := 1; i < len(b.pool); i++ {
		switch b.pool[i].Kind {
		case CPString:
			b.utf8Index(b.pool[i].Str)
		case CPClassRef:
			b.utf8Index(b.pool[i].Class)
		case CPFieldRef, CPMethodRef:
			b.utf8Index(b.pool[i].Class)
			b.utf8Index(b.pool[i].Name)
			b.utf8Index(b.pool[i].Desc)
		}
	}

	thisIdx := b.utf8Index(rec.Name)
	superIdx := 0
	if rec.SuperName != "" {
		superIdx = b.utf8Index(rec.SuperName)
	}
	for _, f := range rec.Fields {
		b.utf8Index(f.Name)
		b.utf8Index(f.Desc)
	}
	for _, m := range rec.Methods {
		b.utf8Index(m.Name)
		b.utf8Index(m.Desc)
		for _, h := range m.Handlers {
			if h.Catch != "" {
				b.utf8Index(h.Catch)
			}
		}
	}

	var buf bytes.Buffer
	buf.WriteString(classMagic)
	writeU16(&buf, int(rec.Flags))

	if len(b.pool)-1 > math.MaxUint16 {
		return nil, fmt.Errorf("constant pool overflow in class %s", rec.Name)
	}
	writeU16(&buf, len(b.pool)-1)
	for i := 1; i < len(b.pool); i++ {
		e := b.pool[i]
		buf.WriteByte(byte(e.Kind))
		switch e.Kind {
		case CPUtf8:
			writeU16(&buf, len(e.Str))
			buf.WriteString(e.Str)
		case CPInt:
			writeU32(&buf, uint32(e.Int))
		case CPFloat:
			writeU64(&buf, math.Float64bits(e.Float))
		case CPString:
			writeU16(&buf, b.utf8[e.Str])
		case CPClassRef:
			writeU16(&buf, b.utf8[e.Class])
		case CPFieldRef, CPMethodRef:
			writeU16(&buf, b.utf8[e.Class])
			writeU16(&buf, b.utf8[e.Name])
			writeU16(&buf, b.utf8[e.Desc])
		default:
			return nil, fmt.Errorf("cannot encode constant kind %d in class %s", e.Kind, rec.Name)
		}
	}

	writeU16(&buf, thisIdx)
	writeU16(&buf, superIdx)

	writeU16(&buf, len(rec.Fields))
	for _, f := range rec.Fields {
		writeU16(&buf, b.utf8[f.Name])
		writeU16(&buf, b.utf8[f.Desc])
		writeU16(&buf, int(f.Flags))
	}

	writeU16(&buf, len(rec.Methods))
	for _, m := range rec.Methods {
		writeU16(&buf, b.utf8[m.Name])
		writeU16(&buf, b.utf8[m.Desc])
		writeU16(&buf, int(m.Flags))
		writeU16(&buf, m.MaxStack)
		writeU16(&buf, m.MaxLocals)
		writeU32(&buf, uint32(len(m.Code)))
		buf.Write(m.Code)
		writeU16(&buf, len(m.Handlers))
		for _, h := range m.Handlers {
			writeU16(&buf, h.Start)
			writeU16(&buf, h.End)
			writeU16(&buf, h.Handler)
			if h.Catch == "" {
				writeU16(&buf, 0)
			} else {
				writeU16(&buf, b.utf8[h.Catch])
			}
		}
	}

	return buf.Bytes(), nil
}

func writeU16(buf *bytes.Buffer, v int) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}
