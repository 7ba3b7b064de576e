package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/text/encoding/korean"
)

const (
	descriptorName = "app.adf"
	classDir       = "classes/"
	classExt       = ".kcl"
	resourceDir    = "res/"
)

// Read decodes a .sap archive from raw bytes into a Package.
func Read(data []byte) (*Package, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: not a zip container: %v", ErrUnsupportedFormat, err)
	}

	pkg := &Package{
		classes:   make(map[string]*ClassRecord),
		resources: make(map[string][]byte),
	}

	var descriptor []byte
	var errs *multierror.Error

	for _, f := range zr.File {
		name := path.Clean(f.Name)
		if strings.HasSuffix(name, "/") || f.FileInfo().IsDir() {
			continue
		}

		content, err := readZipFile(f)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", ErrMalformedArchive, name, err)
		}

		switch {
		case name == descriptorName:
			descriptor = content
		case strings.HasPrefix(name, classDir) && strings.HasSuffix(name, classExt):
			rec, err := DecodeClassRecord(content)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", name, err))
				continue
			}
			if _, dup := pkg.classes[rec.Name]; dup {
				errs = multierror.Append(errs, fmt.Errorf("%s: duplicate class %s", name, rec.Name))
				continue
			}
			pkg.classes[rec.Name] = rec
			pkg.order = append(pkg.order, rec.Name)
		case strings.HasPrefix(name, resourceDir):
			pkg.resources[strings.TrimPrefix(name, resourceDir)] = content
		}
		// Anything else in the container is ignored, as the handset does.
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
	}
	if descriptor == nil {
		return nil, fmt.Errorf("%w: missing %s descriptor", ErrUnsupportedFormat, descriptorName)
	}
	if err := parseDescriptor(descriptor, pkg); err != nil {
		return nil, err
	}
	return pkg, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// parseDescriptor decodes the EUC-KR "Key: Value" descriptor lines.
func parseDescriptor(raw []byte, pkg *Package) error {
	decoded, err := korean.EUCKR.NewDecoder().Bytes(raw)
	if err != nil {
		return fmt.Errorf("%w: descriptor is not valid EUC-KR", ErrUnsupportedFormat)
	}

	values := make(map[string]string)
	for _, line := range strings.Split(string(decoded), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return fmt.Errorf("%w: descriptor line %q", ErrUnsupportedFormat, line)
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	pkg.AppName = values["AppName"]
	pkg.Entry = values["Entry"]
	pkg.Version = values["Version"]
	if pkg.AppName == "" || pkg.Entry == "" || pkg.Version == "" {
		return fmt.Errorf("%w: descriptor must carry AppName, Entry and Version", ErrUnsupportedFormat)
	}

	if w, ok := values["ScreenWidth"]; ok {
		if pkg.ScreenWidth, err = strconv.Atoi(w); err != nil {
			return fmt.Errorf("%w: bad ScreenWidth %q", ErrUnsupportedFormat, w)
		}
	}
	if h, ok := values["ScreenHeight"]; ok {
		if pkg.ScreenHeight, err = strconv.Atoi(h); err != nil {
			return fmt.Errorf("%w: bad ScreenHeight %q", ErrUnsupportedFormat, h)
		}
	}
	return nil
}
