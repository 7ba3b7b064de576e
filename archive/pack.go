package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PackDir assembles a .sap archive from an unpacked application tree:
// an app.adf descriptor (plain UTF-8 on disk; encoding happens at write
// time), compiled class records under classes/, and resources under
// res/.
func PackDir(dir string) ([]byte, error) {
	descriptor, err := os.ReadFile(filepath.Join(dir, descriptorName))
	if err != nil {
		return nil, fmt.Errorf("%w: reading descriptor: %v", ErrUnsupportedFormat, err)
	}
	values, err := descriptorValues(descriptor)
	if err != nil {
		return nil, err
	}

	pkg := NewPackage(values["AppName"], values["Entry"], values["Version"], nil, nil)
	if pkg.AppName == "" || pkg.Entry == "" || pkg.Version == "" {
		return nil, fmt.Errorf("%w: descriptor must carry AppName, Entry and Version", ErrUnsupportedFormat)
	}
	if w, ok := values["ScreenWidth"]; ok {
		if pkg.ScreenWidth, err = strconv.Atoi(w); err != nil {
			return nil, fmt.Errorf("%w: bad ScreenWidth %q", ErrUnsupportedFormat, w)
		}
	}
	if h, ok := values["ScreenHeight"]; ok {
		if pkg.ScreenHeight, err = strconv.Atoi(h); err != nil {
			return nil, fmt.Errorf("%w: bad ScreenHeight %q", ErrUnsupportedFormat, h)
		}
	}

	classFiles, err := filepath.Glob(filepath.Join(dir, classDir, "*"+classExt))
	if err != nil {
		return nil, err
	}
	for _, path := range classFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		rec, err := DecodeClassRecord(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		pkg.classes[rec.Name] = rec
		pkg.order = append(pkg.order, rec.Name)
	}
	if len(pkg.order) == 0 {
		return nil, fmt.Errorf("%w: no class records under %s", ErrUnsupportedFormat, classDir)
	}

	resRoot := filepath.Join(dir, resourceDir)
	_ = filepath.Walk(resRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		rel, relErr := filepath.Rel(resRoot, path)
		if relErr != nil {
			return nil
		}
		pkg.resources[filepath.ToSlash(rel)] = data
		return nil
	})

	return Write(pkg)
}

func descriptorValues(raw []byte) (map[string]string, error) {
	values := make(map[string]string)
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: descriptor line %q", ErrUnsupportedFormat, line)
		}
		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return values, nil
}
