// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package interp

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ModuleExt is the file extension of binary code modules.
const ModuleExt = ".bcm"

// Source provides raw module bytes by module name.
type Source interface {
	Module(name string) ([]byte, error)
	List() ([]string, error)
}

// Transform is applied to raw module bytes before parsing (e.g. coverage instrumentation).
type Transform func(name string, data []byte) []byte

// DirSource loads modules from <dir>/<name>.bcm.
type DirSource string

func (dir DirSource) Module(name string) ([]byte, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("bad module name %q", name)
	}
	return os.ReadFile(filepath.Join(string(dir), name+ModuleExt))
}

func (dir DirSource) List() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(string(dir), "*"+ModuleExt))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, file := range files {
		names = append(names, strings.TrimSuffix(filepath.Base(file), ModuleExt))
	}
	return names, nil
}

// MapSource serves modules from memory.
type MapSource map[string][]byte

func (ms MapSource) Module(name string) ([]byte, error) {
	data, ok := ms[name]
	if !ok {
		return nil, fmt.Errorf("no module %q", name)
	}
	return data, nil
}

func (ms MapSource) List() ([]string, error) {
	var names []string
	for name := range ms {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}
