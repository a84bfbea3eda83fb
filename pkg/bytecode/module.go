// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package bytecode defines the binary code-module format of the runtime:
// parsing, serialization, verification and a text assembler.
//
// Module layout (all integers little-endian, strings are u16 length + bytes):
//
//	"BCM1" u16:version str:name
//	u16:nconsts {str}
//	u8:nglobals
//	u16:nmethods {
//		str:name u8:args u8:locals u16:maxstack
//		u32:codelen code
//		u16:nhandlers {u32:start u32:end u32:target u16:catch}
//	}
package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	Magic   = "BCM1"
	Version = 1

	MaxCodeSize = 1<<16 - 1
	MaxStack    = 1 << 10
	MaxLocals   = 1<<8 - 1
	MaxGlobals  = 1<<8 - 1
	MaxConsts   = 1<<16 - 2
	MaxMethods  = 1 << 16
	MaxHandlers = 1<<16 - 1

	// CatchAll in Handler.Catch matches any fault type.
	CatchAll = 0xffff
)

var (
	ErrFormat       = errors.New("malformed module")
	ErrVersion      = errors.New("unsupported module version")
	ErrBranchOffset = errors.New("branch offset does not fit")
)

type Module struct {
	Name    string
	Version int
	Consts  []string
	Globals int
	Methods []*Method
}

type Method struct {
	Name     string
	Args     int // arguments are passed in the first Args locals
	Locals   int
	MaxStack int
	Code     []byte
	Handlers []Handler
}

// Handler transfers control to Target when a fault of type Consts[Catch]
// (or any fault for CatchAll) is raised at pc in [Start, End).
type Handler struct {
	Start  int
	End    int
	Target int
	Catch  int
}

func (h Handler) Covers(pc int) bool {
	return pc >= h.Start && pc < h.End
}

// Method returns the method index by name, or -1.
func (mod *Module) Method(name string) int {
	for i, m := range mod.Methods {
		if m.Name == name {
			return i
		}
	}
	return -1
}

// Const returns the index of the constant, adding it if necessary.
func (mod *Module) Const(s string) int {
	for i, c := range mod.Consts {
		if c == s {
			return i
		}
	}
	mod.Consts = append(mod.Consts, s)
	return len(mod.Consts) - 1
}

func (mod *Module) Clone() *Module {
	clone := *mod
	clone.Consts = append([]string(nil), mod.Consts...)
	clone.Methods = make([]*Method, len(mod.Methods))
	for i, m := range mod.Methods {
		m1 := *m
		m1.Code = append([]byte(nil), m.Code...)
		m1.Handlers = append([]Handler(nil), m.Handlers...)
		clone.Methods[i] = &m1
	}
	return &clone
}

// SplitQualified splits "module.method".
func SplitQualified(name string) (module, method string, ok bool) {
	pos := strings.LastIndexByte(name, '.')
	if pos <= 0 || pos == len(name)-1 {
		return "", "", false
	}
	return name[:pos], name[pos+1:], true
}

// Parse decodes the binary module. It checks only the container structure,
// use Verify to check the code.
func Parse(data []byte) (*Module, error) {
	r := &reader{data: data}
	if string(r.bytes(len(Magic))) != Magic {
		return nil, fmt.Errorf("%w: bad magic", ErrFormat)
	}
	mod := &Module{Version: int(r.u16())}
	if r.err == nil && mod.Version != Version {
		return nil, fmt.Errorf("%w: %v", ErrVersion, mod.Version)
	}
	mod.Name = r.str()
	for n := r.u16(); n > 0 && r.err == nil; n-- {
		mod.Consts = append(mod.Consts, r.str())
	}
	mod.Globals = int(r.u8())
	for n := r.u16(); n > 0 && r.err == nil; n-- {
		m := &Method{
			Name:     r.str(),
			Args:     int(r.u8()),
			Locals:   int(r.u8()),
			MaxStack: int(r.u16()),
		}
		m.Code = append([]byte(nil), r.bytes(int(r.u32()))...)
		for nh := r.u16(); nh > 0 && r.err == nil; nh-- {
			m.Handlers = append(m.Handlers, Handler{
				Start:  int(r.u32()),
				End:    int(r.u32()),
				Target: int(r.u32()),
				Catch:  int(r.u16()),
			})
		}
		mod.Methods = append(mod.Methods, m)
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.pos != len(data) {
		return nil, fmt.Errorf("%w: %v trailing bytes", ErrFormat, len(data)-r.pos)
	}
	return mod, nil
}

// Serialize encodes the module. The module must satisfy the format limits (see Verify).
func (mod *Module) Serialize() []byte {
	w := new(writer)
	w.buf = append(w.buf, Magic...)
	w.u16(uint16(mod.Version))
	w.str(mod.Name)
	w.u16(uint16(len(mod.Consts)))
	for _, c := range mod.Consts {
		w.str(c)
	}
	w.buf = append(w.buf, byte(mod.Globals))
	w.u16(uint16(len(mod.Methods)))
	for _, m := range mod.Methods {
		w.str(m.Name)
		w.buf = append(w.buf, byte(m.Args), byte(m.Locals))
		w.u16(uint16(m.MaxStack))
		w.u32(uint32(len(m.Code)))
		w.buf = append(w.buf, m.Code...)
		w.u16(uint16(len(m.Handlers)))
		for _, h := range m.Handlers {
			w.u32(uint32(h.Start))
			w.u32(uint32(h.End))
			w.u32(uint32(h.Target))
			w.u16(uint16(h.Catch))
		}
	}
	return w.buf
}

type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("%w: unexpected end of data at offset %v", ErrFormat, r.pos)
		return nil
	}
	res := r.data[r.pos : r.pos+n]
	r.pos += n
	return res
}

func (r *reader) u8() uint8 {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) str() string {
	return string(r.bytes(int(r.u16())))
}

type writer struct {
	buf []byte
}

func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

func (w *writer) str(s string) {
	w.u16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}
