// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package instrument inserts coverage probes into code modules.
//
// Every method gets a probe on entry, after each conditional branch (not taken),
// on each taken conditional branch and on each exception handler entry.
// Taken branches and handler entries are routed through trampolines appended
// after the method body:
//
//	jz L            ->   jz T1
//	                     probe <not taken>
//	...                  ...
//	L: ...               L: ...
//	                     T1: probe <taken>
//	                         jmp L
//
// Probes do not touch the operand stack, so the declared max stack stays valid.
// Edge IDs are assigned in a single pass in encounter order: entry, then per
// instruction the handler probe (if the instruction is a handler target) and
// the taken/not-taken pair (if it is a conditional branch).
package instrument

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/bcfuzz/pkg/bytecode"
	"github.com/google/bcfuzz/pkg/hash"
)

type Granularity int

const (
	Edges Granularity = iota
	MethodEntry
	Uninstrumented
)

func (g Granularity) String() string {
	return [...]string{"edges", "entry", "none"}[g]
}

var (
	ErrInstrumented = errors.New("module is already instrumented")
	ErrCapacity     = errors.New("edge space exhausted")
)

type Config struct {
	// Capacity is the total number of edge IDs available (size of the coverage table).
	Capacity int
	Logf     func(level int, msg string, args ...any)
}

// Session assigns edge IDs across all modules of one target run.
// It is safe for concurrent use.
type Session struct {
	cfg     Config
	mu      sync.Mutex
	next    uint32
	cache   map[cacheKey]*Result
	results []*Result
}

type cacheKey struct {
	name string
	sig  hash.Sig
}

// Result of a module rewrite. Blind modules are returned unmodified.
type Result struct {
	Module  string
	Data    []byte
	Blind   bool
	Err     error
	Base    uint32 // first edge ID of the module
	Count   uint32 // number of edge IDs reserved by the module
	Methods []MethodInfo
}

type MethodInfo struct {
	Name        string
	Granularity Granularity
	Base        uint32
	Count       uint32
	Reason      error // why the method was degraded
}

const DefaultCapacity = 1 << 16

func NewSession(cfg Config) *Session {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Logf == nil {
		cfg.Logf = func(int, string, ...any) {}
	}
	return &Session{
		cfg:   cfg,
		cache: make(map[cacheKey]*Result),
	}
}

// Edges returns the number of edge IDs assigned so far.
func (s *Session) Edges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.next)
}

// Results returns results of all distinct rewrites in order.
func (s *Session) Results() []*Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Result(nil), s.results...)
}

// Rewrite instruments the module. Rewriting the same module again returns the same result.
// It never fails: modules that cannot be instrumented are returned unmodified and marked blind.
func (s *Session) Rewrite(name string, data []byte) *Result {
	key := cacheKey{name, hash.Hash(data)}
	s.mu.Lock()
	defer s.mu.Unlock()
	if res := s.cache[key]; res != nil {
		return res
	}
	res := s.rewrite(name, data)
	s.cache[key] = res
	s.results = append(s.results, res)
	if res.Blind {
		s.cfg.Logf(0, "module %v is coverage-blind: %v", name, res.Err)
	} else {
		s.cfg.Logf(1, "module %v: edges [%v, %v)", name, res.Base, res.Base+res.Count)
		for _, m := range res.Methods {
			if m.Granularity != Edges {
				s.cfg.Logf(0, "method %v.%v instrumented at %v granularity: %v",
					name, m.Name, m.Granularity, m.Reason)
			}
		}
	}
	return res
}

func (s *Session) rewrite(name string, data []byte) *Result {
	res := &Result{Module: name, Data: data}
	blind := func(err error) *Result {
		res.Blind = true
		res.Err = err
		return res
	}
	mod, err := bytecode.Parse(data)
	if err != nil {
		return blind(err)
	}
	if err := bytecode.Verify(mod); err != nil {
		return blind(err)
	}
	for _, m := range mod.Methods {
		if hasProbes(m) {
			return blind(ErrInstrumented)
		}
	}
	out := mod.Clone()
	base := s.next
	next := base
	for i, m := range mod.Methods {
		nm, info := rewriteMethod(mod, m, next)
		out.Methods[i] = nm
		res.Methods = append(res.Methods, info)
		next += info.Count
	}
	if uint64(next) > uint64(s.cfg.Capacity) {
		res.Methods = nil
		return blind(fmt.Errorf("%w: module needs %v edges, %v of %v are free",
			ErrCapacity, next-base, s.cfg.Capacity-int(base), s.cfg.Capacity))
	}
	s.next = next
	res.Base = base
	res.Count = next - base
	res.Data = out.Serialize()
	return res
}

func hasProbes(m *bytecode.Method) bool {
	insts, _ := bytecode.Decode(m.Code)
	for _, in := range insts {
		if in.Op == bytecode.OpProbe {
			return true
		}
	}
	return false
}

// rewriteMethod instruments a verified method with edge IDs starting at first,
// degrading to an entry probe or no probes if the result would violate format limits.
func rewriteMethod(mod *bytecode.Module, m *bytecode.Method, first uint32) (*bytecode.Method, MethodInfo) {
	info := MethodInfo{Name: m.Name, Base: first}
	nm, count, err := instrumentEdges(m, first)
	if err == nil {
		err = bytecode.VerifyMethod(mod, nm)
	}
	if err == nil {
		info.Granularity = Edges
		info.Count = count
		return nm, info
	}
	info.Reason = err
	nm, err = instrumentEntry(m, first)
	if err == nil {
		err = bytecode.VerifyMethod(mod, nm)
	}
	if err == nil {
		info.Granularity = MethodEntry
		info.Count = 1
		return nm, info
	}
	info.Granularity = Uninstrumented
	return m, info
}

func instrumentEntry(m *bytecode.Method, id uint32) (*bytecode.Method, error) {
	code, err := bytecode.Append(nil, bytecode.Inst{Op: bytecode.OpProbe, Arg: int64(id)})
	if err != nil {
		return nil, err
	}
	shift := len(code)
	code = append(code, m.Code...)
	if len(code) > bytecode.MaxCodeSize {
		return nil, fmt.Errorf("code size %v exceeds the limit", len(code))
	}
	nm := *m
	nm.Code = code
	nm.Handlers = make([]bytecode.Handler, len(m.Handlers))
	for i, h := range m.Handlers {
		nm.Handlers[i] = bytecode.Handler{
			Start:  h.Start + shift,
			End:    h.End + shift,
			Target: h.Target + shift,
			Catch:  h.Catch,
		}
	}
	if m.Handlers == nil {
		nm.Handlers = nil
	}
	return &nm, nil
}

var probeSize = bytecode.OpProbe.Size()

func instrumentEdges(m *bytecode.Method, first uint32) (*bytecode.Method, uint32, error) {
	insts, err := bytecode.Decode(m.Code)
	if err != nil {
		return nil, 0, err
	}
	index := make(map[int]int, len(insts))
	for i, in := range insts {
		index[in.PC] = i
	}
	isHandler := make(map[int]bool)
	for _, h := range m.Handlers {
		isHandler[h.Target] = true
	}

	// Assign IDs and compute the layout.
	id := first
	alloc := func() uint32 {
		id++
		return id - 1
	}
	entryID := alloc()
	var (
		base       = make([]int, len(insts)+1)
		instrPos   = make([]int, len(insts))
		takenID    = make(map[int]uint32) // by instruction index
		notTakenID = make(map[int]uint32)
		handlerID  = make(map[int]uint32) // by original pc
		handlers   []int                  // handler target pcs in ID order
		pos        = 0
	)
	for i, in := range insts {
		if isHandler[in.PC] {
			handlerID[in.PC] = alloc()
			handlers = append(handlers, in.PC)
		}
		if in.Op.IsCondBranch() {
			takenID[i] = alloc()
			notTakenID[i] = alloc()
		}
	}
	for i, in := range insts {
		base[i] = pos
		if i == 0 || insts[i-1].Op.IsCondBranch() {
			pos += probeSize
		}
		instrPos[i] = pos
		pos += in.Size()
	}
	if insts[len(insts)-1].Op.IsCondBranch() {
		// Unreachable, but keeps the ID assignment uniform.
		pos += probeSize
	}
	bodyEnd := pos
	base[len(insts)] = bodyEnd
	trampSize := probeSize + bytecode.OpJmp.Size()
	tramp := make(map[int]int)
	for i, in := range insts {
		if in.Op.IsCondBranch() {
			tramp[i] = pos
			pos += trampSize
		}
	}
	handlerTramp := make(map[int]int)
	for _, pc := range handlers {
		handlerTramp[pc] = pos
		pos += trampSize
	}
	if pos > bytecode.MaxCodeSize {
		return nil, 0, fmt.Errorf("code size %v exceeds the limit", pos)
	}

	// Emit.
	code := make([]byte, 0, pos)
	emit := func(in bytecode.Inst) {
		if err == nil {
			code, err = bytecode.Append(code, in)
		}
	}
	probe := func(id uint32) {
		emit(bytecode.Inst{Op: bytecode.OpProbe, Arg: int64(id)})
	}
	for i, in := range insts {
		if i == 0 {
			probe(entryID)
		} else if insts[i-1].Op.IsCondBranch() {
			probe(notTakenID[i-1])
		}
		out := in
		out.PC = instrPos[i]
		switch {
		case in.Op.IsCondBranch():
			out.Arg = int64(tramp[i] - instrPos[i])
		case in.Op == bytecode.OpJmp:
			out.Arg = int64(instrPos[index[in.Target()]] - instrPos[i])
		}
		emit(out)
	}
	if last := len(insts) - 1; insts[last].Op.IsCondBranch() {
		probe(notTakenID[last])
	}
	jmpFrom := func(from, to int) {
		emit(bytecode.Inst{PC: from, Op: bytecode.OpJmp, Arg: int64(to - from)})
	}
	for i, in := range insts {
		if in.Op.IsCondBranch() {
			probe(takenID[i])
			jmpFrom(tramp[i]+probeSize, instrPos[index[in.Target()]])
		}
	}
	for _, pc := range handlers {
		probe(handlerID[pc])
		jmpFrom(handlerTramp[pc]+probeSize, instrPos[index[pc]])
	}
	if err != nil {
		return nil, 0, err
	}
	if len(code) != pos {
		panic(fmt.Sprintf("layout mismatch: %v vs %v", len(code), pos))
	}

	nm := *m
	nm.Code = code
	nm.Handlers = nil
	for _, h := range m.Handlers {
		end := bodyEnd
		if h.End != len(m.Code) {
			end = base[index[h.End]]
		}
		nm.Handlers = append(nm.Handlers, bytecode.Handler{
			Start:  base[index[h.Start]],
			End:    end,
			Target: handlerTramp[h.Target],
			Catch:  h.Catch,
		})
	}
	return &nm, id - first, nil
}
