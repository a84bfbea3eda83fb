// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package interp executes code modules.
//
// Modules are loaded lazily: the first INVOKE of "mod.method" loads mod from
// the Source, passes it through the Transform and verifies it. The machine is
// not safe for concurrent use, each worker owns its own machine.
package interp

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/google/bcfuzz/pkg/bytecode"
)

// Recorder receives coverage probes and comparison operands.
type Recorder interface {
	Record(edge uint32)
	RecordCmp(a, b int64)
}

type Config struct {
	Source    Source
	Transform Transform
	MaxDepth  int // call depth limit, StackOverflowError beyond it
}

type Machine struct {
	cfg      Config
	modules  map[string]*module
	order    []string
	failed   map[string]error
	recorder Recorder
	comps    bool
}

type module struct {
	mod     *bytecode.Module
	globals []int64
}

type frame struct {
	mod    *module
	m      *bytecode.Method
	pc     int
	locals []int64
	stack  []int64
}

const (
	DefaultMaxDepth = 256
	checkEvery      = 1 << 10
)

func NewMachine(cfg Config) *Machine {
	if cfg.MaxDepth == 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	return &Machine{
		cfg:     cfg,
		modules: make(map[string]*module),
		failed:  make(map[string]error),
	}
}

// SetRecorder installs the coverage recorder. With comps, comparison
// instructions also report their operands.
func (vm *Machine) SetRecorder(r Recorder, comps bool) {
	vm.recorder = r
	vm.comps = comps && r != nil
}

// Load returns the named module, loading it on first use.
// Failures are remembered so that a broken module is not reloaded on every invoke.
func (vm *Machine) Load(name string) (*bytecode.Module, error) {
	if m := vm.modules[name]; m != nil {
		return m.mod, nil
	}
	if err := vm.failed[name]; err != nil {
		return nil, err
	}
	mod, err := vm.load(name)
	if err != nil {
		vm.failed[name] = err
		return nil, err
	}
	vm.modules[name] = &module{mod: mod, globals: make([]int64, mod.Globals)}
	vm.order = append(vm.order, name)
	return mod, nil
}

func (vm *Machine) load(name string) (*bytecode.Module, error) {
	if vm.cfg.Source == nil {
		return nil, fmt.Errorf("no module source")
	}
	data, err := vm.cfg.Source.Module(name)
	if err != nil {
		return nil, err
	}
	if vm.cfg.Transform != nil {
		data = vm.cfg.Transform(name, data)
	}
	mod, err := bytecode.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("module %v: %w", name, err)
	}
	if mod.Name != name {
		return nil, fmt.Errorf("module %v: file contains module %q", name, mod.Name)
	}
	if err := bytecode.Verify(mod); err != nil {
		return nil, err
	}
	return mod, nil
}

// Loaded returns names of loaded modules in load order.
func (vm *Machine) Loaded() []string {
	return append([]string(nil), vm.order...)
}

// Reset restores all module globals to zero.
func (vm *Machine) Reset() {
	for _, m := range vm.modules {
		clear(m.globals)
	}
}

// Call executes module.method with the given input and arguments.
// It returns the method result, a *Fault for uncaught faults,
// or *Interrupted if the step budget is exhausted or ctx is done.
// maxSteps <= 0 means no step limit.
func (vm *Machine) Call(ctx context.Context, modName, method string, input []byte,
	maxSteps int64, args ...int64) (int64, error) {
	if _, err := vm.Load(modName); err != nil {
		return 0, &Fault{Type: LinkageError, Detail: err.Error()}
	}
	mod := vm.modules[modName]
	idx := mod.mod.Method(method)
	if idx < 0 {
		return 0, &Fault{Type: LinkageError, Detail: fmt.Sprintf("no method %v.%v", modName, method)}
	}
	m := mod.mod.Methods[idx]
	if m.Args != len(args) {
		return 0, &Fault{Type: LinkageError, Detail: fmt.Sprintf("%v.%v wants %v args, got %v",
			modName, method, m.Args, len(args))}
	}
	ex := &execution{vm: vm, ctx: ctx, input: input, maxSteps: maxSteps}
	ex.push(mod, m, args)
	return ex.run()
}

type execution struct {
	vm       *Machine
	ctx      context.Context
	input    []byte
	frames   []*frame
	steps    int64
	maxSteps int64
}

func (ex *execution) push(mod *module, m *bytecode.Method, args []int64) {
	f := &frame{
		mod:    mod,
		m:      m,
		locals: make([]int64, m.Locals),
		stack:  make([]int64, 0, m.MaxStack),
	}
	copy(f.locals, args)
	ex.frames = append(ex.frames, f)
}

func (ex *execution) trace() []Frame {
	var res []Frame
	for i := len(ex.frames) - 1; i >= 0; i-- {
		f := ex.frames[i]
		res = append(res, Frame{Module: f.mod.mod.Name, Method: f.m.Name, PC: f.pc})
	}
	return res
}

func (ex *execution) run() (int64, error) {
	for {
		ret, done, err := ex.step()
		if done {
			return ret, nil
		}
		if err == nil {
			continue
		}
		fault, ok := err.(*Fault)
		if !ok {
			return 0, err
		}
		if fault.Frames == nil {
			fault.Frames = ex.trace()
		}
		if !ex.unwind(fault) {
			return 0, fault
		}
	}
}

// unwind transfers control to the innermost matching handler.
func (ex *execution) unwind(fault *Fault) bool {
	for len(ex.frames) != 0 {
		f := ex.frames[len(ex.frames)-1]
		for _, h := range f.m.Handlers {
			if !h.Covers(f.pc) {
				continue
			}
			if h.Catch != bytecode.CatchAll && f.mod.mod.Consts[h.Catch] != fault.Type {
				continue
			}
			f.stack = f.stack[:0]
			f.pc = h.Target
			return true
		}
		ex.frames = ex.frames[:len(ex.frames)-1]
	}
	return false
}

func (ex *execution) step() (int64, bool, error) {
	f := ex.frames[len(ex.frames)-1]
	in, err := bytecode.DecodeAt(f.m.Code, f.pc)
	if err != nil {
		// Impossible for verified code.
		panic(fmt.Sprintf("%v.%v: %v", f.mod.mod.Name, f.m.Name, err))
	}
	if in.Op == bytecode.OpProbe {
		if ex.vm.recorder != nil {
			ex.vm.recorder.Record(uint32(in.Arg))
		}
		f.pc += in.Size()
		return 0, false, nil
	}
	ex.steps++
	if ex.steps%checkEvery == 0 && ex.ctx.Err() != nil {
		return 0, false, &Interrupted{Reason: ex.ctx.Err().Error(), Frames: ex.trace()}
	}
	if ex.maxSteps > 0 && ex.steps > ex.maxSteps {
		return 0, false, &Interrupted{Reason: "step budget exhausted", Frames: ex.trace()}
	}
	next := f.pc + in.Size()
	switch in.Op {
	case bytecode.OpNop:
	case bytecode.OpPush:
		f.push(in.Arg)
	case bytecode.OpPop:
		f.pop()
	case bytecode.OpDup:
		v := f.pop()
		f.push(v)
		f.push(v)
	case bytecode.OpSwap:
		b, a := f.pop(), f.pop()
		f.push(b)
		f.push(a)
	case bytecode.OpLoad:
		f.push(f.locals[in.Arg])
	case bytecode.OpStore:
		f.locals[in.Arg] = f.pop()
	case bytecode.OpGLoad:
		f.push(f.mod.globals[in.Arg])
	case bytecode.OpGStore:
		f.mod.globals[in.Arg] = f.pop()
	case bytecode.OpNeg:
		f.push(-f.pop())
	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpRem,
		bytecode.OpAnd, bytecode.OpOr, bytecode.OpXor, bytecode.OpShl, bytecode.OpShr:
		b, a := f.pop(), f.pop()
		v, fault := arith(in.Op, a, b)
		if fault != nil {
			return 0, false, fault
		}
		f.push(v)
	case bytecode.OpEq, bytecode.OpNe, bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
		b, a := f.pop(), f.pop()
		if ex.vm.comps {
			ex.vm.recorder.RecordCmp(a, b)
		}
		f.push(compare(in.Op, a, b))
	case bytecode.OpJmp:
		next = in.Target()
	case bytecode.OpJz:
		if f.pop() == 0 {
			next = in.Target()
		}
	case bytecode.OpJnz:
		if f.pop() != 0 {
			next = in.Target()
		}
	case bytecode.OpCall:
		return 0, false, ex.call(f, f.mod, f.mod.mod.Methods[in.Arg])
	case bytecode.OpInvoke:
		return 0, false, ex.invoke(f, f.mod.mod.Consts[in.Arg], in.N)
	case bytecode.OpRet:
		v := f.pop()
		ex.frames = ex.frames[:len(ex.frames)-1]
		if len(ex.frames) == 0 {
			return v, true, nil
		}
		caller := ex.frames[len(ex.frames)-1]
		caller.push(v)
		caller.pc += bytecode.Op(caller.m.Code[caller.pc]).Size()
		return 0, false, nil
	case bytecode.OpThrow:
		return 0, false, &Fault{Type: f.mod.mod.Consts[in.Arg], Detail: "thrown"}
	case bytecode.OpInLen:
		f.push(int64(len(ex.input)))
	case bytecode.OpInByte:
		idx := f.pop()
		if idx < 0 || idx >= int64(len(ex.input)) {
			return 0, false, indexFault(idx, len(ex.input))
		}
		f.push(int64(ex.input[idx]))
	case bytecode.OpInU32:
		idx := f.pop()
		if idx < 0 || idx > int64(len(ex.input))-4 {
			return 0, false, indexFault(idx, len(ex.input))
		}
		f.push(int64(binary.LittleEndian.Uint32(ex.input[idx:])))
	default:
		panic(fmt.Sprintf("unhandled op %v", in.Op))
	}
	f.pc = next
	return 0, false, nil
}

// call enters callee. The caller pc stays at the call instruction until the callee returns,
// so that faults in the callee are matched against the caller's handlers at the call site.
func (ex *execution) call(caller *frame, mod *module, callee *bytecode.Method) error {
	if len(ex.frames) >= ex.vm.cfg.MaxDepth {
		return &Fault{Type: StackOverflowError, Detail: fmt.Sprintf("call depth %v", len(ex.frames))}
	}
	n := callee.Args
	args := caller.stack[len(caller.stack)-n:]
	caller.stack = caller.stack[:len(caller.stack)-n]
	ex.push(mod, callee, args)
	return nil
}

func (ex *execution) invoke(caller *frame, name string, nargs int) error {
	modName, method, _ := bytecode.SplitQualified(name)
	if _, err := ex.vm.Load(modName); err != nil {
		return &Fault{Type: LinkageError, Detail: err.Error()}
	}
	mod := ex.vm.modules[modName]
	idx := mod.mod.Method(method)
	if idx < 0 {
		return &Fault{Type: LinkageError, Detail: fmt.Sprintf("no method %v", name)}
	}
	callee := mod.mod.Methods[idx]
	if callee.Args != nargs {
		return &Fault{Type: LinkageError, Detail: fmt.Sprintf("%v wants %v args, invoked with %v",
			name, callee.Args, nargs)}
	}
	return ex.call(caller, mod, callee)
}

func (f *frame) push(v int64) {
	f.stack = append(f.stack, v)
}

func (f *frame) pop() int64 {
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v
}

func arith(op bytecode.Op, a, b int64) (int64, *Fault) {
	switch op {
	case bytecode.OpAdd:
		return a + b, nil
	case bytecode.OpSub:
		return a - b, nil
	case bytecode.OpMul:
		return a * b, nil
	case bytecode.OpDiv, bytecode.OpRem:
		if b == 0 {
			return 0, &Fault{Type: ArithmeticError, Detail: "division by zero"}
		}
		if op == bytecode.OpDiv {
			return a / b, nil
		}
		return a % b, nil
	case bytecode.OpAnd:
		return a & b, nil
	case bytecode.OpOr:
		return a | b, nil
	case bytecode.OpXor:
		return a ^ b, nil
	case bytecode.OpShl:
		return a << (b & 63), nil
	case bytecode.OpShr:
		return a >> (b & 63), nil
	}
	panic(fmt.Sprintf("not an arithmetic op %v", op))
}

func compare(op bytecode.Op, a, b int64) int64 {
	var res bool
	switch op {
	case bytecode.OpEq:
		res = a == b
	case bytecode.OpNe:
		res = a != b
	case bytecode.OpLt:
		res = a < b
	case bytecode.OpLe:
		res = a <= b
	case bytecode.OpGt:
		res = a > b
	case bytecode.OpGe:
		res = a >= b
	}
	if res {
		return 1
	}
	return 0
}

func indexFault(idx int64, size int) *Fault {
	return &Fault{Type: IndexError, Detail: fmt.Sprintf("input index %v out of range [0, %v)", idx, size)}
}
