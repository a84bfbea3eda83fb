// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package bytecode

import (
	"errors"
	"fmt"
)

var ErrVerify = errors.New("verification failed")

// Verify checks structural limits of the module and the code of all methods.
// A verified module cannot make the interpreter misbehave: all operand indexes
// are in range, all jumps land on instruction boundaries, the operand stack
// never underflows and never grows beyond the declared maximum.
func Verify(mod *Module) error {
	if mod.Globals < 0 || mod.Globals > MaxGlobals {
		return verifyErr(mod, nil, "too many globals: %v", mod.Globals)
	}
	if len(mod.Consts) > MaxConsts {
		return verifyErr(mod, nil, "too many constants: %v", len(mod.Consts))
	}
	if len(mod.Methods) > MaxMethods {
		return verifyErr(mod, nil, "too many methods: %v", len(mod.Methods))
	}
	names := make(map[string]bool)
	for _, m := range mod.Methods {
		if names[m.Name] {
			return verifyErr(mod, m, "duplicate method")
		}
		names[m.Name] = true
		if err := VerifyMethod(mod, m); err != nil {
			return err
		}
	}
	return nil
}

func VerifyMethod(mod *Module, m *Method) error {
	depth, err := analyze(mod, m)
	if err != nil {
		return err
	}
	if depth > m.MaxStack {
		return verifyErr(mod, m, "stack depth %v exceeds declared max %v", depth, m.MaxStack)
	}
	return nil
}

// ComputeMaxStack returns the maximum operand stack depth the method can reach.
func ComputeMaxStack(mod *Module, m *Method) (int, error) {
	return analyze(mod, m)
}

func analyze(mod *Module, m *Method) (int, error) {
	if len(m.Code) == 0 {
		return 0, verifyErr(mod, m, "empty code")
	}
	if len(m.Code) > MaxCodeSize {
		return 0, verifyErr(mod, m, "code size %v exceeds %v", len(m.Code), MaxCodeSize)
	}
	if m.Args < 0 || m.Args > m.Locals || m.Locals > MaxLocals {
		return 0, verifyErr(mod, m, "bad args/locals: %v/%v", m.Args, m.Locals)
	}
	if m.MaxStack < 0 || m.MaxStack > MaxStack {
		return 0, verifyErr(mod, m, "bad max stack %v", m.MaxStack)
	}
	if len(m.Handlers) > MaxHandlers {
		return 0, verifyErr(mod, m, "too many handlers: %v", len(m.Handlers))
	}
	insts, err := Decode(m.Code)
	if err != nil {
		return 0, verifyErr(mod, m, "%v", err)
	}
	index := make(map[int]int, len(insts))
	for i, in := range insts {
		index[in.PC] = i
	}
	boundary := func(pc int) bool {
		_, ok := index[pc]
		return ok
	}
	pops := make([]int, len(insts))
	for i, in := range insts {
		if pops[i], err = checkOperands(mod, m, in); err != nil {
			return 0, verifyErr(mod, m, "pc %v: %v", in.PC, err)
		}
		if in.Op.IsBranch() && !boundary(in.Target()) {
			return 0, verifyErr(mod, m, "pc %v: branch target %v is not an instruction", in.PC, in.Target())
		}
	}
	for i, h := range m.Handlers {
		if h.Start < 0 || h.Start >= h.End || h.End > len(m.Code) ||
			!boundary(h.Start) || (h.End != len(m.Code) && !boundary(h.End)) {
			return 0, verifyErr(mod, m, "handler %v: bad range [%v, %v)", i, h.Start, h.End)
		}
		if !boundary(h.Target) {
			return 0, verifyErr(mod, m, "handler %v: target %v is not an instruction", i, h.Target)
		}
		if h.Catch != CatchAll && h.Catch >= len(mod.Consts) {
			return 0, verifyErr(mod, m, "handler %v: bad catch type %v", i, h.Catch)
		}
	}

	depths := make([]int, len(insts))
	for i := range depths {
		depths[i] = -1
	}
	var work []int
	enter := func(pc, depth int) error {
		i := index[pc]
		if depths[i] == -1 {
			depths[i] = depth
			work = append(work, i)
			return nil
		}
		if depths[i] != depth {
			return verifyErr(mod, m, "pc %v: inconsistent stack depth %v vs %v", pc, depths[i], depth)
		}
		return nil
	}
	if err := enter(0, 0); err != nil {
		return 0, err
	}
	// Faults clear the operand stack, handlers start with an empty one.
	for _, h := range m.Handlers {
		if err := enter(h.Target, 0); err != nil {
			return 0, err
		}
	}
	maxDepth := 0
	for len(work) != 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		in := insts[i]
		depth := depths[i] - pops[i]
		if depth < 0 {
			return 0, verifyErr(mod, m, "pc %v: %v underflows the stack", in.PC, in.Op)
		}
		depth += opTable[in.Op].push
		maxDepth = max(maxDepth, depth)
		if in.Op.IsBranch() {
			if err := enter(in.Target(), depth); err != nil {
				return 0, err
			}
		}
		if in.Op.IsTerminal() {
			continue
		}
		next := in.PC + in.Size()
		if next == len(m.Code) {
			return 0, verifyErr(mod, m, "pc %v: execution falls off the end of the code", in.PC)
		}
		if err := enter(next, depth); err != nil {
			return 0, err
		}
	}
	return maxDepth, nil
}

// checkOperands validates instruction operands and returns the number of popped values.
func checkOperands(mod *Module, m *Method, in Inst) (int, error) {
	pop := opTable[in.Op].pop
	switch in.Op {
	case OpLoad, OpStore:
		if int(in.Arg) >= m.Locals {
			return 0, fmt.Errorf("local %v out of range", in.Arg)
		}
	case OpGLoad, OpGStore:
		if int(in.Arg) >= mod.Globals {
			return 0, fmt.Errorf("global %v out of range", in.Arg)
		}
	case OpCall:
		if int(in.Arg) >= len(mod.Methods) {
			return 0, fmt.Errorf("method %v out of range", in.Arg)
		}
		pop = mod.Methods[in.Arg].Args
	case OpInvoke:
		if int(in.Arg) >= len(mod.Consts) {
			return 0, fmt.Errorf("const %v out of range", in.Arg)
		}
		if _, _, ok := SplitQualified(mod.Consts[in.Arg]); !ok {
			return 0, fmt.Errorf("invoke of malformed name %q", mod.Consts[in.Arg])
		}
		pop = in.N
	case OpThrow:
		if int(in.Arg) >= len(mod.Consts) {
			return 0, fmt.Errorf("const %v out of range", in.Arg)
		}
	}
	return pop, nil
}

func verifyErr(mod *Module, m *Method, msg string, args ...any) error {
	where := mod.Name
	if m != nil {
		where += "." + m.Name
	}
	return fmt.Errorf("%w: %v: %v", ErrVerify, where, fmt.Sprintf(msg, args...))
}
