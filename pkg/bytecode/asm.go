// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package bytecode

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Assemble translates the text form of a module into a Module.
//
//	module demo
//	globals 1
//	const "demo.helper"
//	method fuzz args=1 locals=2 [stack=N]
//	loop:
//		load 0
//		inlen
//		jz done
//		invoke demo.helper 1
//		throw IndexError
//	done:
//		catch loop done handler [Type]
//	end
//
// Comments start with ';' or '#'. If stack= is omitted, the maximum stack
// depth is computed. The result is verified.
func Assemble(text []byte) (*Module, error) {
	p := &asmParser{mod: &Module{Version: Version}}
	s := bufio.NewScanner(bytes.NewReader(text))
	for s.Scan() {
		p.line++
		if err := p.parseLine(s.Text()); err != nil {
			return nil, fmt.Errorf("line %v: %w", p.line, err)
		}
	}
	if p.cur != nil {
		return nil, fmt.Errorf("method %v: missing end", p.cur.name)
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	if err := Verify(p.mod); err != nil {
		return nil, err
	}
	return p.mod, nil
}

type asmParser struct {
	mod     *Module
	line    int
	methods []*asmMethod
	cur     *asmMethod
}

type asmMethod struct {
	name     string
	args     int
	locals   int
	stack    int
	insts    []asmInst
	labels   map[string]int
	catches  []asmCatch
	size     int
	stackSet bool
}

type asmInst struct {
	line int
	op   Op
	args []string
	pc   int
}

type asmCatch struct {
	line               int
	start, end, target string
	typ                string
}

func (p *asmParser) parseLine(line string) error {
	fields, err := splitFields(line)
	if err != nil || len(fields) == 0 {
		return err
	}
	if p.cur == nil {
		return p.parseDirective(fields)
	}
	m := p.cur
	switch {
	case fields[0] == "end" && len(fields) == 1:
		p.cur = nil
	case strings.HasSuffix(fields[0], ":") && len(fields) == 1:
		name := strings.TrimSuffix(fields[0], ":")
		if _, ok := m.labels[name]; ok || name == "" {
			return fmt.Errorf("bad or duplicate label %q", name)
		}
		m.labels[name] = m.size
	case fields[0] == "catch":
		if len(fields) != 4 && len(fields) != 5 {
			return fmt.Errorf("catch wants: from to handler [type]")
		}
		c := asmCatch{line: p.line, start: fields[1], end: fields[2], target: fields[3]}
		if len(fields) == 5 {
			c.typ = fields[4]
		}
		m.catches = append(m.catches, c)
	default:
		op, ok := opByName[fields[0]]
		if !ok {
			return fmt.Errorf("unknown instruction %q", fields[0])
		}
		want := 1
		switch {
		case op == OpInvoke:
			want = 2
		case op.Size() == 1:
			want = 0
		}
		if len(fields)-1 != want {
			return fmt.Errorf("%v wants %v operands", op, want)
		}
		m.insts = append(m.insts, asmInst{line: p.line, op: op, args: fields[1:], pc: m.size})
		m.size += op.Size()
	}
	return nil
}

func (p *asmParser) parseDirective(fields []string) error {
	var err error
	switch fields[0] {
	case "module":
		if len(fields) != 2 {
			return fmt.Errorf("module wants a name")
		}
		p.mod.Name = fields[1]
	case "globals":
		if len(fields) != 2 {
			return fmt.Errorf("globals wants a count")
		}
		p.mod.Globals, err = strconv.Atoi(fields[1])
	case "const":
		if len(fields) != 2 {
			return fmt.Errorf("const wants a string")
		}
		p.mod.Consts = append(p.mod.Consts, fields[1])
	case "method":
		if len(fields) < 2 {
			return fmt.Errorf("method wants a name")
		}
		m := &asmMethod{name: fields[1], labels: make(map[string]int)}
		for _, kv := range fields[2:] {
			key, val, ok := strings.Cut(kv, "=")
			n, err := strconv.Atoi(val)
			if !ok || err != nil {
				return fmt.Errorf("bad method attribute %q", kv)
			}
			switch key {
			case "args":
				m.args = n
			case "locals":
				m.locals = n
			case "stack":
				m.stack, m.stackSet = n, true
			default:
				return fmt.Errorf("unknown method attribute %q", key)
			}
		}
		m.locals = max(m.locals, m.args)
		p.methods = append(p.methods, m)
		p.cur = m
	default:
		return fmt.Errorf("unknown directive %q", fields[0])
	}
	return err
}

func (p *asmParser) finish() error {
	for _, am := range p.methods {
		p.mod.Methods = append(p.mod.Methods, &Method{
			Name:     am.name,
			Args:     am.args,
			Locals:   am.locals,
			MaxStack: am.stack,
		})
	}
	for i, am := range p.methods {
		m := p.mod.Methods[i]
		label := func(line int, name string) (int, error) {
			pc, ok := am.labels[name]
			if !ok {
				return 0, fmt.Errorf("line %v: unknown label %q", line, name)
			}
			return pc, nil
		}
		for _, ai := range am.insts {
			in := Inst{PC: ai.pc, Op: ai.op}
			var err error
			switch ai.op {
			case OpPush:
				in.Arg, err = parseInt(ai.args[0])
			case OpLoad, OpStore, OpGLoad, OpGStore, OpProbe:
				in.Arg, err = parseInt(ai.args[0])
			case OpJmp, OpJz, OpJnz:
				var target int
				target, err = label(ai.line, ai.args[0])
				in.Arg = int64(target - ai.pc)
			case OpCall:
				idx := p.mod.Method(ai.args[0])
				if idx < 0 {
					err = fmt.Errorf("unknown method %q", ai.args[0])
				}
				in.Arg = int64(idx)
			case OpInvoke:
				in.Arg = int64(p.mod.Const(ai.args[0]))
				in.N, err = strconv.Atoi(ai.args[1])
			case OpThrow:
				in.Arg = int64(p.mod.Const(ai.args[0]))
			}
			if err == nil {
				m.Code, err = Append(m.Code, in)
			}
			if err != nil {
				return fmt.Errorf("line %v: %w", ai.line, err)
			}
		}
		for _, c := range am.catches {
			h := Handler{Catch: CatchAll}
			var err error
			if h.Start, err = label(c.line, c.start); err != nil {
				return err
			}
			if h.End, err = label(c.line, c.end); err != nil {
				return err
			}
			if h.Target, err = label(c.line, c.target); err != nil {
				return err
			}
			if c.typ != "" {
				h.Catch = p.mod.Const(c.typ)
			}
			m.Handlers = append(m.Handlers, h)
		}
		if !am.stackSet {
			depth, err := ComputeMaxStack(p.mod, m)
			if err != nil {
				return err
			}
			m.MaxStack = depth
		}
	}
	return nil
}

// Disassemble prints the module in the form accepted by Assemble.
// Assemble(Disassemble(mod)) reproduces mod as long as its constant pool
// has no duplicates.
func Disassemble(mod *Module) ([]byte, error) {
	buf := new(bytes.Buffer)
	fmt.Fprintf(buf, "module %v\n", mod.Name)
	if mod.Globals != 0 {
		fmt.Fprintf(buf, "globals %v\n", mod.Globals)
	}
	for _, c := range mod.Consts {
		fmt.Fprintf(buf, "const %v\n", strconv.Quote(c))
	}
	for _, m := range mod.Methods {
		if err := disassembleMethod(buf, mod, m); err != nil {
			return nil, fmt.Errorf("%v.%v: %w", mod.Name, m.Name, err)
		}
	}
	return buf.Bytes(), nil
}

func disassembleMethod(buf *bytes.Buffer, mod *Module, m *Method) error {
	insts, err := Decode(m.Code)
	if err != nil {
		return err
	}
	targets := make(map[int]bool)
	for _, in := range insts {
		if in.Op.IsBranch() {
			targets[in.Target()] = true
		}
	}
	for _, h := range m.Handlers {
		targets[h.Start] = true
		targets[h.End] = true
		targets[h.Target] = true
	}
	placed := make(map[int]bool)
	label := func(pc int) string { return fmt.Sprintf("L%v", pc) }
	fmt.Fprintf(buf, "method %v args=%v locals=%v stack=%v\n", m.Name, m.Args, m.Locals, m.MaxStack)
	for _, in := range insts {
		if targets[in.PC] {
			fmt.Fprintf(buf, "%v:\n", label(in.PC))
			placed[in.PC] = true
		}
		fmt.Fprintf(buf, "\t%v", in.Op)
		switch in.Op {
		case OpJmp, OpJz, OpJnz:
			fmt.Fprintf(buf, " %v", label(in.Target()))
		case OpCall:
			if int(in.Arg) >= len(mod.Methods) {
				return fmt.Errorf("pc %v: bad method index %v", in.PC, in.Arg)
			}
			fmt.Fprintf(buf, " %v", mod.Methods[in.Arg].Name)
		case OpInvoke, OpThrow:
			if int(in.Arg) >= len(mod.Consts) {
				return fmt.Errorf("pc %v: bad const index %v", in.PC, in.Arg)
			}
			fmt.Fprintf(buf, " %v", symbol(mod.Consts[in.Arg]))
			if in.Op == OpInvoke {
				fmt.Fprintf(buf, " %v", in.N)
			}
		default:
			if in.Op.Size() != 1 {
				fmt.Fprintf(buf, " %v", in.Arg)
			}
		}
		buf.WriteByte('\n')
	}
	if targets[len(m.Code)] {
		fmt.Fprintf(buf, "%v:\n", label(len(m.Code)))
		placed[len(m.Code)] = true
	}
	var missing []int
	for pc := range targets {
		if !placed[pc] {
			missing = append(missing, pc)
		}
	}
	if len(missing) != 0 {
		sort.Ints(missing)
		return fmt.Errorf("jump targets %v are not instruction boundaries", missing)
	}
	for _, h := range m.Handlers {
		fmt.Fprintf(buf, "\tcatch %v %v %v", label(h.Start), label(h.End), label(h.Target))
		if h.Catch != CatchAll {
			if h.Catch >= len(mod.Consts) {
				return fmt.Errorf("bad catch type %v", h.Catch)
			}
			fmt.Fprintf(buf, " %v", symbol(mod.Consts[h.Catch]))
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("end\n")
	return nil
}

func symbol(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"';#") {
		return strconv.Quote(s)
	}
	return s
}

func parseInt(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		u, err1 := strconv.ParseUint(s, 0, 64)
		if err1 != nil {
			return 0, err
		}
		v = int64(u)
	}
	return v, nil
}

// splitFields splits the line on white space, unquotes quoted fields
// and strips comments.
func splitFields(line string) ([]string, error) {
	var fields []string
	for {
		line = strings.TrimLeft(line, " \t")
		if line == "" || line[0] == ';' || line[0] == '#' {
			return fields, nil
		}
		if line[0] == '"' {
			quoted, err := strconv.QuotedPrefix(line)
			if err != nil {
				return nil, fmt.Errorf("bad string: %w", err)
			}
			s, _ := strconv.Unquote(quoted)
			fields = append(fields, s)
			line = line[len(quoted):]
			continue
		}
		end := strings.IndexAny(line, " \t")
		if end == -1 {
			end = len(line)
		}
		fields = append(fields, line[:end])
		line = line[end:]
	}
}
