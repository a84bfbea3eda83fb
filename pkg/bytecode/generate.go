// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package bytecode

import (
	"fmt"
	"math/rand"
	"strings"
)

// FaultTypes used by RandomModule.
var FaultTypes = []string{"ArithmeticError", "IndexError", "StateError", "FormatError"}

// RandomModule generates a random valid module with an entry method "fuzz".
// Generated code has only forward jumps and calls to methods declared later,
// so every execution terminates. Used to test code transformations.
func RandomModule(r *rand.Rand, name string) *Module {
	text := RandomModuleText(r, name)
	mod, err := Assemble([]byte(text))
	if err != nil {
		panic(fmt.Sprintf("generated bad module: %v\n%s", err, text))
	}
	return mod
}

func RandomModuleText(r *rand.Rand, name string) string {
	g := &generator{r: r, buf: new(strings.Builder)}
	g.globals = r.Intn(3)
	nmethods := 1 + r.Intn(4)
	for i := 0; i < nmethods; i++ {
		args := 0
		if i != 0 {
			args = r.Intn(3)
		}
		g.methods = append(g.methods, genMethod{args: args, locals: args + 1 + r.Intn(3)})
	}
	fmt.Fprintf(g.buf, "module %v\n", name)
	if g.globals != 0 {
		fmt.Fprintf(g.buf, "globals %v\n", g.globals)
	}
	for i, m := range g.methods {
		g.cur = i
		g.catches = g.catches[:0]
		g.budget = 4 + r.Intn(20)
		mname := "fuzz"
		if i != 0 {
			mname = fmt.Sprintf("m%v", i)
		}
		fmt.Fprintf(g.buf, "method %v args=%v locals=%v\n", mname, m.args, m.locals)
		g.stmts(0)
		g.expr(0)
		g.emit("ret")
		for _, c := range g.catches {
			g.emit("%v", c)
		}
		g.buf.WriteString("end\n")
	}
	return g.buf.String()
}

type generator struct {
	r       *rand.Rand
	buf     *strings.Builder
	globals int
	methods []genMethod
	cur     int
	labels  int
	budget  int
	catches []string
}

type genMethod struct {
	args   int
	locals int
}

func (g *generator) emit(format string, args ...any) {
	fmt.Fprintf(g.buf, "\t"+format+"\n", args...)
}

func (g *generator) label() string {
	g.labels++
	return fmt.Sprintf("l%v", g.labels)
}

func (g *generator) place(label string) {
	fmt.Fprintf(g.buf, "%v:\n", label)
}

func (g *generator) stmts(nest int) {
	n := 1 + g.r.Intn(3)
	for i := 0; i < n; i++ {
		g.stmt(nest)
	}
}

func (g *generator) stmt(nest int) {
	g.budget--
	if g.budget <= 0 || nest >= 3 {
		g.assign()
		return
	}
	switch g.r.Intn(10) {
	case 0, 1, 2:
		g.assign()
	case 3, 4, 5:
		elseLabel, endLabel := g.label(), g.label()
		g.expr(0)
		g.emit("%v %v", []string{"jz", "jnz"}[g.r.Intn(2)], elseLabel)
		g.stmts(nest + 1)
		g.emit("jmp %v", endLabel)
		g.place(elseLabel)
		g.stmts(nest + 1)
		g.place(endLabel)
	case 6, 7:
		start, end, handler, done := g.label(), g.label(), g.label(), g.label()
		g.place(start)
		g.stmts(nest + 1)
		g.place(end)
		g.emit("jmp %v", done)
		g.place(handler)
		g.stmts(nest + 1)
		g.place(done)
		catch := fmt.Sprintf("catch %v %v %v", start, end, handler)
		if g.r.Intn(3) != 0 {
			catch += " " + FaultTypes[g.r.Intn(len(FaultTypes))]
		}
		g.catches = append(g.catches, catch)
	case 8:
		skip := g.label()
		g.expr(0)
		g.emit("jz %v", skip)
		if g.r.Intn(2) == 0 {
			g.emit("throw %v", FaultTypes[g.r.Intn(len(FaultTypes))])
		} else {
			g.expr(0)
			g.emit("ret")
		}
		g.place(skip)
	case 9:
		g.expr(0)
		g.emit("pop")
	}
}

func (g *generator) assign() {
	g.expr(0)
	if g.globals != 0 && g.r.Intn(3) == 0 {
		g.emit("gstore %v", g.r.Intn(g.globals))
	} else {
		g.emit("store %v", g.r.Intn(g.methods[g.cur].locals))
	}
}

var genBinOps = []string{"add", "sub", "mul", "div", "rem", "and", "or", "xor", "shl", "shr",
	"eq", "ne", "lt", "le", "gt", "ge"}

func (g *generator) expr(depth int) {
	if depth >= 3 || g.r.Intn(3) == 0 {
		switch g.r.Intn(5) {
		case 0:
			g.emit("push %v", g.r.Intn(10)-2)
		case 1:
			g.emit("push %v", int64(g.r.Uint64()))
		case 2:
			if g.globals != 0 {
				g.emit("gload %v", g.r.Intn(g.globals))
				return
			}
			fallthrough
		case 3:
			g.emit("load %v", g.r.Intn(g.methods[g.cur].locals))
		case 4:
			g.emit("inlen")
		}
		return
	}
	switch g.r.Intn(8) {
	case 0, 1, 2, 3:
		g.expr(depth + 1)
		g.expr(depth + 1)
		g.emit("%v", genBinOps[g.r.Intn(len(genBinOps))])
	case 4:
		g.expr(depth + 1)
		g.emit("neg")
	case 5:
		g.expr(depth + 1)
		g.emit("inbyte")
	case 6:
		g.expr(depth + 1)
		g.emit("inu32")
	case 7:
		if g.cur+1 >= len(g.methods) {
			g.emit("inlen")
			return
		}
		callee := g.cur + 1 + g.r.Intn(len(g.methods)-g.cur-1)
		for i := 0; i < g.methods[callee].args; i++ {
			g.expr(depth + 1)
		}
		g.emit("call m%v", callee)
	}
}
