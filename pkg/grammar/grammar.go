// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package grammar implements grammar-based input generation: context-free grammars,
// derivation trees, tree mutations and tree minimization.
//
// A grammar file has one rule per line:
//
//	Input -> {Record}{Input}
//	Record -> K{Byte}
//	Byte -> \x00
//
// The right-hand side is the literal text of the rule with references to other
// non-terminals in braces. Supported escapes are \\, \{, \}, \n, \r, \t, \s (space)
// and \xHH. Empty lines and lines starting with # are ignored. The non-terminal
// of the first rule is the start symbol.
package grammar

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Symbol is either a literal or a reference to a non-terminal.
type Symbol struct {
	Literal []byte
	NT      string
}

type Rule struct {
	NT  string
	RHS []Symbol
	// Number of nodes in the smallest derivation that starts with this rule.
	minSize int
}

// NonTerminals returns the non-terminals referenced by the rule in order.
func (rule *Rule) NonTerminals() []string {
	var res []string
	for _, sym := range rule.RHS {
		if sym.NT != "" {
			res = append(res, sym.NT)
		}
	}
	return res
}

func (rule *Rule) String() string {
	var buf strings.Builder
	buf.WriteString(rule.NT)
	buf.WriteString(" ->")
	if len(rule.RHS) != 0 {
		buf.WriteString(" ")
	}
	for _, sym := range rule.RHS {
		if sym.NT != "" {
			fmt.Fprintf(&buf, "{%v}", sym.NT)
			continue
		}
		for _, c := range sym.Literal {
			switch {
			case c == '\\' || c == '{' || c == '}':
				buf.WriteByte('\\')
				buf.WriteByte(c)
			case c == ' ':
				buf.WriteString(`\s`)
			case c < 0x20 || c >= 0x7f:
				fmt.Fprintf(&buf, `\x%02x`, c)
			default:
				buf.WriteByte(c)
			}
		}
	}
	return buf.String()
}

type Grammar struct {
	Start string
	rules map[string][]*Rule
	// Smallest derivation of every non-terminal.
	smallest map[string]*Node
}

var ntRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func LoadFile(filename string) (*Grammar, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read grammar file: %w", err)
	}
	g, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	return g, nil
}

func Parse(data []byte) (*Grammar, error) {
	g := &Grammar{
		rules: make(map[string][]*Rule),
	}
	s := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; s.Scan(); line++ {
		ln := strings.TrimSpace(s.Text())
		if ln == "" || ln[0] == '#' {
			continue
		}
		nt, rhs, ok := strings.Cut(ln, "->")
		if !ok {
			return nil, fmt.Errorf("line %v: no -> in rule %q", line, ln)
		}
		nt = strings.TrimSpace(nt)
		if !ntRe.MatchString(nt) {
			return nil, fmt.Errorf("line %v: bad non-terminal name %q", line, nt)
		}
		syms, err := parseRHS(strings.TrimSpace(rhs))
		if err != nil {
			return nil, fmt.Errorf("line %v: %w", line, err)
		}
		if g.Start == "" {
			g.Start = nt
		}
		g.rules[nt] = append(g.rules[nt], &Rule{NT: nt, RHS: syms})
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if g.Start == "" {
		return nil, fmt.Errorf("the grammar has no rules")
	}
	for _, nt := range g.NonTerminals() {
		for _, rule := range g.rules[nt] {
			for _, ref := range rule.NonTerminals() {
				if len(g.rules[ref]) == 0 {
					return nil, fmt.Errorf("rule %q refers to undefined non-terminal %v", rule, ref)
				}
			}
		}
	}
	if err := g.computeSmallest(); err != nil {
		return nil, err
	}
	return g, nil
}

func parseRHS(rhs string) ([]Symbol, error) {
	var syms []Symbol
	var lit []byte
	flush := func() {
		if len(lit) != 0 {
			syms = append(syms, Symbol{Literal: lit})
			lit = nil
		}
	}
	for i := 0; i < len(rhs); i++ {
		switch c := rhs[i]; c {
		case '{':
			end := strings.IndexByte(rhs[i:], '}')
			if end == -1 {
				return nil, fmt.Errorf("unterminated reference at %q", rhs[i:])
			}
			nt := rhs[i+1 : i+end]
			if !ntRe.MatchString(nt) {
				return nil, fmt.Errorf("bad non-terminal name %q", nt)
			}
			flush()
			syms = append(syms, Symbol{NT: nt})
			i += end
		case '}':
			return nil, fmt.Errorf("unbalanced } at %q", rhs[i:])
		case '\\':
			if i+1 == len(rhs) {
				return nil, fmt.Errorf("dangling escape")
			}
			i++
			switch e := rhs[i]; e {
			case '\\', '{', '}':
				lit = append(lit, e)
			case 'n':
				lit = append(lit, '\n')
			case 'r':
				lit = append(lit, '\r')
			case 't':
				lit = append(lit, '\t')
			case 's':
				lit = append(lit, ' ')
			case 'x':
				if i+2 >= len(rhs) {
					return nil, fmt.Errorf("short \\x escape")
				}
				v, err := strconv.ParseUint(rhs[i+1:i+3], 16, 8)
				if err != nil {
					return nil, fmt.Errorf("bad \\x escape %q", rhs[i-1:i+3])
				}
				lit = append(lit, byte(v))
				i += 2
			default:
				return nil, fmt.Errorf("unknown escape \\%c", e)
			}
		default:
			lit = append(lit, c)
		}
	}
	flush()
	return syms, nil
}

// computeSmallest finds the smallest derivation of every non-terminal
// by iterating to a fixed point.
func (g *Grammar) computeSmallest() error {
	const inf = math.MaxInt32
	minSize := make(map[string]int)
	for nt := range g.rules {
		minSize[nt] = inf
	}
	for changed := true; changed; {
		changed = false
		for nt, rules := range g.rules {
			for _, rule := range rules {
				size := 1
				for _, ref := range rule.NonTerminals() {
					size = min(inf, size+minSize[ref])
				}
				rule.minSize = size
				if size < minSize[nt] {
					minSize[nt] = size
					changed = true
				}
			}
		}
	}
	for _, nt := range g.NonTerminals() {
		if minSize[nt] == inf {
			return fmt.Errorf("non-terminal %v has no finite derivation", nt)
		}
	}
	g.smallest = make(map[string]*Node)
	var build func(nt string) *Node
	build = func(nt string) *Node {
		if n := g.smallest[nt]; n != nil {
			return n
		}
		var best *Rule
		for _, rule := range g.rules[nt] {
			if rule.minSize == minSize[nt] {
				best = rule
				break
			}
		}
		var children []*Node
		for _, ref := range best.NonTerminals() {
			children = append(children, build(ref))
		}
		n := newNode(best, children)
		g.smallest[nt] = n
		return n
	}
	for nt := range g.rules {
		build(nt)
	}
	return nil
}

func (g *Grammar) Rules(nt string) []*Rule {
	return g.rules[nt]
}

// NonTerminals returns all non-terminals in sorted order.
func (g *Grammar) NonTerminals() []string {
	var res []string
	for nt := range g.rules {
		res = append(res, nt)
	}
	sort.Strings(res)
	return res
}

// MinSize returns the number of nodes in the smallest derivation of nt.
func (g *Grammar) MinSize(nt string) int {
	if n := g.smallest[nt]; n != nil {
		return n.Size()
	}
	return 0
}

// Smallest returns the smallest derivation of nt.
func (g *Grammar) Smallest(nt string) *Node {
	return g.smallest[nt]
}
