// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/bcfuzz/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGrammar = `
# Arithmetic expressions.
Expr -> {Term}
Expr -> {Term}+{Expr}
Term -> {Num}
Term -> ({Expr})
Num -> {Digit}
Num -> {Digit}{Num}
Digit -> 0
Digit -> 1
Digit -> 7
`

func mustParse(t *testing.T, text string) *Grammar {
	g, err := Parse([]byte(text))
	require.NoError(t, err)
	return g
}

func TestParse(t *testing.T) {
	g := mustParse(t, testGrammar)
	assert.Equal(t, "Expr", g.Start)
	assert.Equal(t, []string{"Digit", "Expr", "Num", "Term"}, g.NonTerminals())
	assert.Len(t, g.Rules("Digit"), 3)
	assert.Equal(t, []Symbol{{NT: "Term"}, {Literal: []byte("+")}, {NT: "Expr"}}, g.Rules("Expr")[1].RHS)
	assert.Equal(t, 1, g.MinSize("Digit"))
	assert.Equal(t, 2, g.MinSize("Num"))
	assert.Equal(t, 4, g.MinSize("Expr"))
	assert.Equal(t, "0", string(g.Smallest("Expr").Unparse()))
}

func TestParseEscapes(t *testing.T) {
	g := mustParse(t, `A -> \{\}\\\s\x00\xff\n{B}
B ->`)
	rule := g.Rules("A")[0]
	assert.Equal(t, []byte("{}\\ \x00\xff\n"), rule.RHS[0].Literal)
	assert.Equal(t, `A -> \{\}\\\s\x00\xff\x0a{B}`, rule.String())
	assert.Empty(t, g.Rules("B")[0].RHS)
	assert.Equal(t, []byte("{}\\ \x00\xff\n"), g.Smallest("A").Unparse())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		text string
		err  string
	}{
		{"", "no rules"},
		{"A B", "no ->"},
		{"1A -> x", "bad non-terminal name"},
		{"A -> {B}", "undefined non-terminal B"},
		{"A -> {B", "unterminated reference"},
		{"A -> }", "unbalanced"},
		{`A -> \q`, "unknown escape"},
		{`A -> \x0`, "short"},
		{`A -> \xzz`, "bad \\x escape"},
		{"A -> {A}", "no finite derivation"},
	}
	for _, test := range tests {
		t.Run(test.text, func(t *testing.T) {
			_, err := Parse([]byte(test.text))
			assert.ErrorContains(t, err, test.err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	g, err := LoadFile(filepath.FromSlash("../../targets/demo/demo.grammar"))
	require.NoError(t, err)
	assert.Equal(t, "Input", g.Start)

	bad := filepath.Join(t.TempDir(), "bad.grammar")
	require.NoError(t, os.WriteFile(bad, []byte("A -> {B}\n"), 0644))
	_, err = LoadFile(bad)
	assert.ErrorContains(t, err, "bad.grammar")
	_, err = LoadFile(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorContains(t, err, "failed to read grammar file")
}

func TestGenerate(t *testing.T) {
	g := mustParse(t, testGrammar)
	r := rand.New(testutil.RandSource(t))
	sizes := make(map[int]bool)
	for i := 0; i < testutil.IterCount(); i++ {
		size := r.Intn(50)
		tree := g.Generate(r, g.Start, size)
		require.NoError(t, tree.Validate(g))
		require.LessOrEqual(t, tree.Size(), max(size, g.MinSize(g.Start)))
		sizes[tree.Size()] = true
		for _, c := range tree.Unparse() {
			require.Contains(t, "0123456789+()", string(c))
		}
	}
	assert.Greater(t, len(sizes), 1)
}

func TestMutate(t *testing.T) {
	g := mustParse(t, testGrammar)
	r := rand.New(testutil.RandSource(t))
	tree := g.Generate(r, g.Start, 20)
	donor := g.Generate(r, g.Start, 20)
	changed := 0
	for i := 0; i < testutil.IterCount(); i++ {
		orig := tree.Unparse()
		next := g.Mutate(r, tree, donor, 40)
		require.NoError(t, next.Validate(g))
		require.LessOrEqual(t, next.Size(), 40)
		// The source tree is never modified.
		require.Equal(t, orig, tree.Unparse())
		if !bytes.Equal(orig, next.Unparse()) {
			changed++
		}
		tree = next
	}
	assert.NotZero(t, changed)
}

func TestRepeatRecursion(t *testing.T) {
	g := mustParse(t, `
List -> x
List -> [{List}]
`)
	r := rand.New(testutil.RandSource(t))
	tree := newNode(g.Rules("List")[1], []*Node{g.Smallest("List")})
	assert.Equal(t, "[x]", string(tree.Unparse()))
	for i := 0; i < 100; i++ {
		res := g.repeatRecursion(r, tree, 100)
		require.NotNil(t, res)
		require.NoError(t, res.Validate(g))
		input := string(res.Unparse())
		require.Greater(t, len(input), 3)
		require.Regexp(t, `^\[+x\]+$`, input)
	}
	// No room to grow.
	assert.Nil(t, g.repeatRecursion(r, tree, tree.Size()))
}

func TestSplice(t *testing.T) {
	g := mustParse(t, testGrammar)
	r := rand.New(testutil.RandSource(t))
	tree := g.Smallest(g.Start)
	seven := newNode(g.Rules("Digit")[2], nil)
	res := g.splice(r, tree, seven)
	require.NotNil(t, res)
	assert.NoError(t, res.Validate(g))
	assert.Equal(t, "7", string(res.Unparse()))
	assert.Equal(t, "0", string(tree.Unparse()))
	assert.Nil(t, g.splice(r, tree, nil))
}

func TestMinimize(t *testing.T) {
	g := mustParse(t, testGrammar)
	r := rand.New(testutil.RandSource(t))
	for i := 0; i < testutil.IterCount()/10; i++ {
		tree := g.Generate(r, g.Start, 60)
		if !bytes.Contains(tree.Unparse(), []byte("7")) {
			continue
		}
		calls := 0
		res := g.Minimize(tree, 1000, func(input []byte) bool {
			calls++
			return bytes.Contains(input, []byte("7"))
		})
		require.NoError(t, res.Validate(g))
		// Trailing digits and the right operand of + can't be removed
		// without a rule change, 71+0 is the longest result.
		require.Contains(t, string(res.Unparse()), "7")
		require.LessOrEqual(t, len(res.Unparse()), 4, "from %q", tree.Unparse())
		require.LessOrEqual(t, calls, 1000)
	}
}

func TestMinimizeCallLimit(t *testing.T) {
	g := mustParse(t, testGrammar)
	r := rand.New(testutil.RandSource(t))
	tree := g.Generate(r, g.Start, 60)
	calls := 0
	res := g.Minimize(tree, 3, func(input []byte) bool {
		calls++
		return true
	})
	assert.LessOrEqual(t, calls, 3)
	assert.NoError(t, res.Validate(g))
}

func TestTrees(t *testing.T) {
	g := mustParse(t, testGrammar)
	r := rand.New(testutil.RandSource(t))
	trees := NewTrees(2)
	assert.Nil(t, trees.Random(r))
	a, b, c := g.Generate(r, g.Start, 10), g.Generate(r, g.Start, 10), g.Generate(r, g.Start, 10)
	trees.Add([]byte("a"), a)
	trees.Add([]byte("b"), b)
	trees.Add([]byte("a"), a)
	assert.Equal(t, 2, trees.Len())
	trees.Add([]byte("c"), c)
	assert.Equal(t, 2, trees.Len())
	assert.Nil(t, trees.Get([]byte("a")))
	assert.Same(t, b, trees.Get([]byte("b")))
	assert.Same(t, c, trees.Get([]byte("c")))
	trees.Remove([]byte("b"))
	trees.Remove([]byte("missing"))
	assert.Equal(t, 1, trees.Len())
	assert.Same(t, c, trees.Random(r))
}
