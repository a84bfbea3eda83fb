// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/bcfuzz/pkg/bytecode"
	"github.com/google/bcfuzz/pkg/corpus"
	"github.com/google/bcfuzz/pkg/mgrconfig"
	"github.com/google/bcfuzz/pkg/osutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// demoModules assembles the demo target into a fresh modules dir.
func demoModules(t *testing.T) string {
	text, err := os.ReadFile(filepath.Join("..", "..", "targets", "demo", "demo.bca"))
	require.NoError(t, err)
	mod, err := bytecode.Assemble(text)
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, osutil.WriteFile(filepath.Join(dir, "demo.bcm"), mod.Serialize()))
	return dir
}

func testConfig(t *testing.T, workdir, extra string) *mgrconfig.Config {
	cfg, err := mgrconfig.LoadData([]byte(fmt.Sprintf(`{
		"name": "test",
		"workdir": %q,
		"modules": %q,
		"entry": "demo.fuzz",
		"rpc": "127.0.0.1:0",
		"procs": 2,
		"budget": "200ms",
		"grace": "1s",
		"max_steps": 100000,
		"duration": "2m"
		%v
	}`, workdir, demoModules(t), extra)))
	require.NoError(t, err)
	return cfg
}

func runSession(t *testing.T, cfg *mgrconfig.Config) (*Session, *Summary) {
	s := NewSession(cfg, Options{
		Seed:         1,
		SaveInterval: 100 * time.Millisecond,
		Heartbeat:    time.Second,
	})
	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	t.Logf("%v", summary)
	return s, summary
}

func TestSession(t *testing.T) {
	if testing.Short() {
		t.Skip("too slow for -short")
	}
	workdir := t.TempDir()
	cfg := testConfig(t, workdir, `, "max_execs": 20000`)
	s, summary := runSession(t, cfg)
	assert.Contains(t, summary.Reason, "iteration budget")
	assert.Greater(t, summary.Items, 1)
	assert.Greater(t, summary.Edges, 1)
	// The record bug is one mutation away from the empty input.
	assert.NotZero(t, summary.Crashes)
	assert.FileExists(t, filepath.Join(workdir, "corpus.db"))
	crashDirs, err := osutil.ListDir(filepath.Join(workdir, crashesDir))
	require.NoError(t, err)
	assert.Len(t, crashDirs, summary.Crashes)
	for _, crash := range s.corpus.Load().Crashes() {
		assert.NotEmpty(t, crash.Signature)
		assert.NotEmpty(t, crash.Input)
		assert.GreaterOrEqual(t, crash.Hits, 1)
	}

	// The next session continues from the saved corpus.
	cfg = testConfig(t, workdir, `, "max_execs": 100`)
	_, summary2 := runSession(t, cfg)
	assert.GreaterOrEqual(t, summary2.Items, summary.Items)
	assert.GreaterOrEqual(t, summary2.Edges, summary.Edges)
	assert.GreaterOrEqual(t, summary2.Crashes, summary.Crashes)
}

func TestSessionCancel(t *testing.T) {
	workdir := t.TempDir()
	cfg := testConfig(t, workdir, "")
	s := NewSession(cfg, Options{Seed: 1})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(time.Second)
		cancel()
	}()
	start := time.Now()
	summary, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 30*time.Second)
	assert.NotEmpty(t, summary.Reason)
	// The corpus is saved on the way out.
	assert.FileExists(t, filepath.Join(workdir, "corpus.db"))
}

func TestSessionSeeds(t *testing.T) {
	workdir := t.TempDir()
	seeds := t.TempDir()
	require.NoError(t, osutil.WriteFile(filepath.Join(seeds, "magic"), []byte("FUZ")))
	require.NoError(t, osutil.WriteFile(filepath.Join(seeds, "plain"), []byte("hello")))
	cfg := testConfig(t, workdir, fmt.Sprintf(`, "max_execs": 200, "seeds": %q`, seeds))
	s, summary := runSession(t, cfg)
	assert.NotZero(t, summary.Crashes)
	var found bool
	for _, crash := range s.corpus.Load().Crashes() {
		if crash.Category == "DemoError" {
			found = true
			assert.Equal(t, []byte("FUZ"), crash.Input)
		}
	}
	assert.True(t, found)
}

func TestSessionDict(t *testing.T) {
	dict := filepath.Join(t.TempDir(), "demo.dict")
	require.NoError(t, osutil.WriteFile(dict, []byte("magic=\"FUZ\"\n\"K\"\n\"K\"\n")))
	cfg := testConfig(t, t.TempDir(), fmt.Sprintf(`, "max_execs": 50, "dict": %q`, dict))
	mut, err := NewSession(cfg, Options{}).mutator()
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("FUZ"), []byte("K")}, mut.Dict().Tokens())

	// The tokens reach the mutator used by the running session.
	s, _ := runSession(t, cfg)
	tokens := s.fuzzer.Load().Config.Mutator.Dict().Tokens()
	assert.Contains(t, tokens, []byte("FUZ"))
	assert.Contains(t, tokens, []byte("K"))

	require.NoError(t, osutil.WriteFile(dict, []byte("not a token\n")))
	_, err = NewSession(cfg, Options{}).mutator()
	assert.ErrorContains(t, err, "failed to load dictionary")
}

func TestLoadSeeds(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, osutil.WriteFile(filepath.Join(dir, "b"), []byte("bbbbbbbb")))
	require.NoError(t, osutil.MkdirAll(filepath.Join(dir, "sub")))
	require.NoError(t, osutil.WriteFile(filepath.Join(dir, "sub", "a"), []byte("a")))
	require.NoError(t, osutil.WriteFile(filepath.Join(dir, "c"), []byte("a")))
	seeds, err := LoadSeeds(dir, 4)
	require.NoError(t, err)
	require.Len(t, seeds, 3)
	assert.Equal(t, []byte("bbbb"), seeds[0].Input)
	assert.Equal(t, filepath.Join(dir, "c"), seeds[1].Path)
	assert.Equal(t, filepath.Join(dir, "sub", "a"), seeds[2].Path)

	corp := corpus.NewCorpus(context.Background(), corpus.Config{Capacity: 16})
	defer corp.Close()
	// Duplicates are dropped.
	candidates := Candidates(seeds, corp)
	assert.Len(t, candidates, 2)

	// An empty session starts from the empty input.
	candidates = Candidates(nil, corp)
	require.Len(t, candidates, 1)
	assert.Empty(t, candidates[0].Input)
}
