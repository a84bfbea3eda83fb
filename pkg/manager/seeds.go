// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/bcfuzz/pkg/corpus"
	"github.com/google/bcfuzz/pkg/fuzzer"
	"github.com/google/bcfuzz/pkg/hash"
	"github.com/google/bcfuzz/pkg/log"
)

type Seed struct {
	Path  string
	Input []byte
}

// LoadSeeds reads all regular files of dir (recursively) in a stable order.
// Files longer than maxLen are truncated.
func LoadSeeds(dir string, maxLen int) ([]Seed, error) {
	if dir == "" {
		return nil, nil
	}
	var seeds []Seed
	err := filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read seed %v: %w", path, err)
		}
		if maxLen > 0 && len(data) > maxLen {
			log.Logf(1, "seed %v is truncated to %v bytes", path, maxLen)
			data = data[:maxLen]
		}
		seeds = append(seeds, Seed{Path: path, Input: data})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(seeds, func(i, j int) bool {
		return seeds[i].Path < seeds[j].Path
	})
	return seeds, nil
}

// Candidates returns seeds that are not yet in the corpus. A fresh session
// without seeds starts from the empty input.
func Candidates(seeds []Seed, corp *corpus.Corpus) []fuzzer.Candidate {
	var candidates []fuzzer.Candidate
	dups := make(map[string]bool)
	for _, seed := range seeds {
		sig := hash.String(seed.Input)
		if dups[sig] || corp.Item(sig) != nil {
			continue
		}
		dups[sig] = true
		candidates = append(candidates, fuzzer.Candidate{Input: seed.Input})
	}
	if len(candidates) == 0 && corp.Stats().Items == 0 {
		candidates = append(candidates, fuzzer.Candidate{Input: []byte{}, Flags: fuzzer.InputMinimized})
	}
	return candidates
}
