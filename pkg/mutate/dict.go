// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutate

import (
	"bufio"
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"
)

const (
	DefaultDictSize = 1 << 12
	MaxTokenLen     = 64
)

// Dict is a bounded set of tokens used by the token mutations.
// It is safe for concurrent use.
type Dict struct {
	mu     sync.RWMutex
	tokens [][]byte
	seen   map[string]bool
	size   int
}

func NewDict(size int) *Dict {
	if size <= 0 {
		size = DefaultDictSize
	}
	return &Dict{
		seen: make(map[string]bool),
		size: size,
	}
}

// Add returns true if the token was added. Empty, too long and duplicate
// tokens are ignored, as is everything once the dictionary is full.
func (d *Dict) Add(tok []byte) bool {
	if len(tok) == 0 || len(tok) > MaxTokenLen {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[string(tok)] || len(d.tokens) >= d.size {
		return false
	}
	d.seen[string(tok)] = true
	d.tokens = append(d.tokens, append([]byte{}, tok...))
	return true
}

func (d *Dict) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.tokens)
}

func (d *Dict) Tokens() [][]byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([][]byte{}, d.tokens...)
}

func (d *Dict) random(r *rand.Rand) []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.tokens) == 0 {
		return nil
	}
	return d.tokens[r.Intn(len(d.tokens))]
}

// AddComps adds both operands of every comparison, encoded in the narrowest width
// that holds them, in both byte orders. Single-byte values are left to the
// integer mutations.
func (d *Dict) AddComps(pairs [][2]uint64) int {
	added := 0
	for _, pair := range pairs {
		for _, v := range pair {
			if v <= 0xff || specialIntsSet[v] {
				continue
			}
			width := 8
			for _, w := range intWidths {
				if v&^widthMask(w) == 0 {
					width = w
					break
				}
			}
			for _, bigEndian := range []bool{false, true} {
				tok := make([]byte, width)
				storeInt(tok, v, width, bigEndian)
				if d.Add(tok) {
					added++
				}
			}
		}
	}
	return added
}

// LoadDict reads a dictionary file, see ParseDict.
func LoadDict(filename string) ([][]byte, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	tokens, err := ParseDict(data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	return tokens, nil
}

// ParseDict parses the AFL dictionary format: one quoted token per line,
// optionally prefixed with `name=`. Empty lines and lines starting with # are skipped.
// Quoted tokens may use Go escapes, e.g. "\x00\xff".
func ParseDict(data []byte) ([][]byte, error) {
	var tokens [][]byte
	s := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; s.Scan(); line++ {
		text := strings.TrimSpace(s.Text())
		if text == "" || text[0] == '#' {
			continue
		}
		if eq := strings.IndexByte(text, '='); eq != -1 && !strings.HasPrefix(text, `"`) {
			text = strings.TrimSpace(text[eq+1:])
		}
		tok, err := strconv.Unquote(text)
		if err != nil {
			return nil, fmt.Errorf("line %v: bad token %v", line, text)
		}
		tokens = append(tokens, []byte(tok))
	}
	return tokens, s.Err()
}
