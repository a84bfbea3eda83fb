// Copyright 2016 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package log is a thin layer over the standard logger shared by the manager,
// the executor and the tools. It adds:
//   - a global verbosity level controlled by the -vv flag,
//   - an in-memory ring of recent output that the HTTP status page shows,
//   - an optional prefix, so that lines from several executors can be told apart.
package log

import (
	"flag"
	"fmt"
	golog "log"
	"strings"
	"sync"
	"time"
)

var (
	flagV       = flag.Int("vv", 0, "verbosity")
	mu          sync.Mutex
	prefix      string
	cache       *ring
	prependTime = true // for testing
)

type ring struct {
	lines  []string
	pos    int
	mem    int
	maxMem int
}

// EnableLogCaching keeps up to maxLines recent lines of level <= 1,
// but no more than maxMem bytes in total.
func EnableLogCaching(maxLines, maxMem int) {
	mu.Lock()
	defer mu.Unlock()
	if cache != nil {
		golog.Fatalf("log caching is already enabled")
	}
	if maxLines < 1 || maxMem < 1 {
		panic("invalid maxLines/maxMem")
	}
	cache = &ring{
		lines:  make([]string, maxLines),
		maxMem: maxMem,
	}
}

// CachedLogOutput returns the cached lines, oldest first.
func CachedLogOutput() string {
	mu.Lock()
	defer mu.Unlock()
	if cache == nil {
		return ""
	}
	var sb strings.Builder
	for i := range cache.lines {
		line := cache.lines[(cache.pos+i)%len(cache.lines)]
		if line == "" {
			continue
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (r *ring) add(line string) {
	r.mem += len(line) - len(r.lines[r.pos])
	r.lines[r.pos] = line
	r.pos = (r.pos + 1) % len(r.lines)
	// Evict the oldest lines, but always keep the one we just added.
	for i := 0; i < len(r.lines)-1 && r.mem > r.maxMem; i++ {
		old := (r.pos + i) % len(r.lines)
		r.mem -= len(r.lines[old])
		r.lines[old] = ""
	}
	if r.mem < 0 {
		panic("log cache size underflow")
	}
}

// SetName sets a prefix printed in front of every line.
func SetName(name string) {
	mu.Lock()
	defer mu.Unlock()
	prefix = name
	if prefix != "" {
		prefix += ": "
	}
}

// V reports whether messages of the given level are printed.
func V(level int) bool {
	return level <= *flagV
}

func Logf(v int, msg string, args ...any) {
	text := fmt.Sprintf(msg, args...)
	mu.Lock()
	if cache != nil && v <= 1 {
		line := text
		if prependTime {
			line = time.Now().Format("2006/01/02 15:04:05 ") + line
		}
		cache.add(line)
	}
	p := prefix
	mu.Unlock()

	if V(v) {
		golog.Print(p + text)
	}
}

// Errorf logs a problem that does not stop the process.
func Errorf(msg string, args ...any) {
	Logf(0, "ERROR: "+msg, args...)
}

func Error(err error) {
	Errorf("%v", err)
}

func Fatal(err error) {
	golog.Fatalf("%s%v", prefix, err)
}

func Fatalf(msg string, args ...any) {
	golog.Fatalf(prefix+msg, args...)
}

// VerboseWriter is an io.Writer that logs everything at the given level.
type VerboseWriter int

func (w VerboseWriter) Write(data []byte) (int, error) {
	Logf(int(w), "%s", data)
	return len(data), nil
}
