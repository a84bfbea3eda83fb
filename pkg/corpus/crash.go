// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/bcfuzz/pkg/osutil"
)

// Fault identifies a crash. Crashes with equal signatures are the same crash.
type Fault struct {
	Category  string
	Signature string
	Detail    string
}

type Crash struct {
	Fault
	Input     []byte
	Minimized []byte
	Hits      int
	FirstSeen time.Time
	LastSeen  time.Time
}

// Files of a crash dir.
const (
	crashDescFile  = "description"
	crashInputFile = "input"
	crashReproFile = "repro.min"
	crashHitsFile  = "hits"
)

// crashArchive deduplicates crashes in memory and persists them in a background
// goroutine, so that recording never waits for the disk.
type crashArchive struct {
	crashDir  string
	crashLogf func(level int, msg string, args ...any)

	crashMu    sync.Mutex
	crashes    map[string]*Crash
	pending    []crashWrite
	closed     bool
	wake       chan struct{}
	writerDone chan struct{}
}

type crashWrite struct {
	sig   string
	files map[string][]byte
}

func (ca *crashArchive) init(dir string, logf func(level int, msg string, args ...any)) {
	ca.crashDir = dir
	ca.crashLogf = logf
	ca.crashes = make(map[string]*Crash)
	ca.wake = make(chan struct{}, 1)
	ca.writerDone = make(chan struct{})
	if dir == "" {
		close(ca.writerDone)
		return
	}
	if err := ca.loadCrashes(); err != nil {
		logf(0, "failed to load crashes: %v", err)
	}
	go ca.writer()
}

// RecordCrash adds the crash to the archive if its signature is new and returns true,
// otherwise it counts a repeated hit. It never blocks on I/O.
func (ca *crashArchive) RecordCrash(input []byte, fault Fault) bool {
	now := time.Now()
	ca.crashMu.Lock()
	defer ca.crashMu.Unlock()
	if crash := ca.crashes[fault.Signature]; crash != nil {
		crash.Hits++
		crash.LastSeen = now
		return false
	}
	crash := &Crash{
		Fault:     fault,
		Input:     append([]byte{}, input...),
		Hits:      1,
		FirstSeen: now,
		LastSeen:  now,
	}
	ca.crashes[fault.Signature] = crash
	ca.enqueueLocked(fault.Signature, map[string][]byte{
		crashDescFile:  formatDescription(fault),
		crashInputFile: crash.Input,
	})
	return true
}

// UpdateRepro stores a minimized reproducer of a known crash.
func (ca *crashArchive) UpdateRepro(sig string, minimized []byte) bool {
	ca.crashMu.Lock()
	defer ca.crashMu.Unlock()
	crash := ca.crashes[sig]
	if crash == nil {
		return false
	}
	crash.Minimized = append([]byte{}, minimized...)
	ca.enqueueLocked(sig, map[string][]byte{
		crashReproFile: crash.Minimized,
	})
	return true
}

func (ca *crashArchive) enqueueLocked(sig string, files map[string][]byte) {
	if ca.crashDir == "" || ca.closed {
		return
	}
	ca.pending = append(ca.pending, crashWrite{sig, files})
	select {
	case ca.wake <- struct{}{}:
	default:
	}
}

// Crashes returns copies of all crash records ordered by discovery time.
func (ca *crashArchive) Crashes() []Crash {
	ca.crashMu.Lock()
	defer ca.crashMu.Unlock()
	ret := make([]Crash, 0, len(ca.crashes))
	for _, crash := range ca.crashes {
		ret = append(ret, *crash)
	}
	sort.Slice(ret, func(i, j int) bool {
		if !ret[i].FirstSeen.Equal(ret[j].FirstSeen) {
			return ret[i].FirstSeen.Before(ret[j].FirstSeen)
		}
		return ret[i].Signature < ret[j].Signature
	})
	return ret
}

func (ca *crashArchive) Crash(sig string) (Crash, bool) {
	ca.crashMu.Lock()
	defer ca.crashMu.Unlock()
	crash := ca.crashes[sig]
	if crash == nil {
		return Crash{}, false
	}
	return *crash, true
}

func (ca *crashArchive) count() int {
	ca.crashMu.Lock()
	defer ca.crashMu.Unlock()
	return len(ca.crashes)
}

// Close persists hit counts and waits until every recorded crash is on disk.
// Crashes recorded after Close are kept in memory only.
func (ca *crashArchive) Close() {
	ca.crashMu.Lock()
	if ca.closed {
		ca.crashMu.Unlock()
		return
	}
	for sig, crash := range ca.crashes {
		if crash.Hits > 1 {
			ca.enqueueLocked(sig, map[string][]byte{
				crashHitsFile: []byte(strconv.Itoa(crash.Hits)),
			})
		}
	}
	ca.closed = true
	close(ca.wake)
	ca.crashMu.Unlock()
	<-ca.writerDone
}

func (ca *crashArchive) writer() {
	defer close(ca.writerDone)
	for {
		_, ok := <-ca.wake
		ca.crashMu.Lock()
		pending := ca.pending
		ca.pending = nil
		ca.crashMu.Unlock()
		for _, w := range pending {
			if err := ca.write(w); err != nil {
				// The crash stays in memory, fuzzing goes on.
				ca.crashLogf(0, "failed to save crash %v: %v", w.sig, err)
			}
		}
		if !ok {
			return
		}
	}
}

func (ca *crashArchive) write(w crashWrite) error {
	dir := filepath.Join(ca.crashDir, w.sig)
	if err := osutil.MkdirAll(dir); err != nil {
		return err
	}
	for name, data := range w.files {
		if err := osutil.WriteFileAtomic(filepath.Join(dir, name), data); err != nil {
			return err
		}
	}
	return nil
}

func (ca *crashArchive) loadCrashes() error {
	if !osutil.IsExist(ca.crashDir) {
		return nil
	}
	dirs, err := osutil.ListDir(ca.crashDir)
	if err != nil {
		return err
	}
	for _, sig := range dirs {
		dir := filepath.Join(ca.crashDir, sig)
		desc, err := os.ReadFile(filepath.Join(dir, crashDescFile))
		if err != nil {
			ca.crashLogf(0, "skipping crash dir %v: %v", dir, err)
			continue
		}
		fault, err := parseDescription(desc)
		if err != nil || fault.Signature != sig {
			ca.crashLogf(0, "skipping crash dir %v: bad description", dir)
			continue
		}
		info, _ := os.Stat(filepath.Join(dir, crashDescFile))
		crash := &Crash{
			Fault:     fault,
			Hits:      1,
			FirstSeen: info.ModTime(),
			LastSeen:  info.ModTime(),
		}
		crash.Input, _ = os.ReadFile(filepath.Join(dir, crashInputFile))
		crash.Minimized, _ = os.ReadFile(filepath.Join(dir, crashReproFile))
		if hits, err := os.ReadFile(filepath.Join(dir, crashHitsFile)); err == nil {
			if n, err := strconv.Atoi(strings.TrimSpace(string(hits))); err == nil && n > 0 {
				crash.Hits = n
			}
		}
		ca.crashes[sig] = crash
	}
	return nil
}

func formatDescription(fault Fault) []byte {
	return []byte(fmt.Sprintf("%v\n%v\n%v\n", fault.Category, fault.Signature, fault.Detail))
}

func parseDescription(data []byte) (Fault, error) {
	parts := strings.SplitN(string(data), "\n", 3)
	if len(parts) != 3 {
		return Fault{}, fmt.Errorf("want 3 lines, got %v", len(parts))
	}
	return Fault{
		Category:  parts[0],
		Signature: parts[1],
		Detail:    strings.TrimSuffix(parts[2], "\n"),
	}, nil
}
