// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package rpcserver

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"
)

// LastExecuting keeps the given number of last executed inputs
// for each proc, and allows to query this set after a worker failure.
type LastExecuting struct {
	mu        sync.Mutex
	count     int
	procs     []ExecRecord
	positions []int
}

type ExecRecord struct {
	ID    int
	Proc  int
	Input []byte
	Time  time.Duration
}

func MakeLastExecuting(procs, count int) *LastExecuting {
	return &LastExecuting{
		count:     count,
		procs:     make([]ExecRecord, procs*count),
		positions: make([]int, procs),
	}
}

// Note execution of the input on proc at time now.
func (last *LastExecuting) Note(id, proc int, input []byte, now time.Duration) {
	last.mu.Lock()
	defer last.mu.Unlock()
	pos := &last.positions[proc]
	last.procs[proc*last.count+*pos] = ExecRecord{
		ID:    id,
		Proc:  proc,
		Input: input,
		Time:  now,
	}
	*pos++
	if *pos == last.count {
		*pos = 0
	}
}

// Collect returns a sorted set of last executing inputs of all procs.
// The records are sorted by time in ascending order.
// ExecRecord.Time is the difference in start executing time between this
// input and the input that started executing last.
func (last *LastExecuting) Collect() []ExecRecord {
	last.mu.Lock()
	defer last.mu.Unlock()
	return sortRecords(append([]ExecRecord(nil), last.procs...))
}

// For returns last executing inputs of one proc in the same form as Collect.
func (last *LastExecuting) For(proc int) []ExecRecord {
	last.mu.Lock()
	defer last.mu.Unlock()
	return sortRecords(append([]ExecRecord(nil), last.procs[proc*last.count:(proc+1)*last.count]...))
}

func sortRecords(procs []ExecRecord) []ExecRecord {
	sort.Slice(procs, func(i, j int) bool {
		return procs[i].Time < procs[j].Time
	})
	if len(procs) == 0 {
		return nil
	}
	max := procs[len(procs)-1].Time
	for i := len(procs) - 1; i >= 0; i-- {
		if procs[i].Time == 0 {
			procs = procs[i+1:]
			break
		}
		procs[i].Time = max - procs[i].Time
	}
	return procs
}

func FormatExecuting(lastExec []ExecRecord) []byte {
	buf := new(bytes.Buffer)
	for _, exec := range lastExec {
		fmt.Fprintf(buf, "%v ago: proc %v executing input %v (%v bytes): %q\n",
			exec.Time, exec.Proc, exec.ID, len(exec.Input), truncate(exec.Input, 64))
	}
	return buf.Bytes()
}

func truncate(data []byte, n int) []byte {
	if len(data) <= n {
		return data
	}
	return data[:n]
}
