// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package queue connects producers of execution requests (the fuzzer and its jobs)
// with consumers (the worker pool). Sources can be composed to express priorities.
package queue

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/bcfuzz/pkg/flatrpc"
	"github.com/google/bcfuzz/pkg/hash"
	"github.com/google/bcfuzz/pkg/stat"
)

type Request struct {
	Input  []byte
	Budget time.Duration
	Flags  flatrpc.ExecFlag

	// This stat will be incremented on request completion.
	Stat *stat.Val

	// Important requests are retried once if the worker failed holding them.
	Important bool

	// The callback will be called on request completion in the LIFO order.
	// If it returns false, all further processing will be stopped.
	// It allows wrappers to intercept Done() requests.
	callback DoneCallback

	onceFailed bool

	mu     sync.Mutex
	result *Result
	done   chan struct{}
}

type DoneCallback func(*Request, *Result) bool

func (r *Request) OnDone(cb DoneCallback) {
	oldCallback := r.callback
	r.callback = func(req *Request, res *Result) bool {
		r.callback = oldCallback
		if !cb(req, res) {
			return false
		}
		if oldCallback == nil {
			return true
		}
		return oldCallback(req, res)
	}
}

func (r *Request) Done(res *Result) {
	if r.callback != nil {
		if !r.callback(r, res) {
			return
		}
	}
	if r.Stat != nil {
		r.Stat.Add(1)
	}
	r.initChannel()
	r.result = res
	close(r.done)
}

// Wait blocks until we have the result.
func (r *Request) Wait(ctx context.Context) *Result {
	r.initChannel()
	select {
	case <-ctx.Done():
		return &Result{Status: Inconclusive, Err: ctx.Err()}
	case <-r.done:
		return r.result
	}
}

// Risky returns true if a worker has already failed while holding the request.
func (r *Request) Risky() bool {
	return r.onceFailed
}

func (r *Request) Validate() error {
	if r.Budget < 0 {
		return fmt.Errorf("negative budget %v", r.Budget)
	}
	if len(r.Input) > flatrpc.MaxMessageSize/2 {
		return fmt.Errorf("input is too large: %v bytes", len(r.Input))
	}
	return nil
}

func (r *Request) hash() hash.Sig {
	var meta [16]byte
	binary.LittleEndian.PutUint64(meta[:], uint64(r.Flags))
	binary.LittleEndian.PutUint64(meta[8:], uint64(r.Budget))
	return hash.Hash(r.Input, meta[:])
}

func (r *Request) initChannel() {
	r.mu.Lock()
	if r.done == nil {
		r.done = make(chan struct{})
	}
	r.mu.Unlock()
}

type Result struct {
	Info   *flatrpc.ExecResult
	Status Status
	Err    error // More details in case of Inconclusive.
	// Worker that executed the request.
	Worker string
}

func (r *Result) clone() *Result {
	ret := *r
	ret.Info = ret.Info.Clone()
	return &ret
}

// Stop says that the producer should not continue with the job.
func (r *Result) Stop() bool {
	return r.Status == Inconclusive
}

type Status int

const (
	Success Status = iota
	Fault
	Timeout
	Fatal        // The worker hung and had to be replaced.
	Inconclusive // The transport failed or the session is stopping.
	Restarted    // The worker was replaced before the request was sent.
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Fault:
		return "fault"
	case Timeout:
		return "timeout"
	case Fatal:
		return "fatal"
	case Inconclusive:
		return "inconclusive"
	case Restarted:
		return "restarted"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// StatusOf maps a wire status to the queue status.
func StatusOf(status flatrpc.ExecStatus) Status {
	switch status {
	case flatrpc.ExecStatusSuccess:
		return Success
	case flatrpc.ExecStatusFault:
		return Fault
	case flatrpc.ExecStatusTimeout:
		return Timeout
	case flatrpc.ExecStatusFatal:
		return Fatal
	case flatrpc.ExecStatusCancelled:
		return Inconclusive
	}
	return Inconclusive
}

// Executor describes the interface wanted by the producers of requests.
// After a Request is submitted, it's expected that the consumer will eventually
// take it and report the execution result via Done().
type Executor interface {
	Submit(req *Request)
}

// Source describes the interface wanted by the consumers of requests.
// stop=true means the source will not produce any more requests.
type Source interface {
	Next() (req *Request, stop bool)
}

// PlainQueue is a straighforward thread-safe Request queue implementation.
type PlainQueue struct {
	mu    sync.Mutex
	queue []*Request
	pos   int
}

func Plain() *PlainQueue {
	return &PlainQueue{}
}

func (pq *PlainQueue) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.queue) - pq.pos
}

func (pq *PlainQueue) Submit(req *Request) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	// It doesn't make sense to compact the queue too often.
	const minSizeToCompact = 128
	if pq.pos > len(pq.queue)/2 && len(pq.queue) >= minSizeToCompact {
		n := copy(pq.queue, pq.queue[pq.pos:])
		clear(pq.queue[n:])
		pq.queue = pq.queue[:n]
		pq.pos = 0
	}
	pq.queue = append(pq.queue, req)
}

func (pq *PlainQueue) Next() (*Request, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if pq.pos == len(pq.queue) {
		return nil, false
	}
	ret := pq.queue[pq.pos]
	pq.queue[pq.pos] = nil
	pq.pos++
	return ret, false
}

// Order combines several different sources in a particular order.
type orderImpl struct {
	sources []Source
}

func Order(sources ...Source) Source {
	return &orderImpl{sources: sources}
}

func (o *orderImpl) Next() (*Request, bool) {
	allStop := true
	for _, s := range o.sources {
		req, stop := s.Next()
		if req != nil {
			return req, false
		}
		if !stop {
			allStop = false
		}
	}
	return nil, allStop
}

type callback struct {
	cb func() (*Request, bool)
}

// Callback produces a source that calls the callback to serve every Next() request.
func Callback(cb func() (*Request, bool)) Source {
	return &callback{cb}
}

func (cb *callback) Next() (*Request, bool) {
	return cb.cb()
}

type alternate struct {
	base Source
	nth  int
	seq  atomic.Int64
}

// Alternate proxies base, but returns nil every nth Next() call.
func Alternate(base Source, nth int) Source {
	return &alternate{
		base: base,
		nth:  nth,
	}
}

func (a *alternate) Next() (*Request, bool) {
	if a.seq.Add(1)%int64(a.nth) == 0 {
		return nil, false
	}
	return a.base.Next()
}

type DynamicOrderer struct {
	mu       sync.Mutex
	currPrio int
	ops      *priorityQueueOps[*Request]
}

// DynamicOrder can be used to form nested queues dynamically.
// That is, if
// q1 := pq.Append()
// q2 := pq.Append()
// All elements added via q2.Submit() will always have a *lower* priority
// than all elements added via q1.Submit().
func DynamicOrder() *DynamicOrderer {
	return &DynamicOrderer{
		ops: &priorityQueueOps[*Request]{},
	}
}

func (do *DynamicOrderer) Append() Executor {
	do.mu.Lock()
	defer do.mu.Unlock()
	do.currPrio++
	return &dynamicOrdererItem{
		parent: do,
		prio:   do.currPrio,
	}
}

func (do *DynamicOrderer) submit(req *Request, prio int) {
	do.mu.Lock()
	defer do.mu.Unlock()
	do.ops.Push(req, prio)
}

func (do *DynamicOrderer) Len() int {
	do.mu.Lock()
	defer do.mu.Unlock()
	return do.ops.Len()
}

func (do *DynamicOrderer) Next() (*Request, bool) {
	do.mu.Lock()
	defer do.mu.Unlock()
	return do.ops.Pop(), false
}

type dynamicOrdererItem struct {
	parent *DynamicOrderer
	prio   int
}

func (doi *dynamicOrdererItem) Submit(req *Request) {
	doi.parent.submit(req, doi.prio)
}

type DynamicSourceCtl struct {
	value atomic.Pointer[Source]
}

// DynamicSource is assumed never to point to nil.
func DynamicSource(source Source) *DynamicSourceCtl {
	var ret DynamicSourceCtl
	ret.Store(source)
	return &ret
}

func (ds *DynamicSourceCtl) Store(source Source) {
	ds.value.Store(&source)
}

func (ds *DynamicSourceCtl) Next() (*Request, bool) {
	return (*ds.value.Load()).Next()
}

// Deduplicator keeps track of the previously run requests to avoid re-running them.
// Requests are equal if they have equal input, flags and budget.
type Deduplicator struct {
	mu     sync.Mutex
	source Source
	mm     map[hash.Sig]*duplicateState
}

type duplicateState struct {
	res    *Result
	queued []*Request // duplicate requests waiting for the result.
}

func Deduplicate(source Source) Source {
	return &Deduplicator{
		source: source,
		mm:     map[hash.Sig]*duplicateState{},
	}
}

func (d *Deduplicator) Next() (*Request, bool) {
	for {
		req, stop := d.source.Next()
		if req == nil {
			return req, stop
		}
		hash := req.hash()
		d.mu.Lock()
		entry, ok := d.mm[hash]
		if !ok {
			d.mm[hash] = &duplicateState{}
		} else if entry.res == nil {
			// There's no result yet, put the request to the queue.
			entry.queued = append(entry.queued, req)
		}
		d.mu.Unlock()
		if !ok {
			// This is the first time we see such a request.
			req.OnDone(d.onDone)
			return req, stop
		}
		if entry.res != nil {
			// We already know the result.
			req.Done(entry.res.clone())
		}
	}
}

func (d *Deduplicator) onDone(req *Request, res *Result) bool {
	hash := req.hash()
	clonedRes := res.clone()

	d.mu.Lock()
	entry := d.mm[hash]
	queued := entry.queued
	entry.queued = nil
	if res.Status == Inconclusive {
		// Let the next duplicate try again.
		delete(d.mm, hash)
	} else {
		entry.res = clonedRes
	}
	d.mu.Unlock()

	// Broadcast the result.
	for _, waitingReq := range queued {
		waitingReq.Done(res.clone())
	}
	return true
}

// DefaultBudget sets the budget of requests from source that don't have one.
func DefaultBudget(source Source, budget time.Duration) Source {
	return &defaultBudget{source, budget}
}

type defaultBudget struct {
	source Source
	budget time.Duration
}

func (db *defaultBudget) Next() (*Request, bool) {
	req, stop := db.source.Next()
	if req == nil {
		return nil, stop
	}
	if req.Budget == 0 {
		req.Budget = db.budget
	}
	return req, stop
}
