// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package executor runs single inputs against the target under a budget and
// turns the outcome into a tagged result with a coverage snapshot.
//
// The coordinator reclaims control from a slow target by cancelling its context
// (the interpreter checks it periodically). If the target still does not return
// within the grace period, the process is considered unusable: the coordinator
// answers FATAL to this and all subsequent requests and the driver replaces it.
package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/bcfuzz/pkg/cover"
	"github.com/google/bcfuzz/pkg/flatrpc"
)

var ErrFatal = errors.New("executor is unusable")

// ExitFatal is the exit status of an executor process that gave up on the target.
const ExitFatal = 67

type Config struct {
	// How long to wait for the target after the budget has expired.
	Grace time.Duration
	// Number of innermost frames in fault signatures.
	SignatureFrames int
	Logf            func(level int, msg string, args ...any)
}

const (
	DefaultGrace           = 3 * time.Second
	DefaultSignatureFrames = 5
	// DefaultBudget applies to requests without a budget.
	DefaultBudget = time.Second
)

type Coordinator struct {
	cfg    Config
	target Target
	rec    *cover.Recorder

	mu        sync.Mutex
	fatal     *flatrpc.ExecResult
	blindSent int
}

func NewCoordinator(target Target, rec *cover.Recorder, cfg Config) *Coordinator {
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.SignatureFrames <= 0 {
		cfg.SignatureFrames = DefaultSignatureFrames
	}
	if cfg.Logf == nil {
		cfg.Logf = func(int, string, ...any) {}
	}
	return &Coordinator{
		cfg:    cfg,
		target: target,
		rec:    rec,
	}
}

// Edges returns the number of edge IDs assigned so far.
func (c *Coordinator) Edges() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec.Edges()
}

// Blind returns modules that run without coverage.
func (c *Coordinator) Blind() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec.Blind()
}

// Fatal says if the coordinator has given up on the target.
func (c *Coordinator) Fatal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal != nil
}

// Run executes one input. Executions never overlap and each one starts with a clean
// coverage table. The result Id is left for the caller to fill.
func (c *Coordinator) Run(ctx context.Context, input []byte, budget time.Duration,
	flags flatrpc.ExecFlag) *flatrpc.ExecResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fatal != nil {
		res := *c.fatal
		return &res
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	if r, ok := c.target.(Resetter); ok {
		r.Reset()
	}
	c.rec.CollectComps(flags&flatrpc.ExecFlagCollectComps != 0)

	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	done := make(chan error, 1)
	start := time.Now()
	go func() {
		done <- c.invoke(runCtx, input)
	}()
	timer := time.NewTimer(budget + c.cfg.Grace)
	defer timer.Stop()
	var err error
	select {
	case err = <-done:
	case <-timer.C:
		// The target goroutine may still be touching the recorder, so it can't be used anymore.
		fault := hangFault("target did not return after the budget expired", nil, 0)
		c.fatal = &flatrpc.ExecResult{
			Status:         flatrpc.ExecStatusFatal,
			FaultCategory:  fault.Category,
			FaultSignature: fault.Signature,
			FaultDetail:    fault.Detail,
			Elapsed:        int64(time.Since(start)),
		}
		c.cfg.Logf(0, "target is unresponsive after %v, giving up", time.Since(start))
		res := *c.fatal
		return &res
	}
	elapsed := time.Since(start)
	snap := c.rec.SnapshotAndReset()
	res := &flatrpc.ExecResult{
		Status:     flatrpc.ExecStatusSuccess,
		Edges:      snap.Edges,
		Counts:     snap.Counts,
		Elapsed:    int64(elapsed),
		TotalEdges: int32(c.rec.Edges()),
	}
	for _, comp := range snap.Comps {
		res.Comps = append(res.Comps, comp.Op1, comp.Op2)
	}
	if blind := c.rec.Blind(); len(blind) > c.blindSent {
		res.Blind = blind[c.blindSent:]
		c.blindSent = len(blind)
	}
	if ctx.Err() != nil {
		// Stopped from outside: an interrupted target is neither a hang nor a fault.
		res.Status = flatrpc.ExecStatusCancelled
		res.FaultDetail = context.Cause(ctx).Error()
		return res
	}
	timedOut := elapsed > budget
	if err == nil && !timedOut {
		return res
	}
	fault := Classify(err, timedOut, c.cfg.SignatureFrames)
	res.Status = flatrpc.ExecStatusFault
	if fault.Category == CategoryHang {
		res.Status = flatrpc.ExecStatusTimeout
	}
	res.FaultCategory = fault.Category
	res.FaultSignature = fault.Signature
	res.FaultDetail = fault.Detail
	return res
}

func (c *Coordinator) invoke(ctx context.Context, input []byte) (err error) {
	defer func() {
		if val := recover(); val != nil {
			err = recoverPanic(val)
		}
	}()
	return c.target.Invoke(ctx, input)
}
