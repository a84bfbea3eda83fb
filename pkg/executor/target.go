// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"context"
	"fmt"

	"github.com/google/bcfuzz/pkg/bytecode"
	"github.com/google/bcfuzz/pkg/cover"
	"github.com/google/bcfuzz/pkg/instrument"
	"github.com/google/bcfuzz/pkg/interp"
)

// Target is the code under test. Invoke must return once ctx is done,
// otherwise the coordinator declares the process unusable.
type Target interface {
	Invoke(ctx context.Context, input []byte) error
}

// Resetter is implemented by targets that can restore their global state
// before each execution. State of other targets leaks across executions.
type Resetter interface {
	Reset()
}

// FuncTarget adapts a Go function as a target.
type FuncTarget func(ctx context.Context, input []byte) error

func (f FuncTarget) Invoke(ctx context.Context, input []byte) error {
	return f(ctx, input)
}

type VMConfig struct {
	Source interp.Source
	// Entry point in the "module.method" form, the method takes no arguments.
	Entry string
	// Step budget of a single execution, 0 means only the wall-clock budget applies.
	MaxSteps int64
	MaxDepth int
	// Size of the coverage table.
	Capacity int
	Logf     func(level int, msg string, args ...any)
}

// VMTarget runs an entry point inside the bytecode interpreter.
// Every module is instrumented when it is loaded.
type VMTarget struct {
	cfg      VMConfig
	module   string
	method   string
	vm       *interp.Machine
	session  *instrument.Session
	recorder *cover.Recorder
}

// NewVMTarget loads all modules listed by the source in sorted order, so that edge
// numbering does not depend on the order in which executions reach the modules.
// Modules that fail to load are logged and skipped; only the entry module is required.
func NewVMTarget(cfg VMConfig) (*VMTarget, error) {
	if cfg.Logf == nil {
		cfg.Logf = func(int, string, ...any) {}
	}
	modName, method, ok := bytecode.SplitQualified(cfg.Entry)
	if !ok {
		return nil, fmt.Errorf("bad entry point %q, want module.method", cfg.Entry)
	}
	rec := cover.NewRecorder(cfg.Capacity)
	t := &VMTarget{
		cfg:      cfg,
		module:   modName,
		method:   method,
		recorder: rec,
		session: instrument.NewSession(instrument.Config{
			Capacity: rec.Capacity(),
			Logf:     cfg.Logf,
		}),
	}
	t.vm = interp.NewMachine(interp.Config{
		Source:    cfg.Source,
		Transform: t.transform,
		MaxDepth:  cfg.MaxDepth,
	})
	t.vm.SetRecorder(rec, true)
	names, err := cfg.Source.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	for _, name := range names {
		if _, err := t.vm.Load(name); err != nil {
			cfg.Logf(0, "failed to load module %v: %v", name, err)
		}
	}
	mod, err := t.vm.Load(modName)
	if err != nil {
		return nil, fmt.Errorf("failed to load entry module: %w", err)
	}
	idx := mod.Method(method)
	if idx < 0 {
		return nil, fmt.Errorf("no entry method %v", cfg.Entry)
	}
	if args := mod.Methods[idx].Args; args != 0 {
		return nil, fmt.Errorf("entry method %v takes %v arguments, want 0", cfg.Entry, args)
	}
	// Probes fired while loading must not leak into the first execution.
	rec.SnapshotAndReset()
	return t, nil
}

func (t *VMTarget) transform(name string, data []byte) []byte {
	res := t.session.Rewrite(name, data)
	t.recorder.SetEdges(t.session.Edges())
	if res.Blind {
		t.recorder.MarkBlind(name)
	}
	return res.Data
}

func (t *VMTarget) Invoke(ctx context.Context, input []byte) error {
	_, err := t.vm.Call(ctx, t.module, t.method, input, t.cfg.MaxSteps)
	return err
}

func (t *VMTarget) Reset() {
	t.vm.Reset()
}

func (t *VMTarget) Recorder() *cover.Recorder {
	return t.recorder
}

func (t *VMTarget) Session() *instrument.Session {
	return t.session
}
