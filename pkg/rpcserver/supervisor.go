// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package rpcserver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/bcfuzz/pkg/executor"
	"github.com/google/bcfuzz/pkg/flatrpc"
	"github.com/google/bcfuzz/pkg/log"
	"github.com/google/bcfuzz/pkg/osutil"
)

// Supervisor starts workers hosting an execution coordinator.
// A started worker connects to addr and introduces itself as name.
type Supervisor interface {
	Start(ctx context.Context, name, addr string) (Worker, error)
}

type Worker interface {
	// Exited is closed when the worker has terminated on its own.
	Exited() <-chan struct{}
	// Stop terminates the worker and waits for it.
	Stop() error
}

// LocalSupervisor runs each worker as a bcf-executor process.
type LocalSupervisor struct {
	// bcf-executor binary.
	Executor string
	// Extra arguments, e.g. the target description.
	Args []string
	// Working dir of the process.
	Dir   string
	Debug bool
}

func (sup *LocalSupervisor) Start(ctx context.Context, name, addr string) (Worker, error) {
	args := append([]string{"-addr", addr, "-name", name}, sup.Args...)
	cmd := osutil.Command(sup.Executor, args...)
	cmd.Dir = sup.Dir
	if sup.Debug {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stdout = log.VerboseWriter(2)
		cmd.Stderr = log.VerboseWriter(1)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start executor: %w", err)
	}
	proc := &localWorker{
		cmd:    cmd,
		exited: make(chan struct{}),
	}
	go func() {
		proc.err = cmd.Wait()
		close(proc.exited)
	}()
	return proc, nil
}

type localWorker struct {
	cmd    *exec.Cmd
	exited chan struct{}
	err    error
}

func (proc *localWorker) Exited() <-chan struct{} {
	return proc.exited
}

func (proc *localWorker) Stop() error {
	select {
	case <-proc.exited:
		return proc.exitErr()
	default:
	}
	osutil.Kill(proc.cmd)
	select {
	case <-proc.exited:
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("executor process %v did not exit", proc.cmd.Process.Pid)
	}
}

func (proc *localWorker) exitErr() error {
	var exitErr *exec.ExitError
	if errors.As(proc.err, &exitErr) && exitErr.ExitCode() == executor.ExitFatal {
		return fmt.Errorf("executor exited: %w", executor.ErrFatal)
	}
	return proc.err
}

// InProcessSupervisor hosts workers in goroutines of the current process.
// A worker whose target got stuck leaks its goroutine, so it is only
// suitable for tests and targets that honor cancellation.
type InProcessSupervisor struct {
	// NewCoordinator creates a fresh coordinator for every worker.
	NewCoordinator func() (*executor.Coordinator, error)
}

func (sup *InProcessSupervisor) Start(ctx context.Context, name, addr string) (Worker, error) {
	coord, err := sup.NewCoordinator()
	if err != nil {
		return nil, err
	}
	conn, err := flatrpc.Dial(addr, 1)
	if err != nil {
		return nil, err
	}
	// The worker outlives ctx until Stop, so that the request in flight can complete.
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w := &inProcessWorker{
		cancel: cancel,
		exited: make(chan struct{}),
	}
	go func() {
		defer close(w.exited)
		defer conn.Close()
		w.err = executor.Serve(ctx, conn, coord, name)
	}()
	return w, nil
}

type inProcessWorker struct {
	cancel context.CancelFunc
	exited chan struct{}
	err    error
}

func (w *inProcessWorker) Exited() <-chan struct{} {
	return w.exited
}

func (w *inProcessWorker) Stop() error {
	w.cancel()
	<-w.exited
	return w.err
}
