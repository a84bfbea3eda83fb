// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package rpcserver

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/bcfuzz/pkg/cover"
	"github.com/google/bcfuzz/pkg/executor"
	"github.com/google/bcfuzz/pkg/flatrpc"
	"github.com/google/bcfuzz/pkg/fuzzer/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSupervisor struct {
	Supervisor
	starts atomic.Int32
}

func (sup *countingSupervisor) Start(ctx context.Context, name, addr string) (Worker, error) {
	sup.starts.Add(1)
	return sup.Supervisor.Start(ctx, name, addr)
}

func funcSupervisor(target executor.FuncTarget) *countingSupervisor {
	return &countingSupervisor{Supervisor: &InProcessSupervisor{
		NewCoordinator: func() (*executor.Coordinator, error) {
			return executor.NewCoordinator(target, cover.NewRecorder(0),
				executor.Config{Grace: 50 * time.Millisecond}), nil
		},
	}}
}

func startServer(t *testing.T, cfg *Config, source queue.Source) (*Server, context.CancelFunc, <-chan error) {
	serv, err := New(cfg, source)
	require.NoError(t, err)
	t.Cleanup(func() { serv.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return serv, cancel, done
}

func TestServerExecutes(t *testing.T) {
	sup := funcSupervisor(func(ctx context.Context, input []byte) error {
		if string(input) == "bad" {
			return errors.New("bad input")
		}
		return nil
	})
	q := queue.Plain()
	serv, cancel, done := startServer(t, &Config{Procs: 3, Supervisor: sup}, q)
	var reqs []*queue.Request
	for i := 0; i < 30; i++ {
		req := &queue.Request{Input: []byte("ok")}
		if i%3 == 0 {
			req.Input = []byte("bad")
		}
		reqs = append(reqs, req)
		q.Submit(req)
	}
	for i, req := range reqs {
		res := req.Wait(context.Background())
		if i%3 == 0 {
			assert.Equal(t, queue.Fault, res.Status)
			assert.Equal(t, executor.CategoryError, res.Info.FaultCategory)
		} else {
			assert.Equal(t, queue.Success, res.Status, res.Err)
		}
		assert.NotEmpty(t, res.Worker)
	}
	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, int32(3), sup.starts.Load())
	for _, st := range serv.WorkerState() {
		assert.Equal(t, StateOffline, st.State)
	}
}

func TestServerReplacesFatalWorker(t *testing.T) {
	unblock := make(chan struct{})
	defer close(unblock)
	sup := funcSupervisor(func(ctx context.Context, input []byte) error {
		if string(input) == "stuck" {
			// Ignores ctx, so the coordinator gives up on the target.
			<-unblock
		}
		return nil
	})
	q := queue.Plain()
	startServer(t, &Config{Procs: 1, Supervisor: sup, Slack: 5 * time.Second}, q)
	stuck := &queue.Request{Input: []byte("stuck"), Budget: 10 * time.Millisecond}
	q.Submit(stuck)
	res := stuck.Wait(context.Background())
	require.Equal(t, queue.Fatal, res.Status)
	assert.Equal(t, executor.CategoryHang, res.Info.FaultCategory)

	ok := &queue.Request{Input: []byte("ok")}
	q.Submit(ok)
	assert.Equal(t, queue.Success, ok.Wait(context.Background()).Status)
	assert.Equal(t, int32(2), sup.starts.Load())
}

func TestServerSourceStop(t *testing.T) {
	sup := funcSupervisor(func(ctx context.Context, input []byte) error { return nil })
	var served atomic.Int32
	source := queue.Callback(func() (*queue.Request, bool) {
		if served.Add(1) > 5 {
			return nil, true
		}
		return &queue.Request{Input: []byte("x")}, false
	})
	_, _, done := startServer(t, &Config{Procs: 2, Supervisor: sup}, source)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Minute):
		t.Fatal("the server did not stop")
	}
}

// brokenSupervisor starts workers that drop the connection on the first request,
// or answer it with reply if it is set.
type brokenSupervisor struct {
	starts atomic.Int32
	reply  func(req *flatrpc.ExecRequest) *flatrpc.ExecResult
}

func (sup *brokenSupervisor) Start(ctx context.Context, name, addr string) (Worker, error) {
	sup.starts.Add(1)
	conn, err := flatrpc.Dial(addr, 1)
	if err != nil {
		return nil, err
	}
	w := &brokenWorker{exited: make(chan struct{})}
	go func() {
		defer close(w.exited)
		defer conn.Close()
		err := flatrpc.Send(conn, &flatrpc.ConnectRequest{Name: name, Protocol: flatrpc.ProtocolVersion})
		if err != nil {
			return
		}
		if _, err := flatrpc.Recv[*flatrpc.ConnectReplyRaw](conn); err != nil {
			return
		}
		req, err := flatrpc.Recv[*flatrpc.ExecRequestRaw](conn)
		if err != nil || sup.reply == nil {
			return
		}
		if err := flatrpc.Send(conn, sup.reply(req)); err != nil {
			return
		}
		// The server drops the connection after a bad result.
		flatrpc.Recv[*flatrpc.ExecRequestRaw](conn)
	}()
	return w, nil
}

type brokenWorker struct {
	exited chan struct{}
}

func (w *brokenWorker) Exited() <-chan struct{} { return w.exited }
func (w *brokenWorker) Stop() error {
	<-w.exited
	return nil
}

func TestServerTransportFailure(t *testing.T) {
	sup := &brokenSupervisor{}
	q := queue.Plain()
	startServer(t, &Config{Procs: 1, Supervisor: sup}, q)
	req := &queue.Request{Input: []byte("x")}
	q.Submit(req)
	res := req.Wait(context.Background())
	assert.Equal(t, queue.Inconclusive, res.Status)
	assert.Error(t, res.Err)

	// Important requests are retried once on a fresh worker.
	important := &queue.Request{Input: []byte("y"), Important: true}
	q.Submit(important)
	assert.Equal(t, queue.Inconclusive, important.Wait(context.Background()).Status)
	assert.GreaterOrEqual(t, sup.starts.Load(), int32(3))
	assert.True(t, important.Risky())
}

func TestServerMalformedResult(t *testing.T) {
	sup := &brokenSupervisor{
		reply: func(req *flatrpc.ExecRequest) *flatrpc.ExecResult {
			return &flatrpc.ExecResult{
				Id:     req.Id,
				Status: flatrpc.ExecStatusSuccess,
				Edges:  []uint32{1, 2},
				Counts: []uint8{1},
			}
		},
	}
	q := queue.Plain()
	serv, _, _ := startServer(t, &Config{Procs: 1, Supervisor: sup}, q)
	for i := 0; i < 2; i++ {
		req := &queue.Request{Input: []byte("x")}
		q.Submit(req)
		res := req.Wait(context.Background())
		assert.Equal(t, queue.Inconclusive, res.Status)
		assert.ErrorContains(t, res.Err, "2 edges, 1 counts")
		assert.Nil(t, res.Info)
	}
	// Every bad result costs the worker.
	assert.GreaterOrEqual(t, sup.starts.Load(), int32(2))
	assert.Zero(t, serv.StatExecs.Val())
}

func TestServerProtocolMismatch(t *testing.T) {
	q := queue.Plain()
	serv, err := New(&Config{Supervisor: funcSupervisor(nil)}, q)
	require.NoError(t, err)
	defer serv.Close()
	conn, err := flatrpc.Dial(serv.Addr, 1)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, flatrpc.Send(conn, &flatrpc.ConnectRequest{Name: "x", Protocol: 1000}))
	_, err = flatrpc.Recv[*flatrpc.ConnectReplyRaw](conn)
	assert.Error(t, err)
}

func TestNewNoSupervisor(t *testing.T) {
	_, err := New(&Config{}, queue.Plain())
	assert.Error(t, err)
}
