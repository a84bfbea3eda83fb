// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package rpcserver is the driver side of the transport: it keeps a pool of
// worker connections, one request in flight on each, and replaces workers
// that failed or reported FATAL.
package rpcserver

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/bcfuzz/pkg/executor"
	"github.com/google/bcfuzz/pkg/flatrpc"
	"github.com/google/bcfuzz/pkg/fuzzer/queue"
	"github.com/google/bcfuzz/pkg/log"
	"github.com/google/bcfuzz/pkg/stat"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	// Listen address, ":0" by default.
	RPC   string
	Procs int
	Debug bool
	// Budget of requests that don't have one.
	Budget time.Duration
	// Extra time to wait for a result after the budget.
	// Must exceed the executor grace period, otherwise hangs show up as transport failures.
	Slack time.Duration
	// How long a started worker may take to connect.
	ConnectTimeout time.Duration
	// Session ID sent to workers.
	Session    string
	Supervisor Supervisor
}

const (
	DefaultSlack          = executor.DefaultGrace + 2*time.Second
	DefaultConnectTimeout = time.Minute
	lastExecCount         = 6
)

var errSourceStopped = errors.New("source stopped")

type Server struct {
	Addr string

	StatExecs          *stat.Val
	StatNumWorkers     *stat.Val
	statExecTime       *stat.Val
	statRestarts       *stat.Val
	statInconclusive   *stat.Val
	statFatal          *stat.Val
	statNoExecRequests *stat.Val
	statNoExecDuration *stat.Val

	cfg    *Config
	serv   *flatrpc.Serv
	source queue.Source

	mu       sync.Mutex
	runners  map[string]*Runner
	info     map[string]WorkerState
	lastExec *LastExecuting
	start    time.Time
	edges    int
	blind    map[string]bool
}

type Runner struct {
	name     string
	proc     int
	connc    chan *flatrpc.Conn
	finished chan struct{}
	nextID   int64
}

func New(cfg *Config, source queue.Source) (*Server, error) {
	if cfg.Procs <= 0 {
		cfg.Procs = 1
	}
	if cfg.RPC == "" {
		cfg.RPC = ":0"
	}
	if cfg.Budget <= 0 {
		cfg.Budget = executor.DefaultBudget
	}
	if cfg.Slack <= 0 {
		cfg.Slack = DefaultSlack
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Session == "" {
		cfg.Session = uuid.NewString()
	}
	if cfg.Supervisor == nil {
		return nil, errors.New("no worker supervisor")
	}
	serv := &Server{
		cfg:      cfg,
		source:   queue.Retry(source),
		runners:  make(map[string]*Runner),
		info:     make(map[string]WorkerState),
		blind:    make(map[string]bool),
		lastExec: MakeLastExecuting(cfg.Procs, lastExecCount),
		start:    time.Now(),

		StatExecs: stat.New("exec total", "Total target executions",
			stat.Console, stat.Rate{}, stat.Prometheus("bcf_exec_total")),
		StatNumWorkers: stat.New("workers", "Number of workers that are currently fuzzing",
			stat.Console),
		statExecTime: stat.New("exec time", "Execution time of a single input (us)",
			stat.Distribution{}),
		statRestarts: stat.New("worker restarts", "Number of times a worker was replaced",
			stat.Rate{}, stat.Prometheus("bcf_worker_restarts")),
		statInconclusive: stat.New("inconclusive", "Requests lost to transport failures",
			stat.Rate{}),
		statFatal: stat.New("fatal", "Workers that reported the target as unusable",
			stat.Rate{}),
		statNoExecRequests: queue.StatNoExecRequests,
		statNoExecDuration: queue.StatNoExecDuration,
	}
	s, err := flatrpc.ListenAndServe(cfg.RPC, serv.handleConn)
	if err != nil {
		return nil, err
	}
	serv.serv = s
	serv.Addr = s.Addr.String()
	return serv, nil
}

func (serv *Server) Close() error {
	return serv.serv.Close()
}

type WorkerState struct {
	State     int
	Proc      int
	Timestamp time.Time
}

const (
	StateOffline = iota
	StateStarting
	StateFuzzing
)

func (serv *Server) WorkerState() map[string]WorkerState {
	serv.mu.Lock()
	defer serv.mu.Unlock()
	return maps.Clone(serv.info)
}

// TargetInfo returns the largest number of edges reported by workers
// and the modules that run without coverage.
func (serv *Server) TargetInfo() (int, []string) {
	serv.mu.Lock()
	defer serv.mu.Unlock()
	return serv.edges, slices.Sorted(maps.Keys(serv.blind))
}

// Run keeps Procs workers busy until ctx is cancelled or the source stops.
// All workers are stopped before it returns.
func (serv *Server) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for proc := 0; proc < serv.cfg.Procs; proc++ {
		eg.Go(func() error {
			serv.runProc(ctx, proc)
			return nil
		})
	}
	return eg.Wait()
}

func (serv *Server) runProc(ctx context.Context, proc int) {
	for ctx.Err() == nil {
		err := serv.runInstance(ctx, proc)
		if errors.Is(err, errSourceStopped) {
			return
		}
		if err == nil || ctx.Err() != nil {
			continue
		}
		log.Logf(1, "proc %v: %v", proc, err)
		serv.statRestarts.Add(1)
		if last := serv.lastExec.For(proc); len(last) != 0 && log.V(1) {
			log.Logf(1, "proc %v: last executed inputs:\n%s", proc, FormatExecuting(last))
		}
		select {
		case <-ctx.Done():
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (serv *Server) runInstance(ctx context.Context, proc int) error {
	name := fmt.Sprintf("worker-%v-%v", proc, uuid.NewString()[:8])
	runner := serv.CreateInstance(name, proc)
	defer serv.ShutdownInstance(name)
	// Lets handleConn return and close the connection.
	defer close(runner.finished)
	worker, err := serv.cfg.Supervisor.Start(ctx, name, serv.Addr)
	if err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	defer func() {
		if err := worker.Stop(); err != nil {
			log.Logf(2, "%v: %v", name, err)
		}
	}()
	var conn *flatrpc.Conn
	select {
	case conn = <-runner.connc:
	case <-worker.Exited():
		return fmt.Errorf("worker %v exited before connecting", name)
	case <-time.After(serv.cfg.ConnectTimeout):
		return fmt.Errorf("worker %v did not connect in %v", name, serv.cfg.ConnectTimeout)
	case <-ctx.Done():
		return nil
	}
	serv.setState(name, proc, StateFuzzing)
	serv.StatNumWorkers.Add(1)
	defer serv.StatNumWorkers.Add(-1)
	return serv.connectionLoop(ctx, runner, conn)
}

func (serv *Server) handleConn(conn *flatrpc.Conn) {
	connectReq, err := flatrpc.Recv[*flatrpc.ConnectRequestRaw](conn)
	if err != nil {
		log.Logf(1, "%v: handshake failed: %v", conn.RemoteAddr(), err)
		return
	}
	if connectReq.Protocol != flatrpc.ProtocolVersion {
		log.Logf(0, "worker %v speaks protocol %v, want %v",
			connectReq.Name, connectReq.Protocol, flatrpc.ProtocolVersion)
		return
	}
	serv.mu.Lock()
	runner := serv.runners[connectReq.Name]
	if runner != nil {
		serv.edges = max(serv.edges, int(connectReq.Edges))
		for _, mod := range connectReq.Blind {
			serv.blind[mod] = true
		}
	}
	serv.mu.Unlock()
	if runner == nil {
		log.Logf(2, "worker %v shut down before connect", connectReq.Name)
		return
	}
	log.Logf(1, "worker %v connected: %v edges, blind modules %q",
		connectReq.Name, connectReq.Edges, connectReq.Blind)
	reply := &flatrpc.ConnectReply{
		Session: serv.cfg.Session,
		Debug:   serv.cfg.Debug,
	}
	if err := flatrpc.Send(conn, reply); err != nil {
		log.Logf(1, "worker %v: %v", connectReq.Name, err)
		return
	}
	select {
	case runner.connc <- conn:
	default:
		log.Logf(0, "worker %v connected twice", connectReq.Name)
		return
	}
	<-runner.finished
}

// connectionLoop does not interrupt the request in flight when ctx is cancelled,
// it completes or is abandoned after its budget and slack.
func (serv *Server) connectionLoop(ctx context.Context, runner *Runner, conn *flatrpc.Conn) error {
	var idleSince time.Time
	for ctx.Err() == nil {
		req, stopped := serv.source.Next()
		if req == nil {
			if stopped {
				return errSourceStopped
			}
			if idleSince.IsZero() {
				idleSince = time.Now()
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if !idleSince.IsZero() {
			serv.statNoExecRequests.Add(1)
			// Cap wait duration to 1 second to avoid extreme peaks on the graph.
			serv.statNoExecDuration.Add(int(min(time.Since(idleSince), time.Second)))
			idleSince = time.Time{}
		}
		if err := serv.execute(runner, conn, req); err != nil {
			return err
		}
	}
	return nil
}

func (serv *Server) execute(runner *Runner, conn *flatrpc.Conn, req *queue.Request) error {
	if err := req.Validate(); err != nil {
		req.Done(&queue.Result{Status: queue.Inconclusive, Err: err})
		return nil
	}
	budget := req.Budget
	if budget <= 0 {
		budget = serv.cfg.Budget
	}
	runner.nextID++
	id := runner.nextID
	msg := &flatrpc.ExecRequest{
		Id:       id,
		Input:    req.Input,
		BudgetMs: max(1, budget.Milliseconds()),
		Flags:    req.Flags,
	}
	serv.lastExec.Note(int(id), runner.proc, req.Input, time.Since(serv.start))
	if err := flatrpc.Send(conn, msg); err != nil {
		req.Done(&queue.Result{Status: queue.Restarted, Err: err})
		return err
	}
	if err := conn.SetReadDeadline(time.Now().Add(budget + serv.cfg.Slack)); err != nil {
		req.Done(&queue.Result{Status: queue.Restarted, Err: err})
		return err
	}
	res, err := flatrpc.Recv[*flatrpc.ExecResultRaw](conn)
	if err == nil && res.Id != id {
		err = fmt.Errorf("got result %v for request %v", res.Id, id)
	}
	if err == nil {
		err = res.Validate()
	}
	if err != nil {
		serv.statInconclusive.Add(1)
		req.Done(&queue.Result{Status: queue.Inconclusive, Err: err, Worker: runner.name})
		return fmt.Errorf("worker %v: %w", runner.name, err)
	}
	serv.StatExecs.Add(1)
	serv.statExecTime.Add(int(time.Duration(res.Elapsed) / time.Microsecond))
	status := queue.StatusOf(res.Status)
	req.Done(&queue.Result{Status: status, Info: res, Worker: runner.name})
	if status == queue.Fatal {
		serv.statFatal.Add(1)
		return fmt.Errorf("worker %v is unusable: %v", runner.name, res.FaultDetail)
	}
	return nil
}

func (serv *Server) CreateInstance(name string, proc int) *Runner {
	runner := &Runner{
		name:     name,
		proc:     proc,
		connc:    make(chan *flatrpc.Conn, 1),
		finished: make(chan struct{}),
	}
	serv.mu.Lock()
	defer serv.mu.Unlock()
	if serv.runners[name] != nil {
		panic(fmt.Sprintf("duplicate instance %s", name))
	}
	serv.runners[name] = runner
	serv.info[name] = WorkerState{StateStarting, proc, time.Now()}
	return runner
}

func (serv *Server) ShutdownInstance(name string) {
	serv.mu.Lock()
	defer serv.mu.Unlock()
	delete(serv.runners, name)
	// Keep only the latest state per proc.
	proc := serv.info[name].Proc
	delete(serv.info, name)
	for other, st := range serv.info {
		if st.Proc == proc && st.State == StateOffline {
			delete(serv.info, other)
		}
	}
	serv.info[name] = WorkerState{StateOffline, proc, time.Now()}
}

func (serv *Server) setState(name string, proc, state int) {
	serv.mu.Lock()
	defer serv.mu.Unlock()
	serv.info[name] = WorkerState{state, proc, time.Now()}
}
