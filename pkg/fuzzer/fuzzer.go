// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzzer implements the fuzzing session: it selects and mutates corpus entries,
// evaluates execution results and runs follow-up jobs (triage, smash, hints,
// crash minimization). Fuzzer is a queue.Source for the worker pool.
package fuzzer

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/bcfuzz/pkg/corpus"
	"github.com/google/bcfuzz/pkg/cover"
	"github.com/google/bcfuzz/pkg/fuzzer/queue"
	"github.com/google/bcfuzz/pkg/grammar"
	"github.com/google/bcfuzz/pkg/hash"
	"github.com/google/bcfuzz/pkg/learning"
	"github.com/google/bcfuzz/pkg/mutate"
	"github.com/google/bcfuzz/pkg/osutil"
	"github.com/google/bcfuzz/pkg/signal"
	"github.com/google/bcfuzz/pkg/stat"
)

type Fuzzer struct {
	Stats
	Config *Config
	Cover  *Cover

	ctx         context.Context
	mu          sync.Mutex
	rnd         *rand.Rand
	runningJobs map[jobIntrospector]struct{}
	strategies  *learning.PlainMAB[strategy]
	novelty     *learning.RunningRatio[int]

	// Limits concurrent crash minimization jobs.
	crashMinimizeSem *osutil.Semaphore
	// Derivation trees of inputs generated from the grammar.
	trees *grammar.Trees

	start       time.Time
	phase       atomic.Int32
	issued      atomic.Int64
	completed   atomic.Int64
	lastNovel   atomic.Int64
	stopOnce    sync.Once
	stopReason  atomic.Value
	stoppedChan chan struct{}

	execQueues
}

type Config struct {
	Debug   bool
	Corpus  *corpus.Corpus
	Mutator *mutate.Mutator
	Buckets *cover.Buckets
	// Inputs are also generated from the grammar if it's set.
	Grammar     *grammar.Grammar
	MaxTreeSize int
	Logf        func(level int, msg string, args ...any)
	// Run hints jobs for new corpus entries.
	Comparisons bool
	// Minimize new corpus entries and crash reproducers.
	MinimizeInputs  bool
	MinimizeCrashes bool
	// Number of executions an input needs to pass triage (including the first one).
	DeflakeRuns int
	// Session limits, unlimited if zero.
	Duration time.Duration
	MaxExecs int64
}

const DefaultDeflakeRuns = 3

func NewFuzzer(ctx context.Context, cfg *Config, rnd *rand.Rand) *Fuzzer {
	if cfg.Mutator == nil {
		cfg.Mutator = mutate.New(mutate.Config{})
	}
	if cfg.Buckets == nil {
		cfg.Buckets = cover.DefaultBuckets
	}
	if cfg.DeflakeRuns <= 0 {
		cfg.DeflakeRuns = DefaultDeflakeRuns
	}
	if cfg.MaxTreeSize <= 0 {
		cfg.MaxTreeSize = grammar.DefaultMaxSize
	}
	f := &Fuzzer{
		Config: cfg,
		Cover:  newCover(cfg.Corpus.Capacity(), cfg.Buckets),

		ctx:         ctx,
		rnd:         rnd,
		runningJobs: map[jobIntrospector]struct{}{},
		strategies:  newStrategies(cfg.Grammar != nil),
		novelty:     learning.NewRunningRatio[int](noveltyWindow),
		start:       time.Now(),
		stoppedChan: make(chan struct{}),

		crashMinimizeSem: osutil.NewSemaphore(maxCrashMinimizeJobs),
		trees:            grammar.NewTrees(maxGrammarTrees),
	}
	f.Stats = newStats(f)
	f.Cover.AddMaxSignal(cfg.Corpus.Signal())
	f.execQueues = newExecQueues(f)
	if cfg.Debug {
		go f.logCurrentStats()
	}
	return f
}

type execQueues struct {
	triageCandidateQueue *queue.DynamicOrderer
	candidateQueue       *queue.PlainQueue
	triageQueue          *queue.DynamicOrderer
	smashQueue           *queue.PlainQueue
	source               queue.Source
}

func newExecQueues(fuzzer *Fuzzer) execQueues {
	ret := execQueues{
		triageCandidateQueue: queue.DynamicOrder(),
		candidateQueue:       queue.Plain(),
		triageQueue:          queue.DynamicOrder(),
		smashQueue:           queue.Plain(),
	}
	// Sources are listed in the order, in which they will be polled.
	// Alternate smash jobs with fuzzing to spread attention to the wider area.
	// Seeds and injected candidates often repeat, each distinct one runs once.
	ret.source = queue.Order(
		ret.triageCandidateQueue,
		queue.Deduplicate(ret.candidateQueue),
		ret.triageQueue,
		queue.Alternate(ret.smashQueue, 3),
		queue.Callback(fuzzer.genFuzz),
	)
	return ret
}

// Next implements queue.Source. Once the session is over it returns stop=true,
// requests of still running jobs are not dispatched after that.
func (fuzzer *Fuzzer) Next() (*queue.Request, bool) {
	if reason := fuzzer.checkStop(); reason != "" {
		fuzzer.stop(reason)
		return nil, true
	}
	if limit := fuzzer.Config.MaxExecs; limit > 0 {
		if fuzzer.issued.Add(1) > limit {
			fuzzer.issued.Add(-1)
			fuzzer.stop(fmt.Sprintf("iteration budget of %v executions is exhausted", limit))
			return nil, true
		}
	} else {
		fuzzer.issued.Add(1)
	}
	req, _ := fuzzer.source.Next()
	if req == nil {
		// The fuzzer is not supposed to issue nil requests.
		panic("nil request from the fuzzer")
	}
	return req, false
}

func (fuzzer *Fuzzer) checkStop() string {
	switch {
	case fuzzer.ctx.Err() != nil:
		return "stopped"
	case fuzzer.Config.Duration > 0 && time.Since(fuzzer.start) >= fuzzer.Config.Duration:
		return fmt.Sprintf("time budget of %v is exhausted", fuzzer.Config.Duration)
	}
	return ""
}

func (fuzzer *Fuzzer) stop(reason string) {
	fuzzer.stopOnce.Do(func() {
		fuzzer.stopReason.Store(reason)
		fuzzer.setPhase(PhaseStop)
		close(fuzzer.stoppedChan)
		fuzzer.Logf(0, "fuzzing session is over: %v", reason)
	})
}

// Stopped is closed once the fuzzer stopped issuing requests.
func (fuzzer *Fuzzer) Stopped() <-chan struct{} {
	return fuzzer.stoppedChan
}

func (fuzzer *Fuzzer) StopReason() string {
	reason, _ := fuzzer.stopReason.Load().(string)
	return reason
}

func (fuzzer *Fuzzer) CandidatesToTriage() int {
	return fuzzer.StatCandidates.Val() + fuzzer.statJobsTriageCandidate.Val()
}

func (fuzzer *Fuzzer) CandidateTriageFinished() bool {
	return fuzzer.CandidatesToTriage() == 0
}

func (fuzzer *Fuzzer) execute(executor queue.Executor, req *queue.Request) *queue.Result {
	return fuzzer.executeWithFlags(executor, req, 0)
}

func (fuzzer *Fuzzer) executeWithFlags(executor queue.Executor, req *queue.Request, flags InputFlags) *queue.Result {
	fuzzer.enqueue(executor, req, flags, nil)
	return req.Wait(fuzzer.ctx)
}

func (fuzzer *Fuzzer) prepare(req *queue.Request, flags InputFlags, parent *corpus.Item) {
	req.OnDone(func(req *queue.Request, res *queue.Result) bool {
		return fuzzer.processResult(req, res, flags, parent)
	})
}

func (fuzzer *Fuzzer) enqueue(executor queue.Executor, req *queue.Request, flags InputFlags, parent *corpus.Item) {
	fuzzer.prepare(req, flags, parent)
	executor.Submit(req)
}

// processResult is the EVALUATE step for every execution.
func (fuzzer *Fuzzer) processResult(req *queue.Request, res *queue.Result, flags InputFlags,
	parent *corpus.Item) bool {
	fuzzer.evaluate(req, res, flags, parent)
	return true
}

// evaluate returns whether the execution reached new signal.
func (fuzzer *Fuzzer) evaluate(req *queue.Request, res *queue.Result, flags InputFlags,
	parent *corpus.Item) bool {
	fuzzer.setPhase(PhaseEvaluate)
	fuzzer.completed.Add(1)
	if flags&inputCandidate != 0 {
		defer fuzzer.StatCandidates.Add(-1)
	}
	switch res.Status {
	case queue.Inconclusive, queue.Restarted:
		// The transport failed, the input says nothing about the target.
		return false
	case queue.Fault, queue.Timeout, queue.Fatal:
		fuzzer.statCrashes.Add(1)
		if flags&(inputInTriage|inputMinimizing) == 0 {
			fuzzer.handleCrash(req, res)
		}
	}
	// Hanged inputs are harmful as they consume executor time, don't add them to the corpus.
	dontTriage := flags&(inputInTriage|inputMinimizing) != 0 ||
		res.Status == queue.Timeout || res.Status == queue.Fatal
	novel := false
	if res.Info != nil && !dontTriage {
		sig := fuzzer.Cover.Signal(res.Info)
		if newSignal := fuzzer.Cover.addMaxSignal(sig); !newSignal.Empty() {
			novel = true
			fuzzer.startTriage(req, sig, newSignal, flags)
		}
	}
	if novel {
		fuzzer.lastNovel.Store(fuzzer.completed.Load())
	}
	if parent != nil {
		fuzzer.Config.Corpus.Feedback(parent, novel)
	}
	return novel
}

func (fuzzer *Fuzzer) startTriage(req *queue.Request, sig, newSignal signal.Signal, flags InputFlags) {
	queue, stat := fuzzer.triageQueue, fuzzer.statJobsTriage
	if flags&inputCandidate != 0 {
		queue, stat = fuzzer.triageCandidateQueue, fuzzer.statJobsTriageCandidate
	}
	name := hash.String(req.Input)[:8]
	fuzzer.Logf(2, "found new signal in input %v: %v bits%v", name, newSignal.Bits(), signalPreview(newSignal))
	fuzzer.startJob(stat, &triageJob{
		input:     req.Input,
		flags:     flags,
		queue:     queue.Append(),
		first:     sig,
		newSignal: newSignal,
		info: &JobInfo{
			Name: name,
			Type: "triage",
		},
	})
}

func (fuzzer *Fuzzer) handleCrash(req *queue.Request, res *queue.Result) {
	fault := faultOf(res)
	if !fuzzer.Config.Corpus.RecordCrash(req.Input, fault) {
		return
	}
	fuzzer.Logf(0, "new crash %v [%v]: %v", fault.Signature, fault.Category, fault.Detail)
	if fuzzer.Config.MinimizeCrashes && res.Status == queue.Fault && len(req.Input) > 1 {
		if !fuzzer.crashMinimizeSem.TryWait() {
			fuzzer.Logf(1, "not minimizing crash %v: too many minimizations are running", fault.Signature)
			return
		}
		fuzzer.startJob(fuzzer.statJobsCrashMinimize, &crashMinimizeJob{
			exec:  fuzzer.smashQueue,
			input: req.Input,
			fault: fault,
			info: &JobInfo{
				Name: hash.String(req.Input)[:8],
				Type: "crash-minimize",
			},
		})
	}
}

// genFuzz is the SELECT and MUTATE steps.
func (fuzzer *Fuzzer) genFuzz() (*queue.Request, bool) {
	rnd := fuzzer.rand()
	fuzzer.setPhase(PhaseSelect)
	item := fuzzer.Config.Corpus.Select(rnd)
	fuzzer.setPhase(PhaseMutate)
	var seed []byte
	if item != nil {
		seed = item.Input
	}
	action := fuzzer.strategies.Action(rnd)
	var input []byte
	var tree *grammar.Node
	switch action.Arm {
	case strategyGrammar:
		input, tree = fuzzer.grammarFuzz(rnd, seed)
	case strategySplice:
		input = fuzzer.Config.Mutator.Mutate(rnd, seed, fuzzer.stackDepth(), fuzzer.splicer())
	default:
		input = fuzzer.Config.Mutator.Mutate(rnd, seed, fuzzer.stackDepth(), nil)
	}
	req := &queue.Request{
		Input: input,
		Stat:  fuzzer.statExecFuzz,
	}
	req.OnDone(func(req *queue.Request, res *queue.Result) bool {
		// Triage looks the tree up, so it's stored before evaluation.
		added := tree != nil && fuzzer.trees.Get(req.Input) == nil
		if added {
			fuzzer.trees.Add(req.Input, tree)
		}
		novel := fuzzer.evaluate(req, res, 0, item)
		if added && !novel {
			fuzzer.trees.Remove(req.Input)
		}
		if res.Status != queue.Inconclusive && res.Status != queue.Restarted {
			fuzzer.saveReward(action, novel)
		}
		return true
	})
	fuzzer.setPhase(PhaseDispatch)
	return req, false
}

func (fuzzer *Fuzzer) splicer() mutate.Splicer {
	return fuzzer.Config.Corpus.RandomInput
}

// stagnation is the number of executions since the last one with new signal.
func (fuzzer *Fuzzer) stagnation() int64 {
	return max(0, fuzzer.completed.Load()-fuzzer.lastNovel.Load())
}

func (fuzzer *Fuzzer) stackDepth() int {
	return mutate.StackDepth(fuzzer.stagnation())
}

func (fuzzer *Fuzzer) startJob(stat *stat.Val, newJob job) {
	fuzzer.Logf(2, "started %T", newJob)
	go func() {
		stat.Add(1)
		defer stat.Add(-1)

		fuzzer.statJobs.Add(1)
		defer fuzzer.statJobs.Add(-1)

		if obj, ok := newJob.(jobIntrospector); ok {
			fuzzer.mu.Lock()
			fuzzer.runningJobs[obj] = struct{}{}
			fuzzer.mu.Unlock()

			defer func() {
				fuzzer.mu.Lock()
				delete(fuzzer.runningJobs, obj)
				fuzzer.mu.Unlock()
			}()
		}

		newJob.run(fuzzer)
	}()
}

func (fuzzer *Fuzzer) Logf(level int, msg string, args ...any) {
	if fuzzer.Config.Logf == nil {
		return
	}
	fuzzer.Config.Logf(level, msg, args...)
}

type InputFlags int

const (
	// The input is already minimal, e.g. it comes from a previous session.
	InputMinimized InputFlags = 1 << iota
	InputSmashed

	inputCandidate
	inputInTriage
	inputMinimizing
)

type Candidate struct {
	Input []byte
	Flags InputFlags
}

// AddCandidates enqueues inputs that are executed before any fuzzing
// and triaged with priority.
func (fuzzer *Fuzzer) AddCandidates(candidates []Candidate) {
	fuzzer.StatCandidates.Add(len(candidates))
	for _, candidate := range candidates {
		req := &queue.Request{
			Input:     candidate.Input,
			Stat:      fuzzer.statExecCandidate,
			Important: true,
		}
		fuzzer.enqueue(fuzzer.candidateQueue, req, candidate.Flags|inputCandidate, nil)
	}
}

func (fuzzer *Fuzzer) rand() *rand.Rand {
	fuzzer.mu.Lock()
	defer fuzzer.mu.Unlock()
	return rand.New(rand.NewSource(fuzzer.rnd.Int63()))
}

func (fuzzer *Fuzzer) RunningJobs() []*JobInfo {
	fuzzer.mu.Lock()
	defer fuzzer.mu.Unlock()

	var ret []*JobInfo
	for item := range fuzzer.runningJobs {
		ret = append(ret, item.getInfo())
	}
	return ret
}

func (fuzzer *Fuzzer) logCurrentStats() {
	for {
		select {
		case <-time.After(time.Minute):
		case <-fuzzer.ctx.Done():
			return
		}

		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		str := fmt.Sprintf("phase: %v, running jobs: %d, stagnation: %d, heap (MB): %d",
			fuzzer.State(), fuzzer.statJobs.Val(), fuzzer.stagnation(), m.Alloc/1000/1000)
		fuzzer.Logf(0, "%s", str)
	}
}
