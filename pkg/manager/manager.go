// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package manager runs a fuzzing session: it restores the corpus from the workdir,
// keeps a pool of workers busy with inputs produced by the fuzzer, periodically
// persists the corpus and serves the status page.
package manager

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/bcfuzz/pkg/corpus"
	"github.com/google/bcfuzz/pkg/executor"
	"github.com/google/bcfuzz/pkg/fuzzer"
	"github.com/google/bcfuzz/pkg/interp"
	"github.com/google/bcfuzz/pkg/log"
	"github.com/google/bcfuzz/pkg/mgrconfig"
	"github.com/google/bcfuzz/pkg/mutate"
	"github.com/google/bcfuzz/pkg/osutil"
	"github.com/google/bcfuzz/pkg/rpcserver"
	"github.com/google/bcfuzz/pkg/stat"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	// Overrides the supervisor derived from the config.
	Supervisor rpcserver.Supervisor
	Debug      bool
	// Seed of the fuzzer's random source, time-based if 0.
	Seed int64
	// Defaults to DefaultSaveInterval.
	SaveInterval time.Duration
	// Defaults to DefaultHeartbeat.
	Heartbeat time.Duration
}

const (
	DefaultSaveInterval = time.Minute
	DefaultHeartbeat    = 10 * time.Second
	// Corpus minimization runs on every n-th save.
	minimizeEvery = 10
	crashesDir    = "crashes"
)

type Session struct {
	ID   string
	cfg  *mgrconfig.Config
	opts Options
	http *HTTPServer

	corpus atomic.Pointer[corpus.Corpus]
	fuzzer atomic.Pointer[fuzzer.Fuzzer]
	serv   atomic.Pointer[rpcserver.Server]
	saves  int
}

// Summary describes a finished session.
type Summary struct {
	Reason   string
	Duration time.Duration
	Execs    int
	Items    int
	Edges    int
	Signal   int
	Crashes  int
}

func (s *Summary) String() string {
	return fmt.Sprintf("%v: %v executions in %v, corpus %v, edges %v, signal %v, crashes %v",
		s.Reason, humanize.Comma(int64(s.Execs)), s.Duration.Truncate(time.Second),
		s.Items, s.Edges, s.Signal, s.Crashes)
}

func NewSession(cfg *mgrconfig.Config, opts Options) *Session {
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = DefaultSaveInterval
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	s := &Session{
		ID:   uuid.NewString(),
		cfg:  cfg,
		opts: opts,
	}
	s.http = &HTTPServer{
		Cfg:       cfg,
		Session:   s.ID,
		StartTime: time.Now(),
	}
	return s
}

// HTTP returns the status page server, it is fed while Run is active.
func (s *Session) HTTP() *HTTPServer {
	return s.http
}

// Run fuzzes until ctx is cancelled or a session limit is reached.
// The corpus is saved to the workdir before it returns.
func (s *Session) Run(ctx context.Context) (*Summary, error) {
	cfg := s.cfg
	start := time.Now()
	if err := osutil.MkdirAll(cfg.Workdir); err != nil {
		return nil, fmt.Errorf("failed to create workdir: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan corpus.NewItemEvent, 128)
	corp := corpus.NewMonitoredCorpus(ctx, corpus.Config{
		Capacity: cfg.CoverCapacity,
		CrashDir: filepath.Join(cfg.Workdir, crashesDir),
		Logf:     log.Logf,
	}, updates)
	loaded, err := corp.Load(cfg.Workdir)
	if err != nil {
		corp.Close()
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}
	log.Logf(0, "session %v: loaded %v corpus inputs, %v crashes",
		s.ID, loaded, corp.Stats().Crashes)
	seeds, err := LoadSeeds(cfg.Seeds, cfg.MaxInputLen)
	if err != nil {
		corp.Close()
		return nil, err
	}
	mut, err := s.mutator()
	if err != nil {
		corp.Close()
		return nil, err
	}
	fz := fuzzer.NewFuzzer(ctx, &fuzzer.Config{
		Debug:           s.opts.Debug,
		Corpus:          corp,
		Mutator:         mut,
		Buckets:         cfg.Buckets,
		Grammar:         cfg.ParsedGrammar,
		MaxTreeSize:     cfg.MaxTreeSize,
		Logf:            log.Logf,
		Comparisons:     cfg.Comparisons,
		MinimizeInputs:  cfg.MinimizeInputs,
		MinimizeCrashes: cfg.MinimizeCrashes,
		DeflakeRuns:     cfg.DeflakeRuns,
		Duration:        cfg.ParsedDuration,
		MaxExecs:        cfg.MaxExecs,
	}, rand.New(rand.NewSource(s.opts.Seed)))
	candidates := Candidates(seeds, corp)
	log.Logf(0, "session %v: %v seeds, %v candidates", s.ID, len(seeds), len(candidates))
	fz.AddCandidates(candidates)

	serv, err := rpcserver.New(&rpcserver.Config{
		RPC:        cfg.RPC,
		Procs:      cfg.Procs,
		Debug:      s.opts.Debug,
		Budget:     cfg.ParsedBudget,
		Slack:      cfg.ParsedGrace + 2*time.Second,
		Session:    s.ID,
		Supervisor: s.supervisor(),
	}, fz)
	if err != nil {
		corp.Close()
		return nil, fmt.Errorf("failed to create rpc server: %w", err)
	}
	log.Logf(0, "serving rpc on tcp://%v", serv.Addr)
	s.corpus.Store(corp)
	s.fuzzer.Store(fz)
	s.serv.Store(serv)
	s.http.Corpus.Store(corp)
	s.http.Fuzzer.Store(fz)
	s.http.Server.Store(serv)

	eg, groupCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		// Workers stop when the fuzzer runs out of budget, the rest follows.
		defer cancel()
		return serv.Run(groupCtx)
	})
	eg.Go(func() error {
		return s.persistLoop(groupCtx, updates)
	})
	eg.Go(func() error {
		s.heartbeatLoop(groupCtx)
		return nil
	})
	if cfg.HTTP != "" {
		eg.Go(func() error {
			return s.http.Serve(groupCtx)
		})
	}
	runErr := eg.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	saveErr := corp.Save(cfg.Workdir)
	corp.Close()
	closeErr := serv.Close()

	reason := fz.StopReason()
	if reason == "" {
		reason = "interrupted"
	}
	stats := corp.Stats()
	summary := &Summary{
		Reason:   reason,
		Duration: time.Since(start),
		Execs:    serv.StatExecs.Val(),
		Items:    stats.Items,
		Edges:    stats.Edges,
		Signal:   stats.Signal,
		Crashes:  stats.Crashes,
	}
	log.Logf(0, "session %v finished: %v", s.ID, summary)
	return summary, multierr.Combine(runErr, saveErr, closeErr)
}

func (s *Session) mutator() (*mutate.Mutator, error) {
	dict := mutate.NewDict(0)
	if s.cfg.Dict != "" {
		tokens, err := mutate.LoadDict(s.cfg.Dict)
		if err != nil {
			return nil, fmt.Errorf("failed to load dictionary: %w", err)
		}
		for _, tok := range tokens {
			dict.Add(tok)
		}
		log.Logf(0, "loaded %v dictionary tokens", dict.Len())
	}
	return mutate.New(mutate.Config{
		MaxLen: s.cfg.MaxInputLen,
		Dict:   dict,
	}), nil
}

func (s *Session) supervisor() rpcserver.Supervisor {
	if s.opts.Supervisor != nil {
		return s.opts.Supervisor
	}
	cfg := s.cfg
	if cfg.Executor != "" {
		return &rpcserver.LocalSupervisor{
			Executor: cfg.Executor,
			Args:     cfg.ExecutorFlags,
			Dir:      cfg.Workdir,
			Debug:    s.opts.Debug,
		}
	}
	return &rpcserver.InProcessSupervisor{
		NewCoordinator: func() (*executor.Coordinator, error) {
			target, err := executor.NewVMTarget(executor.VMConfig{
				Source:   interp.DirSource(cfg.Modules),
				Entry:    cfg.Entry,
				MaxSteps: cfg.MaxSteps,
				Capacity: cfg.CoverCapacity,
				Logf:     log.Logf,
			})
			if err != nil {
				return nil, err
			}
			return executor.NewCoordinator(target, target.Recorder(), executor.Config{
				Grace: cfg.ParsedGrace,
				Logf:  log.Logf,
			}), nil
		},
	}
}

// persistLoop drains corpus updates and saves the corpus when it has changed.
func (s *Session) persistLoop(ctx context.Context, updates <-chan corpus.NewItemEvent) error {
	corp := s.corpus.Load()
	ticker := time.NewTicker(s.opts.SaveInterval)
	defer ticker.Stop()
	dirty := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd := <-updates:
			dirty = true
			if !upd.Exists {
				log.Logf(1, "new corpus input %v: %v bytes, %v new bits",
					upd.Sig[:8], len(upd.Input), upd.NewBits)
			}
		case <-ticker.C:
			if !dirty {
				continue
			}
			dirty = false
			if s.saves++; s.saves%minimizeEvery == 0 {
				if removed := corp.Minimize(); removed != 0 {
					log.Logf(1, "corpus minimization removed %v inputs", removed)
				}
			}
			if err := corp.Save(s.cfg.Workdir); err != nil {
				log.Errorf("failed to save corpus: %v", err)
			}
		}
	}
}

func (s *Session) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Heartbeat)
	defer ticker.Stop()
	fz := s.fuzzer.Load()
	triaged := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !triaged && fz.CandidateTriageFinished() {
			triaged = true
			log.Logf(0, "candidate triage finished in %v", time.Since(s.http.StartTime).Truncate(time.Second))
		}
		var stats []string
		for _, val := range stat.Collect(stat.Console) {
			stats = append(stats, fmt.Sprintf("%v=%v", val.Name, val.Value))
		}
		log.Logf(0, "%v: %s", fz.State(), strings.Join(stats, " "))
	}
}
