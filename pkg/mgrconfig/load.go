// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mgrconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/bcfuzz/pkg/bytecode"
	"github.com/google/bcfuzz/pkg/config"
	"github.com/google/bcfuzz/pkg/cover"
	"github.com/google/bcfuzz/pkg/executor"
	"github.com/google/bcfuzz/pkg/fuzzer"
	"github.com/google/bcfuzz/pkg/grammar"
	"github.com/google/bcfuzz/pkg/interp"
	"github.com/google/bcfuzz/pkg/mutate"
	"github.com/google/bcfuzz/pkg/osutil"
	"github.com/google/shlex"
)

const (
	MaxProcs      = 64
	DefaultBudget = "1s"
)

func LoadData(data []byte) (*Config, error) {
	cfg, err := LoadPartialData(data)
	if err != nil {
		return nil, err
	}
	if err := Complete(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadFile(filename string) (*Config, error) {
	cfg, err := LoadPartialFile(filename)
	if err != nil {
		return nil, err
	}
	if err := Complete(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadPartialData(data []byte) (*Config, error) {
	cfg := defaultValues()
	if err := config.LoadData(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadPartialFile(filename string) (*Config, error) {
	cfg := defaultValues()
	if err := config.LoadFile(filename, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultValues() *Config {
	return &Config{
		RPC:             ":0",
		Procs:           1,
		Budget:          DefaultBudget,
		CoverCapacity:   cover.DefaultCapacity,
		MaxInputLen:     mutate.DefaultMaxLen,
		DeflakeRuns:     fuzzer.DefaultDeflakeRuns,
		Comparisons:     true,
		MinimizeInputs:  true,
		MinimizeCrashes: true,
	}
}

func Complete(cfg *Config) error {
	if cfg.Workdir == "" {
		return fmt.Errorf("config param workdir is empty")
	}
	cfg.Workdir = osutil.Abs(cfg.Workdir)
	if cfg.Modules == "" {
		return fmt.Errorf("config param modules is empty")
	}
	cfg.Modules = osutil.Abs(cfg.Modules)
	if !osutil.IsExist(cfg.Modules) {
		return fmt.Errorf("bad config param modules: can't find %v", cfg.Modules)
	}
	if err := checkEntry(cfg); err != nil {
		return err
	}
	if cfg.Procs < 1 || cfg.Procs > MaxProcs {
		return fmt.Errorf("bad config param procs: '%v', want [1, %v]", cfg.Procs, MaxProcs)
	}
	var err error
	if cfg.ParsedBudget, err = parseDuration("budget", cfg.Budget); err != nil {
		return err
	}
	if cfg.ParsedBudget <= 0 {
		return fmt.Errorf("bad config param budget: must be positive")
	}
	if cfg.ParsedGrace, err = parseDuration("grace", cfg.Grace); err != nil {
		return err
	}
	if cfg.ParsedGrace <= 0 {
		cfg.ParsedGrace = executor.DefaultGrace
	}
	if cfg.ParsedDuration, err = parseDuration("duration", cfg.Duration); err != nil {
		return err
	}
	if cfg.MaxSteps < 0 || cfg.MaxExecs < 0 {
		return fmt.Errorf("max_steps and max_execs can't be negative")
	}
	if cfg.CoverCapacity <= 0 {
		return fmt.Errorf("bad config param cover_capacity: %v", cfg.CoverCapacity)
	}
	if cfg.MaxInputLen <= 0 {
		return fmt.Errorf("bad config param max_input_len: %v", cfg.MaxInputLen)
	}
	if cfg.DeflakeRuns < 1 {
		return fmt.Errorf("bad config param deflake_runs: %v, want at least 1", cfg.DeflakeRuns)
	}
	if cfg.Buckets, err = cover.ParseBuckets(cfg.CoverageBuckets); err != nil {
		return fmt.Errorf("bad config param coverage_buckets: %w", err)
	}
	for _, file := range []*string{&cfg.Seeds, &cfg.Dict, &cfg.Grammar} {
		if *file == "" {
			continue
		}
		*file = osutil.Abs(*file)
		if !osutil.IsExist(*file) {
			return fmt.Errorf("can't find %v", *file)
		}
	}
	if cfg.MaxTreeSize < 0 {
		return fmt.Errorf("bad config param max_tree_size: %v", cfg.MaxTreeSize)
	}
	if cfg.Grammar != "" {
		if cfg.ParsedGrammar, err = grammar.LoadFile(cfg.Grammar); err != nil {
			return fmt.Errorf("bad config param grammar: %w", err)
		}
	}
	return completeExecutor(cfg)
}

func checkEntry(cfg *Config) error {
	module, _, ok := bytecode.SplitQualified(cfg.Entry)
	if !ok {
		return fmt.Errorf("bad config param entry %q, want module.method", cfg.Entry)
	}
	file := filepath.Join(cfg.Modules, module+interp.ModuleExt)
	if !osutil.IsExist(file) {
		return fmt.Errorf("bad config param entry: can't find %v", file)
	}
	return nil
}

func completeExecutor(cfg *Config) error {
	if cfg.Executor == "" {
		if cfg.ExecutorArgs != "" {
			return fmt.Errorf("executor_args are set, but executor is empty")
		}
		return nil
	}
	cfg.Executor = osutil.Abs(cfg.Executor)
	info, err := os.Stat(cfg.Executor)
	if err != nil {
		return fmt.Errorf("bad config param executor: %w", err)
	}
	if info.IsDir() || info.Mode()&0111 == 0 {
		return fmt.Errorf("bad config param executor: %v is not an executable", cfg.Executor)
	}
	extra, err := shlex.Split(cfg.ExecutorArgs)
	if err != nil {
		return fmt.Errorf("bad config param executor_args: %w", err)
	}
	cfg.ExecutorFlags = append(cfg.TargetFlags(), extra...)
	return nil
}

// TargetFlags are the command line flags that make bcf-executor run the configured target.
func (cfg *Config) TargetFlags() []string {
	flags := []string{
		"-modules", cfg.Modules,
		"-entry", cfg.Entry,
		"-capacity", strconv.Itoa(cfg.CoverCapacity),
		"-grace", cfg.ParsedGrace.String(),
	}
	if cfg.MaxSteps != 0 {
		flags = append(flags, "-max_steps", strconv.FormatInt(cfg.MaxSteps, 10))
	}
	return flags
}

func parseDuration(name, val string) (time.Duration, error) {
	if val == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("bad config param %v: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("bad config param %v: negative duration", name)
	}
	return d, nil
}
