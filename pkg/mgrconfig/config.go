// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package mgrconfig holds the bcf-manager configuration.
package mgrconfig

import (
	"time"

	"github.com/google/bcfuzz/pkg/cover"
	"github.com/google/bcfuzz/pkg/grammar"
)

type Config struct {
	// Instance name (used for identification in logs and on the status page).
	Name string `json:"name" yaml:"name"`
	// Address of the HTTP status page (e.g. "localhost:56741"), disabled if empty.
	HTTP string `json:"http" yaml:"http"`
	// TCP address to serve RPC for executor processes (optional).
	RPC string `json:"rpc,omitempty" yaml:"rpc,omitempty"`
	// Location of a working directory for the bcf-manager process. Outputs here include:
	// - <workdir>/crashes/*: crash descriptions and inputs
	// - <workdir>/corpus.db: corpus with inputs that cover new edges
	// - <workdir>/cover.xz: the global coverage map
	Workdir string `json:"workdir" yaml:"workdir"`

	// Directory with code modules of the target (<name>.bcm files).
	Modules string `json:"modules" yaml:"modules"`
	// Entry point of the target in the "module.method" form.
	// The method takes no arguments and reads the input with INLEN/INBYTE.
	Entry string `json:"entry" yaml:"entry"`

	// Number of parallel executor processes.
	Procs int `json:"procs" yaml:"procs"`
	// Wall-clock budget of a single execution (e.g. "1s").
	Budget string `json:"budget" yaml:"budget"`
	// Interpreter step budget of a single execution, unlimited if 0.
	MaxSteps int64 `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`
	// How long the executor waits for a target that is past the budget
	// before it gives up on the process (e.g. "3s").
	Grace string `json:"grace,omitempty" yaml:"grace,omitempty"`
	// Size of the coverage table, must exceed the number of edges of the target.
	CoverCapacity int `json:"cover_capacity,omitempty" yaml:"cover_capacity,omitempty"`
	// Lower bounds of hit-count buckets, e.g. "1,2,3,4,8,16,32,128".
	CoverageBuckets string `json:"coverage_buckets,omitempty" yaml:"coverage_buckets,omitempty"`

	// Session limits, unlimited if not set.
	Duration string `json:"duration,omitempty" yaml:"duration,omitempty"`
	MaxExecs int64  `json:"max_execs,omitempty" yaml:"max_execs,omitempty"`

	// Maximum length of generated inputs.
	MaxInputLen int `json:"max_input_len,omitempty" yaml:"max_input_len,omitempty"`
	// Number of executions an input needs to pass triage.
	DeflakeRuns int `json:"deflake_runs,omitempty" yaml:"deflake_runs,omitempty"`
	// Use comparison operands for hints and the dictionary (default: true).
	Comparisons bool `json:"comparisons" yaml:"comparisons"`
	// Minimize new corpus entries (default: true).
	MinimizeInputs bool `json:"minimize_inputs" yaml:"minimize_inputs"`
	// Minimize crash reproducers (default: true).
	MinimizeCrashes bool `json:"minimize_crashes" yaml:"minimize_crashes"`

	// Directory with seed inputs, used when the corpus is empty (optional).
	Seeds string `json:"seeds,omitempty" yaml:"seeds,omitempty"`
	// Dictionary in the AFL format (optional).
	Dict string `json:"dict,omitempty" yaml:"dict,omitempty"`
	// Grammar of the input format (optional). If set, inputs are also generated
	// and mutated as derivation trees of the grammar.
	Grammar string `json:"grammar,omitempty" yaml:"grammar,omitempty"`
	// Maximum number of nodes in a derivation tree (default: 100).
	MaxTreeSize int `json:"max_tree_size,omitempty" yaml:"max_tree_size,omitempty"`

	// bcf-executor binary. If empty, workers run inside the manager process.
	Executor string `json:"executor,omitempty" yaml:"executor,omitempty"`
	// Extra command line arguments of the executor, e.g. "-vv 1".
	ExecutorArgs string `json:"executor_args,omitempty" yaml:"executor_args,omitempty"`

	// Implementation details beyond this point.
	// Parsed values:
	ParsedBudget   time.Duration    `json:"-" yaml:"-"`
	ParsedGrace    time.Duration    `json:"-" yaml:"-"`
	ParsedDuration time.Duration    `json:"-" yaml:"-"`
	Buckets        *cover.Buckets   `json:"-" yaml:"-"`
	ParsedGrammar  *grammar.Grammar `json:"-" yaml:"-"`
	ExecutorFlags  []string         `json:"-" yaml:"-"`
}
