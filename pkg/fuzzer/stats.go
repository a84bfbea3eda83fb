// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"fmt"
	"time"

	"github.com/google/bcfuzz/pkg/stat"
)

type Stats struct {
	StatCandidates          *stat.Val
	StatMaxSignal           *stat.Val
	statNewInputs           *stat.Val
	statFlakyEdges          *stat.Val
	statCrashes             *stat.Val
	statJobs                *stat.Val
	statJobsTriage          *stat.Val
	statJobsTriageCandidate *stat.Val
	statJobsSmash           *stat.Val
	statJobsHints           *stat.Val
	statJobsCrashMinimize   *stat.Val
	statExecFuzz            *stat.Val
	statExecCandidate       *stat.Val
	statExecTriage          *stat.Val
	statExecMinimize        *stat.Val
	statExecSmash           *stat.Val
	statExecSeed            *stat.Val
	statExecHint            *stat.Val
	statExecCrashMinimize   *stat.Val
	statStagnation          *stat.Val
	statNovelty             *stat.Val
}

func newStats(fuzzer *Fuzzer) Stats {
	return Stats{
		StatCandidates: stat.New("candidates", "Number of candidate inputs in triage queue",
			stat.Console, stat.Prometheus("bcf_fuzzer_candidates")),
		StatMaxSignal: stat.New("max signal", "Maximum fuzzing signal (including flakes)",
			stat.Prometheus("bcf_max_signal"), func() int {
				return fuzzer.Cover.Stats().MaxSignal
			}),
		statNewInputs: stat.New("new inputs", "Potential untriaged corpus candidates",
			stat.Simple, stat.Rate{}),
		statFlakyEdges: stat.New("flaky edges", "Edges excluded from signal as non-reproducible",
			stat.Simple, func() int {
				return fuzzer.Cover.Stats().Flaky
			}),
		statCrashes: stat.New("crashes", "Executions that ended in a fault, timeout or fatal error",
			stat.Simple, stat.Rate{}),
		statJobs: stat.New("fuzzer jobs", "Total running fuzzer jobs", stat.Simple),
		statJobsTriage: stat.New("triage jobs", "Running triage jobs", stat.Simple,
			stat.Prometheus("bcf_triage_jobs")),
		statJobsTriageCandidate: stat.New("candidate triage jobs", "Running candidate triage jobs", stat.Simple),
		statJobsSmash:           stat.New("smash jobs", "Running smash jobs", stat.Simple),
		statJobsHints:           stat.New("hints jobs", "Running hints jobs", stat.Simple),
		statJobsCrashMinimize:   stat.New("crash minimize jobs", "Running crash minimization jobs", stat.Simple),
		statExecFuzz: stat.New("exec fuzz", "Executions of mutated inputs",
			stat.Rate{}, stat.Prometheus("bcf_exec_fuzz")),
		statExecCandidate: stat.New("exec candidate", "Executions of seeds and candidates",
			stat.Rate{}, stat.Prometheus("bcf_exec_candidate")),
		statExecTriage: stat.New("exec triage", "Executions of inputs during triage",
			stat.Rate{}, stat.Prometheus("bcf_exec_triage")),
		statExecMinimize: stat.New("exec minimize", "Executions of inputs during minimization",
			stat.Rate{}, stat.Prometheus("bcf_exec_minimize")),
		statExecSmash: stat.New("exec smash", "Executions of smashed inputs",
			stat.Rate{}, stat.Prometheus("bcf_exec_smash")),
		statExecSeed: stat.New("exec seeds", "Executions of inputs for hints collection",
			stat.Rate{}, stat.Prometheus("bcf_exec_seeds")),
		statExecHint: stat.New("exec hints", "Executions of inputs generated using hints",
			stat.Rate{}, stat.Prometheus("bcf_exec_hints")),
		statExecCrashMinimize: stat.New("exec crash minimize", "Executions during crash minimization",
			stat.Rate{}, stat.Prometheus("bcf_exec_crash_minimize")),
		statStagnation: stat.New("stagnation", "Executions since the last new coverage",
			stat.Simple, func() int {
				return int(fuzzer.stagnation())
			}),
		statNovelty: stat.New("novelty", "Share of recent fuzzed inputs that reached new signal",
			stat.Simple, func() int {
				return int(fuzzer.novelty.Load() * 1e6)
			}, func(v int, _ time.Duration) string {
				return fmt.Sprintf("%.4f%%", float64(v)/1e4)
			}),
	}
}
