// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/bcfuzz/pkg/corpus"
	"github.com/google/bcfuzz/pkg/flatrpc"
	"github.com/google/bcfuzz/pkg/fuzzer/queue"
	"github.com/google/bcfuzz/pkg/hash"
	"github.com/google/bcfuzz/pkg/mutate"
	"github.com/google/bcfuzz/pkg/signal"
)

type job interface {
	run(fuzzer *Fuzzer)
}

type jobIntrospector interface {
	getInfo() *JobInfo
}

type JobInfo struct {
	Name  string
	Type  string
	Execs atomic.Int32

	syncBuffer
}

func (ji *JobInfo) ID() string {
	return fmt.Sprintf("%p", ji)
}

const (
	smashIters            = 25
	hintsSeedRuns         = 2
	maxHintsPerJob        = 1 << 10
	minimizeAttempts      = 3
	maxMinimizeCalls      = 256
	maxCrashMinimizeCalls = 512
	maxCrashMinimizeJobs  = 4
)

// triageJob are inputs for which we noticed potential new coverage during
// first execution. But we are not sure yet if the coverage is real or not.
// During triage we understand if these inputs in fact give new coverage,
// and if yes, minimize them and add to corpus.
type triageJob struct {
	input  []byte
	flags  InputFlags
	fuzzer *Fuzzer
	queue  queue.Executor
	// Signal of the first run and the part of it that was new.
	first     signal.Signal
	newSignal signal.Signal

	info *JobInfo
}

func (job *triageJob) execute(req *queue.Request, flags InputFlags) *queue.Result {
	defer job.info.Execs.Add(1)
	req.Important = true // All triage executions are important.
	return job.fuzzer.executeWithFlags(job.queue, req, flags)
}

func (job *triageJob) run(fuzzer *Fuzzer) {
	fuzzer.statNewInputs.Add(1)
	job.fuzzer = fuzzer
	job.info.Logf("input (%v bytes): %s", len(job.input), inputPreview(job.input))
	job.info.Logf("|new signal|=%d%s", job.newSignal.Bits(), signalPreview(job.newSignal))

	stable, stop := job.deflake()
	if stop {
		return
	}
	newStable := job.newSignal.Intersection(stable)
	job.info.Logf("|stable signal|=%d, |new stable signal|=%d%s",
		stable.Bits(), newStable.Bits(), signalPreview(newStable))
	if newStable.Empty() {
		return
	}
	input, sig := job.input, stable
	if job.flags&InputMinimized == 0 && fuzzer.Config.MinimizeInputs {
		input, sig, stop = job.minimize(newStable, stable)
		if stop {
			return
		}
	}
	accepted, item := fuzzer.Config.Corpus.Consider(input, sig)
	if !accepted {
		job.info.Logf("the corpus already has the signal")
		return
	}
	fuzzer.Logf(1, "added new input %v to the corpus: %v bytes, %v new bits",
		item.Sig[:8], len(item.Input), item.NewBits)
	if job.flags&InputSmashed != 0 {
		return
	}
	fuzzer.startJob(fuzzer.statJobsSmash, &smashJob{
		exec: fuzzer.smashQueue,
		item: item,
		info: &JobInfo{
			Name: item.Sig[:8],
			Type: "smash",
		},
	})
	if fuzzer.Config.Comparisons {
		fuzzer.startJob(fuzzer.statJobsHints, &hintsJob{
			exec: fuzzer.smashQueue,
			item: item,
			info: &JobInfo{
				Name: item.Sig[:8],
				Type: "hints",
			},
		})
	}
}

// deflake re-executes the input until it has DeflakeRuns successful runs and returns
// the signal common to all of them. Edges that showed up only in some of the runs
// are excluded from signal for the rest of the session.
func (job *triageJob) deflake() (stable signal.Signal, stop bool) {
	job.info.Logf("deflake started")
	needRuns := job.fuzzer.Config.DeflakeRuns
	stable = job.first.Copy()
	seen := make(map[uint32]int)
	for e := range job.first {
		seen[e]++
	}
	runs := 1
	for failed := 0; runs < needRuns; {
		if failed > needRuns {
			job.info.Logf("too many failed runs")
			return nil, false
		}
		result := job.execute(&queue.Request{
			Input: job.input,
			Stat:  job.fuzzer.statExecTriage,
		}, inputInTriage)
		if result.Stop() {
			return nil, true
		}
		if result.Info == nil || result.Status == queue.Timeout || result.Status == queue.Fatal {
			failed++
			continue
		}
		runs++
		thisSignal := job.fuzzer.Cover.Signal(result.Info)
		// Flaky runs may bring more new max signal, it's not chased in this job.
		job.fuzzer.Cover.addMaxSignal(thisSignal)
		for e := range thisSignal {
			seen[e]++
		}
		stable = stable.Intersection(thisSignal)
		if !stable.IntersectsWith(job.newSignal) {
			// There's no chance to get stable new signal.
			break
		}
	}
	var flaky []uint32
	for e, n := range seen {
		if n != runs {
			flaky = append(flaky, e)
		}
	}
	if added := job.fuzzer.Cover.addFlaky(flaky); added != 0 {
		job.fuzzer.Logf(1, "excluded %v flaky edges from signal", added)
	}
	job.info.Logf("deflake complete after %v runs, %v flaky edges", runs, len(flaky))
	return stable, false
}

// minimize removes chunks of the input while it still covers the new stable signal.
func (job *triageJob) minimize(newStable, stable signal.Signal) ([]byte, signal.Signal, bool) {
	job.info.Logf("minimize started")
	stop := false
	var lastSignal signal.Signal
	pred := func(candidate []byte) bool {
		if stop {
			return false
		}
		var merged signal.Signal
		for i := 0; i < minimizeAttempts; i++ {
			result := job.execute(&queue.Request{
				Input: candidate,
				Stat:  job.fuzzer.statExecMinimize,
			}, inputMinimizing)
			if result.Stop() {
				stop = true
				return false
			}
			if result.Info == nil || result.Status == queue.Timeout || result.Status == queue.Fatal {
				continue
			}
			merged.Merge(job.fuzzer.Cover.Signal(result.Info))
			if merged.Diff(newStable).Empty() {
				lastSignal = merged
				return true
			}
		}
		return false
	}
	input := job.input
	if tree := job.fuzzer.trees.Get(input); tree != nil {
		// Structural minimization first, bytes are removed from what remains.
		tree = job.fuzzer.Config.Grammar.Minimize(tree, maxMinimizeCalls/2, pred)
		if stop {
			return nil, nil, true
		}
		input = tree.Unparse()
		job.fuzzer.trees.Add(input, tree)
	}
	input = mutate.Minimize(input, maxMinimizeCalls, pred)
	if stop {
		return nil, nil, true
	}
	if lastSignal == nil {
		return job.input, stable, false
	}
	job.info.Logf("minimized %v -> %v bytes", len(job.input), len(input))
	return input, lastSignal.Intersection(stable), false
}

func (job *triageJob) getInfo() *JobInfo {
	return job.info
}

// smashJob mutates a fresh corpus entry many times in a row.
type smashJob struct {
	exec queue.Executor
	item *corpus.Item
	info *JobInfo
}

func (job *smashJob) run(fuzzer *Fuzzer) {
	fuzzer.Logf(2, "smashing the input %v", job.item.Sig[:8])
	job.info.Logf("input: %s", inputPreview(job.item.Input))

	rnd := fuzzer.rand()
	for i := 0; i < smashIters; i++ {
		req := &queue.Request{
			Input: fuzzer.Config.Mutator.Mutate(rnd, job.item.Input, fuzzer.stackDepth(), fuzzer.splicer()),
			Stat:  fuzzer.statExecSmash,
		}
		fuzzer.enqueue(job.exec, req, 0, job.item)
		if req.Wait(fuzzer.ctx).Stop() {
			return
		}
		job.info.Execs.Add(1)
	}
}

func (job *smashJob) getInfo() *JobInfo {
	return job.info
}

// hintsJob collects comparison operands of a corpus entry, feeds them to the dictionary
// and executes every input where an integer matching one operand is replaced by the other.
type hintsJob struct {
	exec queue.Executor
	item *corpus.Item
	info *JobInfo
}

func (job *hintsJob) run(fuzzer *Fuzzer) {
	// Additional executions let us filter out flaky operands.
	var comps map[[2]uint64]bool
	for i := 0; i < hintsSeedRuns; i++ {
		result := fuzzer.execute(job.exec, &queue.Request{
			Input: job.item.Input,
			Flags: flatrpc.ExecFlagCollectComps,
			Stat:  fuzzer.statExecSeed,
		})
		if result.Stop() {
			return
		}
		job.info.Execs.Add(1)
		if result.Info == nil {
			continue
		}
		got := make(map[[2]uint64]bool)
		for _, pair := range result.Info.CompPairs() {
			got[pair] = true
		}
		if comps == nil {
			comps = got
			continue
		}
		for pair := range comps {
			if !got[pair] {
				delete(comps, pair)
			}
		}
	}
	pairs := make([][2]uint64, 0, len(comps))
	for pair := range comps {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	tokens := fuzzer.Config.Mutator.Dict().AddComps(pairs)
	job.info.Logf("stable comps: %d, new dictionary tokens: %d", len(pairs), tokens)

	// Then mutate the input for every match between an integer in the input
	// and a comparison operand. Execute each of such mutants to check if it gives new coverage.
	mutate.MutateWithHints(job.item.Input, mutate.MakeCompMap(pairs), func(input []byte) bool {
		if job.info.Execs.Load() >= maxHintsPerJob {
			return false
		}
		defer job.info.Execs.Add(1)
		req := &queue.Request{
			Input: input,
			Stat:  fuzzer.statExecHint,
		}
		fuzzer.enqueue(job.exec, req, 0, job.item)
		return !req.Wait(fuzzer.ctx).Stop()
	})
}

func (job *hintsJob) getInfo() *JobInfo {
	return job.info
}

// crashMinimizeJob looks for the smallest input that still produces the same fault.
type crashMinimizeJob struct {
	exec  queue.Executor
	input []byte
	fault corpus.Fault
	info  *JobInfo
}

func (job *crashMinimizeJob) run(fuzzer *Fuzzer) {
	defer fuzzer.crashMinimizeSem.Signal()
	job.info.Logf("crash %v: %v", job.fault.Signature, job.fault.Detail)
	stop := false
	minimized := mutate.Minimize(job.input, maxCrashMinimizeCalls, func(candidate []byte) bool {
		if stop {
			return false
		}
		result := fuzzer.executeWithFlags(job.exec, &queue.Request{
			Input: candidate,
			Stat:  fuzzer.statExecCrashMinimize,
		}, inputMinimizing)
		job.info.Execs.Add(1)
		if result.Stop() {
			stop = true
			return false
		}
		return result.Status == queue.Fault && faultOf(result).Signature == job.fault.Signature
	})
	if stop {
		return
	}
	fuzzer.Config.Corpus.UpdateRepro(job.fault.Signature, minimized)
	fuzzer.Logf(0, "minimized crash %v: %v -> %v bytes: %s",
		job.fault.Signature, len(job.input), len(minimized), inputPreview(minimized))
}

func (job *crashMinimizeJob) getInfo() *JobInfo {
	return job.info
}

// faultOf identifies the fault of a failed execution.
func faultOf(res *queue.Result) corpus.Fault {
	fault := corpus.Fault{Category: "unknown"}
	if info := res.Info; info != nil && info.FaultCategory != "" {
		fault = corpus.Fault{
			Category:  info.FaultCategory,
			Signature: info.FaultSignature,
			Detail:    info.FaultDetail,
		}
	}
	if fault.Signature == "" {
		fault.Signature = hash.String([]byte(fault.Category), []byte(fault.Detail))
	}
	return fault
}

func signalPreview(s signal.Signal) string {
	if s.Len() > 0 && s.Len() <= 3 {
		var sb strings.Builder
		sb.WriteString(" (")
		for i, e := range s.Edges() {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%v:0x%x", e, s[e])
		}
		sb.WriteByte(')')
		return sb.String()
	}
	return ""
}

func inputPreview(input []byte) string {
	const maxPreview = 64
	if len(input) > maxPreview {
		return fmt.Sprintf("%q...", input[:maxPreview])
	}
	return fmt.Sprintf("%q", input)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (sb *syncBuffer) Logf(logFmt string, args ...any) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	fmt.Fprintf(&sb.buf, "%s: ", time.Now().Format(time.DateTime))
	fmt.Fprintf(&sb.buf, logFmt, args...)
	sb.buf.WriteByte('\n')
}

func (sb *syncBuffer) Bytes() []byte {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.buf.Bytes()
}
