// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import "fmt"

// Phase is a step of the fuzzing loop:
// IDLE -> SELECT -> MUTATE -> DISPATCH -> EVALUATE -> (SELECT | STOP).
// Workers run the loop concurrently, State reports the most recent step.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseSelect
	PhaseMutate
	PhaseDispatch
	PhaseEvaluate
	PhaseStop
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseSelect:
		return "SELECT"
	case PhaseMutate:
		return "MUTATE"
	case PhaseDispatch:
		return "DISPATCH"
	case PhaseEvaluate:
		return "EVALUATE"
	case PhaseStop:
		return "STOP"
	}
	return fmt.Sprintf("Phase(%d)", int32(p))
}

func (fuzzer *Fuzzer) State() Phase {
	return Phase(fuzzer.phase.Load())
}

// setPhase never leaves STOP.
func (fuzzer *Fuzzer) setPhase(p Phase) {
	for {
		old := fuzzer.phase.Load()
		if Phase(old) == PhaseStop || fuzzer.phase.CompareAndSwap(old, int32(p)) {
			return
		}
	}
}
