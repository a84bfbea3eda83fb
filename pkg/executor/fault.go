// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/google/bcfuzz/pkg/hash"
	"github.com/google/bcfuzz/pkg/interp"
)

const (
	// CategoryHang is the fault category of timeouts and unresponsive targets.
	CategoryHang  = "hang"
	CategoryPanic = "panic"
	CategoryError = "error"
)

// Fault is a classified execution failure.
type Fault struct {
	Category  string
	Detail    string
	Frames    []interp.Frame
	Signature string
}

// Panic is returned for a target that panicked.
type Panic struct {
	Value  any
	Frames []interp.Frame
}

func (p *Panic) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

func recoverPanic(val any) *Panic {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	p := &Panic{Value: val}
	for {
		f, more := frames.Next()
		if !strings.HasPrefix(f.Function, "runtime.") {
			pkg, fn := splitFunc(f.Function)
			p.Frames = append(p.Frames, interp.Frame{Module: pkg, Method: fn, PC: f.Line})
		}
		if !more {
			break
		}
	}
	return p
}

func splitFunc(name string) (string, string) {
	slash := strings.LastIndexByte(name, '/')
	dot := strings.IndexByte(name[slash+1:], '.')
	if dot < 0 {
		return "", name
	}
	return name[:slash+1+dot], name[slash+1+dot+1:]
}

// Classify converts a target error into a fault. timedOut says if the budget has expired.
// frames is the number of innermost frames that make up the signature.
func Classify(err error, timedOut bool, frames int) *Fault {
	var fault *interp.Fault
	var interrupted *interp.Interrupted
	var panicErr *Panic
	switch {
	case errors.As(err, &interrupted):
		return hangFault(interrupted.Reason, interrupted.Frames, frames)
	case errors.As(err, &fault):
		return &Fault{
			Category:  fault.Type,
			Detail:    fault.Detail,
			Frames:    fault.Frames,
			Signature: Signature(fault.Type, sites(fault.Frames, frames, true), ""),
		}
	case errors.As(err, &panicErr):
		detail := fmt.Sprint(panicErr.Value)
		return &Fault{
			Category:  CategoryPanic,
			Detail:    detail,
			Frames:    panicErr.Frames,
			Signature: Signature(CategoryPanic, sites(panicErr.Frames, frames, true), detail),
		}
	case timedOut || errors.Is(err, context.DeadlineExceeded):
		reason := "budget exceeded"
		if err != nil {
			reason = err.Error()
		}
		return hangFault(reason, nil, frames)
	default:
		return &Fault{
			Category:  CategoryError,
			Detail:    err.Error(),
			Signature: Signature(CategoryError, nil, err.Error()),
		}
	}
}

// Hang signatures use only method names: a looping method is interrupted at varying pcs.
func hangFault(reason string, stack []interp.Frame, frames int) *Fault {
	return &Fault{
		Category:  CategoryHang,
		Detail:    reason,
		Frames:    stack,
		Signature: Signature(CategoryHang, sites(stack, frames, false), ""),
	}
}

func sites(stack []interp.Frame, frames int, pcs bool) []string {
	var res []string
	for _, f := range stack[:min(len(stack), frames)] {
		if pcs {
			res = append(res, f.String())
		} else {
			res = append(res, f.Module+"."+f.Method)
		}
	}
	return res
}

// Signature is the deduplication key of a fault: the hash of the category and
// the innermost code sites. Faults without sites are keyed by fallback instead.
func Signature(category string, locs []string, fallback string) string {
	key := []string{category}
	key = append(key, locs...)
	if len(locs) == 0 && fallback != "" {
		key = append(key, fallback)
	}
	return hash.String([]byte(strings.Join(key, "\n")))
}
