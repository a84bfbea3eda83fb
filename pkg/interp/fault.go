// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package interp

import (
	"fmt"
	"strings"
)

// Built-in fault types raised by the runtime itself.
const (
	ArithmeticError    = "ArithmeticError"
	IndexError         = "IndexError"
	StackOverflowError = "StackOverflowError"
	LinkageError       = "LinkageError"
)

type Frame struct {
	Module string
	Method string
	PC     int
}

func (f Frame) String() string {
	return fmt.Sprintf("%v.%v+%v", f.Module, f.Method, f.PC)
}

// Fault is an uncaught fault that escaped the entry method.
type Fault struct {
	Type   string
	Detail string
	Frames []Frame // innermost first
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%v: %v at %v", f.Type, f.Detail, formatFrames(f.Frames))
}

// Interrupted is returned when the execution exceeds its step budget or
// its context is done. It cannot be caught by handlers.
type Interrupted struct {
	Reason string
	Frames []Frame
}

func (in *Interrupted) Error() string {
	return fmt.Sprintf("interrupted (%v) at %v", in.Reason, formatFrames(in.Frames))
}

func formatFrames(frames []Frame) string {
	var parts []string
	for _, f := range frames {
		parts = append(parts, f.String())
	}
	return strings.Join(parts, " <- ")
}
