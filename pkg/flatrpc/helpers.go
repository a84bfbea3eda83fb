// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package flatrpc

import (
	"fmt"
	"slices"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
)

// ProtocolVersion is bumped on any incompatible change of flatrpc.fbs.
const ProtocolVersion = 2

// Flatbuffers compiler adds T suffix to object API types, which are actual structs representing types.
// This leads to non-idiomatic Go code, e.g. we would have to use []ExecResultT in Go code.
// So we use Raw suffix for all flatbuffers tables and rename object API types here to idiomatic names.
type ConnectRequest = ConnectRequestRawT
type ConnectReply = ConnectReplyRawT
type ExecRequest = ExecRequestRawT
type ExecResult = ExecResultRawT
type CorpusEntry = CorpusEntryRawT

func (req *ExecRequest) Budget() time.Duration {
	return time.Duration(req.BudgetMs) * time.Millisecond
}

// Clone returns a deep copy, results received from a connection alias its receive buffer.
func (res *ExecResult) Clone() *ExecResult {
	if res == nil {
		return nil
	}
	ret := *res
	ret.Edges = slices.Clone(res.Edges)
	ret.Counts = slices.Clone(res.Counts)
	ret.Comps = slices.Clone(res.Comps)
	ret.Blind = slices.Clone(res.Blind)
	return &ret
}

// CompPairs returns the flattened comparison operands as pairs.
func (res *ExecResult) CompPairs() [][2]uint64 {
	var pairs [][2]uint64
	for i := 0; i+1 < len(res.Comps); i += 2 {
		pairs = append(pairs, [2]uint64{res.Comps[i], res.Comps[i+1]})
	}
	return pairs
}

// Validate checks the invariants a worker must keep, a result violating them is unusable.
func (res *ExecResult) Validate() error {
	if len(res.Edges) != len(res.Counts) {
		return fmt.Errorf("malformed result: %v edges, %v counts", len(res.Edges), len(res.Counts))
	}
	if len(res.Comps)%2 != 0 {
		return fmt.Errorf("malformed result: odd number of comparison operands %v", len(res.Comps))
	}
	if _, ok := EnumNamesExecStatus[res.Status]; !ok {
		return fmt.Errorf("malformed result: unknown status %v", res.Status)
	}
	return nil
}

type packer interface {
	Pack(*flatbuffers.Builder) flatbuffers.UOffsetT
}

// Marshal serializes a single message into a standalone buffer (without size prefix).
func Marshal(msg packer) []byte {
	builder := flatbuffers.NewBuilder(0)
	builder.Finish(msg.Pack(builder))
	return builder.FinishedBytes()
}

// UnmarshalCorpusEntry parses a buffer created by Marshal.
// The result does not alias data.
func UnmarshalCorpusEntry(data []byte) (entry *CorpusEntry, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed corpus entry: %v", r)
		}
	}()
	if len(data) < flatbuffers.SizeUOffsetT {
		return nil, fmt.Errorf("malformed corpus entry: %v bytes", len(data))
	}
	data = slices.Clone(data)
	raw := GetRootAsCorpusEntryRaw(data, 0)
	entry = raw.UnPack()
	if len(entry.Edges) != len(entry.Masks) {
		return nil, fmt.Errorf("malformed corpus entry: %v edges, %v masks",
			len(entry.Edges), len(entry.Masks))
	}
	return entry, nil
}
