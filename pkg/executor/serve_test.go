// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"context"
	"testing"
	"time"

	"github.com/google/bcfuzz/pkg/cover"
	"github.com/google/bcfuzz/pkg/flatrpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveOne runs Serve against a test driver that sends inputs one by one.
func serveOne(t *testing.T, coord *Coordinator, inputs [][]byte, budget time.Duration) (
	[]*flatrpc.ExecResult, error) {
	results := make(chan []*flatrpc.ExecResult, 1)
	serv, err := flatrpc.ListenAndServe(":0", func(c *flatrpc.Conn) {
		var res []*flatrpc.ExecResult
		defer func() { results <- res }()
		req, err := flatrpc.Recv[*flatrpc.ConnectRequestRaw](c)
		if err != nil {
			t.Error(err)
			return
		}
		assert.Equal(t, "test", req.Name)
		assert.Equal(t, int32(flatrpc.ProtocolVersion), req.Protocol)
		if err := flatrpc.Send(c, &flatrpc.ConnectReply{Session: "s"}); err != nil {
			t.Error(err)
			return
		}
		for i, input := range inputs {
			err := flatrpc.Send(c, &flatrpc.ExecRequest{
				Id:       int64(i),
				Input:    input,
				BudgetMs: budget.Milliseconds(),
			})
			if err != nil {
				t.Error(err)
				return
			}
			r, err := flatrpc.Recv[*flatrpc.ExecResultRaw](c)
			if err != nil {
				return
			}
			assert.Equal(t, int64(i), r.Id)
			res = append(res, r)
			if r.Status == flatrpc.ExecStatusFatal {
				return
			}
		}
	})
	require.NoError(t, err)
	defer serv.Close()
	conn, err := flatrpc.Dial(serv.Addr.String(), 1)
	require.NoError(t, err)
	defer conn.Close()
	serveErr := Serve(context.Background(), conn, coord, "test")
	return <-results, serveErr
}

func TestServe(t *testing.T) {
	coord := testCoordinator(t, 0)
	inputs := [][]byte{[]byte("x"), []byte("f"), []byte("h"), nil}
	res, err := serveOne(t, coord, inputs, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, res, len(inputs))
	assert.Equal(t, flatrpc.ExecStatusSuccess, res[0].Status)
	assert.Equal(t, flatrpc.ExecStatusFault, res[1].Status)
	assert.Equal(t, flatrpc.ExecStatusTimeout, res[2].Status)
	assert.Equal(t, flatrpc.ExecStatusSuccess, res[3].Status)
	assert.NotEmpty(t, res[3].Edges)
}

func TestServeFatal(t *testing.T) {
	unblock := make(chan struct{})
	defer close(unblock)
	target := FuncTarget(func(ctx context.Context, input []byte) error {
		if len(input) != 0 {
			<-unblock
		}
		return nil
	})
	coord := NewCoordinator(target, cover.NewRecorder(0), Config{Grace: 50 * time.Millisecond})
	inputs := [][]byte{nil, []byte("x"), nil}
	res, err := serveOne(t, coord, inputs, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrFatal)
	require.Len(t, res, 2)
	assert.Equal(t, flatrpc.ExecStatusSuccess, res[0].Status)
	assert.Equal(t, flatrpc.ExecStatusFatal, res[1].Status)
}
