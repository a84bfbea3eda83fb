// Copyright 2025 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/google/bcfuzz/pkg/flatrpc"
	"github.com/google/bcfuzz/pkg/log"
)

// Serve handshakes with the driver and then executes requests strictly one at a time
// until the driver closes the connection or ctx is done.
// It returns ErrFatal after reporting a FATAL result, the process must then be replaced.
func Serve(ctx context.Context, conn *flatrpc.Conn, coord *Coordinator, name string) error {
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()
	req := &flatrpc.ConnectRequest{
		Name:     name,
		Protocol: flatrpc.ProtocolVersion,
		Edges:    int32(coord.Edges()),
		Blind:    coord.Blind(),
	}
	if err := flatrpc.Send(conn, req); err != nil {
		return err
	}
	reply, err := flatrpc.Recv[*flatrpc.ConnectReplyRaw](conn)
	if err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}
	log.Logf(1, "%v: connected to session %v", name, reply.Session)
	for {
		req, err := flatrpc.Recv[*flatrpc.ExecRequestRaw](conn)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if reply.Debug {
			log.Logf(0, "%v: executing request %v: %v bytes, budget %v",
				name, req.Id, len(req.Input), req.Budget())
		}
		res := coord.Run(ctx, req.Input, req.Budget(), req.Flags)
		res.Id = req.Id
		if err := flatrpc.Send(conn, res); err != nil {
			return err
		}
		if res.Status == flatrpc.ExecStatusFatal {
			return ErrFatal
		}
	}
}
