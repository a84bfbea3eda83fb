// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package flatrpc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"sync"
	"time"

	"github.com/google/bcfuzz/pkg/log"
	"github.com/google/bcfuzz/pkg/stat"
	flatbuffers "github.com/google/flatbuffers/go"
)

var (
	ErrMessageTooLarge = errors.New("message too large")

	statSent = stat.New("rpc sent", "Outbound RPC traffic", stat.Bytes{})
	statRecv = stat.New("rpc recv", "Inbound RPC traffic", stat.Bytes{})
)

// MaxMessageSize bounds a single received message.
const MaxMessageSize = 64 << 20

type Serv struct {
	Addr *net.TCPAddr
	ln   net.Listener
}

func ListenAndServe(addr string, handler func(*Conn)) (*Serv, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					break
				}
				log.Logf(0, "flatrpc: failed to accept: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
			go func() {
				c := NewConn(conn)
				// Closing the connection unblocks the peer if the handler has returned early.
				defer c.Close()
				handler(c)
			}()
		}
	}()
	return &Serv{
		Addr: ln.Addr().(*net.TCPAddr),
		ln:   ln,
	}, nil
}

func (s *Serv) Close() error {
	return s.ln.Close()
}

// Conn is a long-lived message connection.
// Send is safe for concurrent use, Recv is not.
type Conn struct {
	conn net.Conn

	sendMu  sync.Mutex
	builder *flatbuffers.Builder
	hdr     [4]byte
}

func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn:    conn,
		builder: flatbuffers.NewBuilder(0),
	}
}

// Dial connects to the driver. timeScale stretches the connect timeout on slow machines.
func Dial(addr string, timeScale time.Duration) (*Conn, error) {
	if timeScale <= 0 {
		timeScale = 1
	}
	conn, err := net.DialTimeout("tcp", addr, time.Minute*timeScale)
	if err != nil {
		return nil, err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetKeepAlive(true)
		tcp.SetKeepAlivePeriod(time.Minute)
	}
	return NewConn(conn), nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetReadDeadline bounds the next Recv calls; zero time removes the bound.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func Send(c *Conn, msg packer) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	off := msg.Pack(c.builder)
	c.builder.FinishSizePrefixed(off)
	data := c.builder.FinishedBytes()
	_, err := c.conn.Write(data)
	c.builder.Reset()
	statSent.Add(len(data))
	if err != nil {
		return fmt.Errorf("failed to send %T: %w", msg, err)
	}
	return nil
}

// Recv receives the next message and unpacks it, e.g. Recv[*ExecResultRaw](c) returns *ExecResult.
func Recv[Raw interface {
	UnPack() *T
	flatbuffers.FlatBuffer
}, T any](c *Conn) (res *T, err0 error) {
	defer func() {
		if err := recover(); err != nil {
			err0 = fmt.Errorf("%w: malformed %T: %v", io.ErrUnexpectedEOF, res, err)
		}
	}()
	raw, err := RecvRaw[Raw](c)
	if err != nil {
		return nil, err
	}
	return raw.UnPack(), nil
}

// RecvRaw receives the next message without unpacking.
// Every message gets a fresh buffer, so the result may be retained.
func RecvRaw[T flatbuffers.FlatBuffer](c *Conn) (T, error) {
	var msg T
	if _, err := io.ReadFull(c.conn, c.hdr[:]); err != nil {
		return msg, err
	}
	size := binary.LittleEndian.Uint32(c.hdr[:])
	if size > MaxMessageSize {
		return msg, fmt.Errorf("%w: %v bytes", ErrMessageTooLarge, size)
	}
	if size < flatbuffers.SizeUOffsetT {
		return msg, fmt.Errorf("%w: message of %v bytes", io.ErrUnexpectedEOF, size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(c.conn, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return msg, err
	}
	statRecv.Add(int(size) + len(c.hdr))
	msg = reflect.New(reflect.TypeOf(msg).Elem()).Interface().(T)
	msg.Init(data, flatbuffers.GetUOffsetT(data))
	return msg, nil
}
