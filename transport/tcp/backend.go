// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ffutop/modbus-endpoint/transport"
)

// Backend implements transport.Backend over a TCP socket.
type Backend struct {
	Address string
	// Timeout bounds one master transaction. Zero waits until the context ends.
	Timeout time.Duration

	mu            sync.Mutex
	conn          net.Conn
	slaveID       byte
	transactionID uint32
}

// NewBackend allocates a backend for host:port without opening it.
func NewBackend(host string, port int) *Backend {
	return &Backend{
		Address: net.JoinHostPort(host, fmt.Sprint(port)),
		slaveID: 0xFF,
	}
}

func (mb *Backend) Kind() transport.Kind {
	return transport.TCP
}

func (mb *Backend) SetSlaveID(id byte) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.slaveID = id
}

func (mb *Backend) SlaveID() byte {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.slaveID
}

// activeConn returns the current socket.
func (mb *Backend) activeConn() (net.Conn, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.conn == nil {
		return nil, transport.ErrNotConnected
	}
	return mb.conn, nil
}

// swap installs conn and closes the socket it replaces.
func (mb *Backend) swap(conn net.Conn) {
	mb.mu.Lock()
	old := mb.conn
	mb.conn = conn
	mb.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// Close closes the socket. Closing an idle backend is a no-op.
func (mb *Backend) Close() error {
	mb.mu.Lock()
	conn := mb.conn
	mb.conn = nil
	mb.mu.Unlock()

	if conn == nil {
		return nil
	}
	slog.Info("Modbus TCP connection closed", "addr", mb.Address)
	return conn.Close()
}

func (mb *Backend) FileDescriptor() int {
	conn, err := mb.activeConn()
	if err != nil {
		return -1
	}
	return transport.FileDescriptor(conn)
}

// Send writes raw bytes to the peer.
func (mb *Backend) Send(raw []byte) (int, error) {
	conn, err := mb.activeConn()
	if err != nil {
		return 0, err
	}
	slog.Debug("send raw to modbus peer", "data", hex.EncodeToString(raw))
	n, err := conn.Write(raw)
	if err != nil {
		return n, fmt.Errorf("modbus: failed to write to %s: %w", mb.Address, err)
	}
	return n, nil
}

// Receive performs one read of at most len(p) bytes.
func (mb *Backend) Receive(ctx context.Context, p []byte) (int, error) {
	conn, err := mb.activeConn()
	if err != nil {
		return 0, err
	}
	stop := interruptOnDone(ctx, conn, time.Time{})
	defer stop()

	n, err := conn.Read(p)
	if err != nil {
		return n, transport.ContextError(ctx, err)
	}
	return n, nil
}

// interruptOnDone arms conn with deadline and makes ctx cancellation expire it immediately.
// The returned function disarms the watcher.
func interruptOnDone(ctx context.Context, conn net.Conn, deadline time.Time) (stop func() bool) {
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	conn.SetDeadline(deadline)
	return context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Unix(1, 0))
	})
}
