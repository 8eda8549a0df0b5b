// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/ffutop/modbus-endpoint/modbus"
)

var (
	ErrNotSupported = errors.New("modbus: operation not supported by this backend")
	ErrNotConnected = errors.New("modbus: not connected")
	ErrNoData       = errors.New("modbus: no data received")
)

// Kind is the transport family of a backend, fixed at construction.
type Kind int

const (
	TCP Kind = iota
	RTU
)

func (k Kind) String() string {
	switch k {
	case TCP:
		return "tcp"
	case RTU:
		return "rtu"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Backend is one Modbus channel: a TCP socket or a serial line.
//
// Blocking calls take a context; cancelling it unblocks the pending read or write.
// A Backend is driven by one goroutine at a time; the owning connection serializes
// register traffic and the caller serializes lifecycle calls.
type Backend interface {
	Kind() Kind

	// Connect opens the channel. On failure the previous state is kept.
	Connect(ctx context.Context) error
	// Listen waits for exactly one peer and returns its descriptor. TCP only.
	Listen(ctx context.Context, backlog int) (int, error)
	Close() error

	// Send writes raw bytes without framing.
	Send(raw []byte) (int, error)
	// Receive performs a single raw read into p.
	Receive(ctx context.Context, p []byte) (int, error)

	// ReadIndication reads one complete request ADU into frame and returns its length.
	ReadIndication(ctx context.Context, frame []byte) (int, error)
	// Decode splits a request ADU into unit identifier and PDU.
	Decode(indication []byte) (slaveID byte, pdu modbus.ProtocolDataUnit, err error)
	// Reply frames pdu as the answer to indication and writes it.
	Reply(indication []byte, pdu modbus.ProtocolDataUnit) (int, error)

	// Transact sends pdu to the configured slave and waits for its answer.
	Transact(ctx context.Context, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)

	SetSlaveID(id byte)
	SlaveID() byte

	// FileDescriptor returns the native handle, or -1 when closed or unavailable.
	FileDescriptor() int
}

// FileDescriptor extracts the OS handle of c, or -1 if c does not expose one.
func FileDescriptor(c any) int {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	if err := raw.Control(func(h uintptr) { fd = int(h) }); err != nil {
		return -1
	}
	return fd
}

// ContextError prefers the context's error when ctx ended the I/O that produced err.
func ContextError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	// The socket deadline can fire a moment before the context timer does.
	if errors.Is(err, os.ErrDeadlineExceeded) {
		if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
			return context.DeadlineExceeded
		}
	}
	return err
}
