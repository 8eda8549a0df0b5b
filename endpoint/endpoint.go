// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package endpoint exposes one Modbus connection that can serve a local register
// mapping (slave role) or query a remote one (master role) over TCP or serial RTU.
//
// Every operation touching the register mapping or a master transaction runs under
// the connection's guard. Lifecycle calls (Connect, Listen, Close) are expected to be
// driven from a single goroutine.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ffutop/modbus-endpoint/internal/mapping"
	"github.com/ffutop/modbus-endpoint/modbus"
	"github.com/ffutop/modbus-endpoint/transport"
	"github.com/ffutop/modbus-endpoint/transport/rtu"
	"github.com/ffutop/modbus-endpoint/transport/tcp"
)

const Version = "1.0.0"

// MaxBatch bounds the address lists accepted by WriteRegisters and Read.
const MaxBatch = 256

// rtuBaudThreshold separates TCP ports from serial baud rates in New.
const rtuBaudThreshold = 9600

var (
	ErrClosed        = errors.New("modbus: connection already closed")
	ErrNoMapping     = errors.New("modbus: no register mapping installed")
	ErrBatchTooLarge = fmt.Errorf("modbus: batch exceeds %d items", MaxBatch)
)

// Pair is one register write of a batch.
type Pair struct {
	Address uint16
	Value   uint16
}

type options struct {
	parity   string
	dataBits int
	stopBits int
	timeout  time.Duration
}

// Option tunes a connection at construction.
type Option func(*options)

// WithParity sets the serial parity, one of N, O or E.
func WithParity(parity string) Option {
	return func(o *options) { o.parity = parity }
}

func WithDataBits(bits int) Option {
	return func(o *options) { o.dataBits = bits }
}

func WithStopBits(bits int) Option {
	return func(o *options) { o.stopBits = bits }
}

// WithTimeout bounds each master transaction. Zero keeps the backend default.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// Connection is one Modbus endpoint.
type Connection struct {
	backend transport.Backend

	mu      sync.Mutex
	mapping *mapping.Mapping
	closed  atomic.Bool
}

// New picks the transport from portOrBaud: values below 9600 are TCP ports on
// hostOrDevice, anything else is the baud rate of the serial device hostOrDevice.
func New(hostOrDevice string, portOrBaud int, opts ...Option) (*Connection, error) {
	if portOrBaud < rtuBaudThreshold {
		return NewTCP(hostOrDevice, portOrBaud, opts...)
	}
	return NewRTU(hostOrDevice, portOrBaud, opts...)
}

// NewTCP allocates a TCP endpoint for host:port without opening it.
func NewTCP(host string, port int, opts ...Option) (*Connection, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("modbus: invalid tcp port %d", port)
	}
	o := buildOptions(opts)
	backend := tcp.NewBackend(host, port)
	if o.timeout > 0 {
		backend.Timeout = o.timeout
	}
	return newConnection(backend), nil
}

// NewRTU allocates a serial endpoint on device without opening it.
func NewRTU(device string, baudRate int, opts ...Option) (*Connection, error) {
	o := buildOptions(opts)
	backend, err := rtu.NewBackend(device, baudRate, o.parity, o.dataBits, o.stopBits)
	if err != nil {
		return nil, err
	}
	if o.timeout > 0 {
		backend.Timeout = o.timeout
	}
	return newConnection(backend), nil
}

// NewWithBackend wraps an already configured backend.
func NewWithBackend(backend transport.Backend) *Connection {
	return newConnection(backend)
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newConnection(backend transport.Backend) *Connection {
	return &Connection{backend: backend}
}

func (c *Connection) Kind() transport.Kind {
	return c.backend.Kind()
}

// Connect opens the channel: dials the slave (TCP) or opens the serial device (RTU).
func (c *Connection) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.backend.Connect(ctx)
}

// Listen waits for one TCP master and returns the accepted socket's descriptor.
func (c *Connection) Listen(ctx context.Context) (int, error) {
	if c.closed.Load() {
		return -1, ErrClosed
	}
	return c.backend.Listen(ctx, 1)
}

// Close releases the channel and drops the mapping. Any later call returns ErrClosed.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	err := c.backend.Close()

	c.mu.Lock()
	c.mapping = nil
	c.mu.Unlock()
	slog.Debug("modbus connection released", "kind", c.backend.Kind())
	return err
}

// SetSlaveID sets the unit id used by master requests and by the RTU slave filter.
func (c *Connection) SetSlaveID(id byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	c.backend.SetSlaveID(id)
	return nil
}

func (c *Connection) SlaveID() byte {
	return c.backend.SlaveID()
}

// FileDescriptor returns the native handle, or -1 once closed or when unavailable.
func (c *Connection) FileDescriptor() int {
	if c.closed.Load() {
		return -1
	}
	return c.backend.FileDescriptor()
}

// RawSend writes p to the channel without any Modbus framing.
func (c *Connection) RawSend(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	return c.backend.Send(p)
}

// RawReceive performs one read of at most maxLen bytes, clamped to the maximum ADU length.
func (c *Connection) RawReceive(ctx context.Context, maxLen int) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if maxLen < 1 {
		return nil, modbus.ErrInvalidQuantity
	}
	maxLen = min(maxLen, modbus.MaxADULength)

	buf := make([]byte, maxLen)
	n, err := c.backend.Receive(ctx, buf)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, transport.ErrNoData
	}
	return buf[:n], nil
}
