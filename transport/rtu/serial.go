// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	rtupacket "github.com/ffutop/modbus-endpoint/modbus/rtu"
	"github.com/ffutop/modbus-endpoint/transport"
	"github.com/grid-x/serial"
)

const (
	// Default response timeout for master transactions.
	serialTimeout = 1 * time.Second
	// pollInterval is the read timeout of the port; blocking reads wake up this often
	// to observe context cancellation.
	pollInterval = 50 * time.Millisecond

	defaultSlaveID = 1
)

// Backend implements transport.Backend over a serial line.
type Backend struct {
	// Serial port configuration. Config.Timeout is managed by the backend.
	serial.Config

	// Timeout bounds the wait for a slave response.
	Timeout time.Duration

	mu      sync.Mutex
	port    io.ReadWriteCloser
	slaveID byte
}

// NewBackend validates the line settings and allocates a backend without opening the device.
// Empty parity and zero data or stop bits select N, 8 and 1.
func NewBackend(device string, baudRate int, parity string, dataBits, stopBits int) (*Backend, error) {
	if parity == "" {
		parity = "N"
	}
	parity = strings.ToUpper(parity)
	if dataBits == 0 {
		dataBits = 8
	}
	if stopBits == 0 {
		stopBits = 1
	}

	switch {
	case baudRate <= 0:
		return nil, fmt.Errorf("modbus: invalid baud rate %d", baudRate)
	case parity != "N" && parity != "O" && parity != "E":
		return nil, fmt.Errorf("modbus: invalid parity %q", parity)
	case dataBits < 5 || dataBits > 8:
		return nil, fmt.Errorf("modbus: invalid data bits %d", dataBits)
	case stopBits < 1 || stopBits > 2:
		return nil, fmt.Errorf("modbus: invalid stop bits %d", stopBits)
	}

	return &Backend{
		Config: serial.Config{
			Address:  device,
			BaudRate: baudRate,
			DataBits: dataBits,
			StopBits: stopBits,
			Parity:   parity,
			Timeout:  pollInterval,
		},
		Timeout: serialTimeout,
		slaveID: defaultSlaveID,
	}, nil
}

func (mb *Backend) Kind() transport.Kind {
	return transport.RTU
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

// Connect opens the serial device. An open port is replaced only once the new one is open.
func (mb *Backend) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := mb.Config
	cfg.Timeout = pollInterval
	port, err := serial.Open(&cfg)
	if err != nil {
		return fmt.Errorf("modbus: could not open %s: %w", mb.Address, err)
	}

	mb.mu.Lock()
	old := mb.port
	mb.port = port
	mb.mu.Unlock()
	if old != nil {
		old.Close()
	}
	slog.Info("Modbus RTU port opened", "device", mb.Address, "baud", mb.BaudRate,
		"parity", mb.Parity, "data_bits", mb.DataBits, "stop_bits", mb.StopBits)
	return nil
}

// Listen is meaningless on a serial line.
func (mb *Backend) Listen(ctx context.Context, backlog int) (int, error) {
	return -1, transport.ErrNotSupported
}

// Close closes the port. Closing an idle backend is a no-op.
func (mb *Backend) Close() error {
	mb.mu.Lock()
	port := mb.port
	mb.port = nil
	mb.mu.Unlock()

	if port == nil {
		return nil
	}
	slog.Info("Modbus RTU port closed", "device", mb.Address)
	return port.Close()
}

// FileDescriptor returns the descriptor of the open port when the platform exposes one.
func (mb *Backend) FileDescriptor() int {
	port, err := mb.activePort()
	if err != nil {
		return -1
	}
	if f, ok := port.(interface{ Fd() uintptr }); ok {
		return int(f.Fd())
	}
	return transport.FileDescriptor(port)
}

func (mb *Backend) activePort() (io.ReadWriteCloser, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.port == nil {
		return nil, transport.ErrNotConnected
	}
	return mb.port, nil
}

// Send writes raw bytes to the line.
func (mb *Backend) Send(raw []byte) (int, error) {
	port, err := mb.activePort()
	if err != nil {
		return 0, err
	}
	slog.Debug("send raw to modbus peer", "data", hex.EncodeToString(raw))
	n, err := port.Write(raw)
	if err != nil {
		return n, fmt.Errorf("modbus: failed to write to %s: %w", mb.Address, err)
	}
	return n, nil
}

// Receive waits for the next bytes on the line and returns what one read delivers.
func (mb *Backend) Receive(ctx context.Context, p []byte) (int, error) {
	port, err := mb.activePort()
	if err != nil {
		return 0, err
	}
	return (&ctxReader{ctx: ctx, r: port}).Read(p)
}

// ctxReader turns the polling reads of the port into reads that block until data
// arrives, the deadline passes or ctx ends. With a non-zero gap, a silence of at
// least gap after the first byte reads as io.EOF.
type ctxReader struct {
	ctx      context.Context
	r        io.Reader
	deadline time.Time
	gap      time.Duration
	last     time.Time
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	for {
		if err := cr.ctx.Err(); err != nil {
			return 0, err
		}
		n, err := cr.r.Read(p)
		if n > 0 {
			cr.last = time.Now()
			return n, nil
		}
		if err != nil && !isTimeout(err) {
			return 0, err
		}
		if cr.gap > 0 && !cr.last.IsZero() && time.Since(cr.last) >= cr.gap {
			return 0, io.EOF
		}
		if !cr.deadline.IsZero() && time.Now().After(cr.deadline) {
			return 0, rtupacket.ErrRequestTimedOut
		}
		if err == nil {
			// Zero bytes without an error: avoid spinning on the port.
			time.Sleep(pollInterval)
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	if errors.As(err, &te) && te.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
