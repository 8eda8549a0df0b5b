// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package endpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/ffutop/modbus-endpoint/internal/mapping"
	"github.com/ffutop/modbus-endpoint/modbus"
	"github.com/ffutop/modbus-endpoint/transport"
)

var testLayout = mapping.Layout{
	Coils:            mapping.Range{Start: 0, Count: 16},
	DiscreteInputs:   mapping.Range{Start: 100, Count: 8},
	HoldingRegisters: mapping.Range{Start: 0, Count: 10},
	InputRegisters:   mapping.Range{Start: 200, Count: 4},
}

func TestNew_TransportHeuristic(t *testing.T) {
	tests := []struct {
		name       string
		host       string
		portOrBaud int
		want       transport.Kind
	}{
		{"modbus port", "127.0.0.1", 502, transport.TCP},
		{"below threshold", "127.0.0.1", 9599, transport.TCP},
		{"threshold baud", "/dev/ttyUSB0", 9600, transport.RTU},
		{"high baud", "/dev/ttyUSB0", 115200, transport.RTU},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.host, tt.portOrBaud)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer c.Close()
			if c.Kind() != tt.want {
				t.Errorf("Kind() = %v, want %v", c.Kind(), tt.want)
			}
			if fd := c.FileDescriptor(); fd != -1 {
				t.Errorf("FileDescriptor() before connect = %d, want -1", fd)
			}
		})
	}
}

func TestNew_InvalidSerialSettings(t *testing.T) {
	if _, err := New("/dev/ttyUSB0", 19200, WithParity("X")); err == nil {
		t.Error("expected invalid parity error")
	}
	if _, err := New("/dev/ttyUSB0", 19200, WithDataBits(4)); err == nil {
		t.Error("expected invalid data bits error")
	}
	if _, err := New("/dev/ttyUSB0", 19200, WithStopBits(3)); err == nil {
		t.Error("expected invalid stop bits error")
	}
	if _, err := NewTCP("127.0.0.1", 70000); err == nil {
		t.Error("expected invalid port error")
	}
}

func TestConnection_ListenOnSerial(t *testing.T) {
	c, err := NewRTU("/dev/ttyUSB0", 19200, WithParity("E"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.Listen(context.Background()); !errors.Is(err, transport.ErrNotSupported) {
		t.Errorf("Listen() error = %v, want ErrNotSupported", err)
	}
}

func TestMapping_NoMapping(t *testing.T) {
	c, _ := NewTCP("127.0.0.1", 502)
	defer c.Close()

	if _, err := c.GetMapping(mapping.HoldingRegisters, 0); !errors.Is(err, ErrNoMapping) {
		t.Errorf("GetMapping() error = %v, want ErrNoMapping", err)
	}
	if err := c.SetMapping(mapping.HoldingRegisters, 0, 1); !errors.Is(err, ErrNoMapping) {
		t.Errorf("SetMapping() error = %v, want ErrNoMapping", err)
	}
}

func TestMapping_RoundTrip(t *testing.T) {
	c, _ := NewTCP("127.0.0.1", 502)
	defer c.Close()
	if err := c.NewMapping(testLayout); err != nil {
		t.Fatal(err)
	}

	if err := c.SetMapping(mapping.HoldingRegisters, 3, 0xBEEF); err != nil {
		t.Fatal(err)
	}
	if v, err := c.GetMapping(mapping.HoldingRegisters, 3); err != nil || v != 0xBEEF {
		t.Errorf("GetMapping() = %#x, %v", v, err)
	}
	if err := c.SetMapping(mapping.Coils, 5, 42); err != nil {
		t.Fatal(err)
	}
	if v, _ := c.GetMapping(mapping.Coils, 5); v != 1 {
		t.Errorf("coil read = %d, want 1", v)
	}
	if _, err := c.GetMapping(mapping.Space(9), 0); !errors.Is(err, mapping.ErrInvalidSpace) {
		t.Errorf("invalid space error = %v", err)
	}
}

func TestMapping_Bounds(t *testing.T) {
	c, _ := NewTCP("127.0.0.1", 502)
	defer c.Close()
	if err := c.NewMapping(testLayout); err != nil {
		t.Fatal(err)
	}

	for _, space := range []mapping.Space{mapping.Coils, mapping.DiscreteInputs, mapping.HoldingRegisters, mapping.InputRegisters} {
		r, _ := testLayout.Range(space)
		first := r.Start
		last := r.Start + uint16(r.Count) - 1

		for _, addr := range []uint16{first, last} {
			if _, err := c.GetMapping(space, addr); err != nil {
				t.Errorf("%v: GetMapping(%d) error = %v", space, addr, err)
			}
			if err := c.SetMapping(space, addr, 1); err != nil {
				t.Errorf("%v: SetMapping(%d) error = %v", space, addr, err)
			}
		}

		outside := []uint16{last + 1}
		if first > 0 {
			outside = append(outside, first-1)
		}
		for _, addr := range outside {
			if _, err := c.GetMapping(space, addr); !errors.Is(err, mapping.ErrOutOfRange) {
				t.Errorf("%v: GetMapping(%d) error = %v, want ErrOutOfRange", space, addr, err)
			}
			if err := c.SetMapping(space, addr, 1); !errors.Is(err, mapping.ErrOutOfRange) {
				t.Errorf("%v: SetMapping(%d) error = %v, want ErrOutOfRange", space, addr, err)
			}
		}
	}
}

func TestMapping_Replacement(t *testing.T) {
	c, _ := NewTCP("127.0.0.1", 502)
	defer c.Close()
	if err := c.NewMapping(testLayout); err != nil {
		t.Fatal(err)
	}
	c.SetMapping(mapping.HoldingRegisters, 0, 7)

	next := mapping.Layout{HoldingRegisters: mapping.Range{Start: 1000, Count: 5}}
	if err := c.NewMapping(next); err != nil {
		t.Fatal(err)
	}

	if _, err := c.GetMapping(mapping.HoldingRegisters, 0); !errors.Is(err, mapping.ErrOutOfRange) {
		t.Errorf("old address still reachable: %v", err)
	}
	if _, err := c.GetMapping(mapping.Coils, 0); !errors.Is(err, mapping.ErrOutOfRange) {
		t.Errorf("old coil space still reachable: %v", err)
	}
	if v, err := c.GetMapping(mapping.HoldingRegisters, 1000); err != nil || v != 0 {
		t.Errorf("new mapping = %d, %v; want fresh zero", v, err)
	}

	// An invalid layout leaves the installed mapping alone.
	bad := mapping.Layout{HoldingRegisters: mapping.Range{Start: 65535, Count: 2}}
	if err := c.NewMapping(bad); err == nil {
		t.Fatal("expected layout validation error")
	}
	if _, err := c.GetMapping(mapping.HoldingRegisters, 1004); err != nil {
		t.Errorf("mapping replaced by invalid layout: %v", err)
	}
}

func TestConnection_ClosedGuard(t *testing.T) {
	c, _ := NewTCP("127.0.0.1", 502)
	c.NewMapping(testLayout)
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	ctx := context.Background()
	checks := map[string]error{
		"Close":         c.Close(),
		"Connect":       c.Connect(ctx),
		"NewMapping":    c.NewMapping(testLayout),
		"SetMapping":    c.SetMapping(mapping.HoldingRegisters, 0, 1),
		"SetSlaveID":    c.SetSlaveID(3),
		"WriteRegister": c.WriteRegister(ctx, 0, 1),
		"WriteBit":      c.WriteBit(ctx, 0, true),
	}
	_, checks["Listen"] = c.Listen(ctx)
	_, checks["GetMapping"] = c.GetMapping(mapping.HoldingRegisters, 0)
	_, _, checks["Receive"] = c.Receive(ctx)
	_, checks["ReadRegisters"] = c.ReadRegisters(ctx, 0, 1)
	_, checks["ReadBits"] = c.ReadBits(ctx, 0, 1)
	_, checks["WriteRegisters"] = c.WriteRegisters(ctx, []Pair{{0, 1}})
	_, checks["Read"] = c.Read(ctx, []uint16{0})
	_, checks["RawSend"] = c.RawSend([]byte{0x01})
	_, checks["RawReceive"] = c.RawReceive(ctx, 8)

	for name, err := range checks {
		if !errors.Is(err, ErrClosed) {
			t.Errorf("%s after Close: error = %v, want ErrClosed", name, err)
		}
	}
	if fd := c.FileDescriptor(); fd != -1 {
		t.Errorf("FileDescriptor() after Close = %d", fd)
	}
}

func TestConnection_RawReceiveInvalidLength(t *testing.T) {
	c, _ := NewTCP("127.0.0.1", 502)
	defer c.Close()
	if _, err := c.RawReceive(context.Background(), 0); !errors.Is(err, modbus.ErrInvalidQuantity) {
		t.Errorf("RawReceive(0) error = %v", err)
	}
	if _, err := c.RawReceive(context.Background(), 4); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("RawReceive() before connect error = %v", err)
	}
}

func TestConnection_BatchLimits(t *testing.T) {
	c, _ := NewTCP("127.0.0.1", 502)
	defer c.Close()

	if _, err := c.WriteRegisters(context.Background(), make([]Pair, MaxBatch+1)); !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("WriteRegisters() error = %v", err)
	}
	if _, err := c.Read(context.Background(), make([]uint16, MaxBatch+1)); !errors.Is(err, ErrBatchTooLarge) {
		t.Errorf("Read() error = %v", err)
	}
	if _, err := c.ReadRegisters(context.Background(), 0, 0); !errors.Is(err, modbus.ErrInvalidQuantity) {
		t.Errorf("ReadRegisters(count=0) error = %v", err)
	}
	if _, err := c.ReadBits(context.Background(), 0, -1); !errors.Is(err, modbus.ErrInvalidQuantity) {
		t.Errorf("ReadBits(count=-1) error = %v", err)
	}
}
