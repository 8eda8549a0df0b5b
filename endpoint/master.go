// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package endpoint

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/ffutop/modbus-endpoint/modbus"
)

// transact runs one request/response exchange with the remote slave under the guard.
func (c *Connection) transact(ctx context.Context, req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if c.closed.Load() {
		return modbus.ProtocolDataUnit{}, ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return modbus.ProtocolDataUnit{}, ErrClosed
	}

	resp, err := c.backend.Transact(ctx, req)
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	if err := modbus.CheckResponse(req, resp); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	return resp, nil
}

func clamp(count, limit int) (int, error) {
	if count < 1 {
		return 0, modbus.ErrInvalidQuantity
	}
	return min(count, limit), nil
}

func addressQuantity(funcCode byte, address uint16, quantity int) modbus.ProtocolDataUnit {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data, address)
	binary.BigEndian.PutUint16(data[2:], uint16(quantity))
	return modbus.ProtocolDataUnit{FunctionCode: funcCode, Data: data}
}

// ReadRegisters reads count holding registers starting at address and returns them
// as 2*count big-endian bytes. count is clamped to 125.
func (c *Connection) ReadRegisters(ctx context.Context, address uint16, count int) ([]byte, error) {
	return c.readRegisters(ctx, modbus.FuncCodeReadHoldingRegisters, address, count)
}

// ReadInputRegisters is ReadRegisters for the input register space.
func (c *Connection) ReadInputRegisters(ctx context.Context, address uint16, count int) ([]byte, error) {
	return c.readRegisters(ctx, modbus.FuncCodeReadInputRegisters, address, count)
}

func (c *Connection) readRegisters(ctx context.Context, funcCode byte, address uint16, count int) ([]byte, error) {
	count, err := clamp(count, modbus.MaxReadRegisters)
	if err != nil {
		return nil, err
	}
	resp, err := c.transact(ctx, addressQuantity(funcCode, address, count))
	if err != nil {
		return nil, err
	}

	want := 2 * count
	if len(resp.Data) != want+1 || int(resp.Data[0]) != want {
		return nil, fmt.Errorf("modbus: response data size '%v' does not match count '%v'", len(resp.Data)-1, want)
	}
	out := make([]byte, want)
	copy(out, resp.Data[1:])
	return out, nil
}

// ReadBits reads count coils starting at address, one byte (0 or 1) per coil.
// count is clamped to 2000.
func (c *Connection) ReadBits(ctx context.Context, address uint16, count int) ([]byte, error) {
	return c.readBits(ctx, modbus.FuncCodeReadCoils, address, count)
}

// ReadInputBits is ReadBits for the discrete input space.
func (c *Connection) ReadInputBits(ctx context.Context, address uint16, count int) ([]byte, error) {
	return c.readBits(ctx, modbus.FuncCodeReadDiscreteInputs, address, count)
}

func (c *Connection) readBits(ctx context.Context, funcCode byte, address uint16, count int) ([]byte, error) {
	count, err := clamp(count, modbus.MaxReadBits)
	if err != nil {
		return nil, err
	}
	resp, err := c.transact(ctx, addressQuantity(funcCode, address, count))
	if err != nil {
		return nil, err
	}

	want := (count + 7) / 8
	if len(resp.Data) != want+1 || int(resp.Data[0]) != want {
		return nil, fmt.Errorf("modbus: response data size '%v' does not match count '%v'", len(resp.Data)-1, want)
	}
	packed := resp.Data[1:]
	out := make([]byte, count)
	for i := range out {
		out[i] = (packed[i/8] >> (i % 8)) & 0x01
	}
	return out, nil
}

// WriteRegister writes one holding register.
func (c *Connection) WriteRegister(ctx context.Context, address, value uint16) error {
	return c.writeSingle(ctx, modbus.FuncCodeWriteSingleRegister, address, value)
}

// WriteBit switches one coil.
func (c *Connection) WriteBit(ctx context.Context, address uint16, on bool) error {
	var value uint16
	if on {
		value = 0xFF00
	}
	return c.writeSingle(ctx, modbus.FuncCodeWriteSingleCoil, address, value)
}

func (c *Connection) writeSingle(ctx context.Context, funcCode byte, address, value uint16) error {
	req := addressQuantity(funcCode, address, int(value))
	resp, err := c.transact(ctx, req)
	if err != nil {
		return err
	}
	// Single writes are echoed verbatim.
	if !bytes.Equal(resp.Data, req.Data) {
		return fmt.Errorf("modbus: response '%x' does not echo request '%x'", resp.Data, req.Data)
	}
	return nil
}

// WriteRegisters writes each pair on its own, in slice order. A failing pair does not
// stop the batch; its error is recorded under its address and successful pairs map
// to nil. The returned error is set only when the batch as a whole is rejected.
func (c *Connection) WriteRegisters(ctx context.Context, pairs []Pair) (map[uint16]error, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if len(pairs) > MaxBatch {
		return nil, ErrBatchTooLarge
	}

	results := make(map[uint16]error, len(pairs))
	for _, p := range pairs {
		results[p.Address] = c.WriteRegister(ctx, p.Address, p.Value)
	}
	return results, nil
}

// Read reads one holding register per address, in slice order. The first failure
// aborts the call and no values are returned.
func (c *Connection) Read(ctx context.Context, addresses []uint16) (map[uint16]uint16, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if len(addresses) > MaxBatch {
		return nil, ErrBatchTooLarge
	}

	values := make(map[uint16]uint16, len(addresses))
	for _, addr := range addresses {
		data, err := c.ReadRegisters(ctx, addr, 1)
		if err != nil {
			return nil, fmt.Errorf("modbus: read of address %d failed: %w", addr, err)
		}
		values[addr] = binary.BigEndian.Uint16(data)
	}
	return values, nil
}
