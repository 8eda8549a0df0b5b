// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ffutop/modbus-endpoint/internal/slave"
	"github.com/ffutop/modbus-endpoint/modbus"
	rtupacket "github.com/ffutop/modbus-endpoint/modbus/rtu"
	"github.com/ffutop/modbus-endpoint/transport"
)

// Receive waits for one request, answers it from the local mapping and returns the
// request length together with the raw request bytes. It handles exactly one request;
// looping is up to the caller.
//
// Requests for another RTU slave id are dropped without a reply. Broadcast writes
// are applied without one and other broadcasts are dropped. Without a mapping every
// request is answered with a server device failure exception.
func (c *Connection) Receive(ctx context.Context) (int, []byte, error) {
	if c.closed.Load() {
		return 0, nil, ErrClosed
	}

	frame := make([]byte, modbus.MaxADULength)
	n, err := c.backend.ReadIndication(ctx, frame)
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return 0, nil, fmt.Errorf("%w: %w", transport.ErrNoData, err)
		}
		return 0, nil, err
	}
	if n == 0 {
		return 0, nil, transport.ErrNoData
	}
	indication := frame[:n]

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed.Load() {
		return 0, nil, ErrClosed
	}

	slaveID, req, err := c.backend.Decode(indication)
	if err != nil {
		return n, indication, fmt.Errorf("modbus: failed to decode request: %w", err)
	}

	rtuMode := c.backend.Kind() == transport.RTU
	if rtuMode && slaveID != rtupacket.BroadcastID && slaveID != c.backend.SlaveID() {
		slog.Debug("ignoring request for another slave", "slave_id", slaveID)
		return n, indication, nil
	}
	if rtuMode && slaveID == rtupacket.BroadcastID && !slave.IsWrite(req.FunctionCode) {
		slog.Debug("ignoring broadcast read", "function", req.FunctionCode)
		return n, indication, nil
	}

	resp := slave.Process(c.mapping, req)
	if resp.IsException() {
		slog.Debug("request answered with exception", "function", req.FunctionCode, "exception", resp.Data[0])
	}
	if rtuMode && slaveID == rtupacket.BroadcastID {
		return n, indication, nil
	}

	if _, err := c.backend.Reply(indication, resp); err != nil {
		return n, indication, err
	}
	return n, indication, nil
}
