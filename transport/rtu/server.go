// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/ffutop/modbus-endpoint/modbus"
	rtupacket "github.com/ffutop/modbus-endpoint/modbus/rtu"
)

// ReadIndication blocks until one request frame has arrived on the line.
func (mb *Backend) ReadIndication(ctx context.Context, frame []byte) (int, error) {
	port, err := mb.activePort()
	if err != nil {
		return 0, err
	}
	// The frame ends at a 3.5 character silence.
	n, err := rtupacket.ReadRequest(&ctxReader{ctx: ctx, r: port, gap: mb.calculateDelay(0)}, frame)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return n, ctxErr
		}
		return n, err
	}
	slog.Debug("recv from modbus rtu master", "request", hex.EncodeToString(frame[:n]))
	return n, nil
}

func (mb *Backend) Decode(indication []byte) (byte, modbus.ProtocolDataUnit, error) {
	adu, err := rtupacket.Decode(indication)
	if err != nil {
		return 0, modbus.ProtocolDataUnit{}, err
	}
	return adu.SlaveID, adu.Pdu, nil
}

// Reply answers indication with pdu under the request's slave address.
func (mb *Backend) Reply(indication []byte, pdu modbus.ProtocolDataUnit) (int, error) {
	if len(indication) < rtupacket.MinSize {
		return 0, fmt.Errorf("modbus: indication length '%v' does not meet minimum '%v'", len(indication), rtupacket.MinSize)
	}
	respAdu := &rtupacket.ApplicationDataUnit{
		SlaveID: indication[0],
		Pdu:     pdu,
	}
	respRaw, err := respAdu.Encode()
	if err != nil {
		return 0, fmt.Errorf("failed to encode RTU response: %w", err)
	}

	port, err := mb.activePort()
	if err != nil {
		return 0, err
	}
	slog.Debug("send to modbus rtu master", "response", hex.EncodeToString(respRaw))
	n, err := port.Write(respRaw)
	if err != nil {
		return n, fmt.Errorf("modbus: failed to write response: %w", err)
	}
	return n, nil
}
