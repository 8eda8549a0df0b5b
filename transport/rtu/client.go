// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/modbus-endpoint/modbus"
	rtupacket "github.com/ffutop/modbus-endpoint/modbus/rtu"
)

// Transact sends a PDU to the configured slave and returns its response PDU.
func (mb *Backend) Transact(ctx context.Context, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	adu := &rtupacket.ApplicationDataUnit{
		SlaveID: mb.SlaveID(),
		Pdu:     pdu,
	}
	aduBytes, err := adu.Encode()
	if err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to encode ADU: %w", err)
	}

	respBytes, err := mb.send(ctx, aduBytes)
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}

	respAdu, err := rtupacket.Decode(respBytes)
	if err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to decode response ADU: %w", err)
	}
	if err := adu.Verify(respAdu); err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("verification failed: %w", err)
	}
	return respAdu.Pdu, nil
}

func (mb *Backend) send(ctx context.Context, aduRequest []byte) ([]byte, error) {
	port, err := mb.activePort()
	if err != nil {
		return nil, err
	}

	slog.Debug("send to modbus rtu slave", "request", hex.EncodeToString(aduRequest))
	if _, err = port.Write(aduRequest); err != nil {
		return nil, fmt.Errorf("modbus: failed to write to %s: %w", mb.Address, err)
	}

	bytesToRead := rtupacket.CalculateResponseLength(aduRequest)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(mb.calculateDelay(len(aduRequest) + bytesToRead)):
	}

	timeout := mb.Timeout
	if timeout <= 0 {
		timeout = serialTimeout
	}
	deadline := time.Now().Add(timeout)
	reader := &ctxReader{ctx: ctx, r: port, deadline: deadline}
	data, err := rtupacket.ReadResponse(aduRequest[0], aduRequest[1], reader, deadline)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	slog.Debug("recv from modbus rtu slave", "response", hex.EncodeToString(data))
	return data, nil
}

// calculateDelay calculates the needed delay to separate frames.
func (mb *Backend) calculateDelay(chars int) time.Duration {
	var characterDelay, frameDelay int

	if mb.BaudRate <= 0 || mb.BaudRate > 19200 {
		characterDelay = 750
		frameDelay = 1750
	} else {
		characterDelay = 15000000 / mb.BaudRate
		frameDelay = 35000000 / mb.BaudRate
	}
	return time.Duration(characterDelay*chars+frameDelay) * time.Microsecond
}
