// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/ffutop/modbus-endpoint/modbus"
	"github.com/ffutop/modbus-endpoint/transport"
)

// Connect dials the slave. An existing socket is replaced only once the dial succeeded.
func (mb *Backend) Connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: mb.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", mb.Address)
	if err != nil {
		return fmt.Errorf("modbus: failed to connect to %s: %w", mb.Address, err)
	}
	mb.swap(conn)
	slog.Info("Modbus TCP connected", "addr", mb.Address)
	return nil
}

// Transact sends a PDU to the slave and returns the response PDU.
func (mb *Backend) Transact(ctx context.Context, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	conn, err := mb.activeConn()
	if err != nil {
		return modbus.ProtocolDataUnit{}, err
	}

	tid := uint16(atomic.AddUint32(&mb.transactionID, 1))
	adu := &ApplicationDataUnit{
		TransactionID: tid,
		ProtocolID:    0,
		SlaveID:       mb.SlaveID(),
		Pdu:           pdu,
	}
	aduBytes, err := adu.Encode()
	if err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to encode ADU: %w", err)
	}

	var deadline time.Time
	if mb.Timeout > 0 {
		deadline = time.Now().Add(mb.Timeout)
	}
	stop := interruptOnDone(ctx, conn, deadline)
	defer stop()

	respBytes, err := mb.sendAndRead(conn, aduBytes)
	if err != nil {
		if ctxErr := transport.ContextError(ctx, err); ctxErr != err {
			return modbus.ProtocolDataUnit{}, ctxErr
		}
		return modbus.ProtocolDataUnit{}, fmt.Errorf("modbus: transaction with %s failed: %w", mb.Address, err)
	}

	respAdu, err := Decode(respBytes)
	if err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("failed to decode response ADU: %w", err)
	}
	if err := adu.Verify(respAdu); err != nil {
		return modbus.ProtocolDataUnit{}, fmt.Errorf("verification failed: %w", err)
	}
	return respAdu.Pdu, nil
}

func (mb *Backend) sendAndRead(conn net.Conn, aduRequest []byte) ([]byte, error) {
	slog.Debug("send to modbus tcp slave", "request", hex.EncodeToString(aduRequest))
	if _, err := conn.Write(aduRequest); err != nil {
		return nil, err
	}

	response := make([]byte, tcpMaxSize)
	if _, err := io.ReadFull(conn, response[:tcpHeaderSize]); err != nil {
		return nil, err
	}
	length, err := frameLength(response[:tcpHeaderSize])
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(conn, response[tcpHeaderSize:length]); err != nil {
		return nil, err
	}

	slog.Debug("recv from modbus tcp slave", "response", hex.EncodeToString(response[:length]))
	return response[:length], nil
}
