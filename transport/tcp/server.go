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
	"time"

	"github.com/ffutop/modbus-endpoint/modbus"
	"github.com/ffutop/modbus-endpoint/transport"
)

// Listen binds Address, accepts exactly one master and makes it the active socket.
// The listening socket is closed once the peer is accepted.
//
// backlog is kept for parity with the BSD socket API; the Go runtime sizes the
// kernel queue itself.
func (mb *Backend) Listen(ctx context.Context, backlog int) (int, error) {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", mb.Address)
	if err != nil {
		return -1, fmt.Errorf("modbus: failed to listen on %s: %w", mb.Address, err)
	}
	defer listener.Close()
	slog.Info("Modbus TCP server listening", "addr", listener.Addr(), "backlog", backlog)

	stop := context.AfterFunc(ctx, func() {
		listener.Close()
	})
	defer stop()

	conn, err := listener.Accept()
	if err != nil {
		return -1, transport.ContextError(ctx, fmt.Errorf("modbus: failed to accept on %s: %w", mb.Address, err))
	}
	mb.swap(conn)
	slog.Info("New TCP client connected", "addr", conn.RemoteAddr())
	return transport.FileDescriptor(conn), nil
}

// ReadIndication reads one MBAP framed request into frame.
func (mb *Backend) ReadIndication(ctx context.Context, frame []byte) (int, error) {
	if len(frame) < tcpMaxSize {
		return 0, fmt.Errorf("modbus: frame buffer of %d bytes is smaller than %d", len(frame), tcpMaxSize)
	}
	conn, err := mb.activeConn()
	if err != nil {
		return 0, err
	}
	stop := interruptOnDone(ctx, conn, time.Time{})
	defer stop()

	n, err := io.ReadFull(conn, frame[:tcpHeaderSize])
	if err != nil {
		if err == io.EOF {
			slog.Info("TCP client disconnected gracefully", "addr", conn.RemoteAddr())
		}
		return n, transport.ContextError(ctx, err)
	}
	length, err := frameLength(frame[:tcpHeaderSize])
	if err != nil {
		return n, err
	}
	if _, err := io.ReadFull(conn, frame[tcpHeaderSize:length]); err != nil {
		return n, transport.ContextError(ctx, err)
	}
	slog.Debug("recv from modbus tcp master", "request", hex.EncodeToString(frame[:length]))
	return length, nil
}

func (mb *Backend) Decode(indication []byte) (byte, modbus.ProtocolDataUnit, error) {
	adu, err := Decode(indication)
	if err != nil {
		return 0, modbus.ProtocolDataUnit{}, err
	}
	return adu.SlaveID, adu.Pdu, nil
}

// Reply answers indication with pdu, echoing its transaction and unit identifiers.
func (mb *Backend) Reply(indication []byte, pdu modbus.ProtocolDataUnit) (int, error) {
	req, err := Decode(indication)
	if err != nil {
		return 0, err
	}
	respAdu := &ApplicationDataUnit{
		TransactionID: req.TransactionID,
		ProtocolID:    req.ProtocolID,
		SlaveID:       req.SlaveID,
		Pdu:           pdu,
	}
	respRaw, err := respAdu.Encode()
	if err != nil {
		return 0, fmt.Errorf("failed to encode TCP response: %w", err)
	}

	conn, err := mb.activeConn()
	if err != nil {
		return 0, err
	}
	slog.Debug("send to modbus tcp master", "response", hex.EncodeToString(respRaw))
	n, err := conn.Write(respRaw)
	if err != nil {
		return n, fmt.Errorf("modbus: failed to write response: %w", err)
	}
	return n, nil
}
