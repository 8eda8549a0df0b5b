// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ffutop/modbus-endpoint/modbus"
)

// freeAddress reserves a loopback port and releases it for the backend to bind.
func freeAddress(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

func dialWithRetry(t *testing.T, addr string) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	for i := 0; i < 50; i++ {
		conn, err = net.Dial("tcp", addr)
		if err == nil {
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Failed to connect to server after retries, last error: %v", err)
	return nil
}

func TestBackend_ListenAndReply(t *testing.T) {
	addr := freeAddress(t)
	backend := NewBackend(splitHostPort(t, addr))
	defer backend.Close()

	type listenResult struct {
		fd  int
		err error
	}
	done := make(chan listenResult, 1)
	go func() {
		fd, err := backend.Listen(context.Background(), 1)
		done <- listenResult{fd, err}
	}()

	conn := dialWithRetry(t, addr)
	defer conn.Close()

	res := <-done
	if res.err != nil {
		t.Fatalf("Listen failed: %v", res.err)
	}
	if res.fd < 0 {
		t.Errorf("Listen returned fd %d", res.fd)
	}

	// ADU: [TransID(2)] [Proto(2)] [Len(2)] [UnitID(1)] [Func(1)] [Data...]
	reqPDU := []byte{0x03, 0x00, 0x01, 0x00, 0x01}
	reqADU := make([]byte, 7+len(reqPDU))
	binary.BigEndian.PutUint16(reqADU[0:], 123)
	binary.BigEndian.PutUint16(reqADU[2:], 0)
	binary.BigEndian.PutUint16(reqADU[4:], uint16(1+len(reqPDU)))
	reqADU[6] = 9
	copy(reqADU[7:], reqPDU)
	if _, err := conn.Write(reqADU); err != nil {
		t.Fatalf("Failed to write request: %v", err)
	}

	frame := make([]byte, modbus.MaxADULength)
	n, err := backend.ReadIndication(context.Background(), frame)
	if err != nil {
		t.Fatalf("ReadIndication failed: %v", err)
	}
	if n != len(reqADU) {
		t.Fatalf("ReadIndication length = %d, want %d", n, len(reqADU))
	}

	slaveID, pdu, err := backend.Decode(frame[:n])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if slaveID != 9 || pdu.FunctionCode != 0x03 {
		t.Errorf("Decode = %d %02X", slaveID, pdu.FunctionCode)
	}

	if _, err := backend.Reply(frame[:n], modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x02, 0xAA, 0xBB}}); err != nil {
		t.Fatalf("Reply failed: %v", err)
	}

	respBuf := make([]byte, 512)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	rn, err := conn.Read(respBuf)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	if rn != 11 {
		t.Errorf("Response length = %d, want 11", rn)
	}
	if binary.BigEndian.Uint16(respBuf[0:]) != 123 {
		t.Errorf("Wrong TransID: %v", respBuf[:2])
	}
	if binary.BigEndian.Uint16(respBuf[4:]) != 5 {
		t.Errorf("Wrong Length: %v", respBuf[4:6])
	}
	if respBuf[6] != 9 || respBuf[7] != 0x03 {
		t.Errorf("Wrong UnitID/FunctionCode: %02X %02X", respBuf[6], respBuf[7])
	}
}

func waitAccepted(t *testing.T, backend *Backend) {
	t.Helper()
	for i := 0; i < 50 && backend.FileDescriptor() < 0; i++ {
		time.Sleep(10 * time.Millisecond)
	}
	if backend.FileDescriptor() < 0 {
		t.Fatal("server never accepted the client")
	}
}

func TestBackend_ReadIndicationInvalidHeader(t *testing.T) {
	addr := freeAddress(t)
	backend := NewBackend(splitHostPort(t, addr))
	defer backend.Close()

	go backend.Listen(context.Background(), 1)
	conn := dialWithRetry(t, addr)
	defer conn.Close()
	waitAccepted(t, backend)

	// Length field 0x0400 exceeds any Modbus PDU.
	conn.Write([]byte{0x00, 0x01, 0x00, 0x00, 0x04, 0x00, 0x01, 0x03})

	frame := make([]byte, modbus.MaxADULength)
	if _, err := backend.ReadIndication(context.Background(), frame); err == nil {
		t.Error("Expected header validation error")
	}
}

func TestBackend_ReadIndicationSmallBuffer(t *testing.T) {
	backend := NewBackend("127.0.0.1", 502)
	if _, err := backend.ReadIndication(context.Background(), make([]byte, 16)); err == nil {
		t.Error("Expected error for undersized frame buffer")
	}
}

func TestBackend_ListenCancelled(t *testing.T) {
	backend := NewBackend(splitHostPort(t, freeAddress(t)))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := backend.Listen(ctx, 1)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Listen did not return after cancellation")
	}
}

func TestBackend_ReceiveCancelled(t *testing.T) {
	addr := freeAddress(t)
	backend := NewBackend(splitHostPort(t, addr))
	defer backend.Close()

	go backend.Listen(context.Background(), 1)
	conn := dialWithRetry(t, addr)
	defer conn.Close()

	waitAccepted(t, backend)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := backend.Receive(ctx, make([]byte, 16))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
}
