// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package endpoint

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/ffutop/modbus-endpoint/internal/mapping"
)

// freeAddress reserves a loopback port and releases it for the code under test to bind.
func freeAddress(t testing.TB) (string, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	_, portStr, _ := net.SplitHostPort(l.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return "127.0.0.1", port
}

// startSlave serves layout on a fresh loopback port until the test ends.
func startSlave(t testing.TB, layout mapping.Layout) (*Connection, string, int) {
	t.Helper()
	host, port := freeAddress(t)
	slave, err := NewTCP(host, port)
	if err != nil {
		t.Fatal(err)
	}
	if err := slave.NewMapping(layout); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := slave.Listen(ctx); err != nil {
			return
		}
		for {
			// A request level failure still reports the bytes read.
			if n, _, err := slave.Receive(ctx); err != nil && n == 0 {
				return
			}
		}
	}()
	t.Cleanup(func() {
		cancel()
		slave.Close()
		<-done
	})
	return slave, host, port
}

// connectWithRetry dials until the peer listens.
func connectWithRetry(t testing.TB, c *Connection) {
	t.Helper()
	var err error
	for i := 0; i < 50; i++ {
		if err = c.Connect(context.Background()); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Connect failed after retries: %v", err)
}
