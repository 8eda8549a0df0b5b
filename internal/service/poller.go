// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/ffutop/modbus-endpoint/endpoint"
)

// Poller reads a fixed set of holding registers from a remote slave at a fixed interval.
type Poller struct {
	conn      *endpoint.Connection
	addresses []uint16
	interval  time.Duration

	// OnPoll receives the values of every successful cycle. Defaults to logging them.
	OnPoll func(values map[uint16]uint16)
}

// NewPoller creates a new Poller. The caller keeps ownership of conn.
func NewPoller(conn *endpoint.Connection, addresses []uint16, interval time.Duration) *Poller {
	p := &Poller{
		conn:      conn,
		addresses: addresses,
		interval:  interval,
	}
	p.OnPoll = p.logValues
	return p
}

// Run connects and polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.conn.Connect(ctx); err != nil {
		return err
	}
	slog.Info("Polling remote slave", "slave_id", p.conn.SlaveID(), "addresses", len(p.addresses), "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		p.poll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	values := make(map[uint16]uint16, len(p.addresses))
	for start := 0; start < len(p.addresses); start += endpoint.MaxBatch {
		batch := p.addresses[start:min(start+endpoint.MaxBatch, len(p.addresses))]
		got, err := p.conn.Read(ctx, batch)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Poll failed", "err", err)
			}
			return
		}
		for addr, v := range got {
			values[addr] = v
		}
	}
	if p.OnPoll != nil {
		p.OnPoll(values)
	}
}

func (p *Poller) logValues(values map[uint16]uint16) {
	for _, addr := range p.addresses {
		slog.Info("Register", "addr", addr, "value", values[addr])
	}
}
