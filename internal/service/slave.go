// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/modbus-endpoint/endpoint"
	"github.com/ffutop/modbus-endpoint/internal/mapping"
	"github.com/ffutop/modbus-endpoint/internal/persistence"
	"github.com/ffutop/modbus-endpoint/transport"
)

// lineErrorPause throttles the serve loop after a garbled RTU frame.
const lineErrorPause = 100 * time.Millisecond

// Slave serves a persisted register mapping over one endpoint connection.
type Slave struct {
	conn    *endpoint.Connection
	layout  mapping.Layout
	storage persistence.Storage
}

// NewSlave creates a new Slave. The caller keeps ownership of conn and storage.
func NewSlave(conn *endpoint.Connection, layout mapping.Layout, storage persistence.Storage) *Slave {
	return &Slave{
		conn:    conn,
		layout:  layout,
		storage: storage,
	}
}

// Run installs the mapping and answers requests until ctx is cancelled.
// A TCP slave waits for the next master whenever the current one goes away.
func (s *Slave) Run(ctx context.Context) error {
	if err := s.install(); err != nil {
		return err
	}
	defer s.save()

	tcp := s.conn.Kind() == transport.TCP
	if !tcp {
		if err := s.conn.Connect(ctx); err != nil {
			return err
		}
		slog.Info("Modbus RTU slave ready", "slave_id", s.conn.SlaveID())
	}

	for {
		if tcp {
			if _, err := s.conn.Listen(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
		err := s.serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && (!tcp || errors.Is(err, endpoint.ErrClosed)) {
			return err
		}
		slog.Info("Modbus master gone, waiting for the next one", "err", err)
	}
}

func (s *Slave) install() error {
	if err := s.conn.NewMapping(s.layout); err != nil {
		return fmt.Errorf("failed to install mapping: %w", err)
	}
	return s.conn.WithMapping(func(m *mapping.Mapping) error {
		if err := s.storage.Load(m); err != nil {
			return fmt.Errorf("failed to load persisted mapping: %w", err)
		}
		m.SetWriteHook(func(space mapping.Space, address uint16, quantity int) {
			s.storage.OnWrite(m, space, address, quantity)
		})
		return nil
	})
}

func (s *Slave) save() {
	err := s.conn.WithMapping(s.storage.Save)
	if err != nil && !errors.Is(err, endpoint.ErrClosed) {
		slog.Error("Failed to save mapping", "err", err)
	}
}

// serve answers requests from the current peer. It returns nil when a TCP
// master disconnects.
func (s *Slave) serve(ctx context.Context) error {
	tcp := s.conn.Kind() == transport.TCP
	for {
		n, _, err := s.conn.Receive(ctx)
		switch {
		case err == nil:
			continue
		case ctx.Err() != nil:
			return ctx.Err()
		case n > 0:
			// The frame was read; only this request failed.
			slog.Warn("Dropping malformed request", "len", n, "err", err)
			continue
		case tcp && errors.Is(err, transport.ErrNoData):
			return nil
		case tcp, errors.Is(err, endpoint.ErrClosed), errors.Is(err, transport.ErrNotConnected):
			return err
		}

		slog.Warn("Discarding garbled frame", "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lineErrorPause):
		}
	}
}
