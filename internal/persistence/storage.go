// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ffutop/modbus-endpoint/internal/config"
	"github.com/ffutop/modbus-endpoint/internal/mapping"
)

// Storage persists the register mapping served by a slave endpoint.
type Storage interface {
	// Load restores every stored value whose address is mapped by m.
	// Nothing stored yet is not an error.
	Load(m *mapping.Mapping) error

	// Save writes a full snapshot of m.
	Save(m *mapping.Mapping) error

	// OnWrite is called after quantity elements starting at address changed in m.
	// It runs while the connection guard is held.
	OnWrite(m *mapping.Mapping, space mapping.Space, address uint16, quantity int)

	Close() error
}

// New builds the storage selected by cfg.
func New(cfg config.PersistenceConfig) (Storage, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		return NewFileStorage(cfg.Path), nil
	case "mmap":
		return NewMmapStorage(cfg.Path), nil
	case "sql":
		return NewSQLStorage(cfg.Driver, cfg.Path), nil
	default:
		return nil, fmt.Errorf("unknown persistence type %q", cfg.Type)
	}
}

// openSnapshot opens path, creating it if necessary, and returns its current contents.
func openSnapshot(path string) (*os.File, []byte, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open file: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	data := make([]byte, fi.Size())
	if _, err := f.ReadAt(data, 0); err != nil && len(data) > 0 {
		f.Close()
		return nil, nil, fmt.Errorf("failed to read file: %w", err)
	}
	return f, data, nil
}

// restore copies a stored snapshot into m. An empty or foreign file restores nothing.
func restore(m *mapping.Mapping, data []byte, path string) {
	if len(data) == 0 {
		return
	}
	stored, err := mapping.Decode(data)
	if err != nil {
		slog.Warn("Ignoring unreadable mapping snapshot", "path", path, "err", err)
		return
	}
	n := m.CopyFrom(stored)
	slog.Info("Mapping restored", "path", path, "elements", n)
}
