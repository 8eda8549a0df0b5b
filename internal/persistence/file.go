// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ffutop/modbus-endpoint/internal/mapping"
)

var errNotLoaded = errors.New("storage not loaded")

// FileStorage keeps a snapshot of the mapping in a regular file, rewritten and
// synced on every write.
type FileStorage struct {
	path string
	file *os.File
	data []byte
}

// NewFileStorage creates a new FileStorage.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{
		path: path,
	}
}

// Load restores the previous snapshot, then rewrites the file for the layout of m.
func (ms *FileStorage) Load(m *mapping.Mapping) error {
	f, data, err := openSnapshot(ms.path)
	if err != nil {
		return err
	}
	restore(m, data, ms.path)

	size := mapping.SnapshotSize(m.Layout())
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return fmt.Errorf("failed to resize file: %w", err)
	}
	ms.file = f
	ms.data = make([]byte, size)
	return ms.Save(m)
}

// Save writes the snapshot and flushes it to disk.
func (ms *FileStorage) Save(m *mapping.Mapping) error {
	if ms.file == nil {
		return errNotLoaded
	}
	if size := mapping.SnapshotSize(m.Layout()); len(ms.data) != size {
		ms.data = make([]byte, size)
		if err := ms.file.Truncate(int64(size)); err != nil {
			return fmt.Errorf("failed to resize file: %w", err)
		}
	}
	if err := m.EncodeTo(ms.data); err != nil {
		return err
	}
	if _, err := ms.file.WriteAt(ms.data, 0); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := ms.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file to disk: %w", err)
	}
	return nil
}

// OnWrite writes the touched elements at their snapshot offsets and syncs the file.
func (ms *FileStorage) OnWrite(m *mapping.Mapping, space mapping.Space, address uint16, quantity int) {
	if ms.file == nil {
		return
	}
	if err := ms.writeRange(m, space, address, quantity); err != nil {
		slog.Error("Failed to sync file", "path", ms.path, "space", space, "addr", address, "err", err)
	}
}

func (ms *FileStorage) writeRange(m *mapping.Mapping, space mapping.Space, address uint16, quantity int) error {
	start, end, err := m.EncodeRange(ms.data, space, address, quantity)
	if err != nil {
		return err
	}
	if _, err := ms.file.WriteAt(ms.data[start:end], int64(start)); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return ms.file.Sync()
}

// Close the file.
func (ms *FileStorage) Close() error {
	if ms.file == nil {
		return nil
	}
	err := ms.file.Close()
	ms.file = nil
	return err
}
