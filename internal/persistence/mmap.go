// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/ffutop/modbus-endpoint/internal/mapping"
)

// MmapStorage keeps the mapping snapshot in a memory-mapped file and flushes the
// mapped pages after every write.
type MmapStorage struct {
	path string
	file *os.File
	data mmap.MMap
}

// NewMmapStorage creates a new MmapStorage.
func NewMmapStorage(path string) *MmapStorage {
	return &MmapStorage{
		path: path,
	}
}

// Load restores the previous snapshot and maps the file sized for the layout of m.
func (ms *MmapStorage) Load(m *mapping.Mapping) error {
	f, data, err := openSnapshot(ms.path)
	if err != nil {
		return err
	}
	restore(m, data, ms.path)

	if err := f.Truncate(int64(mapping.SnapshotSize(m.Layout()))); err != nil {
		f.Close()
		return fmt.Errorf("failed to resize mmap file: %w", err)
	}
	mm, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return fmt.Errorf("mmap failed: %w", err)
	}
	ms.file = f
	ms.data = mm
	return ms.Save(m)
}

// Save encodes m into the mapped region and flushes it to disk.
func (ms *MmapStorage) Save(m *mapping.Mapping) error {
	if ms.data == nil {
		return errNotLoaded
	}
	if err := m.EncodeTo(ms.data); err != nil {
		return err
	}
	return ms.data.Flush()
}

// OnWrite encodes the touched elements into the mapped region and flushes it.
func (ms *MmapStorage) OnWrite(m *mapping.Mapping, space mapping.Space, address uint16, quantity int) {
	if ms.data == nil {
		return
	}
	if _, _, err := m.EncodeRange(ms.data, space, address, quantity); err != nil {
		slog.Error("Failed to update mmap", "path", ms.path, "space", space, "addr", address, "err", err)
		return
	}
	if err := ms.data.Flush(); err != nil {
		slog.Error("Failed to flush mmap", "path", ms.path, "space", space, "addr", address, "err", err)
	}
}

// Close unmaps and closes the file.
func (ms *MmapStorage) Close() error {
	var err error
	if ms.data != nil {
		if e := ms.data.Unmap(); e != nil {
			err = e
		}
		ms.data = nil
	}
	if ms.file != nil {
		if e := ms.file.Close(); e != nil {
			err = e
		}
		ms.file = nil
	}
	return err
}
