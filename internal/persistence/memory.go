// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import "github.com/ffutop/modbus-endpoint/internal/mapping"

// MemoryStorage is a no-op storage (non-persistent).
type MemoryStorage struct{}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (ms *MemoryStorage) Load(m *mapping.Mapping) error {
	return nil
}

func (ms *MemoryStorage) Save(m *mapping.Mapping) error {
	return nil
}

func (ms *MemoryStorage) OnWrite(m *mapping.Mapping, space mapping.Space, address uint16, quantity int) {
	// No-op
}

func (ms *MemoryStorage) Close() error {
	return nil
}
