// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"path/filepath"
	"testing"

	"github.com/ffutop/modbus-endpoint/internal/mapping"
)

func benchLayout() mapping.Layout {
	return mapping.Layout{
		Coils:            mapping.Range{Count: 2000},
		HoldingRegisters: mapping.Range{Count: 1000},
	}
}

// BenchmarkMemoryStorage_OnWrite benchmarks the OnWrite hook for MemoryStorage.
func BenchmarkMemoryStorage_OnWrite(b *testing.B) {
	ms := NewMemoryStorage()
	m := newMapping(b, benchLayout())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ms.OnWrite(m, mapping.HoldingRegisters, 10, 1)
	}
}

func BenchmarkFileStorage_OnWrite(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench_file.bin")
	ms := NewFileStorage(path)
	m := newMapping(b, benchLayout())
	if err := ms.Load(m); err != nil {
		b.Fatalf("Failed to load file storage: %v", err)
	}
	defer ms.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Set(mapping.HoldingRegisters, 10, uint16(i))
		ms.OnWrite(m, mapping.HoldingRegisters, 10, 1)
	}
}

// BenchmarkMmapStorage_OnWrite benchmarks the OnWrite hook for MmapStorage (msync).
func BenchmarkMmapStorage_OnWrite(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench_mmap.bin")
	ms := NewMmapStorage(path)
	m := newMapping(b, benchLayout())
	if err := ms.Load(m); err != nil {
		b.Fatalf("Failed to load mmap storage: %v", err)
	}
	defer ms.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Set(mapping.HoldingRegisters, 10, uint16(i))
		ms.OnWrite(m, mapping.HoldingRegisters, 10, 1)
	}
}

func BenchmarkSQLStorage_OnWrite(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench.db")
	ms := NewSQLStorage("sqlite3", path)
	m := newMapping(b, benchLayout())
	if err := ms.Load(m); err != nil {
		b.Fatalf("Failed to load sql storage: %v", err)
	}
	defer ms.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Set(mapping.HoldingRegisters, 10, uint16(i))
		ms.OnWrite(m, mapping.HoldingRegisters, 10, 1)
	}
}

// BenchmarkFileStorage_Load benchmarks the Load operation for FileStorage.
func BenchmarkFileStorage_Load(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench_file_load.bin")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ms := NewFileStorage(path)
		if err := ms.Load(newMapping(b, benchLayout())); err != nil {
			b.Fatalf("Load failed: %v", err)
		}
		ms.Close()
	}
}

// BenchmarkMmapStorage_Load benchmarks the Load operation for MmapStorage.
// Note: This involves file open, fstat, and mmap system calls.
func BenchmarkMmapStorage_Load(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench_mmap_load.bin")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ms := NewMmapStorage(path)
		if err := ms.Load(newMapping(b, benchLayout())); err != nil {
			b.Fatalf("Load failed: %v", err)
		}
		ms.Close()
	}
}

// BenchmarkMapping_Set benchmarks the pure in-memory write (baseline).
func BenchmarkMapping_Set(b *testing.B) {
	m := newMapping(b, benchLayout())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Set(mapping.HoldingRegisters, 10, uint16(i))
	}
}
