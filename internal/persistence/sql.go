// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/ffutop/modbus-endpoint/internal/mapping"
)

const upsertQuery = "INSERT INTO modbus_registers (table_type, address, value) VALUES (?, ?, ?) ON CONFLICT(table_type, address) DO UPDATE SET value=excluded.value"

// SQLStorage implements persistence using a SQL database.
// It assumes a table `modbus_registers` exists (or creates it).
type SQLStorage struct {
	driver string
	dsn    string
	db     *sql.DB
}

// NewSQLStorage creates a new SQLStorage.
// The driver (e.g., sqlite3) must be imported by the caller.
func NewSQLStorage(driver, dsn string) *SQLStorage {
	return &SQLStorage{
		driver: driver,
		dsn:    dsn,
	}
}

// Load connects to the DB and restores every stored value mapped by m.
func (s *SQLStorage) Load(m *mapping.Mapping) error {
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	s.db = db

	if err := s.initSchema(); err != nil {
		s.Close()
		return fmt.Errorf("failed to init schema: %w", err)
	}

	rows, err := db.Query("SELECT table_type, address, value FROM modbus_registers")
	if err != nil {
		s.Close()
		return fmt.Errorf("failed to query registers: %w", err)
	}
	defer rows.Close()

	// Stage into a scratch mapping so restoring does not fire the write hook.
	stored, err := mapping.New(m.Layout())
	if err != nil {
		return err
	}
	for rows.Next() {
		var t, addr, val int
		if err := rows.Scan(&t, &addr, &val); err != nil {
			continue
		}
		if addr < 0 || addr > mapping.MaxAddress {
			continue
		}
		// Rows outside the current layout are kept in the table but not restored.
		_ = stored.Set(mapping.Space(t), uint16(addr), uint16(val))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read registers: %w", err)
	}

	n := m.CopyFrom(stored)
	slog.Info("Mapping restored", "driver", s.driver, "elements", n)
	return nil
}

func (s *SQLStorage) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS modbus_registers (
		table_type INTEGER,
		address INTEGER,
		value INTEGER,
		PRIMARY KEY (table_type, address)
	);
	`
	_, err := s.db.Exec(query)
	return err
}

// Save upserts every mapped element in a single transaction.
func (s *SQLStorage) Save(m *mapping.Mapping) error {
	if s.db == nil {
		return errNotLoaded
	}
	layout := m.Layout()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, space := range []mapping.Space{mapping.Coils, mapping.DiscreteInputs, mapping.HoldingRegisters, mapping.InputRegisters} {
		r, _ := layout.Range(space)
		if r.Count == 0 {
			continue
		}
		if err := upsert(tx, m, space, r.Start, r.Count); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// OnWrite upserts the changed elements to the DB.
func (s *SQLStorage) OnWrite(m *mapping.Mapping, space mapping.Space, address uint16, quantity int) {
	if s.db == nil {
		return
	}
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("Failed to persist registers", "space", space, "addr", address, "err", err)
		return
	}
	if err := upsert(tx, m, space, address, quantity); err != nil {
		tx.Rollback()
		slog.Error("Failed to persist registers", "space", space, "addr", address, "err", err)
		return
	}
	if err := tx.Commit(); err != nil {
		slog.Error("Failed to persist registers", "space", space, "addr", address, "err", err)
	}
}

func upsert(tx *sql.Tx, m *mapping.Mapping, space mapping.Space, address uint16, quantity int) error {
	stmt, err := tx.Prepare(upsertQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := 0; i < quantity; i++ {
		addr := int(address) + i
		val, err := m.Get(space, uint16(addr))
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(int(space), addr, int64(val)); err != nil {
			return fmt.Errorf("failed to persist %s address %d: %w", space, addr, err)
		}
	}
	return nil
}

func (s *SQLStorage) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
