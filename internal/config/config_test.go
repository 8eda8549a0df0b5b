// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
endpoint:
  role: Master
  address: /dev/ttyUSB0
  port: 19200
  parity: e
  slave_id: 17
  timeout: 250ms
mapping:
  coils: {start: 0, count: 16}
  holding_registers: {start: 100, count: 50}
persistence:
  type: mmap
  path: /var/lib/modbus/registers.bin
poll:
  interval: 2s
  addresses: "100-104,120"
log:
  level: debug
`)

	cfg, err := LoadConfig(path, nil)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Endpoint.Role != RoleMaster || cfg.Endpoint.Port != 19200 || cfg.Endpoint.Parity != "E" {
		t.Errorf("endpoint = %+v", cfg.Endpoint)
	}
	if cfg.Endpoint.DataBits != 8 || cfg.Endpoint.StopBits != 1 {
		t.Errorf("serial defaults not applied: %+v", cfg.Endpoint)
	}
	if cfg.Endpoint.SlaveID != 17 || cfg.Endpoint.Timeout != 250*time.Millisecond {
		t.Errorf("endpoint = %+v", cfg.Endpoint)
	}
	if cfg.Mapping.HoldingRegisters.Start != 100 || cfg.Mapping.HoldingRegisters.Count != 50 {
		t.Errorf("mapping = %+v", cfg.Mapping)
	}
	if cfg.Mapping.InputRegisters.Count != 0 {
		t.Errorf("absent space got count %d", cfg.Mapping.InputRegisters.Count)
	}
	if cfg.Persistence.Type != "mmap" || cfg.Persistence.Driver != "sqlite3" {
		t.Errorf("persistence = %+v", cfg.Persistence)
	}
	if cfg.Poll.Interval != 2*time.Second || cfg.Poll.Addresses != "100-104,120" {
		t.Errorf("poll = %+v", cfg.Poll)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	path := writeConfig(t, `
endpoint:
  role: slave
  address: 0.0.0.0
  port: 502
`)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	if err := fs.Parse([]string{"--port", "1502", "-v", "warn"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path, fs)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Endpoint.Port != 1502 {
		t.Errorf("port = %d, want flag value 1502", cfg.Endpoint.Port)
	}
	if cfg.Endpoint.Address != "0.0.0.0" || cfg.Endpoint.Role != RoleSlave {
		t.Errorf("unset flags overrode the file: %+v", cfg.Endpoint)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown role", "endpoint:\n  role: gateway\n"},
		{"slave id", "endpoint:\n  slave_id: 300\n"},
		{"persistence type", "persistence:\n  type: redis\n"},
		{"persistence path", "persistence:\n  type: file\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.content), nil); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Error("expected error for explicit missing file")
	}
}
