// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ffutop/modbus-endpoint/internal/mapping"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	RoleSlave  = "slave"
	RoleMaster = "master"
)

// Config defines the global configuration structure
type Config struct {
	Endpoint    EndpointConfig    `mapstructure:"endpoint"`
	Mapping     mapping.Layout    `mapstructure:"mapping"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Poll        PollConfig        `mapstructure:"poll"`
	Log         LogConfig         `mapstructure:"log"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// EndpointConfig describes the single Modbus connection of the process.
type EndpointConfig struct {
	Role     string        `mapstructure:"role"`      // "slave" or "master"
	Address  string        `mapstructure:"address"`   // host, or serial device when Port is a baud rate
	Port     int           `mapstructure:"port"`      // tcp port below 9600, baud rate otherwise
	Parity   string        `mapstructure:"parity"`    // N, E, O
	DataBits int           `mapstructure:"data_bits"` // 5..8
	StopBits int           `mapstructure:"stop_bits"` // 1..2
	SlaveID  int           `mapstructure:"slave_id"`  // 0 keeps the transport default
	Timeout  time.Duration `mapstructure:"timeout"`   // master response timeout
}

// PersistenceConfig defines data storage settings
type PersistenceConfig struct {
	Type   string `mapstructure:"type"`   // "memory", "file", "mmap", "sql"
	Path   string `mapstructure:"path"`   // file path, or DSN for "sql"
	Driver string `mapstructure:"driver"` // database/sql driver for "sql"
}

// PollConfig drives the master role.
type PollConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Addresses string        `mapstructure:"addresses"` // e.g. "0-9,20"
}

// Flags registers the command line overrides on fs.
func Flags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Configuration file path.")
	fs.StringP("role", "r", "", "Endpoint role (slave, master).")
	fs.StringP("address", "a", "", "TCP host or serial device.")
	fs.IntP("port", "p", 0, "TCP port, or serial baud rate when >= 9600.")
	fs.StringP("log-level", "v", "", "Log verbosity level (debug, info, warn, error).")
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"role":      "endpoint.role",
	"address":   "endpoint.address",
	"port":      "endpoint.port",
	"log-level": "log.level",
}

// LoadConfig loads configuration from file. Flags set on fs take precedence over the file.
// fs may be nil.
func LoadConfig(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/modbus-endpoint/")
		v.AddConfigPath("$HOME/.modbus-endpoint")
		v.AddConfigPath(".")
	}

	// Set defaults
	v.SetDefault("endpoint.role", RoleSlave)
	v.SetDefault("endpoint.address", "0.0.0.0")
	v.SetDefault("endpoint.port", 502)
	v.SetDefault("endpoint.parity", "N")
	v.SetDefault("endpoint.data_bits", 8)
	v.SetDefault("endpoint.stop_bits", 1)
	v.SetDefault("persistence.type", "memory")
	v.SetDefault("persistence.driver", "sqlite3")
	v.SetDefault("poll.interval", time.Second)
	v.SetDefault("log.level", "info")

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No file in the search path: defaults and flags only.
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.fixup(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) fixup() error {
	c.Endpoint.Role = strings.ToLower(c.Endpoint.Role)
	c.Endpoint.Parity = strings.ToUpper(c.Endpoint.Parity)
	c.Persistence.Type = strings.ToLower(c.Persistence.Type)

	switch c.Endpoint.Role {
	case RoleSlave, RoleMaster:
	default:
		return fmt.Errorf("unknown endpoint role %q", c.Endpoint.Role)
	}
	if c.Endpoint.SlaveID < 0 || c.Endpoint.SlaveID > 255 {
		return fmt.Errorf("slave id out of range: %d", c.Endpoint.SlaveID)
	}
	switch c.Persistence.Type {
	case "memory", "file", "mmap", "sql":
	default:
		return fmt.Errorf("unknown persistence type %q", c.Persistence.Type)
	}
	if c.Persistence.Type != "memory" && c.Persistence.Path == "" {
		return fmt.Errorf("persistence type %q needs a path", c.Persistence.Type)
	}
	if c.Poll.Interval <= 0 {
		c.Poll.Interval = time.Second
	}
	return nil
}
