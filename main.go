// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/pflag"

	"github.com/ffutop/modbus-endpoint/endpoint"
	"github.com/ffutop/modbus-endpoint/internal/config"
	"github.com/ffutop/modbus-endpoint/internal/persistence"
	"github.com/ffutop/modbus-endpoint/internal/service"
)

func main() {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	config.Flags(fs)
	showVersion := fs.Bool("version", false, "Print version and exit.")
	fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println(endpoint.Version)
		return
	}

	configFile, _ := fs.GetString("config")
	cfg, err := config.LoadConfig(configFile, fs)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	slog.Info("Starting Modbus endpoint...", "version", endpoint.Version, "role", cfg.Endpoint.Role)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Endpoint stopped with error", "err", err)
		os.Exit(1)
	}
	slog.Info("Goodbye.")
}

func run(ctx context.Context, cfg *config.Config) error {
	ec := cfg.Endpoint
	conn, err := endpoint.New(ec.Address, ec.Port,
		endpoint.WithParity(ec.Parity),
		endpoint.WithDataBits(ec.DataBits),
		endpoint.WithStopBits(ec.StopBits),
		endpoint.WithTimeout(ec.Timeout),
	)
	if err != nil {
		return err
	}
	defer conn.Close()

	if ec.SlaveID != 0 {
		if err := conn.SetSlaveID(byte(ec.SlaveID)); err != nil {
			return err
		}
	}

	switch ec.Role {
	case config.RoleMaster:
		addresses, err := service.ParseAddresses(cfg.Poll.Addresses)
		if err != nil {
			return fmt.Errorf("invalid poll addresses: %w", err)
		}
		if len(addresses) == 0 {
			return errors.New("master role needs poll addresses")
		}
		return service.NewPoller(conn, addresses, cfg.Poll.Interval).Run(ctx)
	default:
		storage, err := persistence.New(cfg.Persistence)
		if err != nil {
			return err
		}
		defer storage.Close()
		return service.NewSlave(conn, cfg.Mapping, storage).Run(ctx)
	}
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stdout: %v\n", err)
			handler = slog.NewTextHandler(os.Stdout, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
