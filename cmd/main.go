// Copyright (c) RewindMQ
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rewindmq/rewind/config"
	"github.com/rewindmq/rewind/logstore"
	"github.com/rewindmq/rewind/logstore/badger"
	"github.com/rewindmq/rewind/logstore/memory"
	"github.com/rewindmq/rewind/replay"
	"github.com/rewindmq/rewind/server/http"
	"github.com/rewindmq/rewind/server/otel"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup logging
	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("Starting replay service", "version", cfg.Server.OtelServiceVersion)
	slog.Info("Configuration loaded",
		"http_addr", cfg.Server.HTTPAddr,
		"storage_type", cfg.Storage.Type,
		"log_level", cfg.Log.Level)

	// Initialize OpenTelemetry if enabled
	if cfg.Server.MetricsEnabled {
		shutdown, err := otel.InitProvider(cfg.Server)
		if err != nil {
			slog.Error("Failed to initialize OpenTelemetry", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				slog.Error("OpenTelemetry shutdown error", "error", err)
			}
		}()
		slog.Info("OpenTelemetry initialized", "endpoint", cfg.Server.MetricsAddr)
	}

	metrics, err := replay.NewMetrics()
	if err != nil {
		slog.Error("Failed to create metrics", "error", err)
		os.Exit(1)
	}

	compression, err := logstore.ParseCompression(cfg.Storage.Compression)
	if err != nil {
		slog.Error("Invalid compression type", "error", err)
		os.Exit(1)
	}

	// Initialize the log backend
	var log logstore.Log
	switch cfg.Storage.Type {
	case "memory":
		log = memory.New(
			memory.WithCompression(compression),
			memory.WithAutoCreate(true),
		)
		slog.Info("Using in-memory log")
	case "badger":
		badgerLog, err := badger.Open(badger.Config{
			Dir:         cfg.Storage.BadgerDir,
			Compression: compression,
			AutoCreate:  true,
		})
		if err != nil {
			slog.Error("Failed to open BadgerDB log", "error", err)
			os.Exit(1)
		}
		log = badgerLog
		slog.Info("Using BadgerDB persistent log", "dir", cfg.Storage.BadgerDir)
	default:
		slog.Error("Unknown storage type", "type", cfg.Storage.Type)
		os.Exit(1)
	}
	defer log.Close()

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := replay.NewEngine(ctx, log, replay.EngineConfig{
		TransactionHeader: cfg.Replay.TransactionHeader,
		TimeIndexInterval: cfg.Replay.TimeIndexInterval,
		Scheduler: replay.SchedulerConfig{
			BatchSize:           cfg.Replay.BatchSize,
			MaxAttempts:         cfg.Replay.MaxAttempts,
			InitialBackoff:      cfg.Replay.InitialBackoff,
			MaxBackoff:          cfg.Replay.MaxBackoff,
			PublishRate:         cfg.Replay.PublishRate,
			PublishBurst:        cfg.Replay.PublishBurst,
			BreakerThreshold:    cfg.Replay.BreakerThreshold,
			BreakerResetTimeout: cfg.Replay.BreakerResetTimeout,
		},
	}, logger, metrics)
	if err != nil {
		slog.Error("Failed to create replay engine", "error", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)

	httpServer := http.New(http.Config{
		Address:         cfg.Server.HTTPAddr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, engine, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.Listen(ctx); err != nil {
			serverErr <- err
		}
	}()

	slog.Info("Replay service started")

	// Wait for shutdown signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
		cancel()
	case err := <-serverErr:
		slog.Error("Server error", "error", err)
		cancel()
	}

	wg.Wait()
	slog.Info("Replay service stopped")
}
