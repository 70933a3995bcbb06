// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

// nucleus-kernel boots a kernel instance, runs the configured
// workload, and serves kernel status and trace dumps on the
// diagnostic socket.
//
// Configuration comes from a single YAML file named by the
// NUCLEUS_CONFIG environment variable or --config; there is no
// discovery. With --demo the kernel boots a self-test workload that
// exercises spawning, channels, capability delegation, and
// revocation.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/nucleus-foundation/nucleus/kernel"
	"github.com/nucleus-foundation/nucleus/lib/codec"
	"github.com/nucleus-foundation/nucleus/lib/config"
	"github.com/nucleus-foundation/nucleus/lib/process"
	"github.com/nucleus-foundation/nucleus/lib/service"
	"github.com/nucleus-foundation/nucleus/lib/trace"
	"github.com/nucleus-foundation/nucleus/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	var archivePath string
	var compression string
	var demo bool
	var showVersion bool

	flagSet := pflag.NewFlagSet("nucleus-kernel", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to nucleus.yaml (default: $NUCLEUS_CONFIG)")
	flagSet.StringVar(&archivePath, "trace-archive", "", "write a trace snapshot archive here on shutdown")
	flagSet.StringVar(&compression, "trace-compression", "lz4", "archive compression: none, lz4, zstd")
	flagSet.BoolVar(&demo, "demo", true, "boot the self-test workload")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if showVersion {
		version.Print("nucleus-kernel")
		return nil
	}

	compressionTag, err := trace.ParseCompressionTag(compression)
	if err != nil {
		return err
	}

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else if os.Getenv("NUCLEUS_CONFIG") != "" {
		cfg, err = config.Load()
	} else {
		cfg = config.Default()
	}
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	logger.Info("starting nucleus-kernel", "version", version.Short(), "build", version.Info())

	k, err := kernel.New(kernel.Options{
		PriorityLevels:         cfg.Scheduler.PriorityLevels,
		TaskCapacity:           cfg.Scheduler.TaskCapacity,
		TickInterval:           cfg.Scheduler.TickInterval.Std(),
		Quantum:                cfg.Scheduler.Quantum,
		MaxChannels:            cfg.IPC.MaxChannels,
		DefaultChannelCapacity: cfg.IPC.DefaultChannelCapacity,
		TraceCapacity:          cfg.Trace.RingCapacity,
		Deterministic:          cfg.Trace.Deterministic,
		Logger:                 logger,
	})
	if err != nil {
		return fmt.Errorf("booting kernel: %w", err)
	}
	k.Ring().SetEnabled(cfg.Trace.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The diagnostic socket runs beside the kernel and only reads
	// component stats and the trace ring.
	diagDone := make(chan error, 1)
	if cfg.Diag.SocketPath != "" {
		server := service.NewSocketServer(cfg.Diag.SocketPath, logger)
		server.Handle("status", func(ctx context.Context, raw []byte) (any, error) {
			return k.Stats(), nil
		})
		server.Handle("trace-dump", func(ctx context.Context, raw []byte) (any, error) {
			var request struct {
				Count int `cbor:"count"`
			}
			if err := codec.Unmarshal(raw, &request); err != nil {
				return nil, fmt.Errorf("invalid trace-dump request: %w", err)
			}
			if request.Count <= 0 {
				request.Count = cfg.Diag.DumpCount
			}
			return k.Ring().DumpLast(request.Count), nil
		})
		go func() { diagDone <- server.Serve(ctx) }()
	} else {
		diagDone <- nil
	}

	if demo {
		if err := spawnDemoWorkload(k, logger); err != nil {
			return fmt.Errorf("spawning demo workload: %w", err)
		}
	}

	runErr := k.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		// An operator interrupt is a normal shutdown.
		runErr = nil
	}

	stop()
	if err := <-diagDone; err != nil {
		logger.Warn("diagnostic socket", "error", err)
	}

	if archivePath != "" {
		if err := writeArchive(k, archivePath, compressionTag); err != nil {
			logger.Error("writing trace archive", "path", archivePath, "error", err)
		} else {
			logger.Info("trace archive written", "path", archivePath, "compression", compressionTag)
		}
	}
	return runErr
}

func writeArchive(k *kernel.Kernel, path string, tag trace.CompressionTag) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := trace.WriteArchive(file, k.Ring().Snapshot(), tag); err != nil {
		return err
	}
	return file.Close()
}
