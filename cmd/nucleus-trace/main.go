// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

// nucleus-trace inspects kernel trace data, either live over the
// diagnostic socket or from a snapshot archive written by
// nucleus-kernel --trace-archive.
//
// Usage:
//
//	nucleus-trace --socket /run/nucleus/diag.sock [--count N]
//	nucleus-trace --socket /run/nucleus/diag.sock --status
//	nucleus-trace <archive-file>
//
// Events are colored by category when stdout is a terminal.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/nucleus-foundation/nucleus/kernel"
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
	var socketPath string
	var count int
	var status bool
	var showVersion bool

	flagSet := pflag.NewFlagSet("nucleus-trace", pflag.ContinueOnError)
	flagSet.StringVar(&socketPath, "socket", "", "kernel diagnostic socket to query")
	flagSet.IntVar(&count, "count", 0, "number of events to dump (0: server default)")
	flagSet.BoolVar(&status, "status", false, "print kernel component statistics instead of events")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if showVersion {
		version.Print("nucleus-trace")
		return nil
	}

	args := flagSet.Args()
	switch {
	case socketPath != "" && len(args) == 0:
		if status {
			return printStatus(socketPath)
		}
		return dumpLive(socketPath, count)
	case socketPath == "" && len(args) == 1:
		return dumpArchive(args[0])
	default:
		return fmt.Errorf("usage: nucleus-trace --socket PATH [--count N] [--status], or nucleus-trace ARCHIVE")
	}
}

// dumpLive asks the kernel for its most recent events.
func dumpLive(socketPath string, count int) error {
	client := service.NewClient(socketPath)
	var events []trace.Event
	fields := map[string]any{}
	if count > 0 {
		fields["count"] = count
	}
	if err := client.Call(context.Background(), "trace-dump", fields, &events); err != nil {
		return err
	}
	printEvents(events)
	return nil
}

// dumpArchive prints a snapshot archive file.
func dumpArchive(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	snapshot, err := trace.ReadArchive(file)
	if err != nil {
		return fmt.Errorf("reading archive %s: %w", path, err)
	}
	fmt.Printf("archive: capacity=%d total_emitted=%d deterministic=%v events=%d\n",
		snapshot.Capacity, snapshot.TotalEmitted, snapshot.Deterministic, len(snapshot.Events))
	printEvents(snapshot.Events)
	return nil
}

// printStatus prints every kernel component's counters.
func printStatus(socketPath string) error {
	client := service.NewClient(socketPath)
	var status kernel.Status
	if err := client.Call(context.Background(), "status", nil, &status); err != nil {
		return err
	}

	fmt.Printf("scheduler: tick=%d switches=%d ready=%d blocked=%d spawned=%d terminated=%d idle_ticks=%d\n",
		status.Scheduler.Tick, status.Scheduler.ContextSwitches,
		status.Scheduler.ReadyCount, status.Scheduler.BlockedCount,
		status.Scheduler.Spawned, status.Scheduler.Terminated, status.Scheduler.IdleTicks)
	fmt.Printf("channels:  active=%d created=%d closed=%d sent=%d received=%d blocked_sends=%d blocked_receives=%d\n",
		status.Channels.ChannelsActive, status.Channels.ChannelsCreated,
		status.Channels.ChannelsClosed, status.Channels.MessagesSent,
		status.Channels.MessagesReceived, status.Channels.SendsBlocked,
		status.Channels.ReceivesBlocked)
	fmt.Printf("security:  live=%d resources=%d validations=%d violations=%d revocations=%d\n",
		status.Capability.CapabilitiesLive, status.Capability.Resources,
		status.Capability.Validations, status.Capability.Violations,
		status.Capability.Revocations)
	fmt.Printf("trace:     recorded=%d capacity=%d enabled=%v deterministic=%v\n",
		status.Trace.EventsRecorded, status.Trace.Capacity,
		status.Trace.Enabled, status.Trace.Deterministic)
	return nil
}
