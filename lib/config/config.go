// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written in the
// usual "5ms" / "1s" form.
type Duration time.Duration

// UnmarshalYAML parses the scalar with time.ParseDuration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String returns the usual duration form.
func (d Duration) String() string { return time.Duration(d).String() }

// Config is the master configuration for a kernel instance.
type Config struct {
	// Scheduler configures the task scheduler.
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// IPC configures the channel registry.
	IPC IPCConfig `yaml:"ipc"`

	// Trace configures the trace ring.
	Trace TraceConfig `yaml:"trace"`

	// Diag configures the diagnostic socket.
	Diag DiagConfig `yaml:"diag"`
}

// SchedulerConfig configures the task scheduler.
type SchedulerConfig struct {
	// PriorityLevels is the number of priority levels (1..64).
	// Numerically lower levels are more urgent.
	PriorityLevels int `yaml:"priority_levels"`

	// TaskCapacity bounds the number of live tasks.
	TaskCapacity int `yaml:"task_capacity"`

	// TickInterval is the wall-clock period of the preemption timer.
	TickInterval Duration `yaml:"tick_interval"`

	// Quantum is the number of program steps a task may take per
	// dispatch before being preempted.
	Quantum int `yaml:"quantum"`
}

// IPCConfig configures the channel registry.
type IPCConfig struct {
	// MaxChannels bounds the channel table.
	MaxChannels int `yaml:"max_channels"`

	// DefaultChannelCapacity is used when channel_create does not
	// specify a capacity.
	DefaultChannelCapacity int `yaml:"default_channel_capacity"`
}

// TraceConfig configures the trace ring.
type TraceConfig struct {
	// RingCapacity is the number of event slots; the retention window.
	RingCapacity int `yaml:"ring_capacity"`

	// Deterministic selects logical-counter timestamps instead of
	// wall-clock time, for reproducible runs.
	Deterministic bool `yaml:"deterministic"`

	// Enabled turns event recording on at boot.
	Enabled bool `yaml:"enabled"`
}

// DiagConfig configures the diagnostic socket.
type DiagConfig struct {
	// SocketPath is the Unix socket the kernel serves status and
	// trace dumps on. Empty disables the socket.
	SocketPath string `yaml:"socket_path"`

	// DumpCount is the default number of events returned by a trace
	// dump request.
	DumpCount int `yaml:"dump_count"`
}

// Default returns a configuration with usable defaults for local
// runs: 4 priority levels, a millisecond tick, tracing enabled.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			PriorityLevels: 4,
			TaskCapacity:   256,
			TickInterval:   Duration(time.Millisecond),
			Quantum:        8,
		},
		IPC: IPCConfig{
			MaxChannels:            1024,
			DefaultChannelCapacity: 64,
		},
		Trace: TraceConfig{
			RingCapacity: 4096,
			Enabled:      true,
		},
		Diag: DiagConfig{
			SocketPath: "/run/nucleus/diag.sock",
			DumpCount:  32,
		},
	}
}

// Load loads configuration from the file named by NUCLEUS_CONFIG.
// There are no fallbacks: if the variable is not set, Load fails.
func Load() (*Config, error) {
	path := os.Getenv("NUCLEUS_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("NUCLEUS_CONFIG environment variable not set; " +
			"set it to the path of your nucleus.yaml config file, or use --config")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merging it
// over Default. The file is the single source of truth; environment
// variables never override its values.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field ranges. Called by LoadFile; callers building
// a Config by hand should call it themselves.
func (c *Config) Validate() error {
	if c.Scheduler.PriorityLevels < 1 || c.Scheduler.PriorityLevels > 64 {
		return fmt.Errorf("scheduler.priority_levels %d out of range 1..64", c.Scheduler.PriorityLevels)
	}
	if c.Scheduler.TaskCapacity < 1 {
		return fmt.Errorf("scheduler.task_capacity %d must be positive", c.Scheduler.TaskCapacity)
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval %s must be positive", c.Scheduler.TickInterval)
	}
	if c.Scheduler.Quantum < 1 {
		return fmt.Errorf("scheduler.quantum %d must be positive", c.Scheduler.Quantum)
	}
	if c.IPC.MaxChannels < 1 {
		return fmt.Errorf("ipc.max_channels %d must be positive", c.IPC.MaxChannels)
	}
	if c.IPC.DefaultChannelCapacity < 1 {
		return fmt.Errorf("ipc.default_channel_capacity %d must be positive", c.IPC.DefaultChannelCapacity)
	}
	if c.Trace.RingCapacity < 1 {
		return fmt.Errorf("trace.ring_capacity %d must be positive", c.Trace.RingCapacity)
	}
	if c.Diag.DumpCount < 1 {
		return fmt.Errorf("diag.dump_count %d must be positive", c.Diag.DumpCount)
	}
	return nil
}
