// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nucleus-foundation/nucleus/lib/capability"
	"github.com/nucleus-foundation/nucleus/lib/clock"
	"github.com/nucleus-foundation/nucleus/lib/ipc"
	"github.com/nucleus-foundation/nucleus/lib/kerror"
	"github.com/nucleus-foundation/nucleus/lib/sched"
	"github.com/nucleus-foundation/nucleus/lib/trace"
)

// PanicDumpCount is how many trailing trace events the panic path
// logs before the kernel halts.
const PanicDumpCount = 32

// Options configures a kernel at boot. The zero value of any field
// selects a sensible default.
type Options struct {
	// PriorityLevels is the number of scheduler priority levels.
	PriorityLevels int

	// TaskCapacity bounds the number of live tasks.
	TaskCapacity int

	// MaxChannels bounds the channel table.
	MaxChannels int

	// DefaultChannelCapacity is used when channel_create is called
	// with a non-positive capacity.
	DefaultChannelCapacity int

	// TraceCapacity is the trace ring's slot count.
	TraceCapacity int

	// Deterministic selects logical trace timestamps.
	Deterministic bool

	// TickInterval is the wall-clock period of the preemption timer.
	TickInterval time.Duration

	// Quantum is the number of program steps a task may take per
	// dispatch before it is preempted back to its ready queue.
	Quantum int

	// Clock drives the run loop; tests inject a fake.
	Clock clock.Clock

	// Logger receives readiness markers, task lifecycle messages, and
	// the panic dump.
	Logger *slog.Logger
}

// Completion is the result of a suspended syscall, delivered through
// TaskContext on the first step after the task wakes.
type Completion struct {
	// Messages carries the delivery for a suspended receive. Empty
	// for completed sends and sleeps.
	Messages []ipc.Message

	// Err is nil on success, a ChannelClosed error when the channel
	// was closed under the waiter, or a Timeout error when the
	// operation's deadline expired first.
	Err error
}

// Kernel is the kernel context: the four core components plus the
// task program table and the completion stash. Syscalls only ever run
// on the run-loop goroutine; the mutex exists for the diagnostic
// status path, which reads from the socket server's goroutine.
type Kernel struct {
	log   *slog.Logger
	clk   clock.Clock
	ring  *trace.Ring
	caps  *capability.Table
	tasks *sched.Scheduler
	chans *ipc.Registry

	tickInterval time.Duration
	quantum      int

	mu          sync.Mutex
	programs    map[sched.TaskID]Program
	completions map[sched.TaskID]Completion
}

// New boots a kernel context: trace ring first so every component can
// emit from its constructor onward, then scheduler, capability table,
// and channel registry. Each readiness marker is logged after its
// component is usable and before any task is spawned.
func New(opts Options) (*Kernel, error) {
	if opts.PriorityLevels <= 0 {
		opts.PriorityLevels = sched.DefaultLevels
	}
	if opts.TaskCapacity <= 0 {
		opts.TaskCapacity = 256
	}
	if opts.MaxChannels <= 0 {
		opts.MaxChannels = 1024
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Millisecond
	}
	if opts.Quantum <= 0 {
		opts.Quantum = 8
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ring := trace.New(opts.TraceCapacity, opts.Clock.Now)
	ring.SetDeterministic(opts.Deterministic)

	tasks, err := sched.New(opts.PriorityLevels, opts.TaskCapacity, ring)
	if err != nil {
		return nil, err
	}
	opts.Logger.Info("Scheduler ready",
		"levels", opts.PriorityLevels, "capacity", opts.TaskCapacity)

	caps, err := capability.NewTable(ring)
	if err != nil {
		return nil, err
	}

	chans := ipc.New(caps, ring, opts.MaxChannels, opts.DefaultChannelCapacity)
	opts.Logger.Info("IPC ready",
		"max_channels", opts.MaxChannels)
	opts.Logger.Info("Security initialized")
	opts.Logger.Info("Trace ready",
		"slots", ring.Capacity(), "deterministic", opts.Deterministic)

	k := &Kernel{
		log:          opts.Logger,
		clk:          opts.Clock,
		ring:         ring,
		caps:         caps,
		tasks:        tasks,
		chans:        chans,
		tickInterval: opts.TickInterval,
		quantum:      opts.Quantum,
		programs:     make(map[sched.TaskID]Program),
		completions:  make(map[sched.TaskID]Completion),
	}
	chans.SetWaker(k)
	return k, nil
}

// Ring returns the trace ring, for the diagnostic surface and the
// snapshot exporter.
func (k *Kernel) Ring() *trace.Ring { return k.ring }

// Spawn creates a task running program at the given priority. The
// task starts Ready and is dispatched by the run loop; nothing
// executes before the first timer tick.
func (k *Kernel) Spawn(name string, priority sched.Priority, program Program) (sched.TaskID, error) {
	if program == nil {
		return 0, fmt.Errorf("%w: nil program", kerror.ErrInvalidTask)
	}
	id, err := k.tasks.Spawn(name, priority)
	if err != nil {
		return 0, err
	}
	k.mu.Lock()
	k.programs[id] = program
	k.mu.Unlock()
	k.log.Debug("task spawned", "task", id, "name", name, "priority", priority)
	return id, nil
}

// CompleteSend implements ipc.Waker: a blocked send was accepted.
func (k *Kernel) CompleteSend(task sched.TaskID) {
	k.setCompletion(task, Completion{})
	k.tasks.Unblock(task)
}

// CompleteReceive implements ipc.Waker: messages arrived for a
// blocked receive.
func (k *Kernel) CompleteReceive(task sched.TaskID, messages []ipc.Message) {
	k.setCompletion(task, Completion{Messages: messages})
	k.tasks.Unblock(task)
}

// CompleteClosed implements ipc.Waker: the channel a task was blocked
// on has closed.
func (k *Kernel) CompleteClosed(task sched.TaskID) {
	k.setCompletion(task, Completion{
		Err: fmt.Errorf("%w: channel closed while waiting", kerror.ErrChannelClosed),
	})
	k.tasks.Unblock(task)
}

func (k *Kernel) setCompletion(task sched.TaskID, completion Completion) {
	k.mu.Lock()
	k.completions[task] = completion
	k.mu.Unlock()
}

// takeCompletion removes and returns the task's stashed completion.
func (k *Kernel) takeCompletion(task sched.TaskID) (Completion, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	completion, ok := k.completions[task]
	if ok {
		delete(k.completions, task)
	}
	return completion, ok
}

// exitTask tears a task down in the required order: cancel any wait
// registrations, revoke exclusively-owned capabilities, close the
// channels those revocations orphaned, and only then mark the task
// Terminated. No observer can see a Terminated task that still owns
// resources.
func (k *Kernel) exitTask(id sched.TaskID, exitCode int64) {
	k.chans.CancelPending(id)
	revoked := k.caps.ReleaseOwned(uint64(id))
	k.chans.CloseEndpoints(revoked)
	if err := k.tasks.Terminate(id, exitCode); err != nil {
		k.log.Warn("terminating task", "task", id, "error", err)
	}

	k.mu.Lock()
	delete(k.programs, id)
	delete(k.completions, id)
	k.mu.Unlock()
	k.log.Debug("task exited", "task", id, "code", exitCode)
}

// Status is the kernel-wide view served by the diagnostic socket.
type Status struct {
	Scheduler  sched.Stats      `cbor:"scheduler"`
	Channels   ipc.Stats        `cbor:"channels"`
	Capability capability.Stats `cbor:"capability"`
	Trace      trace.Stats      `cbor:"trace"`
}

// Stats snapshots every component's counters.
func (k *Kernel) Stats() Status {
	return Status{
		Scheduler:  k.tasks.Stats(),
		Channels:   k.chans.Stats(),
		Capability: k.caps.Stats(),
		Trace:      k.ring.Stats(),
	}
}
