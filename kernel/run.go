// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"context"
	"fmt"

	"github.com/nucleus-foundation/nucleus/lib/kerror"
	"github.com/nucleus-foundation/nucleus/lib/sched"
)

// Run drives the kernel until every spawned task has terminated or
// the context is canceled. Each timer tick runs one scheduling round:
// deadline expiry, dispatch of the most urgent ready task, and up to
// one quantum of program steps. Internal invariant violations panic;
// the panic path logs the trailing trace events before propagating.
func (k *Kernel) Run(ctx context.Context) error {
	defer k.dumpOnPanic()

	ticker := k.clk.NewTicker(k.tickInterval)
	defer ticker.Stop()

	k.log.Info("kernel running", "tick_interval", k.tickInterval)
	for {
		select {
		case <-ctx.Done():
			k.log.Info("kernel stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			if k.Tick() {
				k.log.Info("kernel halted", "tick", k.tasks.Now())
				return nil
			}
		}
	}
}

// Tick runs one scheduling round and reports whether the kernel has
// halted: every task that was ever spawned has terminated. Exposed so
// deterministic tests can drive the kernel tick by tick without a
// ticker.
func (k *Kernel) Tick() (halted bool) {
	for _, id := range k.tasks.Tick() {
		// The scheduler woke this task because its deadline arrived.
		// If it was registered on a channel wait list, the operation
		// itself timed out; otherwise it was a sleep ending normally.
		if k.chans.CancelPending(id) {
			k.setCompletion(id, Completion{
				Err: fmt.Errorf("%w: deadline expired at tick %d", kerror.ErrTimeout, k.tasks.Now()),
			})
		} else {
			k.setCompletion(id, Completion{})
		}
	}

	id, ok := k.tasks.RunNext()
	if !ok {
		stats := k.tasks.Stats()
		return stats.Spawned == stats.Terminated
	}
	k.dispatch(id)
	k.tasks.ChargeCPU(id)
	return false
}

// dispatch steps the task until it blocks, yields, exits, or exhausts
// its quantum.
func (k *Kernel) dispatch(id sched.TaskID) {
	k.mu.Lock()
	program := k.programs[id]
	k.mu.Unlock()
	if program == nil {
		// A task with no program is an invariant violation: Spawn
		// registers the program before the task is ever Ready.
		panic(fmt.Sprintf("kernel: task %d dispatched with no program", id))
	}

	ctx := &TaskContext{kernel: k, task: id}
	if completion, ok := k.takeCompletion(id); ok {
		ctx.completion = completion
		ctx.hasCompletion = true
	}

	for step := 0; ; step++ {
		switch status := program.Step(ctx); status {
		case StatusExited:
			k.exitTask(id, ctx.exitCode)
			return
		case StatusYield:
			k.tasks.PreemptCurrent()
			return
		case StatusSuspended:
			// The blocking syscall already parked the task.
			return
		case StatusContinue:
			if step+1 >= k.quantum {
				k.tasks.PreemptCurrent()
				return
			}
		default:
			panic(fmt.Sprintf("kernel: task %d returned unknown step status %d", id, status))
		}
	}
}

// dumpOnPanic logs the most recent trace events when the run loop
// panics, then re-panics. Best effort: the ring read may race
// emitters, and a broken kernel is exactly when that is acceptable.
func (k *Kernel) dumpOnPanic() {
	reason := recover()
	if reason == nil {
		return
	}
	k.log.Error("kernel panic", "reason", reason)
	for _, event := range k.ring.DumpLast(PanicDumpCount) {
		k.log.Error("trace",
			"seq", event.Sequence,
			"ts", event.Timestamp,
			"category", event.Category.String(),
			"code", event.Code.String(),
			"task", event.Task,
			"payload", event.Payload,
			"note", event.Note,
		)
	}
	panic(reason)
}
