// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"fmt"

	"github.com/nucleus-foundation/nucleus/lib/capability"
	"github.com/nucleus-foundation/nucleus/lib/ipc"
	"github.com/nucleus-foundation/nucleus/lib/kerror"
	"github.com/nucleus-foundation/nucleus/lib/sched"
	"github.com/nucleus-foundation/nucleus/lib/trace"
)

// StepStatus is what a program's Step reports back to the run loop.
type StepStatus uint8

const (
	// StatusContinue asks for another step within the current
	// quantum.
	StatusContinue StepStatus = iota

	// StatusYield gives up the CPU voluntarily; the task goes to the
	// tail of its priority level's ready queue.
	StatusYield

	// StatusSuspended means a blocking syscall parked the task. The
	// program must return this after any syscall that reported
	// suspended=true.
	StatusSuspended

	// StatusExited means the task is done. The exit code is whatever
	// the program passed to Exit, or zero.
	StatusExited
)

// Program is a task's state machine. Step is called on the run-loop
// goroutine each time the task is dispatched; the TaskContext is only
// valid for the duration of that call.
type Program interface {
	Step(ctx *TaskContext) StepStatus
}

// StepFunc adapts a function to the Program interface.
type StepFunc func(ctx *TaskContext) StepStatus

func (f StepFunc) Step(ctx *TaskContext) StepStatus { return f(ctx) }

// TaskContext is the syscall surface handed to a program's Step. It
// identifies the calling task, so capability holder checks and wait
// registrations all happen on the caller's behalf.
type TaskContext struct {
	kernel *Kernel
	task   sched.TaskID

	completion    Completion
	hasCompletion bool

	exitCode int64
}

// Task returns the calling task's identifier.
func (c *TaskContext) Task() sched.TaskID { return c.task }

// Now returns the current kernel tick.
func (c *TaskContext) Now() uint64 { return c.kernel.tasks.Now() }

// Completion returns the result of the syscall that suspended this
// task, and whether one is pending. Valid on the first step after
// wake-up; the result is consumed by the read.
func (c *TaskContext) Completion() (Completion, bool) {
	if !c.hasCompletion {
		return Completion{}, false
	}
	c.hasCompletion = false
	completion := c.completion
	c.completion = Completion{}
	return completion, true
}

// Exit records the task's exit code. The program must return
// StatusExited from the same step; teardown happens in the run loop.
func (c *TaskContext) Exit(code int64) { c.exitCode = code }

// Spawn creates a new task. The child starts Ready and runs no
// earlier than the next timer tick, so a parent at a lower (more
// urgent) level keeps the CPU for the rest of its quantum.
func (c *TaskContext) Spawn(name string, priority sched.Priority, program Program) (sched.TaskID, error) {
	return c.kernel.Spawn(name, priority, program)
}

// ChannelCreate allocates a channel and returns its identifier plus
// the send and receive capabilities, both owned by the calling task.
func (c *TaskContext) ChannelCreate(capacity int) (ipc.ChannelID, capability.ID, capability.ID, error) {
	return c.kernel.chans.Create(c.task, capacity)
}

// Send enqueues a message. With blocking true and a full channel the
// task suspends: Send reports suspended=true, the program returns
// StatusSuspended, and the next step's Completion reports the
// outcome. deadlineTicks, when non-zero, bounds the wait; expiry
// completes the send with a Timeout error.
func (c *TaskContext) Send(capID capability.ID, message ipc.Message, blocking bool, deadlineTicks uint64) (suspended bool, err error) {
	blocked, err := c.kernel.chans.Send(c.task, capID, message, blocking)
	if err != nil || !blocked {
		return false, err
	}
	return true, c.suspend(sched.WaitSend, deadlineTicks)
}

// SendBatch enqueues up to len(messages) messages without blocking
// and reports how many were accepted. Receivers blocked on the
// channel are woken at most once each.
func (c *TaskContext) SendBatch(capID capability.ID, messages []ipc.Message) (int, error) {
	return c.kernel.chans.SendBatch(c.task, capID, messages)
}

// Receive dequeues the oldest message. Blocking and deadline
// semantics mirror Send; a suspended receive's message arrives in the
// next step's Completion.
func (c *TaskContext) Receive(capID capability.ID, blocking bool, deadlineTicks uint64) (ipc.Message, bool, error) {
	message, blocked, err := c.kernel.chans.Receive(c.task, capID, blocking)
	if err != nil || !blocked {
		return message, false, err
	}
	return ipc.Message{}, true, c.suspend(sched.WaitReceive, deadlineTicks)
}

// ReceiveBatch dequeues up to max messages. A suspended batch receive
// completes with every message queued at wake time, up to max.
func (c *TaskContext) ReceiveBatch(capID capability.ID, max int, blocking bool, deadlineTicks uint64) ([]ipc.Message, bool, error) {
	messages, blocked, err := c.kernel.chans.ReceiveBatch(c.task, capID, max, blocking)
	if err != nil || !blocked {
		return messages, false, err
	}
	return nil, true, c.suspend(sched.WaitReceive, deadlineTicks)
}

// ChannelClose closes the channel behind either endpoint capability.
func (c *TaskContext) ChannelClose(capID capability.ID) error {
	return c.kernel.chans.Close(c.task, capID)
}

// CapDerive mints a capability with a subset of the parent's rights.
// The caller must hold the parent with the grant right; amplification
// fails with a security error.
func (c *TaskContext) CapDerive(parent capability.ID, subset capability.Rights) (capability.ID, error) {
	if _, err := c.kernel.caps.ValidateHeldBy(parent, capability.RightGrant, uint64(c.task)); err != nil {
		return capability.ID{}, err
	}
	return c.kernel.caps.Derive(parent, subset)
}

// CapRevoke revokes the capability's resource: every capability ever
// minted or derived for it, wherever delegated, dies at once. The
// caller must hold the capability with the revoke right.
func (c *TaskContext) CapRevoke(capID capability.ID) error {
	if _, err := c.kernel.caps.ValidateHeldBy(capID, capability.RightRevoke, uint64(c.task)); err != nil {
		return err
	}
	return c.kernel.caps.Revoke(capID)
}

// OwnedCaps returns the identifiers of every capability the calling
// task currently holds, in no particular order.
func (c *TaskContext) OwnedCaps() []capability.ID {
	return c.kernel.caps.OwnedBy(uint64(c.task))
}

// CapTransfer hands a capability the caller holds to another task,
// typically a freshly spawned child. Rights are unchanged; the caller
// no longer holds the capability afterwards. The target must be a
// live task: handing a capability to a terminated task would park it
// past its owner's teardown, unreleasable.
func (c *TaskContext) CapTransfer(capID capability.ID, to sched.TaskID) error {
	if _, err := c.kernel.caps.ValidateHeldBy(capID, 0, uint64(c.task)); err != nil {
		return err
	}
	tcb, err := c.kernel.tasks.Task(to)
	if err != nil {
		return err
	}
	if tcb.State == sched.StateTerminated {
		return fmt.Errorf("%w: task %d has terminated", kerror.ErrInvalidTask, to)
	}
	return c.kernel.caps.Transfer(capID, uint64(to))
}

// Sleep suspends the task for the given number of ticks. The wake-up
// arrives as an empty Completion. A task sleeping with ticks == 0
// suspends until some other task calls Unblock on it.
func (c *TaskContext) Sleep(ticks uint64) error {
	return c.suspend(sched.WaitExplicit, ticks)
}

// Unblock wakes a task suspended by Sleep. Reports whether the task
// was actually blocked.
func (c *TaskContext) Unblock(task sched.TaskID) bool {
	if !c.kernel.tasks.Unblock(task) {
		return false
	}
	c.kernel.setCompletion(task, Completion{})
	return true
}

// Emit records a workload-defined trace event.
func (c *TaskContext) Emit(code trace.Code, payload uint64, note string) {
	c.kernel.ring.EmitNote(trace.CategoryCustom, code, uint64(c.task), payload, note)
}

// suspend parks the calling task. deadlineTicks of zero means no
// deadline.
func (c *TaskContext) suspend(kind sched.WaitKind, deadlineTicks uint64) error {
	var deadline uint64
	if deadlineTicks > 0 {
		deadline = c.kernel.tasks.Now() + deadlineTicks
	}
	return c.kernel.tasks.BlockCurrent(kind, 0, deadline)
}
