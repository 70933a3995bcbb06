// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package sched

import "fmt"

// TaskID uniquely identifies a task. Identifiers are allocated from a
// monotonic counter and never reused while any reference survives.
// Zero is never a valid task.
type TaskID uint64

// Priority is a task's priority level. Numerically lower is more
// urgent: level 0 preempts everything else at every scheduling point.
type Priority uint8

// DefaultLevels is the number of priority levels the kernel
// configures unless overridden.
const DefaultLevels = 4

// State is a task's position in the lifecycle state machine:
//
//	New → Ready → Running → {Ready, Blocked, Terminated}
//	Blocked → Ready (awaited event, or deadline expiry)
//
// Terminated is absorbing; a task is only observable as Terminated
// after all its resources have been released.
type State uint8

const (
	StateNew State = iota
	StateReady
	StateRunning
	StateBlocked
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// WaitKind says why a blocked task is blocked.
type WaitKind uint8

const (
	// WaitNone means the task is not blocked.
	WaitNone WaitKind = iota
	// WaitReceive means the task is blocked on an empty channel.
	WaitReceive
	// WaitSend means the task is blocked on a full channel.
	WaitSend
	// WaitExplicit means the task called block_on directly and is
	// waiting for some other task to unblock it.
	WaitExplicit
)

// String returns the wait kind name.
func (k WaitKind) String() string {
	switch k {
	case WaitNone:
		return "none"
	case WaitReceive:
		return "receive"
	case WaitSend:
		return "send"
	case WaitExplicit:
		return "explicit"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// TCB is a task control block. Snapshots returned by Task are copies;
// the scheduler owns the live blocks.
type TCB struct {
	ID       TaskID
	Name     string
	Priority Priority
	State    State

	// Wait is why the task is blocked (WaitNone otherwise), and
	// WaitDetail an operation-specific value, typically a channel ID.
	Wait       WaitKind
	WaitDetail uint64

	// Deadline is the tick at which a blocked task times out, or 0
	// for no deadline.
	Deadline uint64

	// CPUTicks counts timer ticks observed while this task was
	// running.
	CPUTicks uint64

	// ExitCode is meaningful once State is Terminated.
	ExitCode int64
}
