// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import "fmt"

// Category identifies the kernel component that emitted an event.
type Category uint8

const (
	// CategoryNone marks a slot that has never been written.
	CategoryNone Category = iota
	// CategoryScheduler covers task lifecycle and context switches.
	CategoryScheduler
	// CategoryIPC covers channel operations.
	CategoryIPC
	// CategorySecurity covers capability operations and violations.
	CategorySecurity
	// CategoryCustom covers workload- or tool-defined events.
	CategoryCustom
)

// String returns the category name used in dumps and archives.
func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryScheduler:
		return "scheduler"
	case CategoryIPC:
		return "ipc"
	case CategorySecurity:
		return "security"
	case CategoryCustom:
		return "custom"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Code identifies what happened within a category.
type Code uint8

const (
	CodeNone Code = iota
	CodeTimerTick
	CodeContextSwitch
	CodeTaskSpawn
	CodeTaskExit
	CodeTaskBlock
	CodeTaskUnblock
	CodeTaskTimeout
	CodeChannelCreate
	CodeChannelClose
	CodeSend
	CodeReceive
	CodeSendBatch
	CodeReceiveBatch
	CodeCapCreate
	CodeCapDerive
	CodeCapRevoke
	CodeSecurityViolation
	CodeCustom Code = 255
)

var codeNames = map[Code]string{
	CodeNone:              "none",
	CodeTimerTick:         "timer-tick",
	CodeContextSwitch:     "context-switch",
	CodeTaskSpawn:         "task-spawn",
	CodeTaskExit:          "task-exit",
	CodeTaskBlock:         "task-block",
	CodeTaskUnblock:       "task-unblock",
	CodeTaskTimeout:       "task-timeout",
	CodeChannelCreate:     "channel-create",
	CodeChannelClose:      "channel-close",
	CodeSend:              "send",
	CodeReceive:           "receive",
	CodeSendBatch:         "send-batch",
	CodeReceiveBatch:      "receive-batch",
	CodeCapCreate:         "cap-create",
	CodeCapDerive:         "cap-derive",
	CodeCapRevoke:         "cap-revoke",
	CodeSecurityViolation: "security-violation",
	CodeCustom:            "custom",
}

// String returns the code name used in dumps and archives.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(c))
}

// Event is one immutable trace record. Written once into a ring slot,
// eventually overwritten when the ring wraps, never mutated between.
type Event struct {
	// Timestamp is the logical tick counter in deterministic mode and
	// unix nanoseconds otherwise.
	Timestamp uint64 `cbor:"timestamp"`

	// Sequence is the global emission number of this event. It keeps
	// increasing across ring wraps, so snapshot consumers can tell how
	// many events the retention window dropped.
	Sequence uint64 `cbor:"sequence"`

	// Category is the originating component.
	Category Category `cbor:"category"`

	// Code says what happened.
	Code Code `cbor:"code"`

	// Task is the task identifier the event concerns, or 0.
	Task uint64 `cbor:"task,omitempty"`

	// Payload is an event-specific value (channel ID, priority level,
	// capability resource, exit code).
	Payload uint64 `cbor:"payload,omitempty"`

	// Note is an optional short free-text annotation.
	Note string `cbor:"note,omitempty"`
}

// String renders the event in the single-line form used by the panic
// dump and cmd/nucleus-trace.
func (e Event) String() string {
	s := fmt.Sprintf("[%12d] #%-8d %-9s %-18s task=%d payload=%#x",
		e.Timestamp, e.Sequence, e.Category, e.Code, e.Task, e.Payload)
	if e.Note != "" {
		s += " " + e.Note
	}
	return s
}
