// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package kerror

import "errors"

var (
	// ErrInvalidTask indicates an unknown or already-terminated task
	// identifier.
	ErrInvalidTask = errors.New("invalid task")

	// ErrSecurity indicates a missing, revoked, or insufficient
	// capability. The message deliberately carries no detail about
	// which of the three applies, so a caller cannot probe the
	// capability table.
	ErrSecurity = errors.New("security error")

	// ErrChannelFull indicates a non-blocking send on a channel with
	// no free slots.
	ErrChannelFull = errors.New("channel full")

	// ErrChannelEmpty indicates a non-blocking receive on a channel
	// with no pending messages.
	ErrChannelEmpty = errors.New("channel empty")

	// ErrChannelClosed indicates an operation on a closed channel,
	// including blocked operations woken by the close.
	ErrChannelClosed = errors.New("channel closed")

	// ErrTimeout indicates a blocking operation whose deadline expired
	// before the awaited event occurred.
	ErrTimeout = errors.New("timeout")

	// ErrResourceExhausted indicates the task table or channel table
	// is at capacity.
	ErrResourceExhausted = errors.New("resource exhausted")
)

// Recoverable reports whether err belongs to the kernel error taxonomy.
// Taxonomy errors are returned to the calling task; anything else that
// reaches the syscall boundary is treated as an internal fault.
func Recoverable(err error) bool {
	for _, sentinel := range []error{
		ErrInvalidTask,
		ErrSecurity,
		ErrChannelFull,
		ErrChannelEmpty,
		ErrChannelClosed,
		ErrTimeout,
		ErrResourceExhausted,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
