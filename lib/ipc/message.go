// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"github.com/nucleus-foundation/nucleus/lib/capability"
	"github.com/nucleus-foundation/nucleus/lib/sched"
)

// ChannelID identifies a channel within the registry.
type ChannelID uint64

// Kind is an application-level message discriminator. The kernel
// never interprets it; the well-known values below are a convention
// for workloads.
type Kind uint16

const (
	KindRequest  Kind = 1
	KindResponse Kind = 2
	KindSignal   Kind = 3
	KindError    Kind = 4
	KindShutdown Kind = 5
)

// Message is one channel transfer: an opaque payload plus an optional
// list of capabilities delegated atomically with delivery.
type Message struct {
	// Kind is the application-level discriminator.
	Kind Kind

	// Sender is the task whose send call the channel accepted.
	Sender sched.TaskID

	// Sequence is the per-channel acceptance stamp, assigned by the
	// registry. Receivers observe stamps in ascending order.
	Sequence uint64

	// Payload is opaque to the kernel. Workloads typically encode it
	// with lib/codec.
	Payload []byte

	// Caps lists capabilities delegated with this message. Delegation
	// is all-or-nothing: either every listed capability leaves the
	// sender's set when the channel accepts the message, or the send
	// fails before the queue is touched.
	Caps []capability.ID
}
