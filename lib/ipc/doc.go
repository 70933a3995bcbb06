// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc implements the channel registry: bounded FIFO message
// queues between tasks, gated on every crossing by the capability
// table.
//
// Every send and receive first validates the presented capability,
// checking right bits, epoch, and holder, before touching the queue;
// a mismatched
// or revoked capability fails the call without observable effect. The
// registry never schedules anything itself: when an operation must
// suspend the caller or wake a peer, it reports the suspension to the
// caller and completes the peer through the injected Waker, and the
// kernel performs the actual state transitions. That keeps the
// registry's critical sections short and free of scheduler
// re-entrancy.
//
// Message order is the acceptance order: each message is stamped with
// a per-channel sequence number the moment the channel accepts it,
// and receivers always observe ascending stamps, no matter how many
// senders interleave.
package ipc
