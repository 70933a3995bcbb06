// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

// Package trace implements the kernel's lock-free event ring: a
// fixed-capacity circular arena of event slots written by every
// kernel component and read, best-effort, by diagnostic paths.
//
// Writers claim a slot with a single atomic counter increment and
// then write into it without further coordination. No writer ever
// blocks another, which is the point. The ring must stay usable from
// any context, including the timer path of the very scheduler it is
// observing, without risking deadlock against it. The cost is that a
// reader racing a writer may observe a slot mid-update. That is an
// accepted property of a diagnostic-only surface; nothing in the
// kernel makes correctness decisions from ring contents.
//
// Deterministic mode replaces wall-clock timestamps with a monotonic
// logical counter so two runs of the same workload produce
// byte-identical snapshots.
package trace
