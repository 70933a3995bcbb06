// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

// Package sched implements the task scheduler: task control blocks,
// one FIFO ready queue per priority level, and the tick counter that
// drives preemption and blocking deadlines.
//
// Selection is strict priority: the earliest-queued task in the
// numerically lowest non-empty level always runs next, with no
// time-slice rotation across levels. A bitmap of non-empty levels
// makes every scheduling decision O(1): find the lowest set bit, pop
// the queue head. Within a level the only rotation source is the
// preemption timer; across levels there is none, so a low-priority
// task can never borrow time from a higher level.
//
// The scheduler holds pure scheduling state. What a task executes and
// what its blocked operation will return on wake-up live with the
// kernel context; the split keeps every state transition here small
// enough to audit in isolation.
package sched
