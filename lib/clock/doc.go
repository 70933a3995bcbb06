// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the kernel's time source. The scheduler's
// preemption timer and the trace ring's wall-clock timestamps both
// read time through a Clock rather than the time package directly, so
// tests can drive ticks with Fake() and a deterministic Advance while
// production code injects Real().
package clock
