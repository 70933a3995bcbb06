// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

// Package kernel assembles the scheduler, channel registry, capability
// table, and trace ring into a bootable kernel context and exposes the
// syscall surface to task programs.
//
// There are no package globals: everything hangs off a Kernel built
// once at boot, so tests can run many kernels side by side and a
// multiprocessor port can run one context per CPU.
//
// Tasks are explicit state machines. A task program implements Step;
// the run loop calls Step on the dispatched task, and the program
// performs syscalls through the TaskContext it is handed. A blocking
// syscall that cannot complete immediately reports suspended, the
// program returns StatusSuspended, and the result is waiting in
// TaskContext.Completion at the next step after wake-up. No task ever
// owns a goroutine, which makes every interleaving reproducible in
// tests.
package kernel
