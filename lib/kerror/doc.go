// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

// Package kerror defines the kernel-wide error taxonomy. Every
// recoverable syscall failure maps to exactly one of the sentinel
// errors in this package, so callers can branch with errors.Is without
// depending on the component that produced the failure.
//
// All of these errors are recoverable: the kernel returns them to the
// calling task and never terminates the caller on their account. An
// internal invariant violation is not representable here; that goes
// through the kernel panic path instead.
package kerror
