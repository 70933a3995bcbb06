// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for the kernel
// and its diagnostic tools. It centralizes the one legitimate raw
// stderr write in each binary: fatal error reporting from main(),
// before or after the structured logger exists.
package process
