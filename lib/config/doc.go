// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the kernel
// and its diagnostic tools.
//
// Configuration is loaded from a single file specified by either the
// NUCLEUS_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. Boot-time configuration must be
// deterministic and auditable, with no hidden overrides.
//
// Key exports:
//
//   - [Config] -- master struct with Scheduler, IPC, Trace, Diag
//   - [Default] -- returns a Config with usable defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other kernel packages.
package config
