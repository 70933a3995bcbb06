// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the kernel
// binaries.
//
// Version information is injected at build time via -ldflags, for
// example:
//
//	go build -ldflags "-X github.com/nucleus-foundation/nucleus/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version
