// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate
// the timeout safety valve pattern (select with a time.After
// fallback) so individual tests do not need direct time.After calls.
//
// [SocketDir] creates a short-pathed temporary directory for Unix
// domain sockets, which have a 108-byte path limit that deeply nested
// test temp dirs can exceed.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
