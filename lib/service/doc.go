// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

// Package service implements the kernel's diagnostic socket protocol:
// one-shot CBOR request-response over a Unix socket.
//
// Each connection carries exactly one request and one response. The
// request is a CBOR map with an "action" field naming the handler;
// the response is a [Response] envelope with ok/error/data. CBOR is
// self-delimiting, so there is no framing protocol.
//
// The kernel registers "status" and "trace-dump" actions on a
// [SocketServer]; cmd/nucleus-trace talks to it with a [Client].
package service
