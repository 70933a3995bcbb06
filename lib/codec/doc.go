// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the standard CBOR encoding configuration for
// Nucleus. Message payloads in the demo workloads, the diagnostic
// socket protocol, and trace snapshot archives all encode through
// this package so every component produces identical bytes for the
// same logical data.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// Determinism matters here beyond tidiness: trace snapshots taken
// from two deterministic-mode runs of the same workload must compare
// byte-for-byte equal.
//
// Buffer-oriented:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Stream-oriented (diagnostic socket):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
