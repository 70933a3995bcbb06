// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

// Package capability implements the kernel's capability table: the
// mapping from unforgeable capability identifiers to rights records,
// and the epoch machinery that makes revocation O(1).
//
// Revocation is deliberately coarse. Every capability stores the
// epoch of its resource at mint time; Validate compares that stored
// epoch against the resource's current epoch. Revoke bumps the
// resource epoch once, which invalidates every capability ever minted
// or derived for that resource, including copies already delegated
// to other tasks, without walking a delegation tree. Validation
// stays O(1) no matter how many capabilities exist; the trade-off is
// that a revoke cannot target a single delegation branch.
//
// Identifiers are produced by a BLAKE3 keyed hasher over a monotonic
// counter, with the key drawn from the system entropy source at boot.
// Holding an identifier is the proof of authority, so identifiers
// must be unguessable and must not be derivable from the record's
// contents.
package capability
