// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package capability

import "strings"

// Rights is the composable rights bitmask carried by a capability.
type Rights uint8

const (
	// RightRead permits reading the resource. For channel endpoints
	// this is the receive right.
	RightRead Rights = 1 << iota
	// RightWrite permits mutating the resource. For channel endpoints
	// this is the send right.
	RightWrite
	// RightGrant permits deriving sub-capabilities for delegation.
	RightGrant
	// RightRevoke permits revoking the resource's capabilities.
	RightRevoke
)

// Channel-endpoint aliases. Send and receive map onto write and read
// so the rights lattice stays a single four-bit mask.
const (
	RightSend    = RightWrite
	RightReceive = RightRead
)

// RightsAll is every right combined.
const RightsAll = RightRead | RightWrite | RightGrant | RightRevoke

// Contains reports whether r includes every right in required.
func (r Rights) Contains(required Rights) bool {
	return r&required == required
}

// String renders the mask as "rwgv" with dashes for absent rights.
func (r Rights) String() string {
	var b strings.Builder
	for _, part := range []struct {
		right Rights
		mark  byte
	}{
		{RightRead, 'r'},
		{RightWrite, 'w'},
		{RightGrant, 'g'},
		{RightRevoke, 'v'},
	} {
		if r&part.right != 0 {
			b.WriteByte(part.mark)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}
