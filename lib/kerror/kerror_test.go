// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package kerror

import (
	"errors"
	"fmt"
	"testing"
)

func TestRecoverableSentinels(t *testing.T) {
	t.Parallel()
	for _, err := range []error{
		ErrInvalidTask,
		ErrSecurity,
		ErrChannelFull,
		ErrChannelEmpty,
		ErrChannelClosed,
		ErrTimeout,
		ErrResourceExhausted,
	} {
		if !Recoverable(err) {
			t.Errorf("Recoverable(%v) = false, want true", err)
		}
	}
}

func TestRecoverableWrapped(t *testing.T) {
	t.Parallel()
	wrapped := fmt.Errorf("send on channel 7: %w", ErrChannelFull)
	if !Recoverable(wrapped) {
		t.Errorf("Recoverable(%v) = false, want true", wrapped)
	}
}

func TestRecoverableForeign(t *testing.T) {
	t.Parallel()
	if Recoverable(errors.New("disk on fire")) {
		t.Error("Recoverable reported true for an error outside the taxonomy")
	}
	if Recoverable(nil) {
		t.Error("Recoverable reported true for nil")
	}
}
