// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"sync"
	"testing"
	"time"
)

func testNow() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func TestRingRetainsMostRecentAfterWrap(t *testing.T) {
	t.Parallel()
	const capacity = 8
	const extra = 5
	ring := New(capacity, testNow)
	ring.SetDeterministic(true)

	for i := 0; i < capacity+extra; i++ {
		ring.Emit(CategoryCustom, CodeCustom, 0, uint64(i))
	}

	events := ring.DumpLast(capacity + extra)
	if len(events) != capacity {
		t.Fatalf("retained %d events, want %d", len(events), capacity)
	}
	// The oldest `extra` payloads are gone; the window starts at extra.
	for i, event := range events {
		want := uint64(extra + i)
		if event.Payload != want {
			t.Errorf("event %d payload = %d, want %d", i, event.Payload, want)
		}
	}
}

func TestRingDumpLastOrderAndCount(t *testing.T) {
	t.Parallel()
	ring := New(16, testNow)
	for i := 0; i < 10; i++ {
		ring.Emit(CategoryScheduler, CodeContextSwitch, uint64(i), 0)
	}

	events := ring.DumpLast(4)
	if len(events) != 4 {
		t.Fatalf("DumpLast(4) returned %d events", len(events))
	}
	for i, event := range events {
		if want := uint64(6 + i); event.Task != want {
			t.Errorf("event %d task = %d, want %d", i, event.Task, want)
		}
	}

	if got := ring.DumpLast(0); got != nil {
		t.Errorf("DumpLast(0) = %v, want nil", got)
	}
}

func TestRingDeterministicTimestamps(t *testing.T) {
	t.Parallel()
	ring := New(8, testNow)
	ring.SetDeterministic(true)

	for i := 0; i < 5; i++ {
		ring.Emit(CategoryIPC, CodeSend, 1, 0)
	}
	events := ring.DumpLast(5)
	for i, event := range events {
		if want := uint64(i + 1); event.Timestamp != want {
			t.Errorf("event %d logical timestamp = %d, want %d", i, event.Timestamp, want)
		}
	}
}

func TestRingDisabledDropsEvents(t *testing.T) {
	t.Parallel()
	ring := New(8, testNow)
	ring.SetEnabled(false)
	ring.Emit(CategoryCustom, CodeCustom, 0, 0)
	if got := ring.Stats().EventsRecorded; got != 0 {
		t.Fatalf("EventsRecorded = %d with tracing disabled, want 0", got)
	}
	ring.SetEnabled(true)
	ring.Emit(CategoryCustom, CodeCustom, 0, 0)
	if got := ring.Stats().EventsRecorded; got != 1 {
		t.Fatalf("EventsRecorded = %d, want 1", got)
	}
}

func TestRingSequenceSurvivesWrap(t *testing.T) {
	t.Parallel()
	ring := New(4, testNow)
	for i := 0; i < 11; i++ {
		ring.Emit(CategoryCustom, CodeCustom, 0, 0)
	}
	events := ring.DumpLast(4)
	if len(events) != 4 {
		t.Fatalf("retained %d events, want 4", len(events))
	}
	if events[len(events)-1].Sequence != 10 {
		t.Errorf("newest sequence = %d, want 10", events[len(events)-1].Sequence)
	}
}

func TestRingConcurrentEmitters(t *testing.T) {
	t.Parallel()
	const writers = 8
	const perWriter = 1000
	ring := New(256, time.Now)

	var group sync.WaitGroup
	for w := 0; w < writers; w++ {
		group.Add(1)
		go func(id uint64) {
			defer group.Done()
			for i := 0; i < perWriter; i++ {
				ring.Emit(CategoryCustom, CodeCustom, id, uint64(i))
			}
		}(uint64(w))
	}
	group.Wait()

	if got := ring.Stats().EventsRecorded; got != writers*perWriter {
		t.Fatalf("EventsRecorded = %d, want %d", got, writers*perWriter)
	}
	// Every retained slot was written exactly once: sequences in the
	// dump are strictly increasing.
	events := ring.DumpLast(256)
	for i := 1; i < len(events); i++ {
		if events[i].Sequence <= events[i-1].Sequence {
			t.Fatalf("sequences not strictly increasing at %d: %d then %d",
				i, events[i-1].Sequence, events[i].Sequence)
		}
	}
}

func TestSnapshotMetadata(t *testing.T) {
	t.Parallel()
	ring := New(4, testNow)
	ring.SetDeterministic(true)
	for i := 0; i < 6; i++ {
		ring.Emit(CategoryCustom, CodeCustom, 0, uint64(i))
	}
	snapshot := ring.Snapshot()
	if snapshot.Capacity != 4 {
		t.Errorf("Capacity = %d, want 4", snapshot.Capacity)
	}
	if snapshot.TotalEmitted != 6 {
		t.Errorf("TotalEmitted = %d, want 6", snapshot.TotalEmitted)
	}
	if !snapshot.Deterministic {
		t.Error("Deterministic = false, want true")
	}
	if len(snapshot.Events) != 4 {
		t.Errorf("retained %d events, want 4", len(snapshot.Events))
	}
}
