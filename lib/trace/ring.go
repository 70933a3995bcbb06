// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"sync/atomic"
	"time"
)

// DefaultCapacity is the default number of ring slots. Power of two
// only by convention. The ring uses modular arithmetic, not masking,
// so any positive capacity works.
const DefaultCapacity = 4096

// Ring is the fixed-capacity lock-free event log. Emit is safe from
// any goroutine and never blocks; DumpLast and Snapshot are
// best-effort reads that may observe slots mid-update while a writer
// races them.
type Ring struct {
	slots    []Event
	capacity uint64

	// writeCounter is the only coordination between writers: each
	// Emit claims slot (counter mod capacity) with one atomic
	// increment, then writes the slot without locking.
	writeCounter atomic.Uint64

	// logical is the timestamp source in deterministic mode.
	logical atomic.Uint64

	enabled       atomic.Bool
	deterministic atomic.Bool

	// now supplies wall-clock timestamps outside deterministic mode.
	now func() time.Time
}

// New creates a ring with the given slot capacity. The now function
// supplies wall-clock timestamps; inject the kernel clock's Now here.
// Tracing starts enabled and non-deterministic.
func New(capacity int, now func() time.Time) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	ring := &Ring{
		slots:    make([]Event, capacity),
		capacity: uint64(capacity),
		now:      now,
	}
	ring.enabled.Store(true)
	return ring
}

// Capacity returns the number of slots, which is the retention window.
func (r *Ring) Capacity() int { return int(r.capacity) }

// SetEnabled turns event recording on or off. Disabled emits are
// dropped without claiming a slot.
func (r *Ring) SetEnabled(enabled bool) { r.enabled.Store(enabled) }

// Enabled reports whether events are being recorded.
func (r *Ring) Enabled() bool { return r.enabled.Load() }

// SetDeterministic switches between wall-clock timestamps and the
// monotonic logical counter. Switching mid-run does not rewrite
// already-recorded events.
func (r *Ring) SetDeterministic(deterministic bool) {
	r.deterministic.Store(deterministic)
}

// Deterministic reports whether logical timestamps are in use.
func (r *Ring) Deterministic() bool { return r.deterministic.Load() }

// Emit records an event. Non-blocking and safe from any context; a
// concurrent reader may see the claimed slot in a torn state until
// the write completes.
func (r *Ring) Emit(category Category, code Code, task, payload uint64) {
	r.EmitNote(category, code, task, payload, "")
}

// EmitNote is Emit with a short free-text annotation attached.
func (r *Ring) EmitNote(category Category, code Code, task, payload uint64, note string) {
	if !r.enabled.Load() {
		return
	}

	var timestamp uint64
	if r.deterministic.Load() {
		timestamp = r.logical.Add(1)
	} else {
		timestamp = uint64(r.now().UnixNano())
	}

	sequence := r.writeCounter.Add(1) - 1
	r.slots[sequence%r.capacity] = Event{
		Timestamp: timestamp,
		Sequence:  sequence,
		Category:  category,
		Code:      code,
		Task:      task,
		Payload:   payload,
		Note:      note,
	}
}

// DumpLast returns up to n of the most recent events, oldest first.
// Best-effort: events racing the dump may appear torn or be missed.
// Diagnostic use only.
func (r *Ring) DumpLast(n int) []Event {
	written := r.writeCounter.Load()
	if n <= 0 || written == 0 {
		return nil
	}

	count := uint64(n)
	if count > written {
		count = written
	}
	if count > r.capacity {
		count = r.capacity
	}

	events := make([]Event, 0, count)
	for sequence := written - count; sequence < written; sequence++ {
		event := r.slots[sequence%r.capacity]
		if event.Category == CategoryNone {
			// Slot claimed but not yet written by a racing emitter.
			continue
		}
		events = append(events, event)
	}
	return events
}

// Snapshot captures the entire retained window, oldest first, along
// with ring metadata. Same best-effort caveats as DumpLast.
func (r *Ring) Snapshot() Snapshot {
	return Snapshot{
		Capacity:      int(r.capacity),
		TotalEmitted:  r.writeCounter.Load(),
		Deterministic: r.deterministic.Load(),
		Events:        r.DumpLast(int(r.capacity)),
	}
}

// Stats returns counters for the diagnostic status surface.
func (r *Ring) Stats() Stats {
	return Stats{
		EventsRecorded: r.writeCounter.Load(),
		Capacity:       int(r.capacity),
		Enabled:        r.enabled.Load(),
		Deterministic:  r.deterministic.Load(),
	}
}

// Stats summarizes ring state.
type Stats struct {
	// EventsRecorded is the total number of emits since boot,
	// including events the ring has since overwritten.
	EventsRecorded uint64 `cbor:"events_recorded"`

	// Capacity is the retention window in events.
	Capacity int `cbor:"capacity"`

	Enabled       bool `cbor:"enabled"`
	Deterministic bool `cbor:"deterministic"`
}
