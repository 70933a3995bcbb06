// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package trace

import (
	"bytes"
	"strings"
	"testing"
)

func sampleSnapshot() Snapshot {
	events := make([]Event, 0, 64)
	for i := 0; i < 64; i++ {
		events = append(events, Event{
			Timestamp: uint64(i + 1),
			Sequence:  uint64(i),
			Category:  CategoryIPC,
			Code:      CodeSend,
			Task:      3,
			Payload:   uint64(i % 4),
			Note:      "demo workload ping",
		})
	}
	return Snapshot{
		Capacity:      64,
		TotalEmitted:  64,
		Deterministic: true,
		Events:        events,
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	t.Parallel()
	for _, tag := range []CompressionTag{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			t.Parallel()
			snapshot := sampleSnapshot()

			var buffer bytes.Buffer
			if err := WriteArchive(&buffer, snapshot, tag); err != nil {
				t.Fatalf("WriteArchive(%s): %v", tag, err)
			}

			got, err := ReadArchive(&buffer)
			if err != nil {
				t.Fatalf("ReadArchive(%s): %v", tag, err)
			}
			if got.TotalEmitted != snapshot.TotalEmitted ||
				got.Capacity != snapshot.Capacity ||
				!got.Deterministic ||
				len(got.Events) != len(snapshot.Events) {
				t.Fatalf("round trip mismatch: %+v", got)
			}
			if got.Events[10] != snapshot.Events[10] {
				t.Fatalf("event 10 = %+v, want %+v", got.Events[10], snapshot.Events[10])
			}
		})
	}
}

func TestArchiveRejectsBadMagic(t *testing.T) {
	t.Parallel()
	_, err := ReadArchive(strings.NewReader("not an archive at all"))
	if err == nil || !strings.Contains(err.Error(), "magic") {
		t.Fatalf("ReadArchive on garbage: err = %v, want bad magic", err)
	}
}

func TestArchiveCompressionTagNames(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"none", "lz4", "zstd"} {
		tag, err := ParseCompressionTag(name)
		if err != nil {
			t.Fatalf("ParseCompressionTag(%q): %v", name, err)
		}
		if tag.String() != name {
			t.Errorf("tag %q round-tripped to %q", name, tag.String())
		}
	}
	if _, err := ParseCompressionTag("bzip2"); err == nil {
		t.Error("ParseCompressionTag(bzip2) should fail")
	}
}
