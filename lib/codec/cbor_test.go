// Copyright 2026 The Nucleus Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshalDeterministic(t *testing.T) {
	t.Parallel()
	value := map[string]any{
		"zulu":  1,
		"alpha": "two",
		"mike":  []int{3, 4, 5},
	}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal (iteration %d): %v", i, err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("deterministic encoding produced different bytes on iteration %d", i)
		}
	}
}

func TestUnmarshalDefaultMapType(t *testing.T) {
	t.Parallel()
	data, err := Marshal(map[string]any{"outer": map[string]any{"inner": 7}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if _, ok := outer["outer"].(map[string]any); !ok {
		t.Fatalf("nested type = %T, want map[string]any", outer["outer"])
	}
}

func TestStreamRoundTrip(t *testing.T) {
	t.Parallel()
	type record struct {
		Name  string `cbor:"name"`
		Count int    `cbor:"count"`
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for i := 0; i < 3; i++ {
		if err := encoder.Encode(record{Name: "item", Count: i}); err != nil {
			t.Fatalf("Encode %d: %v", i, err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i := 0; i < 3; i++ {
		var got record
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode %d: %v", i, err)
		}
		if got.Count != i || got.Name != "item" {
			t.Fatalf("Decode %d = %+v", i, got)
		}
	}
}
