package utils

import (
	"testing"
	"time"
)

func TestJobCursorRoundTrip(t *testing.T) {
	createdAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	id := "7b1c8d9e-0f21-4c3a-8e55-6a7d8c9e0f21"

	encoded, err := EncodeJobCursor(createdAt, id)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}

	got, err := DecodeJobCursor(encoded)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if !got.CreatedAt.Equal(createdAt) {
		t.Fatalf("createdAt mismatch: got %v want %v", got.CreatedAt, createdAt)
	}
	if got.ID != id {
		t.Fatalf("id mismatch: got %s want %s", got.ID, id)
	}
}

func TestDecodeJobCursorRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"not-base64!!!",
		"bm90IGpzb24", // base64("not json")
		"e30",         // base64("{}"): missing fields
	}

	for _, c := range cases {
		if _, err := DecodeJobCursor(c); err == nil {
			t.Fatalf("expected error for cursor %q", c)
		}
	}
}
