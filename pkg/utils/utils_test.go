package utils

import (
	"strings"
	"testing"
)

func TestGenerateCallID(t *testing.T) {
	id1 := GenerateCallID()
	id2 := GenerateCallID()

	if id1 == id2 {
		t.Fatal("expected call IDs to be unique")
	}
	if !strings.HasPrefix(id1, "call_") {
		t.Fatalf("expected call_ prefix, got %q", id1)
	}
}

func TestGenerateParticipantID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateParticipantID()
		if id == "" {
			t.Fatal("expected non-empty participant ID")
		}
		if seen[id] {
			t.Fatalf("duplicate participant ID: %s", id)
		}
		seen[id] = true
	}
}
