package store

import (
	"testing"
)

func TestGenerateID(t *testing.T) {
	t.Run("valid prefix", func(t *testing.T) {
		id, err := GenerateID("ex", nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(id) != 11 { // "ex-" + 8 chars
			t.Fatalf("expected length 11, got %d: %s", len(id), id)
		}
		if id[:3] != "ex-" {
			t.Fatalf("expected prefix ex-, got %s", id[:3])
		}
	})

	t.Run("empty prefix", func(t *testing.T) {
		_, err := GenerateID("", nil)
		if err == nil {
			t.Fatal("expected error for empty prefix")
		}
	})

	t.Run("retries on collision", func(t *testing.T) {
		calls := 0
		exists := func(id string) (bool, error) {
			calls++
			return calls < 3, nil // first 2 calls collide
		}
		id, err := GenerateID("ex", exists)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if id == "" {
			t.Fatal("expected non-empty id")
		}
		if calls != 3 {
			t.Fatalf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		exists := func(id string) (bool, error) {
			return true, nil // always collide
		}
		_, err := GenerateID("ex", exists)
		if err == nil {
			t.Fatal("expected error after max attempts")
		}
	})
}

func TestGenerateAttachmentAndExpenseID(t *testing.T) {
	attachmentID, err := GenerateAttachmentID(nil)
	if err != nil {
		t.Fatalf("generate attachment id: %v", err)
	}
	if len(attachmentID) != 11 || attachmentID[:3] != "at-" {
		t.Fatalf("expected attachment id with at- prefix, got %q", attachmentID)
	}

	expenseID, err := GenerateExpenseID(nil)
	if err != nil {
		t.Fatalf("generate expense id: %v", err)
	}
	if len(expenseID) != 11 || expenseID[:3] != "ex-" {
		t.Fatalf("expected expense id with ex- prefix, got %q", expenseID)
	}
}
