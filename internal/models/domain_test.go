package models

import (
	"encoding/json"
	"testing"
)

func TestParseAttachmentKind(t *testing.T) {
	got, err := ParseAttachmentKind(" FILE ")
	if err != nil {
		t.Fatalf("parse kind: %v", err)
	}
	if got != AttachmentKindFile {
		t.Fatalf("expected %q, got %q", AttachmentKindFile, got)
	}

	if _, err := ParseAttachmentKind("folder"); err == nil {
		t.Fatal("expected invalid kind error")
	}
	if _, err := ParseAttachmentKind(""); err == nil {
		t.Fatal("expected missing kind error")
	}
}

func TestAttachmentInputValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      AttachmentInput
		wantErr bool
	}{
		{
			name: "file",
			in:   AttachmentInput{Kind: AttachmentKindFile, Name: "receipt.pdf", File: &FileData{BlobID: "bl-1"}},
		},
		{
			name: "link",
			in:   AttachmentInput{Kind: AttachmentKindLink, Name: "invoice", Link: &LinkData{URL: "https://example.com/i/1"}},
		},
		{
			name:    "file without blob",
			in:      AttachmentInput{Kind: AttachmentKindFile, Name: "receipt.pdf", File: &FileData{}},
			wantErr: true,
		},
		{
			name:    "link with blob",
			in:      AttachmentInput{Kind: AttachmentKindLink, Name: "x", Link: &LinkData{URL: "https://a"}, File: &FileData{BlobID: "bl-1"}},
			wantErr: true,
		},
		{
			name:    "missing name",
			in:      AttachmentInput{Kind: AttachmentKindFile, File: &FileData{BlobID: "bl-1"}},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			in:      AttachmentInput{Kind: "folder", Name: "x"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("validate: %v", err)
			}
		})
	}
}

func TestAttachmentBlobIDOnlyForFiles(t *testing.T) {
	file := Attachment{Kind: AttachmentKindFile, File: &FileData{BlobID: "bl-1"}}
	if id, ok := file.BlobID(); !ok || id != "bl-1" {
		t.Fatalf("expected bl-1, got %q ok=%v", id, ok)
	}

	link := Attachment{Kind: AttachmentKindLink, Link: &LinkData{URL: "https://a"}}
	if _, ok := link.BlobID(); ok {
		t.Fatal("link attachment must not report a blob")
	}
}

func TestRefCountStates(t *testing.T) {
	if !Orphaned().IsOrphaned() {
		t.Fatal("expected orphaned")
	}
	if !Referenced(0).IsOrphaned() {
		t.Fatal("zero references must collapse to orphaned")
	}
	r := Referenced(3)
	if r.IsOrphaned() || r.Count() != 3 {
		t.Fatalf("unexpected ref count: %v", r)
	}

	data, err := json.Marshal(BlobReference{ID: "bl-1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["total"] != nil {
		t.Fatalf("expected null total for orphaned blob, got %v", decoded["total"])
	}
}

func TestNormalizeCurrency(t *testing.T) {
	got, err := NormalizeCurrency(" usd ")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "USD" {
		t.Fatalf("expected USD, got %q", got)
	}
	if got, _ := NormalizeCurrency(""); got != DefaultCurrency {
		t.Fatalf("expected default currency, got %q", got)
	}
	if _, err := NormalizeCurrency("dollars"); err == nil {
		t.Fatal("expected invalid currency error")
	}
}

func TestParseSpentOn(t *testing.T) {
	if _, err := ParseSpentOn("2026-02-30"); err == nil {
		t.Fatal("expected invalid date error")
	}
	got, err := ParseSpentOn("2026-02-14")
	if err != nil || got != "2026-02-14" {
		t.Fatalf("unexpected result %q err=%v", got, err)
	}
}
