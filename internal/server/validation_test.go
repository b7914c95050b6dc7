package server

import (
	"strings"
	"testing"
)

func TestValidateIDs(t *testing.T) {
	tests := []struct {
		id       string
		validate func(string) bool
		want     bool
	}{
		{"ex-ab12cd34", validateExpenseID, true},
		{"ex-00000000", validateExpenseID, true},
		{"at-ab12cd34", validateExpenseID, false},
		{"ex-ab12", validateExpenseID, false},
		{"EX-ab12cd34", validateExpenseID, false},
		{"at-zzzzzzzz", validateAttachmentID, true},
		{"at-zzzzzzz", validateAttachmentID, false},
		{"at_zzzzzzzz", validateAttachmentID, false},
		{"", validateAttachmentID, false},
		{"bl-01hzy3k6f8d2e7q4r9v5w1x0tb", validateBlobID, true},
		{"bl-nope", validateBlobID, false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := tt.validate(tt.id); got != tt.want {
				t.Fatalf("validate(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"trims", "  Hotel receipt ", "Hotel receipt", false},
		{"empty", "   ", "", true},
		{"exactly max", strings.Repeat("a", 128), strings.Repeat("a", 128), false},
		{"too long", strings.Repeat("a", 129), "", true},
		{"counts runes", strings.Repeat("é", 128), strings.Repeat("é", 128), false},
		{"control", "bad\x00name", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeName(tt.input, 128)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("normalizeName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeMediaType(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"application/pdf", "application/pdf", false},
		{"IMAGE/PNG; charset=binary", "image/png", false},
		{"not a type", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := normalizeMediaType(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalizeMediaType(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("normalizeMediaType(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
