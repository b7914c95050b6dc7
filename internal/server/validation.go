package server

import (
	"fmt"
	"mime"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"tally/internal/blobstore"
)

var (
	expenseIDRegex    = regexp.MustCompile(`^ex-[0-9a-z]{8}$`)
	attachmentIDRegex = regexp.MustCompile(`^at-[0-9a-z]{8}$`)
)

func validateExpenseID(id string) bool {
	return expenseIDRegex.MatchString(id)
}

func validateAttachmentID(id string) bool {
	return attachmentIDRegex.MatchString(id)
}

func validateBlobID(id string) bool {
	return blobstore.ValidateBlobID(id) == nil
}

// normalizeName trims an attachment name and enforces the length limit in
// characters.
func normalizeName(raw string, maxLength int) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", badRequestCode(fmt.Errorf("name is required"), ErrCodeMissingRequired)
	}
	if maxLength > 0 && utf8.RuneCountInString(name) > maxLength {
		return "", badRequestCode(fmt.Errorf("name must be at most %d characters", maxLength), ErrCodeInvalidName)
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return "", badRequestCode(fmt.Errorf("name contains control characters"), ErrCodeInvalidName)
	}
	return name, nil
}

// normalizeMediaType lowercases a media type and drops its parameters.
func normalizeMediaType(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return "", badRequestCode(fmt.Errorf("invalid media type %q", raw), ErrCodeInvalidMediaType)
	}
	return strings.ToLower(mediaType), nil
}
