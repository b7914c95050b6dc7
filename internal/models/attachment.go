package models

import (
	"fmt"
	"strings"
	"time"
)

// AttachmentKind tags which payload an attachment carries.
type AttachmentKind string

const (
	AttachmentKindFile AttachmentKind = "file"
	AttachmentKindLink AttachmentKind = "link"
)

var validAttachmentKinds = map[AttachmentKind]struct{}{
	AttachmentKindFile: {},
	AttachmentKindLink: {},
}

// ParseAttachmentKind normalizes and validates a kind string.
func ParseAttachmentKind(raw string) (AttachmentKind, error) {
	value := AttachmentKind(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return "", fmt.Errorf("attachment kind is required")
	}
	if _, ok := validAttachmentKinds[value]; !ok {
		return "", fmt.Errorf("invalid attachment kind: %s", value)
	}
	return value, nil
}

// ImageMeta describes generated thumbnails for image uploads.
type ImageMeta struct {
	Width               int    `json:"width,omitempty"`
	Height              int    `json:"height,omitempty"`
	ThumbnailsExtension string `json:"thumbnails_extension,omitempty"`
}

// FileData is the payload of a file attachment. BlobID is a back reference
// to a counted blob; the attachment does not own it.
type FileData struct {
	BlobID    string     `json:"blob_id"`
	Filename  string     `json:"filename"`
	MimeType  string     `json:"mime_type,omitempty"`
	SizeBytes int64      `json:"size_bytes"`
	Image     *ImageMeta `json:"image,omitempty"`
}

// LinkData is the payload of a link attachment.
type LinkData struct {
	URL string `json:"url"`
}

// Attachment is one named object attached to an expense.
// Exactly one of File or Link is set, matching Kind.
type Attachment struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"owner_id"`
	Kind      AttachmentKind `json:"kind"`
	Name      string         `json:"name"`
	File      *FileData      `json:"file,omitempty"`
	Link      *LinkData      `json:"link,omitempty"`
	CreatorID string         `json:"creator_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// BlobID returns the referenced blob for file attachments.
func (a Attachment) BlobID() (string, bool) {
	if a.Kind != AttachmentKindFile || a.File == nil || a.File.BlobID == "" {
		return "", false
	}
	return a.File.BlobID, true
}

// AttachmentInput describes one attachment to create.
type AttachmentInput struct {
	Kind      AttachmentKind
	Name      string
	File      *FileData
	Link      *LinkData
	CreatorID string
}

// BlobID returns the blob the input would reference.
func (in AttachmentInput) BlobID() (string, bool) {
	if in.Kind != AttachmentKindFile || in.File == nil || in.File.BlobID == "" {
		return "", false
	}
	return in.File.BlobID, true
}

// Validate checks that the payload matches the kind.
func (in AttachmentInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("attachment name is required")
	}
	switch in.Kind {
	case AttachmentKindFile:
		if in.File == nil || strings.TrimSpace(in.File.BlobID) == "" {
			return fmt.Errorf("file attachment requires blob_id")
		}
		if in.Link != nil {
			return fmt.Errorf("file attachment cannot carry a link")
		}
	case AttachmentKindLink:
		if in.Link == nil || strings.TrimSpace(in.Link.URL) == "" {
			return fmt.Errorf("link attachment requires url")
		}
		if in.File != nil {
			return fmt.Errorf("link attachment cannot reference a blob")
		}
	default:
		return fmt.Errorf("invalid attachment kind: %s", in.Kind)
	}
	return nil
}
