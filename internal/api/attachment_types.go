package api

import (
	"io"

	"tally/internal/models"
)

// AttachmentRefRequest creates an attachment against an existing blob, or a
// link attachment when Kind is "link".
type AttachmentRefRequest struct {
	Kind      string            `json:"kind"`
	Name      string            `json:"name"`
	BlobID    string            `json:"blob_id,omitempty"`
	Filename  string            `json:"filename,omitempty"`
	MimeType  string            `json:"mime_type,omitempty"`
	SizeBytes int64             `json:"size_bytes,omitempty"`
	Image     *models.ImageMeta `json:"image,omitempty"`
	URL       string            `json:"url,omitempty"`
}

// AttachmentBatchRequest creates several attachments in one transaction.
type AttachmentBatchRequest struct {
	Items []AttachmentRefRequest `json:"items"`
}

// AttachmentRenameRequest renames an attachment.
type AttachmentRenameRequest struct {
	Name string `json:"name"`
}

// ThumbnailURLs lists the preview variants of an image attachment.
type ThumbnailURLs struct {
	Outside360 string `json:"outside_360"`
	Outside720 string `json:"outside_720"`
}

// AttachmentResponse is an attachment with its download locations.
type AttachmentResponse struct {
	models.Attachment
	DownloadURL   string         `json:"download_url,omitempty"`
	ThumbnailURLs *ThumbnailURLs `json:"thumbnail_urls,omitempty"`
}

// UploadFile is one file part of a multipart upload.
type UploadFile struct {
	Filename  string
	MediaType string
	Content   io.Reader
}
