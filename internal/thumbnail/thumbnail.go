// Package thumbnail renders the fixed preview variants stored next to image
// blobs.
package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"tally/internal/models"
)

// Variant is one preview size. The image is scaled so that it covers a
// Size x Size box; it is never enlarged.
type Variant struct {
	Name string
	Size int
}

// Variants lists the previews generated for every image upload.
var Variants = []Variant{
	{Name: "outside-360", Size: 360},
	{Name: "outside-720", Size: 720},
}

const jpegQuality = 85

// Rendered is one encoded preview.
type Rendered struct {
	FileName string
	Data     []byte
}

// Set holds the previews of one image.
type Set struct {
	Width     int
	Height    int
	Extension string
	Files     []Rendered
}

// Meta returns the image metadata recorded on the attachment.
func (s *Set) Meta() *models.ImageMeta {
	if s == nil {
		return nil
	}
	return &models.ImageMeta{Width: s.Width, Height: s.Height, ThumbnailsExtension: s.Extension}
}

// IsImage reports whether previews are generated for mediaType.
func IsImage(mediaType string) bool {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}

// VariantNames returns the variant names without extension.
func VariantNames() []string {
	names := make([]string, 0, len(Variants))
	for _, v := range Variants {
		names = append(names, v.Name)
	}
	return names
}

// Render decodes an image and encodes every variant. PNG and GIF sources keep
// an alpha channel and produce png previews; everything else becomes jpg.
func Render(r io.Reader, mediaType string) (*Set, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	ext, format := "jpg", imaging.JPEG
	switch strings.ToLower(mediaType) {
	case "image/png", "image/gif":
		ext, format = "png", imaging.PNG
	}

	bounds := img.Bounds()
	set := &Set{Width: bounds.Dx(), Height: bounds.Dy(), Extension: ext}
	for _, v := range Variants {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, cover(img, v.Size), format, imaging.JPEGQuality(jpegQuality)); err != nil {
			return nil, fmt.Errorf("encode %s: %w", v.Name, err)
		}
		set.Files = append(set.Files, Rendered{FileName: v.Name + "." + ext, Data: buf.Bytes()})
	}
	return set, nil
}

func cover(img image.Image, size int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= size || h <= size {
		return img
	}
	if w < h {
		return imaging.Resize(img, size, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, size, imaging.Lanczos)
}
