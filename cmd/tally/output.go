package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"tally/internal/api"
	"tally/internal/format"
	"tally/internal/models"
)

var outputFormatter format.Formatter = format.JSONFormatter{}

func writeJSON(payload any) error {
	return outputFormatter.Write(os.Stdout, payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, format, args...)
	return err
}

func writeExpenseList(expenses []api.ExpenseResponse) error {
	for _, expense := range expenses {
		if err := writePlain("%s\n", formatExpenseLine(expense.Expense)); err != nil {
			return err
		}
	}
	return nil
}

func writeExpenseDetail(expense models.Expense) error {
	lines := []string{
		fmt.Sprintf("id: %s", expense.ID),
		fmt.Sprintf("name: %s", expense.Name),
		fmt.Sprintf("amount: %s", formatAmount(expense.AmountCents, expense.Currency)),
		fmt.Sprintf("created_at: %s", formatTime(expense.CreatedAt)),
		fmt.Sprintf("updated_at: %s", formatTime(expense.UpdatedAt)),
	}
	if expense.ProjectID != "" {
		lines = append(lines, fmt.Sprintf("project_id: %s", expense.ProjectID))
	}
	if expense.Category != "" {
		lines = append(lines, fmt.Sprintf("category: %s", expense.Category))
	}
	if expense.SpentOn != "" {
		lines = append(lines, fmt.Sprintf("spent_on: %s", expense.SpentOn))
	}
	if expense.CreatorID != "" {
		lines = append(lines, fmt.Sprintf("creator_id: %s", expense.CreatorID))
	}
	if expense.Description != "" {
		lines = append(lines, fmt.Sprintf("description: %s", expense.Description))
	}
	return writePlain("%s\n", strings.Join(lines, "\n"))
}

func formatExpenseLine(expense models.Expense) string {
	line := fmt.Sprintf("%s %12s  %s", expense.ID, formatAmount(expense.AmountCents, expense.Currency), expense.Name)
	if expense.SpentOn != "" {
		line += " (" + expense.SpentOn + ")"
	}
	return line
}

func writeAttachmentList(attachments []api.AttachmentResponse) error {
	for _, attachment := range attachments {
		if err := writePlain("%s\n", formatAttachmentLine(attachment.Attachment)); err != nil {
			return err
		}
	}
	return nil
}

func writeAttachmentDetail(attachment api.AttachmentResponse) error {
	a := attachment.Attachment
	lines := []string{
		fmt.Sprintf("id: %s", a.ID),
		fmt.Sprintf("expense_id: %s", a.OwnerID),
		fmt.Sprintf("kind: %s", a.Kind),
		fmt.Sprintf("name: %s", a.Name),
	}
	if a.File != nil {
		lines = append(lines,
			fmt.Sprintf("blob_id: %s", a.File.BlobID),
			fmt.Sprintf("filename: %s", a.File.Filename),
			fmt.Sprintf("size: %s", humanize.Bytes(uint64(a.File.SizeBytes))),
		)
		if a.File.MimeType != "" {
			lines = append(lines, fmt.Sprintf("mime_type: %s", a.File.MimeType))
		}
		if img := a.File.Image; img != nil {
			lines = append(lines, fmt.Sprintf("image: %dx%d", img.Width, img.Height))
		}
	}
	if a.Link != nil {
		lines = append(lines, fmt.Sprintf("url: %s", a.Link.URL))
	}
	if attachment.DownloadURL != "" {
		lines = append(lines, fmt.Sprintf("download_url: %s", attachment.DownloadURL))
	}
	if thumbs := attachment.ThumbnailURLs; thumbs != nil {
		lines = append(lines, "thumbnails:",
			fmt.Sprintf("  - %s", thumbs.Outside360),
			fmt.Sprintf("  - %s", thumbs.Outside720),
		)
	}
	if a.CreatorID != "" {
		lines = append(lines, fmt.Sprintf("creator_id: %s", a.CreatorID))
	}
	lines = append(lines,
		fmt.Sprintf("created_at: %s", formatTime(a.CreatedAt)),
		fmt.Sprintf("updated_at: %s", formatTime(a.UpdatedAt)),
	)
	return writePlain("%s\n", strings.Join(lines, "\n"))
}

func formatAttachmentLine(a models.Attachment) string {
	switch {
	case a.File != nil:
		return fmt.Sprintf("%s [file] %s (%s, %s)", a.ID, a.Name, a.File.Filename, humanize.Bytes(uint64(a.File.SizeBytes)))
	case a.Link != nil:
		return fmt.Sprintf("%s [link] %s -> %s", a.ID, a.Name, a.Link.URL)
	default:
		return fmt.Sprintf("%s [%s] %s", a.ID, a.Kind, a.Name)
	}
}

// writeDeleteResult prints removed attachments and the blob counters they
// left behind.
func writeDeleteResult(resp api.DeleteResponse) error {
	if resp.ID != "" {
		if err := writePlain("removed %s\n", resp.ID); err != nil {
			return err
		}
	}
	for _, id := range resp.AttachmentIDs {
		if err := writePlain("removed attachment %s\n", id); err != nil {
			return err
		}
	}
	for _, blob := range resp.Blobs {
		if err := writePlain("blob %s: %s\n", blob.BlobID, blob.Total); err != nil {
			return err
		}
	}
	return nil
}

func formatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%s.%02d %s", sign, humanize.Comma(cents/100), cents%100, currency)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
