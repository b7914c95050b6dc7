package main

import (
	"context"
	"errors"
	"net"
	"net/http"

	"tally/internal/api"
)

const errCodeBlobNotAvailable = 2201

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "unauthorized", "forbidden":
			lines = append(lines, "hint: verify TALLY_API_TOKEN and TALLY_ADMIN_TOKEN configuration.")
		case "resource_exhausted":
			lines = append(lines, "hint: retry shortly; another blob sweep is running.")
		case "unavailable":
			lines = append(lines, "hint: the database or blob backend is unreachable; check the server configuration.")
		}
		if apiErr.ErrorCode == errCodeBlobNotAvailable {
			lines = append(lines, "hint: the blob was already released; upload the file again instead of referencing it.")
		}
		if apiErr.Status == http.StatusUnsupportedMediaType {
			lines = append(lines, "hint: allowed types are set by attachments.allowed_media_types (TALLY_ATTACH_ALLOWED_MEDIA_TYPES).")
		}
		if apiErr.Code == "" {
			lines = append(lines, "hint: verify TALLY_API_URL points to a tally server.")
		}
		if apiErr.Status >= 500 && apiErr.Code != "unavailable" {
			lines = append(lines, "hint: server returned an internal error; check server logs for details.")
		}
		return uniqueLines(lines)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		lines = append(lines, "hint: request timed out; check server health or increase TALLY_HTTP_TIMEOUT.")
		return uniqueLines(lines)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		lines = append(lines,
			"hint: ensure a tally server is running at TALLY_API_URL.",
			"hint: start local server manually with: tally srv",
		)
		return uniqueLines(lines)
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
