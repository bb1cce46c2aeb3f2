package main

import (
	"context"
	"errors"
	"net"

	"chatvault/internal/api"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "unauthorized", "forbidden":
			lines = append(lines, "hint: verify CHATVAULT_API_TOKEN and CHATVAULT_ADMIN_TOKEN configuration.")
		case "resource_exhausted":
			lines = append(lines, "hint: retry shortly or reduce concurrent uploads and login attempts.")
		case "request_too_large":
			lines = append(lines, "hint: raise uploads.max_upload_bytes on the server or send a smaller file.")
		case "corrupted_blob":
			lines = append(lines, "hint: the stored blob is incomplete; upload the file again.")
		}
		if apiErr.Code == "" {
			lines = append(lines, "hint: verify CHATVAULT_API_URL points to a chatvault server.")
		}
		if apiErr.Status >= 500 {
			lines = append(lines, "hint: server returned an internal error; check server logs for details.")
		}
		return uniqueLines(lines)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		lines = append(lines, "hint: request timed out; check server health or increase CHATVAULT_HTTP_TIMEOUT.")
		return uniqueLines(lines)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		lines = append(lines,
			"hint: ensure a chatvault server is running at CHATVAULT_API_URL.",
			"hint: start local server manually with: chatvault srv",
			"hint: you can increase CHATVAULT_HTTP_TIMEOUT for slower environments.",
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
