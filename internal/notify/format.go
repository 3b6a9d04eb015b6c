package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/jacklau/autofix/internal/pubsub"
)

const maxDescriptionLen = 200

// FormatLocation renders "file:line" or "file:start-end".
// Example: "pkg/a.py:12-30"
func FormatLocation(file string, line, endLine int) string {
	switch {
	case line <= 0:
		return file
	case endLine > line:
		return fmt.Sprintf("%s:%d-%d", file, line, endLine)
	default:
		return fmt.Sprintf("%s:%d", file, line)
	}
}

// FileURL links to a file on the repository's default branch.
func FileURL(repo, file string, line int) string {
	u := fmt.Sprintf("https://github.com/%s/blob/HEAD/%s", repo, file)
	if line > 0 {
		u += fmt.Sprintf("#L%d", line)
	}
	return u
}

// Truncate shortens s to at most n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// Title returns the headline for a report.
func Title(r Report) string {
	if r.Event == pubsub.Rejected {
		return "Fix Rejected by Guardrail"
	}
	return "Fix Delivered"
}

// TimeAgo returns a human-readable relative time string.
func TimeAgo(t time.Time) string {
	d := time.Since(t)

	switch {
	case d < time.Minute:
		secs := int(d.Seconds())
		if secs <= 1 {
			return "just now"
		}
		return fmt.Sprintf("%d sec ago", secs)
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 min ago"
		}
		return fmt.Sprintf("%d min ago", mins)
	case d < 24*time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}
