package fixgen

import (
	"fmt"
	"strings"

	"github.com/jacklau/autofix/internal/issue"
)

// CommitMessage returns the conventional commit subject for a fix of is.
func CommitMessage(is issue.Issue) string {
	switch k := is.Kind.(type) {
	case issue.Style:
		desc := k.Description
		if desc == "" {
			desc = k.Code
		}
		return fmt.Sprintf("fix: %s in %s", desc, is.File)
	case issue.Complexity:
		return fmt.Sprintf("refactor: reduce complexity of %s from %d to %d", k.Function, k.Complexity, k.TargetComplexity)
	case issue.Maintainability:
		subject := k.Function
		if subject == "" {
			subject = is.File
		}
		return fmt.Sprintf("refactor: improve maintainability of %s from %.2f to %.0f", subject, k.Score, k.TargetScore)
	default:
		return fmt.Sprintf("fix: automated change in %s", is.File)
	}
}

// PullRequestBody renders the change request description. diff may be empty.
func PullRequestBody(is issue.Issue, diff string) string {
	var b strings.Builder
	b.WriteString("This change was generated automatically to address a code quality finding.\n\n")
	fmt.Fprintf(&b, "- **Type:** %s\n", is.Type())
	fmt.Fprintf(&b, "- **Description:** %s\n", is.Describe())
	fmt.Fprintf(&b, "- **File:** `%s`\n", is.File)
	if is.Line > 0 {
		if is.EndLine > is.Line {
			fmt.Fprintf(&b, "- **Line:** %d-%d\n", is.Line, is.EndLine)
		} else {
			fmt.Fprintf(&b, "- **Line:** %d\n", is.Line)
		}
	}
	if diff != "" {
		b.WriteString("\n<details><summary>Diff</summary>\n\n```diff\n")
		b.WriteString(strings.TrimRight(diff, "\n"))
		b.WriteString("\n```\n\n</details>\n")
	}
	b.WriteString("\nPlease review carefully before merging.\n")
	return b.String()
}
