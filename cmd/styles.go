package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jacklau/autofix/internal/guardrail"
	"github.com/jacklau/autofix/internal/issue"
	"github.com/jacklau/autofix/internal/store"
)

var (
	accent  = lipgloss.Color("#7D56F4")
	success = lipgloss.Color("#04B575")
	warning = lipgloss.Color("#FFB454")
	danger  = lipgloss.Color("#FF5F5F")
	dim     = lipgloss.Color("#767676")

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(accent)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(success)
	fileStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FAFFF"))
	dimStyle      = lipgloss.NewStyle().Foreground(dim)
	addStyle      = lipgloss.NewStyle().Foreground(success)
	delStyle      = lipgloss.NewStyle().Foreground(danger)
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(accent).Padding(0, 1)
)

func outcomeStyle(outcome string) lipgloss.Style {
	switch outcome {
	case store.OutcomeDelivered:
		return lipgloss.NewStyle().Foreground(success)
	case store.OutcomeRejected, store.OutcomeUnchanged, store.OutcomeSkipped:
		return lipgloss.NewStyle().Foreground(warning)
	default:
		return lipgloss.NewStyle().Foreground(danger)
	}
}

// renderIssues writes the ranked issues, marking the first as selected. A
// limit of zero or less prints all of them.
func renderIssues(w io.Writer, title string, ranked []issue.Scored, limit int) {
	fmt.Fprintln(w, boxStyle.Render(titleStyle.Render(title)+"  "+dimStyle.Render(fmt.Sprintf("%d issues", len(ranked)))))
	if len(ranked) == 0 {
		fmt.Fprintln(w, "  No issues found.")
		return
	}

	for i, s := range ranked {
		if limit > 0 && i >= limit {
			fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("  ... %d more", len(ranked)-limit)))
			break
		}
		marker := dimStyle.Render("  ")
		score := fmt.Sprintf("%6.1f", s.Score)
		if i == 0 {
			marker = selectedStyle.Render("▶ ")
			score = selectedStyle.Render(score)
		}
		loc := fmt.Sprintf("%s:%d", s.Issue.File, s.Issue.Line)
		fmt.Fprintf(w, "%s%s  %-15s %s  %s\n",
			marker, score, s.Issue.Type(), fileStyle.Render(loc), s.Issue.Describe())
	}
}

// renderDiff colors a unified diff and appends the guardrail verdict.
func renderDiff(w io.Writer, diff string, v guardrail.Verdict) {
	for _, line := range strings.Split(strings.TrimRight(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"), strings.HasPrefix(line, "@@"):
			fmt.Fprintln(w, dimStyle.Render(line))
		case strings.HasPrefix(line, "+"):
			fmt.Fprintln(w, addStyle.Render(line))
		case strings.HasPrefix(line, "-"):
			fmt.Fprintln(w, delStyle.Render(line))
		default:
			fmt.Fprintln(w, line)
		}
	}

	verdict := selectedStyle.Render("accepted")
	if v.TooLarge {
		verdict = delStyle.Render("rejected: too large")
	}
	fmt.Fprintf(w, "\nGuardrail: %s (%s)\n", verdict, v)
}
