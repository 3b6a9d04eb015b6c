// Package guardrail rejects generated fixes whose diff against the original
// source is too large to be a narrowly scoped change.
package guardrail

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const (
	// DefaultMaxChangedLines is the absolute limit on added plus deleted lines.
	DefaultMaxChangedLines = 50

	// DefaultMaxChangedRatio is the limit on changed lines relative to the
	// original line count.
	DefaultMaxChangedRatio = 0.30
)

// Guard holds the diff-size thresholds.
type Guard struct {
	MaxChangedLines int
	MaxChangedRatio float64
}

// New returns a Guard with the given thresholds. Non-positive values fall
// back to the defaults.
func New(maxLines int, maxRatio float64) Guard {
	if maxLines <= 0 {
		maxLines = DefaultMaxChangedLines
	}
	if maxRatio <= 0 {
		maxRatio = DefaultMaxChangedRatio
	}
	return Guard{MaxChangedLines: maxLines, MaxChangedRatio: maxRatio}
}

// Verdict describes the guardrail's measurement of one candidate fix.
type Verdict struct {
	ChangedLines  int
	OriginalLines int
	Ratio         float64
	TooLarge      bool
}

func (v Verdict) String() string {
	return fmt.Sprintf("%d changed of %d lines (%.0f%%)", v.ChangedLines, v.OriginalLines, v.Ratio*100)
}

// Check measures the diff between original and fixed after normalizing both.
func (g Guard) Check(original, fixed string) Verdict {
	a := splitLines(Normalize(original))
	b := splitLines(Normalize(fixed))

	changed := ChangedLines(a, b)
	denom := len(a)
	if denom < 1 {
		denom = 1
	}
	ratio := float64(changed) / float64(denom)

	return Verdict{
		ChangedLines:  changed,
		OriginalLines: len(a),
		Ratio:         ratio,
		TooLarge:      changed > g.MaxChangedLines || ratio > g.MaxChangedRatio,
	}
}

// IsTooLarge reports whether the fix should be rejected.
func (g Guard) IsTooLarge(original, fixed string) bool {
	return g.Check(original, fixed).TooLarge
}

// Identical reports whether original and fixed are the same after
// normalization.
func Identical(original, fixed string) bool {
	return Normalize(original) == Normalize(fixed)
}

// Normalize unifies line endings to LF and strips trailing whitespace from
// every line. Indentation and blank lines are preserved; whitespace-only
// lines become empty.
func Normalize(code string) string {
	code = strings.ReplaceAll(code, "\r\n", "\n")
	code = strings.ReplaceAll(code, "\r", "\n")

	lines := strings.Split(code, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\f\v")
	}
	return strings.Join(lines, "\n")
}

// ChangedLines counts added plus deleted lines between a and b, ignoring
// diff header lines.
func ChangedLines(a, b []string) int {
	m := difflib.NewMatcherWithJunk(a, b, false, nil)
	changed := 0
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'r':
			changed += (op.I2 - op.I1) + (op.J2 - op.J1)
		case 'd':
			changed += op.I2 - op.I1
		case 'i':
			changed += op.J2 - op.J1
		}
	}
	return changed
}

// UnifiedDiff renders a unified diff of the normalized sources for display.
func UnifiedDiff(path, original, fixed string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(Normalize(original)),
		B:        difflib.SplitLines(Normalize(fixed)),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	})
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
