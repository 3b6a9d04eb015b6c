// Package pyfunc locates Python function definitions in source text by
// indentation, without a Python parser.
package pyfunc

import (
	"regexp"
	"strings"
)

// Span is an extracted function. Start and End are 1-based and inclusive.
type Span struct {
	Text  string
	Start int
	End   int
}

// Lines splits code into lines after unifying line endings. A trailing
// newline does not produce an extra empty line.
func Lines(code string) []string {
	code = strings.ReplaceAll(code, "\r\n", "\n")
	code = strings.ReplaceAll(code, "\r", "\n")
	code = strings.TrimSuffix(code, "\n")
	if code == "" {
		return nil
	}
	return strings.Split(code, "\n")
}

// Extract finds the definition of name closest to approxLine and returns its
// text and line range. approxLine <= 0 selects the first definition.
func Extract(code, name string, approxLine int) (Span, bool) {
	if name == "" {
		return Span{}, false
	}
	lines := Lines(code)
	defRe := regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+` + regexp.QuoteMeta(name) + `\s*\(`)

	start := -1
	best := -1
	for i, line := range lines {
		if !defRe.MatchString(line) {
			continue
		}
		if approxLine <= 0 {
			start = i
			break
		}
		d := abs(i + 1 - approxLine)
		if best < 0 || d < best {
			best, start = d, i
		}
	}
	if start < 0 {
		return Span{}, false
	}

	end := functionEnd(lines, start)
	return Span{
		Text:  strings.Join(lines[start:end+1], "\n") + "\n",
		Start: start + 1,
		End:   end + 1,
	}, true
}

// functionEnd returns the 0-based index of the last non-blank line belonging
// to the definition starting at lines[start].
func functionEnd(lines []string, start int) int {
	indent := indentOf(lines[start])

	// Skip past a signature that spans several lines.
	i, depth := start, 0
	for ; i < len(lines); i++ {
		depth += bracketDelta(stripComment(lines[i]))
		if depth <= 0 {
			break
		}
	}
	if i >= len(lines) {
		return len(lines) - 1
	}

	last := i
	inString := ""
	for j := i + 1; j < len(lines); j++ {
		line := lines[j]
		if inString != "" {
			last = j
			if strings.Count(line, inString)%2 == 1 {
				inString = ""
			}
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if indentOf(line) <= indent {
			break
		}
		last = j
		inString = openTripleQuote(line)
	}
	return last
}

// openTripleQuote returns the delimiter of a triple-quoted string left open
// at the end of line, or "".
func openTripleQuote(line string) string {
	for _, q := range []string{`"""`, `'''`} {
		if strings.Count(line, q)%2 == 1 {
			return q
		}
	}
	return ""
}

func bracketDelta(s string) int {
	d := 0
	for _, r := range s {
		switch r {
		case '(', '[', '{':
			d++
		case ')', ']', '}':
			d--
		}
	}
	return d
}

func stripComment(s string) string {
	if i := strings.Index(s, "#"); i >= 0 {
		return s[:i]
	}
	return s
}

func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Window returns the lines within radius of the 1-based line, clamped to the
// file, with their 1-based bounds.
func Window(code string, line, radius int) Span {
	lines := Lines(code)
	if len(lines) == 0 {
		return Span{}
	}
	if line < 1 {
		line = 1
	}
	if line > len(lines) {
		line = len(lines)
	}
	start := line - radius
	if start < 1 {
		start = 1
	}
	end := line + radius
	if end > len(lines) {
		end = len(lines)
	}
	return Span{
		Text:  strings.Join(lines[start-1:end], "\n") + "\n",
		Start: start,
		End:   end,
	}
}

// Splice replaces lines start..end (1-based, inclusive) of code with
// replacement and returns the whole file. The result uses code's line ending
// and ends with one when code does or is empty.
func Splice(code string, start, end int, replacement string) string {
	lines := Lines(code)
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if end < 0 {
		end = 0
	}
	if start > end+1 {
		start = end + 1
	}

	out := make([]string, 0, len(lines))
	out = append(out, lines[:start-1]...)
	out = append(out, Lines(replacement)...)
	out = append(out, lines[end:]...)
	if len(out) == 0 {
		return ""
	}

	eol := LineEnding(code)
	joined := strings.Join(out, eol)
	if code == "" || strings.HasSuffix(code, "\n") || strings.HasSuffix(code, "\r") {
		joined += eol
	}
	return joined
}

// LineEnding returns the first line terminator used in code, "\n" when it
// has none.
func LineEnding(code string) string {
	i := strings.IndexAny(code, "\r\n")
	switch {
	case i < 0:
		return "\n"
	case code[i] == '\n':
		return "\n"
	case i+1 < len(code) && code[i+1] == '\n':
		return "\r\n"
	default:
		return "\r"
	}
}
