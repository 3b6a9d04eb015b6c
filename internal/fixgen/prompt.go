package fixgen

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/jacklau/autofix/internal/issue"
	"github.com/jacklau/autofix/internal/pyfunc"
)

// SystemPrompt is sent with every fix request.
const SystemPrompt = "You are an expert Python developer fixing code quality issues. " +
	"Return only the corrected code, no prose, no markdown fencing. " +
	"Preserve the original indentation and keep every line that does not need to change."

// styleContextRadius is how many lines around a lint finding are sent.
const styleContextRadius = 5

const stylePromptTemplate = `Fix the following flake8 issue in {{.File}}.

Issue: {{.Code}} {{.Description}}
Line {{.Line}}: {{.Offending}}

The code below is lines {{.Start}}-{{.End}} of the file. Return the same lines with only the issue fixed.

{{.Snippet}}`

const complexityPromptTemplate = `Refactor the function {{.Function}} in {{.File}} to reduce its cyclomatic complexity from {{.Complexity}} to {{.Target}} or lower.

Keep the function name, signature and behavior unchanged. Helper functions may be added directly above or below it at the same indentation.

{{.Snippet}}`

const maintainabilityPromptTemplate = `Improve the maintainability of {{if .Function}}the function {{.Function}} in {{end}}{{.File}}. Its maintainability index is {{printf "%.2f" .Score}} (rank {{.Rank}}); raise it to at least {{printf "%.0f" .Target}}.

Simplify the code, shorten long expressions and remove duplication without changing behavior or public names.

{{.Snippet}}`

var (
	styleTmpl           = template.Must(template.New("style").Parse(stylePromptTemplate))
	complexityTmpl      = template.Must(template.New("complexity").Parse(complexityPromptTemplate))
	maintainabilityTmpl = template.Must(template.New("maintainability").Parse(maintainabilityPromptTemplate))
)

type styleData struct {
	File        string
	Code        string
	Description string
	Line        int
	Offending   string
	Start, End  int
	Snippet     string
}

type complexityData struct {
	File       string
	Function   string
	Complexity int
	Target     int
	Snippet    string
}

type maintainabilityData struct {
	File     string
	Function string
	Score    float64
	Rank     string
	Target   float64
	Snippet  string
}

// Prompt is a rendered user prompt and the region of the file it covers.
type Prompt struct {
	Text string
	Span pyfunc.Span
}

// BuildPrompt resolves the code region an issue refers to and renders the
// prompt for it.
func BuildPrompt(is issue.Issue, code string) (Prompt, error) {
	if strings.TrimSpace(code) == "" {
		return Prompt{}, fmt.Errorf("%w: %s is empty", ErrExtractionFailed, is.File)
	}

	var (
		span pyfunc.Span
		tmpl *template.Template
		data any
	)

	switch k := is.Kind.(type) {
	case issue.Style:
		if is.Line < 1 {
			return Prompt{}, fmt.Errorf("%w: style issue without a line", ErrExtractionFailed)
		}
		span = pyfunc.Window(code, is.Line, styleContextRadius)
		lines := pyfunc.Lines(code)
		offending := ""
		if is.Line <= len(lines) {
			offending = strings.TrimSpace(lines[is.Line-1])
		}
		tmpl = styleTmpl
		data = styleData{
			File: is.File, Code: k.Code, Description: k.Description,
			Line: is.Line, Offending: offending,
			Start: span.Start, End: span.End, Snippet: span.Text,
		}

	case issue.Complexity:
		var ok bool
		span, ok = pyfunc.Extract(code, k.Function, is.Line)
		if !ok {
			return Prompt{}, fmt.Errorf("%w: function %s not found in %s", ErrExtractionFailed, k.Function, is.File)
		}
		tmpl = complexityTmpl
		data = complexityData{
			File: is.File, Function: k.Function,
			Complexity: k.Complexity, Target: k.TargetComplexity, Snippet: span.Text,
		}

	case issue.Maintainability:
		if k.Function != "" {
			var ok bool
			span, ok = pyfunc.Extract(code, k.Function, is.Line)
			if !ok {
				return Prompt{}, fmt.Errorf("%w: function %s not found in %s", ErrExtractionFailed, k.Function, is.File)
			}
		} else {
			lines := pyfunc.Lines(code)
			span = pyfunc.Span{Text: strings.Join(lines, "\n") + "\n", Start: 1, End: len(lines)}
		}
		tmpl = maintainabilityTmpl
		data = maintainabilityData{
			File: is.File, Function: k.Function,
			Score: k.Score, Rank: k.Rank, Target: k.TargetScore, Snippet: span.Text,
		}

	default:
		return Prompt{}, fmt.Errorf("%w: %T", ErrUnsupportedIssue, is.Kind)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return Prompt{}, fmt.Errorf("rendering prompt template: %w", err)
	}
	return Prompt{Text: buf.String(), Span: span}, nil
}

// codeFenceRe matches a markdown code fence with an optional language tag.
var codeFenceRe = regexp.MustCompile("(?s)```[\\w+.-]*[ \\t]*\\r?\\n(.*?)\\r?\\n?[ \\t]*```")

// StripFences returns the contents of the first fenced block in raw, or raw
// itself when there is none. Leading blank lines and trailing whitespace are
// removed; leading indentation is kept.
func StripFences(raw string) string {
	code := raw
	if m := codeFenceRe.FindStringSubmatch(raw); len(m) > 1 {
		code = m[1]
	}
	code = strings.TrimRight(code, " \t\r\n")
	for {
		nl := strings.IndexByte(code, '\n')
		if nl < 0 || strings.TrimSpace(code[:nl]) != "" {
			break
		}
		code = code[nl+1:]
	}
	if strings.TrimSpace(code) == "" {
		return ""
	}
	return code + "\n"
}

// reindent shifts snippet so its first non-blank line starts at the
// indentation of original's first non-blank line. Models often return
// methods dedented to column zero.
func reindent(snippet, original string) string {
	want := leadingIndent(original)
	have := leadingIndent(snippet)
	if want == have || have != "" {
		return snippet
	}
	lines := pyfunc.Lines(snippet)
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			lines[i] = want + l
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

func leadingIndent(code string) string {
	for _, l := range pyfunc.Lines(code) {
		if strings.TrimSpace(l) == "" {
			continue
		}
		return l[:len(l)-len(strings.TrimLeft(l, " \t"))]
	}
	return ""
}
