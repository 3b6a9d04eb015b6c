package issue

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
)

// ComplexityFinding is one entry of `radon cc -j` output. Classes carry their
// methods; functions and methods carry their own scores. radon also repeats
// every method as a top-level "method" entry after its class.
type ComplexityFinding struct {
	Type       string              `json:"type"`
	Name       string              `json:"name"`
	Classname  string              `json:"classname,omitempty"`
	Line       int                 `json:"lineno"`
	EndLine    int                 `json:"endline"`
	Complexity int                 `json:"complexity"`
	Rank       string              `json:"rank"`
	Methods    []ComplexityFinding `json:"methods,omitempty"`
}

// MaintainabilityFinding is one entry of `radon mi -j` output.
type MaintainabilityFinding struct {
	MI   float64 `json:"mi"`
	Rank string  `json:"rank"`
}

// StyleFinding is one line of flake8 output.
type StyleFinding struct {
	Line        int
	Column      int
	Code        string
	Description string
}

// FileFindings groups raw analyzer output for a single file.
type FileFindings struct {
	Complexity      []ComplexityFinding
	Maintainability *MaintainabilityFinding
	Style           []StyleFinding
}

// Report maps repository-relative file paths to their raw findings.
type Report map[string]*FileFindings

func (r Report) file(p string) *FileFindings {
	p = CleanPath(p)
	ff, ok := r[p]
	if !ok {
		ff = &FileFindings{}
		r[p] = ff
	}
	return ff
}

// CleanPath turns analyzer paths like "./pkg/a.py" into "pkg/a.py".
func CleanPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(p)
	return strings.TrimPrefix(p, "./")
}

// AddRadonCC merges `radon cc -j` output into the report. Files radon could
// not parse are reported as {"error": "..."} and skipped.
func (r Report) AddRadonCC(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding radon cc output: %w", err)
	}
	for file, msg := range raw {
		var entries []ComplexityFinding
		if err := json.Unmarshal(msg, &entries); err != nil {
			continue
		}
		ff := r.file(file)
		ff.Complexity = append(ff.Complexity, entries...)
	}
	return nil
}

// AddRadonMI merges `radon mi -j` output into the report.
func (r Report) AddRadonMI(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding radon mi output: %w", err)
	}
	for file, msg := range raw {
		var probe map[string]any
		if err := json.Unmarshal(msg, &probe); err != nil {
			continue
		}
		if _, ok := probe["error"]; ok {
			continue
		}
		var mi MaintainabilityFinding
		if err := json.Unmarshal(msg, &mi); err != nil {
			continue
		}
		r.file(file).Maintainability = &mi
	}
	return nil
}

// AddFlake8 merges default-format flake8 output (path:line:col: CODE text)
// into the report. Lines that do not match the format are ignored.
func (r Report) AddFlake8(rd io.Reader) error {
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		file, f, ok := ParseFlake8Line(sc.Text())
		if !ok {
			continue
		}
		ff := r.file(file)
		ff.Style = append(ff.Style, f)
	}
	return sc.Err()
}

// ParseFlake8Line parses a single flake8 output line.
func ParseFlake8Line(line string) (string, StyleFinding, bool) {
	parts := strings.SplitN(line, ":", 4)
	if len(parts) < 4 {
		return "", StyleFinding{}, false
	}
	lineNo, err := strconv.Atoi(parts[1])
	if err != nil || lineNo < 1 {
		return "", StyleFinding{}, false
	}
	col, err := strconv.Atoi(parts[2])
	if err != nil {
		return "", StyleFinding{}, false
	}
	fields := strings.Fields(parts[3])
	if len(fields) == 0 {
		return "", StyleFinding{}, false
	}
	return strings.TrimSpace(parts[0]), StyleFinding{
		Line:        lineNo,
		Column:      col,
		Code:        fields[0],
		Description: strings.Join(fields[1:], " "),
	}, true
}

// NormalizeOptions controls how raw findings become issues.
type NormalizeOptions struct {
	TargetComplexity         int
	MaintainabilityThreshold float64
}

// DefaultNormalizeOptions mirrors the analyzer thresholds used in production.
var DefaultNormalizeOptions = NormalizeOptions{
	TargetComplexity:         10,
	MaintainabilityThreshold: 50,
}

// Normalize flattens a report into issues in discovery order: files in
// lexical order, and within a file complexity findings, then style findings,
// then the maintainability finding.
func Normalize(r Report, opts NormalizeOptions) []Issue {
	files := make([]string, 0, len(r))
	for f := range r {
		files = append(files, f)
	}
	sort.Strings(files)

	var out []Issue
	for _, file := range files {
		ff := r[file]
		if ff == nil {
			continue
		}
		seen := make(map[string]bool)
		for _, c := range ff.Complexity {
			out = appendComplexity(out, seen, file, c, opts)
		}
		for _, s := range ff.Style {
			out = append(out, Issue{
				File: file,
				Line: s.Line,
				Kind: Style{Code: s.Code, Description: s.Description},
			})
		}
		if mi := ff.Maintainability; mi != nil && mi.MI < opts.MaintainabilityThreshold {
			out = append(out, Issue{
				File: file,
				Kind: Maintainability{
					Score:       mi.MI,
					Rank:        mi.Rank,
					TargetScore: opts.MaintainabilityThreshold,
				},
			})
		}
	}
	return out
}

// appendComplexity flattens class methods and emits each block once; seen
// holds the blocks already emitted for the file.
func appendComplexity(out []Issue, seen map[string]bool, file string, c ComplexityFinding, opts NormalizeOptions) []Issue {
	if c.Type == "class" {
		for _, m := range c.Methods {
			if m.Classname == "" {
				m.Classname = c.Name
			}
			out = appendComplexity(out, seen, file, m, opts)
		}
		return out
	}
	key := fmt.Sprintf("%s.%s:%d", c.Classname, c.Name, c.Line)
	if seen[key] {
		return out
	}
	seen[key] = true
	return append(out, Issue{
		File:    file,
		Line:    c.Line,
		EndLine: c.EndLine,
		Kind: Complexity{
			Function:         c.Name,
			Class:            c.Classname,
			Complexity:       c.Complexity,
			Rank:             c.Rank,
			TargetComplexity: opts.TargetComplexity,
		},
	})
}
