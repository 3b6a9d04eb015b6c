// Package issue models detected code-quality findings and decides which one
// is worth fixing.
package issue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Type tags used on the wire and in logs.
const (
	TypeComplexity      = "complexity"
	TypeStyle           = "style"
	TypeMaintainability = "maintainability"
)

// Kind is the closed set of issue variants. Only the types in this package
// implement it.
type Kind interface {
	issueType() string
}

// Complexity is a function whose cyclomatic complexity is too high.
type Complexity struct {
	Function         string `json:"function"`
	Class            string `json:"class,omitempty"`
	Complexity       int    `json:"complexity"`
	Rank             string `json:"rank"`
	TargetComplexity int    `json:"target_complexity"`
}

// Style is a lint finding. The first character of Code is its severity class.
type Style struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Maintainability is a low maintainability index. Function is empty for
// file-level findings.
type Maintainability struct {
	Function    string  `json:"function,omitempty"`
	Score       float64 `json:"score"`
	Rank        string  `json:"rank"`
	TargetScore float64 `json:"target_score"`
}

func (Complexity) issueType() string      { return TypeComplexity }
func (Style) issueType() string           { return TypeStyle }
func (Maintainability) issueType() string { return TypeMaintainability }

// Issue is one detected problem in one file. Line is 1-based; zero means the
// issue is file-level. EndLine is set once a function span has been resolved.
type Issue struct {
	File    string
	Line    int
	EndLine int
	Kind    Kind
}

// Type returns the wire tag of the issue's kind.
func (i Issue) Type() string {
	if i.Kind == nil {
		return ""
	}
	return i.Kind.issueType()
}

// Describe returns a one-line human description used in commit bodies and logs.
func (i Issue) Describe() string {
	switch k := i.Kind.(type) {
	case Complexity:
		return fmt.Sprintf("%s has cyclomatic complexity %d (rank %s)", k.Function, k.Complexity, k.Rank)
	case Style:
		return fmt.Sprintf("%s %s", k.Code, k.Description)
	case Maintainability:
		if k.Function != "" {
			return fmt.Sprintf("%s has maintainability index %.2f (rank %s)", k.Function, k.Score, k.Rank)
		}
		return fmt.Sprintf("maintainability index %.2f (rank %s)", k.Score, k.Rank)
	default:
		return "unknown issue"
	}
}

// Validate checks the structural invariants of an issue.
func (i Issue) Validate() error {
	if i.File == "" {
		return errors.New("issue file is empty")
	}
	if i.Line < 0 {
		return fmt.Errorf("issue line must be >= 0, got %d", i.Line)
	}
	if i.EndLine != 0 && i.EndLine < i.Line {
		return fmt.Errorf("issue end line %d before start line %d", i.EndLine, i.Line)
	}
	switch k := i.Kind.(type) {
	case Complexity:
		if k.Function == "" {
			return errors.New("complexity issue has no function")
		}
		if k.Complexity < 0 {
			return fmt.Errorf("negative complexity %d", k.Complexity)
		}
	case Style:
	case Maintainability:
	case nil:
		return errors.New("issue has no kind")
	}
	return nil
}

// Fingerprint identifies an issue within a repository independent of where
// the job is in its retry lifecycle.
func (i Issue) Fingerprint(owner, repo string) string {
	h := sha256.New()
	for _, part := range []string{owner, repo, i.File, i.Type(), i.identity()} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (i Issue) identity() string {
	switch k := i.Kind.(type) {
	case Complexity:
		return k.Class + "." + k.Function
	case Style:
		return k.Code + "@" + strconv.Itoa(i.Line)
	case Maintainability:
		return k.Function
	default:
		return ""
	}
}

type wireIssue struct {
	File    string          `json:"file"`
	Line    int             `json:"line,omitempty"`
	EndLine int             `json:"end_line,omitempty"`
	Type    string          `json:"type"`
	Details json.RawMessage `json:"details"`
}

// MarshalJSON encodes the issue with a "type" tag naming its kind.
func (i Issue) MarshalJSON() ([]byte, error) {
	if i.Kind == nil {
		return nil, errors.New("marshaling issue: no kind")
	}
	details, err := json.Marshal(i.Kind)
	if err != nil {
		return nil, fmt.Errorf("marshaling issue details: %w", err)
	}
	return json.Marshal(wireIssue{
		File:    i.File,
		Line:    i.Line,
		EndLine: i.EndLine,
		Type:    i.Type(),
		Details: details,
	})
}

// UnmarshalJSON decodes an issue, rejecting unknown type tags.
func (i *Issue) UnmarshalJSON(data []byte) error {
	var w wireIssue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	var kind Kind
	switch w.Type {
	case TypeComplexity:
		var k Complexity
		if err := json.Unmarshal(w.Details, &k); err != nil {
			return fmt.Errorf("decoding complexity issue: %w", err)
		}
		kind = k
	case TypeStyle:
		var k Style
		if err := json.Unmarshal(w.Details, &k); err != nil {
			return fmt.Errorf("decoding style issue: %w", err)
		}
		kind = k
	case TypeMaintainability:
		var k Maintainability
		if err := json.Unmarshal(w.Details, &k); err != nil {
			return fmt.Errorf("decoding maintainability issue: %w", err)
		}
		kind = k
	default:
		return fmt.Errorf("unknown issue type %q", w.Type)
	}

	*i = Issue{File: w.File, Line: w.Line, EndLine: w.EndLine, Kind: kind}
	return nil
}
