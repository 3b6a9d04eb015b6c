// Package fixgen asks a language model for a fix to a single issue and turns
// the answer into a full replacement file.
package fixgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jacklau/autofix/internal/issue"
	"github.com/jacklau/autofix/internal/provider"
	"github.com/jacklau/autofix/internal/pyfunc"
)

var (
	// ErrUnsupportedIssue is returned for issue kinds the generator cannot prompt for.
	ErrUnsupportedIssue = errors.New("unsupported issue")
	// ErrExtractionFailed is returned when the code region of an issue cannot be located.
	ErrExtractionFailed = errors.New("function extraction failed")
)

// Options are the completion parameters applied to every request.
type Options struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Generator produces fixes through a provider.Completer.
type Generator struct {
	completer provider.Completer
	opts      Options
}

// Result is a generated fix.
type Result struct {
	// FixedCode is the whole file with the fix applied.
	FixedCode     string
	CommitMessage string
	// Span is the region of the original file that was replaced.
	Span pyfunc.Span
}

// New creates a Generator. A zero timeout defaults to 120 seconds.
func New(completer provider.Completer, opts Options) *Generator {
	if opts.Timeout == 0 {
		opts.Timeout = 120 * time.Second
	}
	return &Generator{completer: completer, opts: opts}
}

// Generate builds the prompt for is, calls the model and splices the answer
// back into originalCode.
func (g *Generator) Generate(ctx context.Context, is issue.Issue, originalCode string) (*Result, error) {
	prompt, err := BuildPrompt(is, originalCode)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	raw, err := g.completer.Complete(ctx, provider.Request{
		System:      SystemPrompt,
		Prompt:      prompt.Text,
		Temperature: g.opts.Temperature,
		MaxTokens:   g.opts.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("completing fix prompt: %w", err)
	}

	snippet := StripFences(raw)
	if snippet == "" {
		return nil, fmt.Errorf("%w: empty fix", provider.ErrInvalidResponse)
	}
	snippet = reindent(snippet, prompt.Span.Text)

	return &Result{
		FixedCode:     pyfunc.Splice(originalCode, prompt.Span.Start, prompt.Span.End, snippet),
		CommitMessage: CommitMessage(is),
		Span:          prompt.Span,
	}, nil
}
