// Package analyzer checks out a repository and runs radon and flake8 over it.
package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"golang.org/x/sync/errgroup"

	"github.com/jacklau/autofix/internal/issue"
)

// RepoRef identifies a repository and the installation that can read it.
type RepoRef struct {
	Owner          string
	Name           string
	InstallationID int64
}

// TokenSource issues installation tokens for cloning private repositories.
type TokenSource interface {
	Token(ctx context.Context, installationID int64) (string, error)
}

// Runner executes an external tool in dir and returns its stdout.
type Runner func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// Options configures a Scanner.
type Options struct {
	Radon   string
	Flake8  string
	Timeout time.Duration
	// CloneBase is prepended to "owner/name.git". Defaults to https://github.com.
	CloneBase string
}

// Scanner produces raw findings for a repository.
type Scanner struct {
	opts   Options
	tokens TokenSource
	run    Runner
	logger *slog.Logger
}

// New creates a Scanner. tokens may be nil for public repositories.
func New(opts Options, tokens TokenSource, logger *slog.Logger) *Scanner {
	if opts.Radon == "" {
		opts.Radon = "radon"
	}
	if opts.Flake8 == "" {
		opts.Flake8 = "flake8"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.CloneBase == "" {
		opts.CloneBase = "https://github.com"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{opts: opts, tokens: tokens, run: execRunner, logger: logger}
}

// WithRunner replaces the tool runner, for tests.
func (s *Scanner) WithRunner(r Runner) *Scanner {
	s.run = r
	return s
}

// Scan shallow-clones ref into a temporary directory and analyzes it.
func (s *Scanner) Scan(ctx context.Context, ref RepoRef) (issue.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	dir, err := os.MkdirTemp("", "autofix-"+ref.Name+"-")
	if err != nil {
		return nil, fmt.Errorf("creating checkout dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := s.clone(ctx, ref, dir); err != nil {
		return nil, err
	}
	return s.Local(ctx, dir)
}

func (s *Scanner) clone(ctx context.Context, ref RepoRef, dir string) error {
	url := strings.TrimRight(s.opts.CloneBase, "/") + "/" + ref.Owner + "/" + ref.Name + ".git"
	opts := &git.CloneOptions{
		URL:          url,
		SingleBranch: true,
	}
	remote := strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
	if remote {
		opts.Depth = 1
	}
	if s.tokens != nil && ref.InstallationID != 0 && remote {
		tok, err := s.tokens.Token(ctx, ref.InstallationID)
		if err != nil {
			return fmt.Errorf("getting clone token: %w", err)
		}
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: tok}
	}

	start := time.Now()
	if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
		return fmt.Errorf("cloning %s/%s: %w", ref.Owner, ref.Name, err)
	}
	s.logger.Debug("cloned repository", "repo", ref.Owner+"/"+ref.Name, "duration", time.Since(start))
	return nil
}

// Local analyzes an existing checkout. Paths in the report are relative to
// dir. The three tool invocations run concurrently.
func (s *Scanner) Local(ctx context.Context, dir string) (issue.Report, error) {
	var cc, mi, lint []byte

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if cc, err = s.run(gctx, dir, s.opts.Radon, "cc", "-j", "."); err != nil {
			return fmt.Errorf("running radon cc: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if mi, err = s.run(gctx, dir, s.opts.Radon, "mi", "-j", "."); err != nil {
			return fmt.Errorf("running radon mi: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if lint, err = s.run(gctx, dir, s.opts.Flake8, "."); err != nil {
			return fmt.Errorf("running flake8: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := issue.Report{}
	if err := report.AddRadonCC(cc); err != nil {
		return nil, err
	}
	if err := report.AddRadonMI(mi); err != nil {
		return nil, err
	}
	if err := report.AddFlake8(bytes.NewReader(lint)); err != nil {
		return nil, err
	}

	s.logger.Debug("analyzed checkout", "dir", dir, "files", len(report))
	return report, nil
}

// execRunner runs the tool with exec.CommandContext. flake8 exits 1 when it
// reports findings, so exit status 1 with output is not a failure.
func execRunner(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && len(out) > 0 {
			return out, nil
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}
