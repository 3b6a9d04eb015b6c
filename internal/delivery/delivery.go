// Package delivery turns a fix job into a pull request: generate, guard,
// deliver, and re-enqueue on failure.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jacklau/autofix/internal/fixgen"
	"github.com/jacklau/autofix/internal/github"
	"github.com/jacklau/autofix/internal/guardrail"
	"github.com/jacklau/autofix/internal/issue"
	"github.com/jacklau/autofix/internal/queue"
	"github.com/jacklau/autofix/internal/store"
)

var (
	// ErrDropped wraps failures that end a job without retry.
	ErrDropped = errors.New("job dropped")
	// ErrRequeued wraps failures after which the job was put back on the fix queue.
	ErrRequeued = errors.New("job re-enqueued")
)

// State is a step of the per-job state machine.
type State string

const (
	StateReceived   State = "received"
	StateGenerating State = "generating"
	StateGuarding   State = "guarding"
	StateDelivering State = "delivering"
)

// Outcome is how a job left the state machine.
type Outcome string

const (
	Delivered Outcome = "delivered"
	Rejected  Outcome = "rejected"
	Unchanged Outcome = "unchanged"
	Skipped   Outcome = "skipped"
	Dropped   Outcome = "dropped"
	Requeued  Outcome = "requeued"
)

// Generator produces a whole-file fix for an issue.
type Generator interface {
	Generate(ctx context.Context, is issue.Issue, originalCode string) (*fixgen.Result, error)
}

// ChangeRequester opens a pull request for a single-file change.
type ChangeRequester interface {
	OpenChangeRequest(ctx context.Context, cr github.ChangeRequest) (string, error)
}

// Recorder persists terminal outcomes and answers dedup lookups.
type Recorder interface {
	RecordDelivery(rec *store.Delivery) error
	HasDelivered(fingerprint string) (bool, error)
}

// Config holds delivery policy.
type Config struct {
	FixQueue      string
	MaxRetries    int
	SkipUnchanged bool
	SkipDelivered bool
	BranchPrefix  string
	BaseBranch    string
}

// Deps holds the collaborators of a Service.
type Deps struct {
	Generator Generator
	Guard     guardrail.Guard
	Changes   ChangeRequester
	Queue     queue.Queue
	// Store is optional; without it outcomes are only logged.
	Store  Recorder
	Logger *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

// Result describes what happened to one job.
type Result struct {
	Outcome Outcome
	URL     string
	Verdict guardrail.Verdict
	Fix     *fixgen.Result
	// Diff is the unified diff of the fix, when one was generated.
	Diff string
}

// Service runs the delivery state machine.
type Service struct {
	cfg  Config
	deps Deps
}

// New creates a Service. Missing Logger, Now and NewID get defaults.
func New(cfg Config, deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = func() string { return uuid.New().String() }
	}
	if deps.Guard == (guardrail.Guard{}) {
		deps.Guard = guardrail.New(0, 0)
	}
	return &Service{cfg: cfg, deps: deps}
}

// Deliver processes one job. Rejected, unchanged and skipped jobs return a
// nil error. Retryable failures re-enqueue the job and return an error
// wrapping ErrRequeued; terminal failures return one wrapping ErrDropped.
func (s *Service) Deliver(ctx context.Context, job queue.FixJob) (*Result, error) {
	logger := s.deps.Logger.With(
		"repo", job.Repo(),
		"file", job.FilePath,
		"issue_type", job.Issue.Type(),
		"attempt", job.Attempt,
	)
	logger.Debug("fix job state", "state", StateReceived)

	if err := job.Validate(); err != nil {
		return s.drop(logger, job, fmt.Errorf("invalid job: %w", err))
	}

	if s.cfg.SkipDelivered && s.deps.Store != nil {
		done, err := s.deps.Store.HasDelivered(job.Fingerprint())
		if err != nil {
			logger.Warn("dedup lookup failed", "error", err)
		} else if done {
			logger.Info("issue already delivered, skipping")
			s.record(logger, job, Skipped, "", "already delivered")
			return &Result{Outcome: Skipped}, nil
		}
	}

	logger.Debug("fix job state", "state", StateGenerating)
	fix, err := s.deps.Generator.Generate(ctx, job.Issue, job.OriginalCode)
	if err != nil {
		if errors.Is(err, fixgen.ErrExtractionFailed) || errors.Is(err, fixgen.ErrUnsupportedIssue) {
			return s.drop(logger, job, err)
		}
		return s.requeue(ctx, logger, job, fmt.Errorf("generating fix: %w", err))
	}

	logger.Debug("fix job state", "state", StateGuarding)
	if s.cfg.SkipUnchanged && guardrail.Identical(job.OriginalCode, fix.FixedCode) {
		logger.Info("fix is identical to original, skipping")
		s.record(logger, job, Unchanged, "", "")
		return &Result{Outcome: Unchanged, Fix: fix}, nil
	}

	verdict := s.deps.Guard.Check(job.OriginalCode, fix.FixedCode)
	diff, err := guardrail.UnifiedDiff(job.FilePath, job.OriginalCode, fix.FixedCode)
	if err != nil {
		logger.Warn("rendering diff failed", "error", err)
	}
	if verdict.TooLarge {
		logger.Warn("fix rejected by guardrail",
			"changed_lines", verdict.ChangedLines,
			"original_lines", verdict.OriginalLines,
			"ratio", verdict.Ratio,
		)
		s.record(logger, job, Rejected, "", verdict.String())
		return &Result{Outcome: Rejected, Verdict: verdict, Fix: fix, Diff: diff}, nil
	}

	logger.Debug("fix job state", "state", StateDelivering, "changed_lines", verdict.ChangedLines)
	cr := github.ChangeRequest{
		Owner:          job.RepoOwner,
		Repo:           job.RepoName,
		InstallationID: job.InstallationID,
		BaseBranch:     s.cfg.BaseBranch,
		Branch:         github.BranchName(s.cfg.BranchPrefix, job.Issue, s.deps.Now(), s.deps.NewID()),
		FilePath:       job.FilePath,
		Content:        fix.FixedCode,
		CommitMessage:  fix.CommitMessage,
		Title:          fix.CommitMessage,
		Body:           fixgen.PullRequestBody(job.Issue, diff),
	}
	url, err := s.deps.Changes.OpenChangeRequest(ctx, cr)
	if err != nil {
		return s.requeue(ctx, logger, job, fmt.Errorf("opening change request: %w", err))
	}

	logger.Info("change request opened", "url", url, "branch", cr.Branch, "changed_lines", verdict.ChangedLines)
	s.record(logger, job, Delivered, url, "")
	return &Result{Outcome: Delivered, URL: url, Verdict: verdict, Fix: fix, Diff: diff}, nil
}

// requeue puts the job back on the fix queue with Attempt incremented, or
// drops it once MaxRetries re-enqueues have been used.
func (s *Service) requeue(ctx context.Context, logger *slog.Logger, job queue.FixJob, cause error) (*Result, error) {
	if s.cfg.MaxRetries > 0 && job.Attempt >= s.cfg.MaxRetries {
		return s.drop(logger, job, fmt.Errorf("retries exhausted after %d attempts: %w", job.Attempt+1, cause))
	}

	next := job
	next.Attempt++
	if err := queue.Push(ctx, s.deps.Queue, s.cfg.FixQueue, next); err != nil {
		logger.Error("re-enqueue failed, job lost", "error", err, "cause", cause)
		return &Result{Outcome: Dropped}, fmt.Errorf("%w: %w (re-enqueue: %v)", ErrDropped, cause, err)
	}
	logger.Warn("fix job re-enqueued", "error", cause, "next_attempt", next.Attempt)
	return &Result{Outcome: Requeued}, fmt.Errorf("%w: %w", ErrRequeued, cause)
}

func (s *Service) drop(logger *slog.Logger, job queue.FixJob, cause error) (*Result, error) {
	logger.Error("fix job dropped", "error", cause)
	s.record(logger, job, Dropped, "", cause.Error())
	return &Result{Outcome: Dropped}, fmt.Errorf("%w: %w", ErrDropped, cause)
}

func (s *Service) record(logger *slog.Logger, job queue.FixJob, outcome Outcome, url, detail string) {
	if s.deps.Store == nil {
		return
	}
	err := s.deps.Store.RecordDelivery(&store.Delivery{
		ID:          s.deps.NewID(),
		Owner:       job.RepoOwner,
		Repo:        job.RepoName,
		FilePath:    job.FilePath,
		IssueType:   job.Issue.Type(),
		Fingerprint: job.Fingerprint(),
		Outcome:     string(outcome),
		URL:         url,
		Detail:      detail,
		Attempt:     job.Attempt,
	})
	if err != nil {
		logger.Warn("recording outcome failed", "outcome", outcome, "error", err)
	}
}
