// Package pipeline runs the two queue consumers: the analysis loop turns
// analysis jobs into at most one fix job per repository, and the fix loop
// hands fix jobs to the delivery service.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jacklau/autofix/internal/analyzer"
	"github.com/jacklau/autofix/internal/delivery"
	"github.com/jacklau/autofix/internal/fixgen"
	"github.com/jacklau/autofix/internal/github"
	"github.com/jacklau/autofix/internal/issue"
	"github.com/jacklau/autofix/internal/pubsub"
	"github.com/jacklau/autofix/internal/queue"
)

const (
	DefaultPollInterval = 1 * time.Second
	DefaultErrorBackoff = 5 * time.Second
	DefaultMaxRetries   = 5
)

// Scanner produces raw analyzer findings for a repository.
type Scanner interface {
	Scan(ctx context.Context, ref analyzer.RepoRef) (issue.Report, error)
}

// SourceReader fetches a file from a repository's default branch.
type SourceReader interface {
	GetFileContent(ctx context.Context, installationID int64, owner, repo, path string) (string, error)
}

// Deliverer runs one fix job through generation, the guardrail and delivery.
type Deliverer interface {
	Deliver(ctx context.Context, job queue.FixJob) (*delivery.Result, error)
}

// AnalysisRecorder notes when a repository was last analyzed.
type AnalysisRecorder interface {
	MarkAnalyzed(owner, name string, at time.Time) error
}

// Outcome is published on the broker after each fix job.
type Outcome struct {
	Job    queue.FixJob
	Result *delivery.Result
	URL    string
	Err    error
}

// PipelineDeps holds the dependencies for the Pipeline.
type PipelineDeps struct {
	Queue         queue.Queue
	AnalysisQueue string
	FixQueue      string

	Scanner   Scanner
	Source    SourceReader
	Normalize issue.NormalizeOptions
	Scorer    issue.Scorer
	Deliverer Deliverer

	// Registry and Broker are optional.
	Registry AnalysisRecorder
	Broker   *pubsub.Broker[Outcome]

	PollInterval time.Duration
	ErrorBackoff time.Duration
	// MaxRetries bounds re-enqueues of an analysis job that failed
	// transiently.
	MaxRetries int
	Logger     *slog.Logger
	Now          func() time.Time
}

// Pipeline owns the consumer loops.
type Pipeline struct {
	deps PipelineDeps
}

// New creates a new Pipeline with the given dependencies.
func New(deps PipelineDeps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = DefaultPollInterval
	}
	if deps.ErrorBackoff <= 0 {
		deps.ErrorBackoff = DefaultErrorBackoff
	}
	if deps.MaxRetries <= 0 {
		deps.MaxRetries = DefaultMaxRetries
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{deps: deps}
}

// Run starts both consumers and blocks until ctx is cancelled or one of them
// stops on a fatal error.
func (p *Pipeline) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.RunAnalysis(ctx) })
	g.Go(func() error { return p.RunFix(ctx) })
	return g.Wait()
}

// RunAnalysis drains the analysis queue until ctx is cancelled.
func (p *Pipeline) RunAnalysis(ctx context.Context) error {
	return p.loop(ctx, p.deps.AnalysisQueue, func(ctx context.Context) (bool, error) {
		job, ok, err := queue.Pop[queue.AnalysisJob](ctx, p.deps.Queue, p.deps.AnalysisQueue)
		if err != nil || !ok {
			return false, err
		}
		return true, p.processAnalysis(ctx, job)
	})
}

// RunFix drains the fix queue until ctx is cancelled.
func (p *Pipeline) RunFix(ctx context.Context) error {
	return p.loop(ctx, p.deps.FixQueue, func(ctx context.Context) (bool, error) {
		job, ok, err := queue.Pop[queue.FixJob](ctx, p.deps.Queue, p.deps.FixQueue)
		if err != nil || !ok {
			return false, err
		}
		return true, p.processFix(ctx, job)
	})
}

// loop calls step until ctx is done. Failures are logged and followed by
// the error backoff; a Fatal failure stops the loop.
func (p *Pipeline) loop(ctx context.Context, name string, step func(context.Context) (bool, error)) error {
	logger := p.deps.Logger.With("queue", name)
	logger.Info("consumer started")

	for {
		start := time.Now()
		processed, err := step(ctx)
		if ctx.Err() != nil {
			logger.Info("consumer stopped", "reason", ctx.Err())
			return nil
		}

		wait := p.deps.PollInterval
		if err != nil {
			switch Classify(err) {
			case Fatal:
				logger.Error("fatal", "error", err)
				return err
			case Drop:
				logger.Warn("dropped", "error", err, "duration", time.Since(start))
			default:
				wait = p.backoff(err)
				logger.Error("failed, backing off", "error", err, "backoff", wait, "duration", time.Since(start))
			}
		} else if processed {
			logger.Info("processed", "duration", time.Since(start))
		}

		select {
		case <-ctx.Done():
			logger.Info("consumer stopped", "reason", ctx.Err())
			return nil
		case <-time.After(wait):
		}
	}
}

// backoff honors a rate-limit reset when it is later than the error backoff.
func (p *Pipeline) backoff(err error) time.Duration {
	if wait := github.RetryAfter(err, p.deps.Now()); wait > p.deps.ErrorBackoff {
		return wait
	}
	return p.deps.ErrorBackoff
}

// Analyze scans the repository, normalizes and scores its findings and
// builds a fix job for the winning issue. It returns nil when nothing was
// found.
func (p *Pipeline) Analyze(ctx context.Context, job queue.AnalysisJob) (*queue.FixJob, error) {
	logger := p.deps.Logger.With("repo", job.Repo())

	report, err := p.deps.Scanner.Scan(ctx, analyzer.RepoRef{
		Owner:          job.RepoOwner,
		Name:           job.RepoName,
		InstallationID: job.InstallationID,
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", job.Repo(), err)
	}

	issues := issue.Normalize(report, p.deps.Normalize)
	selected, ok := p.deps.Scorer.Select(issues)
	if !ok {
		logger.Info("no issues found")
		return nil, nil
	}
	logger.Info("issue selected",
		"issues", len(issues),
		"file", selected.File,
		"line", selected.Line,
		"issue_type", selected.Type(),
		"score", p.deps.Scorer.Score(selected),
	)

	code, err := p.deps.Source.GetFileContent(ctx, job.InstallationID, job.RepoOwner, job.RepoName, selected.File)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", selected.File, err)
	}

	return &queue.FixJob{
		RepoOwner:      job.RepoOwner,
		RepoName:       job.RepoName,
		InstallationID: job.InstallationID,
		FilePath:       selected.File,
		Issue:          selected,
		OriginalCode:   code,
	}, nil
}

func (p *Pipeline) processAnalysis(ctx context.Context, job queue.AnalysisJob) error {
	logger := p.deps.Logger.With("queue", p.deps.AnalysisQueue, "repo", job.Repo())
	logger.Info("dequeued")

	if job.RepoOwner == "" || job.RepoName == "" {
		return fmt.Errorf("%w: analysis job has no repository", queue.ErrMalformedJob)
	}

	fix, err := p.Analyze(ctx, job)
	if err != nil {
		return p.requeueAnalysis(ctx, logger, job, err)
	}
	if fix != nil {
		if err := queue.Push(ctx, p.deps.Queue, p.deps.FixQueue, *fix); err != nil {
			return fmt.Errorf("enqueueing fix job: %w", err)
		}
		logger.Info("fix job enqueued", "file", fix.FilePath)
	}

	if p.deps.Registry != nil {
		if err := p.deps.Registry.MarkAnalyzed(job.RepoOwner, job.RepoName, p.deps.Now()); err != nil {
			logger.Warn("recording analysis time failed", "error", err)
		}
	}
	return nil
}

// requeueAnalysis puts a job that failed transiently back on the analysis
// queue. Terminal failures and jobs out of retries are dropped.
func (p *Pipeline) requeueAnalysis(ctx context.Context, logger *slog.Logger, job queue.AnalysisJob, cause error) error {
	if ctx.Err() != nil || Classify(cause) != Retry {
		return cause
	}
	if job.Attempt >= p.deps.MaxRetries {
		return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, job.Attempt+1, cause)
	}

	next := job
	next.Attempt++
	if err := queue.Push(ctx, p.deps.Queue, p.deps.AnalysisQueue, next); err != nil {
		logger.Error("re-enqueue failed, job lost", "error", err, "cause", cause)
		return cause
	}
	logger.Warn("analysis job re-enqueued", "error", cause, "next_attempt", next.Attempt)
	return cause
}

func (p *Pipeline) processFix(ctx context.Context, job queue.FixJob) error {
	logger := p.deps.Logger.With(
		"queue", p.deps.FixQueue,
		"repo", job.Repo(),
		"file", job.FilePath,
		"attempt", job.Attempt,
	)
	logger.Info("dequeued")

	res, err := p.deps.Deliverer.Deliver(ctx, job)
	p.publish(job, res, err)
	return err
}

func (p *Pipeline) publish(job queue.FixJob, res *delivery.Result, err error) {
	if p.deps.Broker == nil || res == nil {
		return
	}

	var evt pubsub.EventType
	switch res.Outcome {
	case delivery.Delivered:
		evt = pubsub.Delivered
	case delivery.Rejected:
		evt = pubsub.Rejected
	case delivery.Dropped:
		evt = pubsub.Dropped
	case delivery.Skipped, delivery.Unchanged:
		evt = pubsub.Skipped
	default:
		return
	}
	p.deps.Broker.Publish(evt, Outcome{Job: job, Result: res, URL: res.URL, Err: err})
}

// Disposition is what a consumer loop does after a failure.
type Disposition int

const (
	// Retry logs the failure and sleeps the error backoff.
	Retry Disposition = iota
	// Drop logs the failure and moves on to the next job.
	Drop
	// Fatal stops the loop.
	Fatal
)

func (d Disposition) String() string {
	switch d {
	case Retry:
		return "retry"
	case Drop:
		return "drop"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("Disposition(%d)", int(d))
	}
}

var (
	// ErrFatal marks failures that no later job can recover from, such as
	// broken configuration.
	ErrFatal = errors.New("fatal pipeline error")
	// ErrRetriesExhausted marks an analysis job dropped after MaxRetries
	// re-enqueues.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// Classify maps a processing failure onto a Disposition.
func Classify(err error) Disposition {
	switch {
	case err == nil:
		return Retry
	case errors.Is(err, ErrFatal), errors.Is(err, queue.ErrUnknownBackend):
		return Fatal
	case errors.Is(err, delivery.ErrRequeued):
		return Retry
	case errors.Is(err, delivery.ErrDropped),
		errors.Is(err, ErrRetriesExhausted),
		errors.Is(err, queue.ErrMalformedJob),
		errors.Is(err, fixgen.ErrUnsupportedIssue),
		errors.Is(err, fixgen.ErrExtractionFailed),
		errors.Is(err, github.ErrNotFound):
		return Drop
	default:
		return Retry
	}
}
