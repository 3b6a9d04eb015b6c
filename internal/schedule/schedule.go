// Package schedule periodically enqueues analysis jobs for every registered
// repository.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jacklau/autofix/internal/queue"
	"github.com/jacklau/autofix/internal/store"
)

// RepositoryLister lists registered repositories.
type RepositoryLister interface {
	ListRepositories() ([]store.Repository, error)
}

// Scheduler enqueues re-analysis on a fixed interval.
type Scheduler struct {
	repos    RepositoryLister
	queue    queue.Queue
	name     string
	interval time.Duration
	logger   *slog.Logger
}

// New creates a Scheduler that pushes onto the named analysis queue.
func New(repos RepositoryLister, q queue.Queue, analysisQueue string, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		repos:    repos,
		queue:    q,
		name:     analysisQueue,
		interval: interval,
		logger:   logger,
	}
}

// Run enqueues every repository once per interval until ctx is cancelled.
// A non-positive interval disables the scheduler.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.interval <= 0 {
		s.logger.Info("scheduler disabled")
		return nil
	}
	s.logger.Info("scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.EnqueueAll(ctx)
			if err != nil {
				s.logger.Error("scheduled analysis failed", "error", err, "enqueued", n)
				continue
			}
			s.logger.Info("scheduled analysis enqueued", "repos", n)
		}
	}
}

// EnqueueAll pushes one analysis job per registered repository and returns
// how many were enqueued.
func (s *Scheduler) EnqueueAll(ctx context.Context) (int, error) {
	repos, err := s.repos.ListRepositories()
	if err != nil {
		return 0, fmt.Errorf("listing repositories: %w", err)
	}

	n := 0
	for _, r := range repos {
		job := queue.AnalysisJob{
			RepoOwner:      r.Owner,
			RepoName:       r.Name,
			InstallationID: r.InstallationID,
		}
		if err := queue.Push(ctx, s.queue, s.name, job); err != nil {
			return n, fmt.Errorf("enqueueing %s: %w", r.FullName(), err)
		}
		n++
	}
	return n, nil
}
