package delivery_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacklau/autofix/internal/delivery"
	"github.com/jacklau/autofix/internal/fixgen"
	"github.com/jacklau/autofix/internal/github"
	"github.com/jacklau/autofix/internal/guardrail"
	"github.com/jacklau/autofix/internal/issue"
	"github.com/jacklau/autofix/internal/queue"
	"github.com/jacklau/autofix/internal/store"
)

const fixQueue = "fix_queue"

type fakeGenerator struct {
	fixed string
	err   error
	calls int
}

func (f *fakeGenerator) Generate(_ context.Context, is issue.Issue, _ string) (*fixgen.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &fixgen.Result{FixedCode: f.fixed, CommitMessage: fixgen.CommitMessage(is)}, nil
}

type fakeChanges struct {
	url      string
	err      error
	requests []github.ChangeRequest
}

func (f *fakeChanges) OpenChangeRequest(_ context.Context, cr github.ChangeRequest) (string, error) {
	f.requests = append(f.requests, cr)
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

type harness struct {
	svc     *delivery.Service
	gen     *fakeGenerator
	changes *fakeChanges
	db      *store.DB
	q       queue.Queue
}

func newHarness(t *testing.T, cfg delivery.Config, gen *fakeGenerator) *harness {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{
		gen:     gen,
		changes: &fakeChanges{url: "https://github.com/octo/svc/pull/7"},
		db:      db,
		q:       queue.NewSQLite(db),
	}
	if cfg.FixQueue == "" {
		cfg.FixQueue = fixQueue
	}
	h.svc = delivery.New(cfg, delivery.Deps{
		Generator: gen,
		Guard:     guardrail.New(50, 0.3),
		Changes:   h.changes,
		Queue:     h.q,
		Store:     db,
		Now:       func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		NewID:     func() string { return "0123456789abcdef" },
	})
	return h
}

func original(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "x%d = %d\n", i, i)
	}
	return b.String()
}

func styleJob(code string) queue.FixJob {
	return queue.FixJob{
		RepoOwner:      "octo",
		RepoName:       "svc",
		InstallationID: 42,
		FilePath:       "pkg/a.py",
		Issue: issue.Issue{
			File: "pkg/a.py",
			Line: 3,
			Kind: issue.Style{Code: "E225", Description: "missing whitespace around operator"},
		},
		OriginalCode: code,
	}
}

func outcomes(t *testing.T, db *store.DB) []string {
	t.Helper()
	recs, err := db.RecentDeliveries(100)
	require.NoError(t, err)
	var out []string
	for _, r := range recs {
		out = append(out, r.Outcome)
	}
	return out
}

func TestDeliverOpensChangeRequest(t *testing.T) {
	code := original(20)
	fixed := strings.Replace(code, "x3 = 3", "x3 = 3  # fixed", 1)
	h := newHarness(t, delivery.Config{BranchPrefix: "autofix", SkipUnchanged: true}, &fakeGenerator{fixed: fixed})

	res, err := h.svc.Deliver(context.Background(), styleJob(code))
	require.NoError(t, err)
	assert.Equal(t, delivery.Delivered, res.Outcome)
	assert.Equal(t, "https://github.com/octo/svc/pull/7", res.URL)
	assert.Equal(t, 2, res.Verdict.ChangedLines)

	require.Len(t, h.changes.requests, 1)
	cr := h.changes.requests[0]
	assert.Equal(t, "octo", cr.Owner)
	assert.Equal(t, "svc", cr.Repo)
	assert.Equal(t, int64(42), cr.InstallationID)
	assert.Equal(t, "pkg/a.py", cr.FilePath)
	assert.Equal(t, fixed, cr.Content)
	assert.True(t, strings.HasPrefix(cr.Branch, "autofix/"), cr.Branch)
	assert.Equal(t, cr.Title, cr.CommitMessage)
	assert.Contains(t, cr.Body, "+x3 = 3  # fixed")

	assert.Equal(t, []string{store.OutcomeDelivered}, outcomes(t, h.db))
}

func TestDeliverRejectsLargeFix(t *testing.T) {
	code := original(10)
	fixed := strings.ReplaceAll(code, "x", "y")
	h := newHarness(t, delivery.Config{SkipUnchanged: true}, &fakeGenerator{fixed: fixed})

	res, err := h.svc.Deliver(context.Background(), styleJob(code))
	require.NoError(t, err)
	assert.Equal(t, delivery.Rejected, res.Outcome)
	assert.True(t, res.Verdict.TooLarge)
	assert.Empty(t, h.changes.requests)
	assert.Equal(t, []string{store.OutcomeRejected}, outcomes(t, h.db))

	n, err := h.q.Len(context.Background(), fixQueue)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeliverSkipsUnchanged(t *testing.T) {
	code := original(5)
	fixed := strings.ReplaceAll(code, "\n", "   \n")

	h := newHarness(t, delivery.Config{SkipUnchanged: true}, &fakeGenerator{fixed: fixed})
	res, err := h.svc.Deliver(context.Background(), styleJob(code))
	require.NoError(t, err)
	assert.Equal(t, delivery.Unchanged, res.Outcome)
	assert.Empty(t, h.changes.requests)

	h = newHarness(t, delivery.Config{SkipUnchanged: false}, &fakeGenerator{fixed: fixed})
	res, err = h.svc.Deliver(context.Background(), styleJob(code))
	require.NoError(t, err)
	assert.Equal(t, delivery.Delivered, res.Outcome)
	assert.Len(t, h.changes.requests, 1)
}

func TestDeliverRequeuesOnGenerationFailure(t *testing.T) {
	code := original(8)
	h := newHarness(t, delivery.Config{MaxRetries: 3}, &fakeGenerator{err: errors.New("llm unavailable")})
	job := styleJob(code)

	res, err := h.svc.Deliver(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, delivery.ErrRequeued)
	assert.Equal(t, delivery.Requeued, res.Outcome)

	got, ok, err := queue.Pop[queue.FixJob](context.Background(), h.q, fixQueue)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got.Attempt)
	got.Attempt = 0
	assert.Equal(t, job, got)
	assert.Empty(t, outcomes(t, h.db))
}

func TestDeliverRequeuesOnChangeRequestFailure(t *testing.T) {
	code := original(20)
	fixed := strings.Replace(code, "x1 = 1", "x1 = 1  # ok", 1)
	h := newHarness(t, delivery.Config{MaxRetries: 3}, &fakeGenerator{fixed: fixed})
	h.changes.err = errors.New("502 bad gateway")

	job := styleJob(code)
	job.Attempt = 1
	_, err := h.svc.Deliver(context.Background(), job)
	assert.ErrorIs(t, err, delivery.ErrRequeued)

	got, ok, err := queue.Pop[queue.FixJob](context.Background(), h.q, fixQueue)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.Attempt)
	assert.Equal(t, job.OriginalCode, got.OriginalCode)
	assert.Equal(t, job.Issue, got.Issue)
}

func TestDeliverDropsAfterMaxRetries(t *testing.T) {
	h := newHarness(t, delivery.Config{MaxRetries: 2}, &fakeGenerator{err: errors.New("timeout")})
	job := styleJob(original(4))
	job.Attempt = 2

	res, err := h.svc.Deliver(context.Background(), job)
	assert.ErrorIs(t, err, delivery.ErrDropped)
	assert.Equal(t, delivery.Dropped, res.Outcome)

	n, err := h.q.Len(context.Background(), fixQueue)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{store.OutcomeDropped}, outcomes(t, h.db))
}

func TestDeliverDropsExtractionFailure(t *testing.T) {
	h := newHarness(t, delivery.Config{MaxRetries: 3}, &fakeGenerator{err: fmt.Errorf("parse: %w", fixgen.ErrExtractionFailed)})

	_, err := h.svc.Deliver(context.Background(), styleJob(original(4)))
	assert.ErrorIs(t, err, delivery.ErrDropped)
	assert.ErrorIs(t, err, fixgen.ErrExtractionFailed)

	n, err := h.q.Len(context.Background(), fixQueue)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDeliverDropsInvalidJob(t *testing.T) {
	gen := &fakeGenerator{fixed: "x = 1\n"}
	h := newHarness(t, delivery.Config{}, gen)
	job := styleJob("x=1\n")
	job.FilePath = "other.py"

	_, err := h.svc.Deliver(context.Background(), job)
	assert.ErrorIs(t, err, delivery.ErrDropped)
	assert.Zero(t, gen.calls)
}

func TestDeliverSkipsAlreadyDelivered(t *testing.T) {
	gen := &fakeGenerator{fixed: "x = 1\n"}
	h := newHarness(t, delivery.Config{SkipDelivered: true}, gen)
	job := styleJob("x=1\n")

	require.NoError(t, h.db.RecordDelivery(&store.Delivery{
		ID:          "prev",
		Owner:       "octo",
		Repo:        "svc",
		FilePath:    job.FilePath,
		IssueType:   job.Issue.Type(),
		Fingerprint: job.Fingerprint(),
		Outcome:     store.OutcomeDelivered,
	}))

	res, err := h.svc.Deliver(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, delivery.Skipped, res.Outcome)
	assert.Zero(t, gen.calls)
	assert.Empty(t, h.changes.requests)
}
