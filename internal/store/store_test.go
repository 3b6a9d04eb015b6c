package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigration(t *testing.T) {
	db := setupTestDB(t)

	var version int
	err := db.Conn().QueryRow("PRAGMA user_version").Scan(&version)
	if err != nil {
		t.Fatalf("failed to read user_version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected user_version 1, got %d", version)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "autofix.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	db.Close()

	// Reopening runs migrate again and must be a no-op.
	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	db.Close()
}

func TestRepositoryRegistry(t *testing.T) {
	db := setupTestDB(t)

	if err := db.UpsertInstallation(42, "octocat"); err != nil {
		t.Fatalf("UpsertInstallation failed: %v", err)
	}
	if err := db.UpsertInstallation(42, "octo-org"); err != nil {
		t.Fatalf("second UpsertInstallation failed: %v", err)
	}
	inst, err := db.GetInstallation(42)
	if err != nil {
		t.Fatalf("GetInstallation failed: %v", err)
	}
	if inst.Account != "octo-org" {
		t.Errorf("expected account 'octo-org', got %q", inst.Account)
	}

	repo, err := db.AddRepository(42, "octo-org", "service")
	if err != nil {
		t.Fatalf("AddRepository failed: %v", err)
	}
	if repo.ID == 0 || repo.InstallationID != 42 {
		t.Errorf("unexpected repository: %+v", repo)
	}
	if repo.FullName() != "octo-org/service" {
		t.Errorf("unexpected full name %q", repo.FullName())
	}
	if repo.LastAnalyzedAt != nil {
		t.Error("expected nil LastAnalyzedAt for new repository")
	}
	if repo.CreatedAt.IsZero() {
		t.Error("expected created_at to parse")
	}

	// Adding again is an upsert, not a duplicate.
	again, err := db.AddRepository(42, "octo-org", "service")
	if err != nil {
		t.Fatalf("repeat AddRepository failed: %v", err)
	}
	if again.ID != repo.ID {
		t.Errorf("expected same ID %d, got %d", repo.ID, again.ID)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := db.MarkAnalyzed("octo-org", "service", at); err != nil {
		t.Fatalf("MarkAnalyzed failed: %v", err)
	}
	got, err := db.GetRepository("octo-org", "service")
	if err != nil {
		t.Fatalf("GetRepository failed: %v", err)
	}
	if got.LastAnalyzedAt == nil || !got.LastAnalyzedAt.Equal(at) {
		t.Errorf("expected last analyzed %v, got %v", at, got.LastAnalyzedAt)
	}

	if err := db.RemoveRepository("octo-org", "service"); err != nil {
		t.Fatalf("RemoveRepository failed: %v", err)
	}
	_, err = db.GetRepository("octo-org", "service")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteInstallationCascades(t *testing.T) {
	db := setupTestDB(t)

	if err := db.UpsertInstallation(7, "acme"); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"a", "b"} {
		if _, err := db.AddRepository(7, "acme", name); err != nil {
			t.Fatal(err)
		}
	}

	repos, err := db.ListRepositories()
	if err != nil {
		t.Fatalf("ListRepositories failed: %v", err)
	}
	if len(repos) != 2 {
		t.Fatalf("expected 2 repositories, got %d", len(repos))
	}

	if err := db.DeleteInstallation(7); err != nil {
		t.Fatalf("DeleteInstallation failed: %v", err)
	}
	repos, err = db.ListRepositories()
	if err != nil {
		t.Fatal(err)
	}
	if len(repos) != 0 {
		t.Errorf("expected repositories removed with installation, got %d", len(repos))
	}
	if _, err := db.GetInstallation(7); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAddRepositoryUnknownInstallation(t *testing.T) {
	db := setupTestDB(t)

	if _, err := db.AddRepository(999, "ghost", "repo"); err == nil {
		t.Error("expected foreign key error for unknown installation")
	}
}

func TestDeliveries(t *testing.T) {
	db := setupTestDB(t)

	delivered, err := db.HasDelivered("fp-1")
	if err != nil {
		t.Fatalf("HasDelivered failed: %v", err)
	}
	if delivered {
		t.Error("expected no delivery before recording")
	}

	records := []Delivery{
		{ID: "d1", Owner: "o", Repo: "r", FilePath: "a.py", IssueType: "style", Fingerprint: "fp-1", Outcome: OutcomeRejected, Detail: "too large"},
		{ID: "d2", Owner: "o", Repo: "r", FilePath: "a.py", IssueType: "style", Fingerprint: "fp-1", Outcome: OutcomeDelivered, URL: "https://github.com/o/r/pull/1", Attempt: 2},
		{ID: "d3", Owner: "o", Repo: "r", FilePath: "b.py", IssueType: "complexity", Fingerprint: "fp-2", Outcome: OutcomeDropped},
	}
	for i := range records {
		if err := db.RecordDelivery(&records[i]); err != nil {
			t.Fatalf("RecordDelivery %s failed: %v", records[i].ID, err)
		}
	}

	delivered, err = db.HasDelivered("fp-1")
	if err != nil {
		t.Fatal(err)
	}
	if !delivered {
		t.Error("expected fp-1 to be delivered")
	}
	delivered, err = db.HasDelivered("fp-2")
	if err != nil {
		t.Fatal(err)
	}
	if delivered {
		t.Error("dropped outcome must not count as delivered")
	}

	recent, err := db.RecentDeliveries(10)
	if err != nil {
		t.Fatalf("RecentDeliveries failed: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(recent))
	}
	if recent[0].ID != "d3" {
		t.Errorf("expected newest first, got %s", recent[0].ID)
	}
	for _, rec := range recent {
		if rec.ID == "d2" {
			if rec.URL != "https://github.com/o/r/pull/1" || rec.Attempt != 2 {
				t.Errorf("unexpected d2 record: %+v", rec)
			}
		}
		if rec.ID == "d3" && rec.URL != "" {
			t.Errorf("expected empty URL for d3, got %q", rec.URL)
		}
	}
}

func TestRepoStats(t *testing.T) {
	db := setupTestDB(t)

	if err := db.UpsertInstallation(1, "o"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.AddRepository(1, "o", "r"); err != nil {
		t.Fatal(err)
	}
	outcomes := []string{OutcomeDelivered, OutcomeDelivered, OutcomeRejected, OutcomeDropped, OutcomeUnchanged}
	for i, outcome := range outcomes {
		rec := &Delivery{
			ID: fmt.Sprintf("d%d", i), Owner: "o", Repo: "r", FilePath: "x.py",
			IssueType: "style", Fingerprint: fmt.Sprintf("fp%d", i), Outcome: outcome,
		}
		if err := db.RecordDelivery(rec); err != nil {
			t.Fatal(err)
		}
	}

	all, err := db.GetAllRepoStats()
	if err != nil {
		t.Fatalf("GetAllRepoStats failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 stats row, got %d", len(all))
	}
	s := all[0]
	if s.Delivered != 2 || s.Rejected != 1 || s.Dropped != 1 || s.Other != 1 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestQueueFIFO(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for _, p := range []string{"one", "two", "three"} {
		if err := db.PushQueue(ctx, "jobs", []byte(p)); err != nil {
			t.Fatalf("PushQueue failed: %v", err)
		}
	}
	if err := db.PushQueue(ctx, "other", []byte("x")); err != nil {
		t.Fatal(err)
	}

	n, err := db.QueueLen(ctx, "jobs")
	if err != nil {
		t.Fatalf("QueueLen failed: %v", err)
	}
	if n != 3 {
		t.Errorf("expected length 3, got %d", n)
	}

	for _, want := range []string{"one", "two", "three"} {
		got, ok, err := db.PopQueue(ctx, "jobs")
		if err != nil {
			t.Fatalf("PopQueue failed: %v", err)
		}
		if !ok || string(got) != want {
			t.Errorf("expected %q, got %q (ok=%v)", want, got, ok)
		}
	}

	_, ok, err := db.PopQueue(ctx, "jobs")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected empty queue")
	}

	n, err = db.QueueLen(ctx, "other")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("queues must be independent, other has %d", n)
	}
}
