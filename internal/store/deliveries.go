package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Delivery outcomes recorded in the deliveries table.
const (
	OutcomeDelivered = "delivered"
	OutcomeRejected  = "rejected"
	OutcomeUnchanged = "unchanged"
	OutcomeDropped   = "dropped"
	OutcomeSkipped   = "skipped"
)

// Delivery is one terminal outcome of a fix job.
type Delivery struct {
	ID          string
	Owner       string
	Repo        string
	FilePath    string
	IssueType   string
	Fingerprint string
	Outcome     string
	URL         string
	Detail      string
	Attempt     int
	CreatedAt   time.Time
}

// RecordDelivery inserts a delivery outcome.
func (d *DB) RecordDelivery(rec *Delivery) error {
	_, err := d.db.Exec(`
		INSERT INTO deliveries (id, owner, repo, file_path, issue_type, fingerprint, outcome, url, detail, attempt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Owner, rec.Repo, rec.FilePath, rec.IssueType, rec.Fingerprint,
		rec.Outcome, nullStr(rec.URL), nullStr(rec.Detail), rec.Attempt,
	)
	if err != nil {
		return fmt.Errorf("recording delivery: %w", err)
	}
	return nil
}

// HasDelivered reports whether a change request was already opened for the
// issue fingerprint.
func (d *DB) HasDelivered(fingerprint string) (bool, error) {
	var n int
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM deliveries WHERE fingerprint = ? AND outcome = ?`,
		fingerprint, OutcomeDelivered,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking delivery: %w", err)
	}
	return n > 0, nil
}

// RecentDeliveries returns the newest delivery outcomes first.
func (d *DB) RecentDeliveries(limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.Query(`
		SELECT id, owner, repo, file_path, issue_type, fingerprint, outcome, url, detail, attempt, created_at
		FROM deliveries ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanDelivery(rows *sql.Rows) (*Delivery, error) {
	var rec Delivery
	var url, detail sql.NullString
	var createdAt string

	err := rows.Scan(
		&rec.ID, &rec.Owner, &rec.Repo, &rec.FilePath, &rec.IssueType, &rec.Fingerprint,
		&rec.Outcome, &url, &detail, &rec.Attempt, &createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning delivery: %w", err)
	}

	rec.URL = url.String
	rec.Detail = detail.String
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return &rec, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
