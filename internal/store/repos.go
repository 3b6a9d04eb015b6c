package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Installation is a GitHub App installation granting access to repositories.
type Installation struct {
	ID        int64
	Account   string
	CreatedAt time.Time
}

// Repository is a repository registered for analysis.
type Repository struct {
	ID             int64
	InstallationID int64
	Owner          string
	Name           string
	LastAnalyzedAt *time.Time
	CreatedAt      time.Time
}

// FullName returns "owner/name".
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// UpsertInstallation records an installation, updating the account name if
// it already exists.
func (d *DB) UpsertInstallation(id int64, account string) error {
	_, err := d.db.Exec(`
		INSERT INTO installations (id, account) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET account = excluded.account`,
		id, account,
	)
	if err != nil {
		return fmt.Errorf("upserting installation: %w", err)
	}
	return nil
}

// DeleteInstallation removes an installation and, by cascade, its repositories.
func (d *DB) DeleteInstallation(id int64) error {
	_, err := d.db.Exec(`DELETE FROM installations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting installation: %w", err)
	}
	return nil
}

// GetInstallation retrieves an installation by ID.
func (d *DB) GetInstallation(id int64) (*Installation, error) {
	var inst Installation
	var createdAt string
	err := d.db.QueryRow(
		`SELECT id, account, created_at FROM installations WHERE id = ?`, id,
	).Scan(&inst.ID, &inst.Account, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("installation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning installation: %w", err)
	}
	inst.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &inst, nil
}

// AddRepository registers a repository under an installation. Registering an
// existing repository moves it to the given installation.
func (d *DB) AddRepository(installationID int64, owner, name string) (*Repository, error) {
	_, err := d.db.Exec(`
		INSERT INTO repositories (installation_id, owner, name) VALUES (?, ?, ?)
		ON CONFLICT(owner, name) DO UPDATE SET installation_id = excluded.installation_id`,
		installationID, owner, name,
	)
	if err != nil {
		return nil, fmt.Errorf("adding repository: %w", err)
	}
	return d.GetRepository(owner, name)
}

// RemoveRepository unregisters a repository.
func (d *DB) RemoveRepository(owner, name string) error {
	_, err := d.db.Exec(`DELETE FROM repositories WHERE owner = ? AND name = ?`, owner, name)
	if err != nil {
		return fmt.Errorf("removing repository: %w", err)
	}
	return nil
}

// GetRepository retrieves a repository by owner and name.
func (d *DB) GetRepository(owner, name string) (*Repository, error) {
	row := d.db.QueryRow(`
		SELECT id, installation_id, owner, name, last_analyzed_at, created_at
		FROM repositories WHERE owner = ? AND name = ?`,
		owner, name,
	)
	r, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("repository %s/%s: %w", owner, name, ErrNotFound)
	}
	return r, err
}

// MarkAnalyzed records when a repository was last analyzed.
func (d *DB) MarkAnalyzed(owner, name string, at time.Time) error {
	_, err := d.db.Exec(
		`UPDATE repositories SET last_analyzed_at = ? WHERE owner = ? AND name = ?`,
		at.UTC().Format(time.RFC3339), owner, name,
	)
	if err != nil {
		return fmt.Errorf("marking repository analyzed: %w", err)
	}
	return nil
}

// ListRepositories returns all registered repositories.
func (d *DB) ListRepositories() ([]Repository, error) {
	rows, err := d.db.Query(`
		SELECT id, installation_id, owner, name, last_analyzed_at, created_at
		FROM repositories ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	defer rows.Close()

	var repos []Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, *r)
	}
	return repos, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepository(row rowScanner) (*Repository, error) {
	var r Repository
	var lastAnalyzed sql.NullString
	var createdAt string

	err := row.Scan(&r.ID, &r.InstallationID, &r.Owner, &r.Name, &lastAnalyzed, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning repository: %w", err)
	}

	if lastAnalyzed.Valid {
		t, _ := time.Parse(time.RFC3339, lastAnalyzed.String)
		r.LastAnalyzedAt = &t
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return &r, nil
}
