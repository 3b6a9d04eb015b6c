package store

import "fmt"

// RepoStats holds delivery counts for a single repository.
type RepoStats struct {
	Repo      Repository
	Delivered int
	Rejected  int
	Dropped   int
	Other     int
}

// GetRepoStats returns delivery counts for a single repository.
func (d *DB) GetRepoStats(repo Repository) (*RepoStats, error) {
	stats := &RepoStats{Repo: repo}

	rows, err := d.db.Query(
		`SELECT outcome, COUNT(*) FROM deliveries WHERE owner = ? AND repo = ? GROUP BY outcome`,
		repo.Owner, repo.Name,
	)
	if err != nil {
		return nil, fmt.Errorf("counting deliveries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scanning delivery count: %w", err)
		}
		switch outcome {
		case OutcomeDelivered:
			stats.Delivered = n
		case OutcomeRejected:
			stats.Rejected = n
		case OutcomeDropped:
			stats.Dropped = n
		default:
			stats.Other += n
		}
	}
	return stats, rows.Err()
}

// GetAllRepoStats returns statistics for all registered repositories.
func (d *DB) GetAllRepoStats() ([]RepoStats, error) {
	repos, err := d.ListRepositories()
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}

	var results []RepoStats
	for _, repo := range repos {
		stats, err := d.GetRepoStats(repo)
		if err != nil {
			return nil, fmt.Errorf("getting stats for %s: %w", repo.FullName(), err)
		}
		results = append(results, *stats)
	}

	return results, nil
}
