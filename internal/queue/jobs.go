package queue

import (
	"fmt"

	"github.com/jacklau/autofix/internal/issue"
)

// AnalysisJob asks the analysis consumer to scan one repository. Attempt
// counts re-enqueues after transient failures.
type AnalysisJob struct {
	RepoOwner      string `json:"repo_owner"`
	RepoName       string `json:"repo_name"`
	InstallationID int64  `json:"installation_id"`
	Attempt        int    `json:"attempt,omitempty"`
}

// Repo returns "owner/name".
func (j AnalysisJob) Repo() string {
	return j.RepoOwner + "/" + j.RepoName
}

// FixJob carries a selected issue and the file content it was found in.
// Attempt counts re-enqueues and is not part of the job's identity.
type FixJob struct {
	RepoOwner      string      `json:"repo_owner"`
	RepoName       string      `json:"repo_name"`
	InstallationID int64       `json:"installation_id"`
	FilePath       string      `json:"file_path"`
	Issue          issue.Issue `json:"issue"`
	OriginalCode   string      `json:"original_code"`
	Attempt        int         `json:"attempt,omitempty"`
}

// Repo returns "owner/name".
func (j FixJob) Repo() string {
	return j.RepoOwner + "/" + j.RepoName
}

// Fingerprint identifies the job's issue independently of Attempt.
func (j FixJob) Fingerprint() string {
	return j.Issue.Fingerprint(j.RepoOwner, j.RepoName)
}

// Validate checks that the job can be processed.
func (j FixJob) Validate() error {
	if j.RepoOwner == "" || j.RepoName == "" {
		return fmt.Errorf("fix job has no repository")
	}
	if j.FilePath == "" {
		return fmt.Errorf("fix job has no file path")
	}
	if j.Issue.File != j.FilePath {
		return fmt.Errorf("fix job file %q does not match issue file %q", j.FilePath, j.Issue.File)
	}
	return j.Issue.Validate()
}
