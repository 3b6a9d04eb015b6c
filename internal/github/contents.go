package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gogithub "github.com/google/go-github/v60/github"

	"github.com/jacklau/autofix/internal/retry"
)

// ErrNotFound is returned when a repository, ref or file does not exist.
var ErrNotFound = errors.New("not found")

// apiAttempts bounds retries of a single API call.
const apiAttempts = 3

// Client is a go-github client scoped to one installation.
type Client struct {
	gh *gogithub.Client
}

// NewClient wraps an already-authenticated go-github client.
func NewClient(gh *gogithub.Client) *Client {
	return &Client{gh: gh}
}

// call runs fn with retries for transient failures and maps 404 to ErrNotFound.
func call(ctx context.Context, what string, fn func() (*gogithub.Response, error)) error {
	return retry.Do(ctx, apiAttempts, func() error {
		resp, err := fn()
		if err == nil {
			return nil
		}
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return retry.Permanent(fmt.Errorf("%s: %w", what, ErrNotFound))
		}
		if !IsTransient(err) {
			return retry.Permanent(fmt.Errorf("%s: %w", what, err))
		}
		return fmt.Errorf("%s: %w", what, err)
	})
}

// GetFileContent returns the decoded text of path at ref (empty ref means
// the default branch).
func (c *Client) GetFileContent(ctx context.Context, owner, repo, path, ref string) (string, error) {
	var file *gogithub.RepositoryContent
	err := call(ctx, "getting "+path, func() (*gogithub.Response, error) {
		var resp *gogithub.Response
		var err error
		file, _, resp, err = c.gh.Repositories.GetContents(ctx, owner, repo, path,
			&gogithub.RepositoryContentGetOptions{Ref: ref})
		return resp, err
	})
	if err != nil {
		return "", err
	}
	if file == nil {
		return "", fmt.Errorf("%s is a directory: %w", path, ErrNotFound)
	}

	// Files over 1 MB come back without inline content.
	if file.GetEncoding() == "none" {
		return c.blob(ctx, owner, repo, file.GetSHA())
	}

	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", path, err)
	}
	return content, nil
}

func (c *Client) blob(ctx context.Context, owner, repo, sha string) (string, error) {
	var data []byte
	err := call(ctx, "getting blob "+sha, func() (*gogithub.Response, error) {
		var resp *gogithub.Response
		var err error
		data, resp, err = c.gh.Git.GetBlobRaw(ctx, owner, repo, sha)
		return resp, err
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DefaultBranch returns the repository's default branch name.
func (c *Client) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	var r *gogithub.Repository
	err := call(ctx, "getting repository", func() (*gogithub.Response, error) {
		var resp *gogithub.Response
		var err error
		r, resp, err = c.gh.Repositories.Get(ctx, owner, repo)
		return resp, err
	})
	if err != nil {
		return "", err
	}
	if r.GetDefaultBranch() == "" {
		return "main", nil
	}
	return r.GetDefaultBranch(), nil
}
