package github

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v60/github"

	"github.com/jacklau/autofix/internal/issue"
)

// ChangeRequest describes one single-file pull request.
type ChangeRequest struct {
	Owner          string
	Repo           string
	InstallationID int64
	// BaseBranch is the branch to fork from and merge into. Empty uses the
	// repository default branch.
	BaseBranch    string
	Branch        string
	FilePath      string
	Content       string
	CommitMessage string
	Title         string
	Body          string
}

// OpenChangeRequest creates cr.Branch from the base branch, commits
// cr.Content to cr.FilePath on it and opens a pull request. It returns the
// pull request URL. If a step after branch creation fails, the branch is
// deleted on a best-effort basis.
func (c *Client) OpenChangeRequest(ctx context.Context, cr ChangeRequest) (string, error) {
	base := cr.BaseBranch
	if base == "" {
		var err error
		base, err = c.DefaultBranch(ctx, cr.Owner, cr.Repo)
		if err != nil {
			return "", err
		}
	}

	var baseRef *gogithub.Reference
	err := call(ctx, "reading base ref", func() (*gogithub.Response, error) {
		var resp *gogithub.Response
		var err error
		baseRef, resp, err = c.gh.Git.GetRef(ctx, cr.Owner, cr.Repo, "refs/heads/"+base)
		return resp, err
	})
	if err != nil {
		return "", err
	}
	baseSHA := baseRef.GetObject().GetSHA()

	branchRef := "refs/heads/" + cr.Branch
	err = call(ctx, "creating branch", func() (*gogithub.Response, error) {
		_, resp, err := c.gh.Git.CreateRef(ctx, cr.Owner, cr.Repo, &gogithub.Reference{
			Ref:    gogithub.String(branchRef),
			Object: &gogithub.GitObject{SHA: gogithub.String(baseSHA)},
		})
		return resp, err
	})
	if err != nil {
		return "", err
	}

	url, err := c.commitAndOpen(ctx, cr, base, baseSHA, branchRef)
	if err != nil {
		// Detach from ctx so cleanup still runs after cancellation.
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		c.gh.Git.DeleteRef(cleanupCtx, cr.Owner, cr.Repo, branchRef)
		return "", err
	}
	return url, nil
}

func (c *Client) commitAndOpen(ctx context.Context, cr ChangeRequest, base, baseSHA, branchRef string) (string, error) {
	var blob *gogithub.Blob
	err := call(ctx, "writing blob", func() (*gogithub.Response, error) {
		var resp *gogithub.Response
		var err error
		blob, resp, err = c.gh.Git.CreateBlob(ctx, cr.Owner, cr.Repo, &gogithub.Blob{
			Content:  gogithub.String(cr.Content),
			Encoding: gogithub.String("utf-8"),
		})
		return resp, err
	})
	if err != nil {
		return "", err
	}

	var baseCommit *gogithub.Commit
	err = call(ctx, "reading base commit", func() (*gogithub.Response, error) {
		var resp *gogithub.Response
		var err error
		baseCommit, resp, err = c.gh.Git.GetCommit(ctx, cr.Owner, cr.Repo, baseSHA)
		return resp, err
	})
	if err != nil {
		return "", err
	}

	mode, err := c.fileMode(ctx, cr.Owner, cr.Repo, baseCommit.GetTree().GetSHA(), cr.FilePath)
	if err != nil {
		return "", err
	}

	var tree *gogithub.Tree
	err = call(ctx, "creating tree", func() (*gogithub.Response, error) {
		var resp *gogithub.Response
		var err error
		tree, resp, err = c.gh.Git.CreateTree(ctx, cr.Owner, cr.Repo, baseCommit.GetTree().GetSHA(), []*gogithub.TreeEntry{{
			Path: gogithub.String(cr.FilePath),
			Mode: gogithub.String(mode),
			Type: gogithub.String("blob"),
			SHA:  blob.SHA,
		}})
		return resp, err
	})
	if err != nil {
		return "", err
	}

	var commit *gogithub.Commit
	err = call(ctx, "creating commit", func() (*gogithub.Response, error) {
		var resp *gogithub.Response
		var err error
		commit, resp, err = c.gh.Git.CreateCommit(ctx, cr.Owner, cr.Repo, &gogithub.Commit{
			Message: gogithub.String(cr.CommitMessage),
			Tree:    tree,
			Parents: []*gogithub.Commit{{SHA: gogithub.String(baseSHA)}},
		}, nil)
		return resp, err
	})
	if err != nil {
		return "", err
	}

	err = call(ctx, "updating branch", func() (*gogithub.Response, error) {
		_, resp, err := c.gh.Git.UpdateRef(ctx, cr.Owner, cr.Repo, &gogithub.Reference{
			Ref:    gogithub.String(branchRef),
			Object: &gogithub.GitObject{SHA: commit.SHA},
		}, false)
		return resp, err
	})
	if err != nil {
		return "", err
	}

	title := cr.Title
	if title == "" {
		title = cr.CommitMessage
	}
	var pr *gogithub.PullRequest
	err = call(ctx, "opening pull request", func() (*gogithub.Response, error) {
		var resp *gogithub.Response
		var err error
		pr, resp, err = c.gh.PullRequests.Create(ctx, cr.Owner, cr.Repo, &gogithub.NewPullRequest{
			Title:               gogithub.String(title),
			Head:                gogithub.String(cr.Branch),
			Base:                gogithub.String(base),
			Body:                gogithub.String(cr.Body),
			MaintainerCanModify: gogithub.Bool(true),
		})
		return resp, err
	})
	if err != nil {
		return "", err
	}
	return pr.GetHTMLURL(), nil
}

const regularFileMode = "100644"

// fileMode returns the git mode of path in the tree treeSHA, walking one
// directory level per request. Paths missing from the tree get the regular
// file mode.
func (c *Client) fileMode(ctx context.Context, owner, repo, treeSHA, path string) (string, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	sha := treeSHA
	for i, name := range parts {
		var tree *gogithub.Tree
		err := call(ctx, "reading tree", func() (*gogithub.Response, error) {
			var resp *gogithub.Response
			var err error
			tree, resp, err = c.gh.Git.GetTree(ctx, owner, repo, sha, false)
			return resp, err
		})
		if errors.Is(err, ErrNotFound) {
			return regularFileMode, nil
		}
		if err != nil {
			return "", err
		}

		var entry *gogithub.TreeEntry
		for _, e := range tree.Entries {
			if e.GetPath() == name {
				entry = e
				break
			}
		}
		switch {
		case entry == nil:
			return regularFileMode, nil
		case i == len(parts)-1:
			if entry.GetType() != "blob" || entry.GetMode() == "" {
				return regularFileMode, nil
			}
			return entry.GetMode(), nil
		case entry.GetType() != "tree":
			return regularFileMode, nil
		}
		sha = entry.GetSHA()
	}
	return regularFileMode, nil
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

const maxSlugLen = 40

// BranchName builds "<prefix>/<type>-<path slug>-<unix ts>-<8 hex>". id is
// typically a UUID; only its first eight hex digits are used.
func BranchName(prefix string, is issue.Issue, now time.Time, id string) string {
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(is.File), "-"), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[len(slug)-maxSlugLen:], "-")
		slug = strings.TrimLeft(slug, "-")
	}
	if slug == "" {
		slug = "file"
	}
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	name := fmt.Sprintf("%s-%s-%d-%s", is.Type(), slug, now.Unix(), short)
	if prefix == "" {
		return name
	}
	return strings.TrimRight(prefix, "/") + "/" + name
}
