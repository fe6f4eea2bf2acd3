package gitsource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"deploysweep/internal/backoff"
	"deploysweep/internal/security"

	"github.com/google/go-github/v57/github"
)

// DefaultAPIURL is the public GitHub API
const DefaultAPIURL = "https://api.github.com/"

var (
	// ErrNoCommits is returned when the repository has no visible commits
	ErrNoCommits = errors.New("no commits found for repo; ensure it is public or provide GITHUB_TOKEN")

	// ErrNoCommitDate is returned when the latest commit carries no date
	ErrNoCommitDate = errors.New("could not resolve latest commit date")
)

// Client reads commit history from GitHub
type Client struct {
	gh *github.Client
}

// NewClient creates a GitHub client for apiURL authenticated with token.
// An empty token makes unauthenticated requests; an empty apiURL uses the
// public API. rt is typically a *backoff.Transport.
func NewClient(apiURL, token string, rt http.RoundTripper) (*Client, error) {
	gh := github.NewClient(backoff.NewBearerClient(token, rt))

	if apiURL != "" && apiURL != DefaultAPIURL {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		base, err := url.Parse(apiURL)
		if err != nil {
			return nil, fmt.Errorf("cannot create github client: %w", err)
		}
		gh.BaseURL = base
	}
	gh.UserAgent = "deploysweep/1.0"

	return &Client{gh: gh}, nil
}

// LatestCommitDate returns the committer date of the newest commit on the
// default branch of repoFullName (owner/name), falling back to the author date.
func (c *Client) LatestCommitDate(ctx context.Context, repoFullName string) (time.Time, error) {
	owner, repo, err := security.SplitRepo(repoFullName)
	if err != nil {
		return time.Time{}, err
	}

	commits, _, err := c.gh.Repositories.ListCommits(ctx, owner, repo, &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to list commits for %s: %w", repoFullName, err)
	}
	if len(commits) == 0 {
		return time.Time{}, ErrNoCommits
	}

	commit := commits[0].GetCommit()
	if date := commit.GetCommitter().GetDate(); !date.IsZero() {
		return date.UTC(), nil
	}
	if date := commit.GetAuthor().GetDate(); !date.IsZero() {
		return date.UTC(), nil
	}
	return time.Time{}, ErrNoCommitDate
}
