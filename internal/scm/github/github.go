// Package github reads pull request context from and comments on GitHub via
// the REST v3 API.
package github

import (
	"context"
	"fmt"
	"net/url"

	"github.com/linnemanlabs/warden/internal/restclient"
)

// DefaultBaseURL is the public GitHub API.
const DefaultBaseURL = "https://api.github.com"

const (
	commitsPerPage = 100
	// GitHub serves at most 250 commits for a pull request
	maxCommitPages = 3
)

// PullRequest is the subset of a pull request the pipeline uses.
type PullRequest struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
}

// Client is a GitHub API client authenticated with one token.
type Client struct {
	rc *restclient.Client
}

// New returns a Client. An empty baseURL uses DefaultBaseURL.
func New(baseURL, token string, opts ...restclient.Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base := []restclient.Option{
		restclient.WithHeader("Accept", "application/vnd.github+json"),
		restclient.WithHeader("X-GitHub-Api-Version", "2022-11-28"),
	}
	if token != "" {
		base = append(base, restclient.WithAuth(restclient.Bearer(token)))
	}
	return &Client{rc: restclient.New(baseURL, append(base, opts...)...)}
}

func repoPath(owner, repo string) string {
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
}

// FindPRForCommit returns the number of the pull request associated with
// sha. Open pull requests are preferred over closed ones; ok is false when
// the commit belongs to none.
func (c *Client) FindPRForCommit(ctx context.Context, owner, repo, sha string) (number int, ok bool, err error) {
	var prs []PullRequest
	if err := c.rc.Get(ctx, repoPath(owner, repo)+"/commits/"+url.PathEscape(sha)+"/pulls", &prs); err != nil {
		return 0, false, fmt.Errorf("pulls for commit %s: %w", sha, err)
	}
	if len(prs) == 0 {
		return 0, false, nil
	}
	for _, pr := range prs {
		if pr.State == "open" {
			return pr.Number, true, nil
		}
	}
	return prs[0].Number, true, nil
}

// GetPR fetches pull request n.
func (c *Client) GetPR(ctx context.Context, owner, repo string, n int) (*PullRequest, error) {
	var pr PullRequest
	if err := c.rc.Get(ctx, fmt.Sprintf("%s/pulls/%d", repoPath(owner, repo), n), &pr); err != nil {
		return nil, fmt.Errorf("get pull %d: %w", n, err)
	}
	return &pr, nil
}

// ListCommits returns the commit messages of pull request n, oldest first,
// as GitHub orders them. Pages are read until a short one, so the newest
// commits are included.
func (c *Client) ListCommits(ctx context.Context, owner, repo string, n int) ([]string, error) {
	var msgs []string
	for page := 1; page <= maxCommitPages; page++ {
		var commits []struct {
			Commit struct {
				Message string `json:"message"`
			} `json:"commit"`
		}
		path := fmt.Sprintf("%s/pulls/%d/commits?per_page=%d&page=%d", repoPath(owner, repo), n, commitsPerPage, page)
		if err := c.rc.Get(ctx, path, &commits); err != nil {
			return nil, fmt.Errorf("list commits for pull %d page %d: %w", n, page, err)
		}
		for _, cm := range commits {
			msgs = append(msgs, cm.Commit.Message)
		}
		if len(commits) < commitsPerPage {
			break
		}
	}
	return msgs, nil
}

// CreateComment posts a comment on pull request (issue) n.
func (c *Client) CreateComment(ctx context.Context, owner, repo string, n int, body string) error {
	path := fmt.Sprintf("%s/issues/%d/comments", repoPath(owner, repo), n)
	if err := c.rc.Post(ctx, path, map[string]string{"body": body}, nil); err != nil {
		return fmt.Errorf("comment on pull %d: %w", n, err)
	}
	return nil
}
