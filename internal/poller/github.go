package poller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/go-github/v28/github"
	"github.com/yz4230/shipyard/internal/entity"
	"golang.org/x/oauth2"
)

const defaultRequestTimeout = 10 * time.Second

// Commit is the head of a watched branch.
type Commit struct {
	SHA     string
	Message string
	Author  string
}

// CommitSource reports the latest commit of a branch. A missing repository
// or branch is reported as entity.ErrNotFound.
type CommitSource interface {
	LatestCommit(ctx context.Context, owner, repo, branch string) (*Commit, error)
}

type GitHubSource struct {
	client  *github.Client
	timeout time.Duration
}

type GitHubOptions struct {
	// Token is optional; anonymous requests are rate limited harder.
	Token   string
	BaseURL string
	Timeout time.Duration
}

func NewGitHubSource(opts GitHubOptions) (*GitHubSource, error) {
	var hc *http.Client
	if opts.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		hc = oauth2.NewClient(context.Background(), ts)
	}
	client := github.NewClient(hc)
	if opts.BaseURL != "" {
		u, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		if u.Path == "" || u.Path[len(u.Path)-1] != '/' {
			u.Path += "/"
		}
		client.BaseURL = u
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultRequestTimeout
	}
	return &GitHubSource{client: client, timeout: opts.Timeout}, nil
}

// LatestCommit implements CommitSource.
func (s *GitHubSource) LatestCommit(ctx context.Context, owner, repo, branch string) (*Commit, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rc, resp, err := s.client.Repositories.GetCommit(ctx, owner, repo, branch)
	if err != nil {
		var er *github.ErrorResponse
		if (resp != nil && resp.StatusCode == http.StatusNotFound) ||
			(errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound) {
			return nil, fmt.Errorf("%s/%s@%s: %w", owner, repo, branch, entity.ErrNotFound)
		}
		return nil, fmt.Errorf("get commit %s/%s@%s: %w", owner, repo, branch, err)
	}
	return &Commit{
		SHA:     rc.GetSHA(),
		Message: rc.GetCommit().GetMessage(),
		Author:  rc.GetCommit().GetAuthor().GetName(),
	}, nil
}
