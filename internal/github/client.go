// internal/github/client.go
package github

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"github-repo-tracker/internal/apierrors"
	"github-repo-tracker/internal/model"
	"github-repo-tracker/internal/token"
)

const (
	// How many recent open issues / commits a snapshot carries.
	recentItems = 10

	searchPageSize = 20
)

// Client is a wrapper around the go-github client. It assembles repo
// snapshots, translates go-github failures into the fetch error
// taxonomy, and resolves the credential through a token store on every
// call so a token saved at runtime applies to the next request.
type Client struct {
	tokens  token.Store
	timeout time.Duration
	logger  *slog.Logger

	// baseURL overrides the API endpoint in tests. Must end with "/".
	baseURL string

	mu        sync.Mutex
	cached    *github.Client
	cachedTok string
}

// NewClient creates and configures a new Client instance. timeout
// bounds every FetchDetail call; expiry surfaces as a network failure.
func NewClient(tokens token.Store, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		tokens:  tokens,
		timeout: timeout,
		logger:  logger,
	}
}

// OverrideBaseURL points the client at a different API endpoint, for
// tests against a fake GitHub server. url must end with "/".
func (c *Client) OverrideBaseURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = url
	c.cached = nil
	c.cachedTok = ""
}

// apiFor returns a go-github client authenticated with tok, rebuilding
// the cached one only when the token changed. An empty token yields an
// unauthenticated client (search works without a credential).
func (c *Client) apiFor(tok string) *github.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && c.cachedTok == tok {
		return c.cached
	}

	var httpClient *http.Client
	if tok != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	api := github.NewClient(httpClient)
	if c.baseURL != "" {
		if u, err := url.Parse(c.baseURL); err == nil {
			api.BaseURL = u
		}
	}

	c.cached = api
	c.cachedTok = tok
	return api
}

// FetchDetail fetches a full repository snapshot for an "owner/name"
// identifier. A missing credential short-circuits to an unauthorized
// failure without a network round-trip.
func (c *Client) FetchDetail(ctx context.Context, fullName string) (*model.RepoSnapshot, error) {
	owner, name, err := model.SplitFullName(fullName)
	if err != nil {
		return nil, err
	}

	tok, err := c.tokens.Token()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnauthorized, err)
	}
	if tok == "" {
		return nil, apierrors.New(apierrors.KindUnauthorized, "no GitHub token configured")
	}
	api := c.apiFor(tok)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	repo, _, err := api.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, classify(err)
	}

	issues, err := c.recentIssues(ctx, api, owner, name)
	if err != nil {
		return nil, err
	}
	commits, err := c.recentCommits(ctx, api, owner, name)
	if err != nil {
		return nil, err
	}
	openPRs := c.openPRCount(ctx, api, owner, name)

	// The REST open-issues counter includes pull requests; peel them
	// off so the issue metric matches what the issue list shows.
	openIssues := repo.GetOpenIssuesCount() - openPRs
	if openIssues < 0 {
		openIssues = 0
	}

	return &model.RepoSnapshot{
		ID:              repo.GetID(),
		FullName:        repo.GetFullName(),
		Description:     repo.GetDescription(),
		URL:             repo.GetHTMLURL(),
		StarsCount:      repo.GetStargazersCount(),
		ForksCount:      repo.GetForksCount(),
		OpenIssuesCount: openIssues,
		OpenPRsCount:    openPRs,
		WatchersCount:   repo.GetSubscribersCount(),
		Issues:          issues,
		Commits:         commits,
	}, nil
}

// recentIssues returns the newest open issues, excluding pull requests
// (the issues API lists both).
func (c *Client) recentIssues(ctx context.Context, api *github.Client, owner, name string) ([]model.RepoIssue, error) {
	ghIssues, _, err := api.Issues.ListByRepo(ctx, owner, name, &github.IssueListByRepoOptions{
		State:       "open",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: recentItems},
	})
	if err != nil {
		return nil, classify(err)
	}

	issues := make([]model.RepoIssue, 0, len(ghIssues))
	for _, issue := range ghIssues {
		if issue.IsPullRequest() {
			continue
		}
		issues = append(issues, model.RepoIssue{
			ID:     issue.GetID(),
			Number: issue.GetNumber(),
			Title:  issue.GetTitle(),
			URL:    issue.GetHTMLURL(),
		})
	}
	return issues, nil
}

func (c *Client) recentCommits(ctx context.Context, api *github.Client, owner, name string) ([]model.RepoCommit, error) {
	ghCommits, _, err := api.Repositories.ListCommits(ctx, owner, name, &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: recentItems},
	})
	if err != nil {
		// An empty repository answers 409; treat it as no commits.
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusConflict {
			return nil, nil
		}
		return nil, classify(err)
	}

	commits := make([]model.RepoCommit, 0, len(ghCommits))
	for _, commit := range ghCommits {
		commits = append(commits, model.RepoCommit{
			SHA:     commit.GetSHA(),
			Message: commit.GetCommit().GetMessage(),
			URL:     commit.GetHTMLURL(),
		})
	}
	return commits, nil
}

// openPRCount derives the open pull request total from the pagination
// of a one-item list page. Best effort: the snapshot still needs a
// value when the count is unavailable, so failures yield zero.
func (c *Client) openPRCount(ctx context.Context, api *github.Client, owner, name string) int {
	prs, resp, err := api.PullRequests.List(ctx, owner, name, &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		c.logger.Debug("Open PR count unavailable", "owner", owner, "repo", name, "error", err)
		return 0
	}
	if resp.LastPage > 0 {
		return resp.LastPage
	}
	return len(prs)
}

// SearchRepos searches repositories by name and description, ordered
// by stars. Works without a credential at a lower rate limit.
func (c *Client) SearchRepos(ctx context.Context, query string) ([]model.RepoSummary, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindUnauthorized, err)
	}
	api := c.apiFor(tok)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result, _, err := api.Search.Repositories(ctx, query+" in:name,description", &github.SearchOptions{
		Sort:        "stars",
		ListOptions: github.ListOptions{PerPage: searchPageSize},
	})
	if err != nil {
		return nil, classify(err)
	}

	summaries := make([]model.RepoSummary, 0, len(result.Repositories))
	for _, repo := range result.Repositories {
		summaries = append(summaries, model.RepoSummary{
			ID:          repo.GetID(),
			FullName:    repo.GetFullName(),
			Description: repo.GetDescription(),
			OwnerLogin:  repo.GetOwner().GetLogin(),
			StarsCount:  repo.GetStargazersCount(),
			URL:         repo.GetHTMLURL(),
		})
	}
	return summaries, nil
}

// classify maps a go-github or transport failure onto the fetch error
// taxonomy.
func classify(err error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return apierrors.Wrap(apierrors.KindRateLimited, err)
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusUnauthorized:
			return apierrors.Wrap(apierrors.KindUnauthorized, err)
		case http.StatusForbidden:
			// GitHub reports rate limiting as 403.
			return apierrors.Wrap(apierrors.KindRateLimited, err)
		case http.StatusNotFound:
			return apierrors.Wrap(apierrors.KindNotFound, err)
		default:
			return apierrors.Wrap(apierrors.KindUnknown, err)
		}
	}

	var jsonSyntaxErr *json.SyntaxError
	var jsonTypeErr *json.UnmarshalTypeError
	if errors.As(err, &jsonSyntaxErr) || errors.As(err, &jsonTypeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return apierrors.Wrap(apierrors.KindDecoding, err)
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apierrors.Wrap(apierrors.KindNetwork, err)
	}

	return apierrors.Wrap(apierrors.KindUnknown, err)
}
