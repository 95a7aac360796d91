// internal/model/models.go
package model

import (
	"strings"
	"time"

	"github-repo-tracker/internal/apierrors"
)

// RepoSnapshot is a point-in-time read of a repository from the remote
// API. It is immutable once constructed and discarded after one
// reconciliation cycle; Issues and Commits are published but never
// persisted.
type RepoSnapshot struct {
	ID              int64
	FullName        string
	Description     string
	URL             string
	StarsCount      int
	ForksCount      int
	OpenIssuesCount int
	OpenPRsCount    int
	WatchersCount   int
	Issues          []RepoIssue
	Commits         []RepoCommit
}

// RepoIssue is one recent open issue carried on a snapshot.
type RepoIssue struct {
	ID     int64  `json:"id"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	URL    string `json:"url"`
}

// RepoCommit is one recent commit carried on a snapshot.
type RepoCommit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
	URL     string `json:"url"`
}

// TrackedRepo is the persisted baseline for one repository identity.
// ID is the remote service's stable numeric id and the unique key; a
// successful refresh overwrites every other field in place, so at most
// one row exists per id.
type TrackedRepo struct {
	ID              int64     `json:"id"`
	FullName        string    `json:"full_name"`
	Description     string    `json:"description,omitempty"`
	URL             string    `json:"url"`
	StarsCount      int       `json:"stars_count"`
	OpenIssuesCount int       `json:"open_issues_count"`
	OpenPRsCount    int       `json:"open_prs_count"`
	ForksCount      int       `json:"forks_count"`
	WatchersCount   int       `json:"watchers_count"`
	LastFetchedAt   time.Time `json:"last_fetched_at"`
}

// Delta is the signed per-metric change between a fresh snapshot and
// the baseline it replaced. Since is the LastFetchedAt the baseline
// carried before it was overwritten.
type Delta struct {
	Stars      int       `json:"stars"`
	OpenIssues int       `json:"open_issues"`
	OpenPRs    int       `json:"open_prs"`
	Forks      int       `json:"forks"`
	Watchers   int       `json:"watchers"`
	Since      time.Time `json:"since"`
}

// RepoSummary is a search result row, also the shape stored for
// favorites and recently opened repositories.
type RepoSummary struct {
	ID          int64  `json:"id"`
	FullName    string `json:"full_name"`
	Description string `json:"description,omitempty"`
	OwnerLogin  string `json:"owner_login"`
	StarsCount  int    `json:"stars_count"`
	URL         string `json:"url"`
}

// SplitFullName resolves an "owner/name" identifier into its two
// segments. Anything that does not split into exactly two non-empty
// parts fails with an InvalidRepoFormatError.
func SplitFullName(fullName string) (owner, name string, err error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &apierrors.InvalidRepoFormatError{FullName: fullName}
	}
	return parts[0], parts[1], nil
}

// Owner returns the owner segment, or the whole name if it is malformed.
func (r *TrackedRepo) Owner() string {
	owner, _, err := SplitFullName(r.FullName)
	if err != nil {
		return r.FullName
	}
	return owner
}

// Name returns the repository segment, or the whole name if it is malformed.
func (r *TrackedRepo) Name() string {
	_, name, err := SplitFullName(r.FullName)
	if err != nil {
		return r.FullName
	}
	return name
}
