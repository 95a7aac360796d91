// internal/tracker/delta.go
package tracker

import "github-repo-tracker/internal/model"

// computeDelta returns the signed per-metric change from the persisted
// baseline to a fresh snapshot. Negative, zero and positive values are
// all meaningful; nothing is clamped. Since records how old the
// baseline was: the LastFetchedAt it carried before the caller
// overwrites it.
func computeDelta(prev *model.TrackedRepo, next *model.RepoSnapshot) *model.Delta {
	return &model.Delta{
		Stars:      next.StarsCount - prev.StarsCount,
		OpenIssues: next.OpenIssuesCount - prev.OpenIssuesCount,
		OpenPRs:    next.OpenPRsCount - prev.OpenPRsCount,
		Forks:      next.ForksCount - prev.ForksCount,
		Watchers:   next.WatchersCount - prev.WatchersCount,
		Since:      prev.LastFetchedAt,
	}
}
