// internal/tracker/result.go
package tracker

import "github-repo-tracker/internal/model"

// State tags a published LoadResult. A reconciliation cycle always
// lands on exactly one of these; contradictory flag combinations
// cannot be expressed.
type State string

const (
	// StateFresh: network data applied and the baseline overwritten.
	StateFresh State = "fresh"
	// StateOfflineCached: fetch failed, a cached baseline is shown.
	StateOfflineCached State = "offline_cached"
	// StateOfflineUnauthenticated: the credential was rejected or
	// missing. Deliberately not an offline state: the network was
	// reachable, the token was not acceptable.
	StateOfflineUnauthenticated State = "offline_unauthenticated"
	// StateOfflineEmpty: fetch failed and nothing is cached.
	StateOfflineEmpty State = "offline_empty"
	// StatePersistError: fresh data arrived but the baseline write
	// failed, so the shown numbers are not the next cycle's baseline.
	StatePersistError State = "persist_error"
)

// LoadResult is the unit published to display layers after every
// reconciliation cycle. It is replaced wholesale; consumers never see
// a partially updated result.
type LoadResult struct {
	State     State              `json:"state"`
	Repo      *model.TrackedRepo `json:"repo,omitempty"`
	Delta     *model.Delta       `json:"delta,omitempty"`
	Issues    []model.RepoIssue  `json:"issues,omitempty"`
	Commits   []model.RepoCommit `json:"commits,omitempty"`
	ErrorText string             `json:"error_text,omitempty"`
}

// Offline reports whether the result reflects a network or API
// failure. An unauthenticated fallback reports false.
func (r LoadResult) Offline() bool {
	return r.State == StateOfflineCached || r.State == StateOfflineEmpty
}
