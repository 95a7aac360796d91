// internal/tracker/session.go
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github-repo-tracker/internal/apierrors"
	"github-repo-tracker/internal/model"
	"github-repo-tracker/internal/store"
)

// Fetcher is the remote collaborator contract: fetch a full snapshot
// for an "owner/name" identifier or fail with a taxonomy error.
type Fetcher interface {
	FetchDetail(ctx context.Context, fullName string) (*model.RepoSnapshot, error)
}

// matchKey reports which lookup key resolved a baseline row.
type matchKey int

const (
	matchNone matchKey = iota
	matchByID
	matchByFullName
)

func (k matchKey) String() string {
	switch k {
	case matchByID:
		return "id"
	case matchByFullName:
		return "full_name"
	default:
		return "none"
	}
}

// Session reconciles one repository identity against its persisted
// baseline and publishes the latest LoadResult. Load and Refresh are
// the same traversal; concurrent calls for the same session coalesce
// onto a single in-flight cycle so the baseline row is never raced.
type Session struct {
	fullName string
	// hintedID seeds the cache fallback when the caller knows the
	// stable id before the first successful fetch. Zero means no hint.
	hintedID int64

	fetcher  Fetcher
	baseline store.Baseline
	logger   *slog.Logger
	now      func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	loading bool
	result  *LoadResult
	changed chan struct{}
}

// NewSession validates the identifier up front: a malformed full name
// is a precondition violation, not a fetch failure, and never reaches
// the network or the fallback path.
func NewSession(fullName string, hintedID int64, fetcher Fetcher, baseline store.Baseline, logger *slog.Logger) (*Session, error) {
	if _, _, err := model.SplitFullName(fullName); err != nil {
		return nil, err
	}
	return &Session{
		fullName: fullName,
		hintedID: hintedID,
		fetcher:  fetcher,
		baseline: baseline,
		logger:   logger.With("repo", fullName),
		now:      time.Now,
		changed:  make(chan struct{}),
	}, nil
}

// FullName returns the identity this session tracks.
func (s *Session) FullName() string { return s.fullName }

// Load runs one reconciliation cycle and publishes its result. The
// returned error is non-nil only when ctx ended before the cycle could
// publish; fetch failures are converted into resting LoadResults, not
// returned. Refresh is the caller-intent alias.
func (s *Session) Load(ctx context.Context) (LoadResult, error) {
	v, err, _ := s.group.Do("load", func() (any, error) {
		return s.runCycle(ctx)
	})
	if err != nil {
		return LoadResult{}, err
	}
	return v.(LoadResult), nil
}

// Refresh re-fetches from the network, exactly like Load. It never
// serves a memory cache without attempting the network first.
func (s *Session) Refresh(ctx context.Context) (LoadResult, error) {
	return s.Load(ctx)
}

// Result returns the most recently published LoadResult, if any.
func (s *Session) Result() (LoadResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return LoadResult{}, false
	}
	return *s.result, true
}

// Loading reports whether a reconciliation cycle is in flight.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Changed returns a channel closed at the next publish. Callers
// re-acquire it after each notification.
func (s *Session) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *Session) runCycle(ctx context.Context) (any, error) {
	s.setLoading(true)
	defer s.setLoading(false)

	snapshot, err := s.fetcher.FetchDetail(ctx, s.fullName)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var res LoadResult
	if err != nil {
		res = s.fallbackResult(ctx, err)
	} else {
		res = s.freshResult(ctx, snapshot)
	}

	// A torn-down session must not receive a stale result.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.publish(res)
	return res, nil
}

// freshResult applies network data: resolve the existing baseline (by
// stable id, then by full name for pre-id rows and renames), compute
// the delta against it, overwrite every mutable field including the
// full name, and persist.
func (s *Session) freshResult(ctx context.Context, snapshot *model.RepoSnapshot) LoadResult {
	prev, key, lookupErr := s.findBaseline(ctx, snapshot.ID, snapshot.FullName)
	if lookupErr != nil {
		s.logger.Error("Baseline lookup failed on refresh", "error", lookupErr)
		return LoadResult{
			State:     StatePersistError,
			Repo:      s.rowFromSnapshot(snapshot, snapshot.ID, s.now()),
			Issues:    snapshot.Issues,
			Commits:   snapshot.Commits,
			ErrorText: "Fetched fresh data but the local baseline is unavailable; changes were not saved.",
		}
	}

	now := s.now()
	id := snapshot.ID
	var delta *model.Delta
	if prev != nil {
		// Delta is computed against the pre-overwrite row; the row
		// keeps its id even when the snapshot was matched by name.
		delta = computeDelta(prev, snapshot)
		id = prev.ID
		s.logger.Debug("Baseline matched", "key", key.String(), "since", prev.LastFetchedAt)
	} else {
		s.logger.Info("First sighting, seeding baseline")
	}

	row := s.rowFromSnapshot(snapshot, id, now)
	if err := s.baseline.Upsert(ctx, row); err != nil {
		s.logger.Error("Baseline upsert failed", "error", err)
		return LoadResult{
			State:     StatePersistError,
			Repo:      row,
			Delta:     delta,
			Issues:    snapshot.Issues,
			Commits:   snapshot.Commits,
			ErrorText: "Fetched fresh data but could not save it; the next delta will span two refreshes.",
		}
	}

	return LoadResult{
		State:   StateFresh,
		Repo:    row,
		Delta:   delta,
		Issues:  snapshot.Issues,
		Commits: snapshot.Commits,
	}
}

// fallbackResult serves the cached baseline after a fetch failure. An
// unauthorized failure is the one special case: it keeps the offline
// flag down and points the user at the credential instead.
func (s *Session) fallbackResult(ctx context.Context, fetchErr error) LoadResult {
	cached := s.cachedRow(ctx)
	kind := apierrors.KindOf(fetchErr)
	s.logger.Warn("Fetch failed, falling back to cache",
		"kind", kind.String(), "cached", cached != nil, "error", fetchErr)

	if kind == apierrors.KindUnauthorized {
		if cached != nil {
			return LoadResult{
				State:     StateOfflineUnauthenticated,
				Repo:      cached,
				ErrorText: "GitHub token missing or invalid; showing last saved data.",
			}
		}
		return LoadResult{
			State:     StateOfflineUnauthenticated,
			ErrorText: "GitHub token missing or invalid; no cached data to show.",
		}
	}

	if cached != nil {
		return LoadResult{
			State:     StateOfflineCached,
			Repo:      cached,
			ErrorText: "Offline or API error; showing last saved data.",
		}
	}
	return LoadResult{
		State:     StateOfflineEmpty,
		ErrorText: "Could not load data: no network and no cached baseline.",
	}
}

// findBaseline resolves the existing row for a snapshot: by stable id
// first, by full name only when the id misses. Reporting which key
// matched lets callers and tests see the fallback actually fire.
func (s *Session) findBaseline(ctx context.Context, id int64, fullName string) (*model.TrackedRepo, matchKey, error) {
	row, err := s.baseline.FindByID(ctx, id)
	if err != nil {
		return nil, matchNone, err
	}
	if row != nil {
		return row, matchByID, nil
	}

	row, err = s.baseline.FindByFullName(ctx, fullName)
	if err != nil {
		return nil, matchNone, err
	}
	if row != nil {
		return row, matchByFullName, nil
	}
	return nil, matchNone, nil
}

// cachedRow resolves the row shown during fallback: the hinted stable
// id wins when it resolves, then the full name. Lookup faults degrade
// to a miss; the fallback path never crashes on storage trouble.
func (s *Session) cachedRow(ctx context.Context) *model.TrackedRepo {
	if s.hintedID != 0 {
		row, err := s.baseline.FindByID(ctx, s.hintedID)
		if err != nil {
			s.logger.Warn("Hinted id lookup failed", "hinted_id", s.hintedID, "error", err)
		} else if row != nil {
			return row
		}
	}

	row, err := s.baseline.FindByFullName(ctx, s.fullName)
	if err != nil {
		s.logger.Warn("Cached baseline lookup failed", "error", err)
		return nil
	}
	return row
}

func (s *Session) rowFromSnapshot(snapshot *model.RepoSnapshot, id int64, now time.Time) *model.TrackedRepo {
	return &model.TrackedRepo{
		ID:              id,
		FullName:        snapshot.FullName,
		Description:     snapshot.Description,
		URL:             snapshot.URL,
		StarsCount:      snapshot.StarsCount,
		OpenIssuesCount: snapshot.OpenIssuesCount,
		OpenPRsCount:    snapshot.OpenPRsCount,
		ForksCount:      snapshot.ForksCount,
		WatchersCount:   snapshot.WatchersCount,
		LastFetchedAt:   now,
	}
}

func (s *Session) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
}

func (s *Session) publish(res LoadResult) {
	s.mu.Lock()
	s.result = &res
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()
}
