// internal/tracker/tracker.go
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github-repo-tracker/internal/store"
)

const (
	// Number of repositories to refresh in parallel. Different
	// identities may reconcile concurrently; the per-session
	// singleflight keeps one identity single-writer.
	concurrency = 5
)

// Tracker owns one Session per tracked repository identity and drives
// the periodic all-repos refresh cycle.
type Tracker struct {
	fetcher  Fetcher
	baseline store.Baseline
	logger   *slog.Logger
	interval time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates a Tracker with sessions for every configured repository.
// A malformed identifier fails construction, the same way a malformed
// config entry should.
func New(fetcher Fetcher, baseline store.Baseline, logger *slog.Logger, repos []string, interval time.Duration) (*Tracker, error) {
	t := &Tracker{
		fetcher:  fetcher,
		baseline: baseline,
		logger:   logger,
		interval: interval,
		sessions: make(map[string]*Session),
	}
	for _, fullName := range repos {
		if _, err := t.Track(fullName, 0); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Track returns the session for a full name, creating it on first
// sight. hintedID seeds the cache fallback when the caller already
// knows the stable id (a favorites row carries one); it only applies
// to a newly created session.
func (t *Tracker) Track(fullName string, hintedID int64) (*Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.sessions[fullName]; ok {
		return s, nil
	}
	s, err := NewSession(fullName, hintedID, t.fetcher, t.baseline, t.logger)
	if err != nil {
		return nil, err
	}
	t.sessions[fullName] = s
	return s, nil
}

// Session returns an existing session without creating one.
func (t *Tracker) Session(fullName string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[fullName]
	return s, ok
}

// Start runs the continuous refresh loop until ctx ends. An initial
// cycle runs immediately.
func (t *Tracker) Start(ctx context.Context) {
	t.logger.Info("Starting tracker", "interval", t.interval.String(), "concurrency", concurrency)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.runRefreshCycle(ctx)

	for {
		select {
		case <-ticker.C:
			t.runRefreshCycle(ctx)
		case <-ctx.Done():
			t.logger.Info("Tracker shutting down", "reason", ctx.Err())
			return
		}
	}
}

// runRefreshCycle reconciles every tracked session concurrently.
func (t *Tracker) runRefreshCycle(ctx context.Context) {
	sessions := t.snapshotSessions()
	if len(sessions) == 0 {
		return
	}

	t.logger.Info("Starting refresh cycle", "repos", len(sessions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, s := range sessions {
		s := s
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := s.Load(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				t.logger.Error("Refresh cycle aborted for repository", "repo", s.FullName(), "error", err)
				return nil
			}
			if err == nil && res.State != StateFresh {
				t.logger.Warn("Repository not refreshed from network", "repo", s.FullName(), "state", string(res.State))
			}
			return nil
		})
	}

	_ = g.Wait()
	t.logger.Info("Refresh cycle finished")
}

func (t *Tracker) snapshotSessions() []*Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	sessions := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}
