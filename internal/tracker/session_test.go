package tracker

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github-repo-tracker/internal/apierrors"
	"github-repo-tracker/internal/model"
	"github-repo-tracker/internal/store"
)

// MockBaseline is a mock of the store.Baseline interface.
type MockBaseline struct {
	mock.Mock
}

func (m *MockBaseline) FindByID(ctx context.Context, id int64) (*model.TrackedRepo, error) {
	args := m.Called(ctx, id)
	repo, _ := args.Get(0).(*model.TrackedRepo)
	return repo, args.Error(1)
}

func (m *MockBaseline) FindByFullName(ctx context.Context, fullName string) (*model.TrackedRepo, error) {
	args := m.Called(ctx, fullName)
	repo, _ := args.Get(0).(*model.TrackedRepo)
	return repo, args.Error(1)
}

func (m *MockBaseline) Upsert(ctx context.Context, repo *model.TrackedRepo) error {
	args := m.Called(ctx, repo)
	return args.Error(0)
}

// stubFetcher lets each test script the remote collaborator.
type stubFetcher struct {
	fn func(ctx context.Context, fullName string) (*model.RepoSnapshot, error)
}

func (f *stubFetcher) FetchDetail(ctx context.Context, fullName string) (*model.RepoSnapshot, error) {
	return f.fn(ctx, fullName)
}

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func newTestSession(t *testing.T, fullName string, hintedID int64, fetcher Fetcher, baseline store.Baseline) *Session {
	t.Helper()
	s, err := NewSession(fullName, hintedID, fetcher, baseline, testLogger)
	require.NoError(t, err)
	return s
}

func snapshotAB() *model.RepoSnapshot {
	return &model.RepoSnapshot{
		ID:              1,
		FullName:        "a/b",
		Description:     "test repo",
		URL:             "https://example.com/a/b",
		StarsCount:      10,
		OpenIssuesCount: 2,
		OpenPRsCount:    1,
		ForksCount:      0,
		WatchersCount:   5,
	}
}

func TestNewSession_RejectsMalformedFullName(t *testing.T) {
	for _, name := range []string{"", "nonsense", "a/b/c", "/b", "a/"} {
		_, err := NewSession(name, 0, &stubFetcher{}, new(MockBaseline), testLogger)
		require.Error(t, err, "full name %q", name)

		var formatErr *apierrors.InvalidRepoFormatError
		assert.ErrorAs(t, err, &formatErr)
	}
}

func TestSession_FirstSighting(t *testing.T) {
	baseline := new(MockBaseline)
	baseline.On("FindByID", mock.Anything, int64(1)).Return(nil, nil).Once()
	baseline.On("FindByFullName", mock.Anything, "a/b").Return(nil, nil).Once()

	var saved *model.TrackedRepo
	baseline.On("Upsert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(1).(*model.TrackedRepo)
	}).Return(nil).Once()

	fetcher := &stubFetcher{fn: func(context.Context, string) (*model.RepoSnapshot, error) {
		return snapshotAB(), nil
	}}
	s := newTestSession(t, "a/b", 0, fetcher, baseline)

	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	res, err := s.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateFresh, res.State)
	assert.Nil(t, res.Delta, "first sighting never has a delta")
	assert.False(t, res.Offline())
	assert.Empty(t, res.ErrorText)
	require.NotNil(t, res.Repo)
	assert.Equal(t, 10, res.Repo.StarsCount)
	assert.Equal(t, now, res.Repo.LastFetchedAt)

	require.NotNil(t, saved)
	assert.Equal(t, int64(1), saved.ID)
	baseline.AssertExpectations(t)
}

func TestSession_DeltaAgainstExistingBaseline(t *testing.T) {
	since := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	prev := &model.TrackedRepo{
		ID: 1, FullName: "a/b",
		StarsCount: 10, OpenIssuesCount: 2, OpenPRsCount: 1,
		ForksCount: 0, WatchersCount: 5,
		LastFetchedAt: since,
	}

	baseline := new(MockBaseline)
	baseline.On("FindByID", mock.Anything, int64(1)).Return(prev, nil).Once()
	baseline.On("Upsert", mock.Anything, mock.Anything).Return(nil).Once()

	next := snapshotAB()
	next.StarsCount = 15
	fetcher := &stubFetcher{fn: func(context.Context, string) (*model.RepoSnapshot, error) {
		return next, nil
	}}
	s := newTestSession(t, "a/b", 0, fetcher, baseline)

	now := since.Add(time.Hour)
	s.now = func() time.Time { return now }

	res, err := s.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateFresh, res.State)
	require.NotNil(t, res.Delta)
	assert.Equal(t, 5, res.Delta.Stars)
	assert.Equal(t, since, res.Delta.Since, "delta dates from the pre-overwrite baseline")
	assert.Equal(t, 15, res.Repo.StarsCount)
	assert.Equal(t, now, res.Repo.LastFetchedAt)
	assert.False(t, res.Offline())

	// Id hit means the full-name lookup never runs.
	baseline.AssertNotCalled(t, "FindByFullName", mock.Anything, mock.Anything)
	baseline.AssertExpectations(t)
}

// memBaseline is an in-memory baseline for tests that need real
// read-back of what a previous cycle wrote.
type memBaseline struct {
	mu   sync.Mutex
	rows map[int64]model.TrackedRepo
}

func newMemBaseline() *memBaseline {
	return &memBaseline{rows: make(map[int64]model.TrackedRepo)}
}

func (m *memBaseline) FindByID(_ context.Context, id int64) (*model.TrackedRepo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row, ok := m.rows[id]; ok {
		return &row, nil
	}
	return nil, nil
}

func (m *memBaseline) FindByFullName(_ context.Context, fullName string) (*model.TrackedRepo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.FullName == fullName {
			return &row, nil
		}
	}
	return nil, nil
}

func (m *memBaseline) Upsert(_ context.Context, repo *model.TrackedRepo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[repo.ID] = *repo
	return nil
}

func TestSession_RepeatedRefreshYieldsZeroDelta(t *testing.T) {
	// Two loads with an unchanged remote snapshot: the second delta is
	// all-zeros and LastFetchedAt strictly increases.
	baseline := newMemBaseline()

	fetcher := &stubFetcher{fn: func(context.Context, string) (*model.RepoSnapshot, error) {
		return snapshotAB(), nil
	}}
	s := newTestSession(t, "a/b", 0, fetcher, baseline)

	clock := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	first, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Nil(t, first.Delta)

	second, err := s.Load(context.Background())
	require.NoError(t, err)

	require.NotNil(t, second.Delta)
	assert.Zero(t, second.Delta.Stars)
	assert.Zero(t, second.Delta.OpenIssues)
	assert.Zero(t, second.Delta.OpenPRs)
	assert.Zero(t, second.Delta.Forks)
	assert.Zero(t, second.Delta.Watchers)
	assert.Equal(t, first.Repo.LastFetchedAt, second.Delta.Since)
	assert.True(t, second.Repo.LastFetchedAt.After(first.Repo.LastFetchedAt))
}

func TestSession_RenameReconciledThroughFullName(t *testing.T) {
	// The row was seeded before the stable id was known, so the id
	// lookup misses and the full-name lookup has to carry the match.
	prev := &model.TrackedRepo{
		ID: 999, FullName: "a/b", StarsCount: 10,
		LastFetchedAt: time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC),
	}

	baseline := new(MockBaseline)
	baseline.On("FindByID", mock.Anything, int64(1)).Return(nil, nil).Once()
	baseline.On("FindByFullName", mock.Anything, "a/renamed").Return(prev, nil).Once()

	var saved *model.TrackedRepo
	baseline.On("Upsert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(1).(*model.TrackedRepo)
	}).Return(nil).Once()

	next := snapshotAB()
	next.FullName = "a/renamed"
	fetcher := &stubFetcher{fn: func(context.Context, string) (*model.RepoSnapshot, error) {
		return next, nil
	}}
	s := newTestSession(t, "a/b", 0, fetcher, baseline)

	res, err := s.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateFresh, res.State)
	require.NotNil(t, res.Delta, "a name-matched row is still a baseline")
	require.NotNil(t, saved)
	assert.Equal(t, int64(999), saved.ID, "the row keeps its id")
	assert.Equal(t, "a/renamed", saved.FullName, "the rename is reconciled onto the row")
	baseline.AssertExpectations(t)
}

func TestSession_NetworkFailureServesCache(t *testing.T) {
	cached := &model.TrackedRepo{ID: 1, FullName: "a/b", StarsCount: 15}

	baseline := new(MockBaseline)
	baseline.On("FindByFullName", mock.Anything, "a/b").Return(cached, nil).Once()

	fetcher := &stubFetcher{fn: func(context.Context, string) (*model.RepoSnapshot, error) {
		return nil, apierrors.New(apierrors.KindNetwork, "connection refused")
	}}
	s := newTestSession(t, "a/b", 0, fetcher, baseline)

	res, err := s.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateOfflineCached, res.State)
	assert.True(t, res.Offline())
	assert.Equal(t, cached, res.Repo)
	assert.Nil(t, res.Delta)
	assert.NotEmpty(t, res.ErrorText)
	baseline.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestSession_NetworkFailureNoCache(t *testing.T) {
	baseline := new(MockBaseline)
	baseline.On("FindByFullName", mock.Anything, "a/b").Return(nil, nil).Once()

	fetcher := &stubFetcher{fn: func(context.Context, string) (*model.RepoSnapshot, error) {
		return nil, apierrors.New(apierrors.KindNetwork, "no route to host")
	}}
	s := newTestSession(t, "a/b", 0, fetcher, baseline)

	res, err := s.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateOfflineEmpty, res.State)
	assert.True(t, res.Offline())
	assert.Nil(t, res.Repo)
	assert.NotEmpty(t, res.ErrorText)
}

func TestSession_UnauthorizedKeepsOfflineDown(t *testing.T) {
	cached := &model.TrackedRepo{ID: 1, FullName: "a/b", StarsCount: 15}

	t.Run("with cached row", func(t *testing.T) {
		baseline := new(MockBaseline)
		baseline.On("FindByFullName", mock.Anything, "a/b").Return(cached, nil).Once()

		fetcher := &stubFetcher{fn: func(context.Context, string) (*model.RepoSnapshot, error) {
			return nil, apierrors.New(apierrors.KindUnauthorized, "bad credentials")
		}}
		s := newTestSession(t, "a/b", 0, fetcher, baseline)

		res, err := s.Load(context.Background())
		require.NoError(t, err)

		assert.Equal(t, StateOfflineUnauthenticated, res.State)
		assert.False(t, res.Offline(), "an auth failure is not an offline state")
		assert.Equal(t, 15, res.Repo.StarsCount)
		assert.Nil(t, res.Delta)
		assert.Contains(t, res.ErrorText, "token")
	})

	t.Run("without cached row", func(t *testing.T) {
		baseline := new(MockBaseline)
		baseline.On("FindByFullName", mock.Anything, "a/b").Return(nil, nil).Once()

		fetcher := &stubFetcher{fn: func(context.Context, string) (*model.RepoSnapshot, error) {
			return nil, apierrors.New(apierrors.KindUnauthorized, "bad credentials")
		}}
		s := newTestSession(t, "a/b", 0, fetcher, baseline)

		res, err := s.Load(context.Background())
		require.NoError(t, err)

		assert.Equal(t, StateOfflineUnauthenticated, res.State)
		assert.False(t, res.Offline())
		assert.Nil(t, res.Repo)
		assert.Contains(t, res.ErrorText, "token")
	})
}

func TestSession_HintedIDWinsOverFullName(t *testing.T) {
	hinted := &model.TrackedRepo{ID: 42, FullName: "a/old-name", StarsCount: 7}

	baseline := new(MockBaseline)
	baseline.On("FindByID", mock.Anything, int64(42)).Return(hinted, nil).Once()

	fetcher := &stubFetcher{fn: func(context.Context, string) (*model.RepoSnapshot, error) {
		return nil, apierrors.New(apierrors.KindNetwork, "timeout")
	}}
	s := newTestSession(t, "a/b", 42, fetcher, baseline)

	res, err := s.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, hinted, res.Repo)
	// Even though a full-name lookup could also resolve, the hint wins
	// and the name lookup never runs.
	baseline.AssertNotCalled(t, "FindByFullName", mock.Anything, mock.Anything)
}

func TestSession_FallbackLookupFaultDegradesToMiss(t *testing.T) {
	baseline := new(MockBaseline)
	baseline.On("FindByID", mock.Anything, int64(42)).Return(nil, assert.AnError).Once()
	baseline.On("FindByFullName", mock.Anything, "a/b").Return(nil, assert.AnError).Once()

	fetcher := &stubFetcher{fn: func(context.Context, string) (*model.RepoSnapshot, error) {
		return nil, apierrors.New(apierrors.KindNetwork, "timeout")
	}}
	s := newTestSession(t, "a/b", 42, fetcher, baseline)

	res, err := s.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateOfflineEmpty, res.State)
	assert.Nil(t, res.Repo)
	baseline.AssertExpectations(t)
}

func TestSession_UpsertFailureIsNotFresh(t *testing.T) {
	baseline := new(MockBaseline)
	baseline.On("FindByID", mock.Anything, int64(1)).Return(nil, nil).Once()
	baseline.On("FindByFullName", mock.Anything, "a/b").Return(nil, nil).Once()
	baseline.On("Upsert", mock.Anything, mock.Anything).Return(assert.AnError).Once()

	fetcher := &stubFetcher{fn: func(context.Context, string) (*model.RepoSnapshot, error) {
		return snapshotAB(), nil
	}}
	s := newTestSession(t, "a/b", 0, fetcher, baseline)

	res, err := s.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatePersistError, res.State)
	require.NotNil(t, res.Repo, "fresh numbers are still shown")
	assert.Equal(t, 10, res.Repo.StarsCount)
	assert.NotEmpty(t, res.ErrorText)
}

func TestSession_CancelledCycleNeverPublishes(t *testing.T) {
	baseline := new(MockBaseline)

	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &stubFetcher{fn: func(ctx context.Context, _ string) (*model.RepoSnapshot, error) {
		cancel()
		return nil, ctx.Err()
	}}
	s := newTestSession(t, "a/b", 0, fetcher, baseline)

	_, err := s.Load(ctx)
	require.ErrorIs(t, err, context.Canceled)

	_, published := s.Result()
	assert.False(t, published, "a torn-down session must not receive a result")
	baseline.AssertNotCalled(t, "FindByFullName", mock.Anything, mock.Anything)
}

func TestSession_ConcurrentRefreshesCoalesce(t *testing.T) {
	baseline := new(MockBaseline)
	baseline.On("FindByID", mock.Anything, int64(1)).Return(nil, nil)
	baseline.On("FindByFullName", mock.Anything, "a/b").Return(nil, nil)
	baseline.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	var fetches atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	fetcher := &stubFetcher{fn: func(context.Context, string) (*model.RepoSnapshot, error) {
		if fetches.Add(1) == 1 {
			close(entered)
		}
		<-release
		return snapshotAB(), nil
	}}
	s := newTestSession(t, "a/b", 0, fetcher, baseline)

	var wg sync.WaitGroup
	results := make([]LoadResult, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = s.Load(context.Background())
	}()
	<-entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], _ = s.Load(context.Background())
	}()

	// Give the second caller time to join the in-flight cycle.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), fetches.Load(), "same-identity refreshes must not race")
	assert.Equal(t, results[0], results[1])
}

func TestSession_PublisherReplacesResultWholesale(t *testing.T) {
	cached := &model.TrackedRepo{ID: 1, FullName: "a/b", StarsCount: 15}

	baseline := new(MockBaseline)
	baseline.On("FindByID", mock.Anything, int64(1)).Return(nil, nil).Once()
	baseline.On("FindByFullName", mock.Anything, "a/b").Return(nil, nil).Once()
	baseline.On("Upsert", mock.Anything, mock.Anything).Return(nil).Once()
	// Second cycle fails over to cache.
	baseline.On("FindByFullName", mock.Anything, "a/b").Return(cached, nil).Once()

	calls := 0
	fetcher := &stubFetcher{fn: func(context.Context, string) (*model.RepoSnapshot, error) {
		calls++
		if calls == 1 {
			return snapshotAB(), nil
		}
		return nil, apierrors.New(apierrors.KindNetwork, "down")
	}}
	s := newTestSession(t, "a/b", 0, fetcher, baseline)

	_, published := s.Result()
	assert.False(t, published)

	changed := s.Changed()
	first, err := s.Load(context.Background())
	require.NoError(t, err)

	select {
	case <-changed:
	default:
		t.Fatal("publish did not signal the change channel")
	}

	got, published := s.Result()
	require.True(t, published)
	assert.Equal(t, first, got)
	assert.False(t, s.Loading())

	second, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateOfflineCached, second.State)

	got, _ = s.Result()
	assert.Equal(t, second, got, "the old result is replaced, not merged")
	assert.NotEmpty(t, got.ErrorText)
	assert.Nil(t, got.Delta)
}
