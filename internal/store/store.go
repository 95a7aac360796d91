// internal/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github-repo-tracker/internal/model"
)

// Baseline is the persistence contract the reconciliation engine
// depends on. A genuine miss is (nil, nil); a non-nil error means the
// lookup itself failed at the infrastructure level.
type Baseline interface {
	FindByID(ctx context.Context, id int64) (*model.TrackedRepo, error)
	FindByFullName(ctx context.Context, fullName string) (*model.TrackedRepo, error)
	Upsert(ctx context.Context, repo *model.TrackedRepo) error
}

// Store implements the baseline table plus the favorites and
// recently-opened tables on Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const trackedRepoColumns = `id, full_name, description, url, stars_count,
	open_issues_count, open_prs_count, forks_count, watchers_count, last_fetched_at`

func (s *Store) FindByID(ctx context.Context, id int64) (*model.TrackedRepo, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+trackedRepoColumns+` FROM tracked_repos WHERE id = $1`, id)
	return scanTrackedRepo(row)
}

func (s *Store) FindByFullName(ctx context.Context, fullName string) (*model.TrackedRepo, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+trackedRepoColumns+` FROM tracked_repos WHERE full_name = $1`, fullName)
	return scanTrackedRepo(row)
}

// Upsert inserts or overwrites the baseline row keyed by stable id.
func (s *Store) Upsert(ctx context.Context, repo *model.TrackedRepo) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tracked_repos (`+trackedRepoColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			description = EXCLUDED.description,
			url = EXCLUDED.url,
			stars_count = EXCLUDED.stars_count,
			open_issues_count = EXCLUDED.open_issues_count,
			open_prs_count = EXCLUDED.open_prs_count,
			forks_count = EXCLUDED.forks_count,
			watchers_count = EXCLUDED.watchers_count,
			last_fetched_at = EXCLUDED.last_fetched_at`,
		repo.ID, repo.FullName, repo.Description, repo.URL, repo.StarsCount,
		repo.OpenIssuesCount, repo.OpenPRsCount, repo.ForksCount,
		repo.WatchersCount, repo.LastFetchedAt)
	if err != nil {
		return fmt.Errorf("upsert tracked repo %d: %w", repo.ID, err)
	}
	return nil
}

func scanTrackedRepo(row pgx.Row) (*model.TrackedRepo, error) {
	var r model.TrackedRepo
	err := row.Scan(&r.ID, &r.FullName, &r.Description, &r.URL, &r.StarsCount,
		&r.OpenIssuesCount, &r.OpenPRsCount, &r.ForksCount, &r.WatchersCount,
		&r.LastFetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query tracked repo: %w", err)
	}
	return &r, nil
}
