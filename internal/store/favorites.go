// internal/store/favorites.go
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github-repo-tracker/internal/model"
)

// How many recently opened repositories are kept around.
const recentLimit = 20

const summaryColumns = `id, full_name, description, owner_login, stars_count, url`

func (s *Store) ListFavorites(ctx context.Context) ([]model.RepoSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+summaryColumns+` FROM favorites ORDER BY added_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// SaveFavorite adds a repository to the favorites, refreshing the
// stored copy when it is already present.
func (s *Store) SaveFavorite(ctx context.Context, repo model.RepoSummary) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO favorites (`+summaryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			description = EXCLUDED.description,
			owner_login = EXCLUDED.owner_login,
			stars_count = EXCLUDED.stars_count,
			url = EXCLUDED.url`,
		repo.ID, repo.FullName, repo.Description, repo.OwnerLogin,
		repo.StarsCount, repo.URL)
	if err != nil {
		return fmt.Errorf("save favorite %d: %w", repo.ID, err)
	}
	return nil
}

func (s *Store) RemoveFavorite(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM favorites WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove favorite %d: %w", id, err)
	}
	return nil
}

func (s *Store) ListRecent(ctx context.Context) ([]model.RepoSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+summaryColumns+` FROM recent_opened ORDER BY opened_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list recent: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// MarkOpened records a repository as most-recently opened and trims
// the list to the newest entries.
func (s *Store) MarkOpened(ctx context.Context, repo model.RepoSummary) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recent_opened (`+summaryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			description = EXCLUDED.description,
			owner_login = EXCLUDED.owner_login,
			stars_count = EXCLUDED.stars_count,
			url = EXCLUDED.url,
			opened_at = now()`,
		repo.ID, repo.FullName, repo.Description, repo.OwnerLogin,
		repo.StarsCount, repo.URL)
	if err != nil {
		return fmt.Errorf("mark opened %d: %w", repo.ID, err)
	}

	_, err = s.pool.Exec(ctx, `
		DELETE FROM recent_opened WHERE id NOT IN (
			SELECT id FROM recent_opened ORDER BY opened_at DESC LIMIT $1
		)`, recentLimit)
	if err != nil {
		return fmt.Errorf("trim recent: %w", err)
	}
	return nil
}

func scanSummaries(rows pgx.Rows) ([]model.RepoSummary, error) {
	var summaries []model.RepoSummary
	for rows.Next() {
		var r model.RepoSummary
		if err := rows.Scan(&r.ID, &r.FullName, &r.Description, &r.OwnerLogin,
			&r.StarsCount, &r.URL); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}
	return summaries, nil
}
