package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rankwatch/rankwatch/internal/model"
)

const rankCheckColumns = `id, keyword_id, position, url, title, result_count, status, source, error, checked_at`

// ListRankChecks returns the checks of a keyword within [from, to], newest first.
func (r *Repository) ListRankChecks(ctx context.Context, keywordID string, from, to time.Time, limit int) ([]*model.RankCheck, error) {
	query := `SELECT ` + rankCheckColumns + `
		FROM rank_checks
		WHERE keyword_id = $1 AND checked_at >= $2 AND checked_at <= $3
		ORDER BY checked_at DESC
		LIMIT $4
	`
	return r.queryRankChecks(ctx, query, keywordID, from, to, limit)
}

// LatestRankChecksByDomain returns the most recent check of every live
// keyword of a domain.
func (r *Repository) LatestRankChecksByDomain(ctx context.Context, domainID string) ([]*model.RankCheck, error) {
	query := `
		SELECT DISTINCT ON (c.keyword_id)
			c.id, c.keyword_id, c.position, c.url, c.title, c.result_count, c.status, c.source, c.error, c.checked_at
		FROM rank_checks c
		JOIN keywords k ON k.id = c.keyword_id
		WHERE k.domain_id = $1 AND k.deleted_at IS NULL
		ORDER BY c.keyword_id, c.checked_at DESC
	`
	return r.queryRankChecks(ctx, query, domainID)
}

func (r *Repository) queryRankChecks(ctx context.Context, query string, args ...any) ([]*model.RankCheck, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rank checks: %w", err)
	}
	defer rows.Close()

	var checks []*model.RankCheck
	for rows.Next() {
		check, err := scanRankCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rank check: %w", err)
		}
		checks = append(checks, check)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rank checks: %w", err)
	}
	return checks, nil
}

func scanRankCheck(row pgx.Row) (*model.RankCheck, error) {
	var check model.RankCheck
	err := row.Scan(
		&check.ID,
		&check.KeywordID,
		&check.Position,
		&check.URL,
		&check.Title,
		&check.ResultCount,
		&check.Status,
		&check.Source,
		&check.Error,
		&check.CheckedAt,
	)
	if err != nil {
		return nil, err
	}
	return &check, nil
}
