package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rankwatch/rankwatch/internal/model"
)

// Common errors for keyword repository operations.
var (
	ErrKeywordNotFound = errors.New("keyword not found")
	ErrKeywordExists   = errors.New("keyword already tracked for this domain")
)

// KeywordFilter defines filters for listing keywords.
type KeywordFilter struct {
	OwnerID  string
	DomainID string
}

const keywordColumns = `
	id, owner_id, domain_id, phrase, country, language, device,
	last_position, previous_position, best_position, last_url,
	last_checked_at, next_check_at, created_at, updated_at, deleted_at`

const insertKeywordQuery = `
	INSERT INTO keywords (id, owner_id, domain_id, phrase, country, language, device, next_check_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

func keywordInsertArgs(k *model.Keyword) []any {
	return []any{
		k.ID,
		k.OwnerID,
		k.DomainID,
		k.Phrase,
		k.Country,
		k.Language,
		k.Device,
		k.NextCheckAt,
		k.CreatedAt,
		k.UpdatedAt,
	}
}

// CreateKeyword inserts a new keyword.
func (r *Repository) CreateKeyword(ctx context.Context, keyword *model.Keyword) error {
	_, err := r.pool.Exec(ctx, insertKeywordQuery, keywordInsertArgs(keyword)...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrKeywordExists
		}
		if isForeignKeyViolation(err) {
			return ErrDomainNotFound
		}
		return fmt.Errorf("failed to create keyword: %w", err)
	}
	return nil
}

const countKeywordsQuery = `SELECT COUNT(*) FROM keywords WHERE owner_id = $1 AND deleted_at IS NULL`

// CreateKeywords inserts keywords atomically: either all are stored or none.
func (r *Repository) CreateKeywords(ctx context.Context, keywords []*model.Keyword) error {
	return r.CreateKeywordsWithinLimit(ctx, keywords, 0)
}

// CreateKeywordsWithinLimit inserts keywords atomically unless the owner of
// the first keyword would end up with more than limit live keywords, in
// which case it returns a *LimitError. All keywords share one owner.
func (r *Repository) CreateKeywordsWithinLimit(ctx context.Context, keywords []*model.Keyword, limit int) error {
	if len(keywords) == 0 {
		return nil
	}
	return r.withTx(ctx, func(tx pgx.Tx) error {
		if err := checkOwnerLimit(ctx, tx, keywords[0].OwnerID, countKeywordsQuery, limit, len(keywords)); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, k := range keywords {
			batch.Queue(insertKeywordQuery, keywordInsertArgs(k)...)
		}

		results := tx.SendBatch(ctx, batch)
		for i := range keywords {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: %q", ErrKeywordExists, keywords[i].Phrase)
				}
				if isForeignKeyViolation(err) {
					return ErrDomainNotFound
				}
				return fmt.Errorf("failed to create keyword: %w", err)
			}
		}
		return results.Close()
	})
}

// GetKeywordByID retrieves a live keyword owned by ownerID.
func (r *Repository) GetKeywordByID(ctx context.Context, ownerID, id string) (*model.Keyword, error) {
	query := `SELECT ` + keywordColumns + `
		FROM keywords
		WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL
	`

	keyword, err := scanKeyword(r.pool.QueryRow(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeywordNotFound
		}
		return nil, fmt.Errorf("failed to get keyword by ID: %w", err)
	}

	return keyword, nil
}

// GetKeyword retrieves a live keyword regardless of owner.
// Used by background checks, which act on behalf of the owner.
func (r *Repository) GetKeyword(ctx context.Context, id string) (*model.Keyword, error) {
	query := `SELECT ` + keywordColumns + `
		FROM keywords
		WHERE id = $1 AND deleted_at IS NULL
	`

	keyword, err := scanKeyword(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeywordNotFound
		}
		return nil, fmt.Errorf("failed to get keyword: %w", err)
	}

	return keyword, nil
}

// ListKeywords retrieves a page of keywords, newest first.
func (r *Repository) ListKeywords(ctx context.Context, filter KeywordFilter, cursor string, limit int) ([]*model.Keyword, string, error) {
	query := `SELECT ` + keywordColumns + `
		FROM keywords
		WHERE deleted_at IS NULL AND owner_id = $1
	`
	args := []any{filter.OwnerID}
	argIndex := 2

	if filter.DomainID != "" {
		query += fmt.Sprintf(" AND domain_id = $%d", argIndex)
		args = append(args, filter.DomainID)
		argIndex++
	}

	if cursor != "" {
		c, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIndex, argIndex+1)
		args = append(args, c.CreatedAt, c.ID)
		argIndex += 2
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", argIndex)
	args = append(args, limit+1)

	keywords, err := r.queryKeywords(ctx, query, args...)
	if err != nil {
		return nil, "", err
	}

	keywords, next := nextCursor(keywords, limit, func(k *model.Keyword) PaginationCursor {
		return PaginationCursor{ID: k.ID, CreatedAt: k.CreatedAt}
	})
	return keywords, next, nil
}

// ListKeywordsByDomain returns every live keyword of a domain.
func (r *Repository) ListKeywordsByDomain(ctx context.Context, ownerID, domainID string) ([]*model.Keyword, error) {
	query := `SELECT ` + keywordColumns + `
		FROM keywords
		WHERE owner_id = $1 AND domain_id = $2 AND deleted_at IS NULL
		ORDER BY phrase
	`
	return r.queryKeywords(ctx, query, ownerID, domainID)
}

// UpdateKeyword updates a keyword's locale settings and schedule.
func (r *Repository) UpdateKeyword(ctx context.Context, keyword *model.Keyword) error {
	query := `
		UPDATE keywords
		SET country = $3, language = $4, device = $5, next_check_at = $6, updated_at = $7
		WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query,
		keyword.ID,
		keyword.OwnerID,
		keyword.Country,
		keyword.Language,
		keyword.Device,
		keyword.NextCheckAt,
		keyword.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrKeywordExists
		}
		return fmt.Errorf("failed to update keyword: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrKeywordNotFound
	}
	return nil
}

// DeleteKeyword performs a soft delete on a keyword.
func (r *Repository) DeleteKeyword(ctx context.Context, ownerID, id string) error {
	query := `
		UPDATE keywords
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete keyword: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrKeywordNotFound
	}
	return nil
}

// CountKeywordsByOwner returns the number of live keywords an owner tracks.
func (r *Repository) CountKeywordsByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, countKeywordsQuery, ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count keywords: %w", err)
	}
	return count, nil
}

// ClaimDueKeywords leases up to limit keywords whose next check is due by
// pushing their next_check_at forward by lease. Concurrent schedulers never
// claim the same row.
func (r *Repository) ClaimDueKeywords(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*model.Keyword, error) {
	query := `
		UPDATE keywords
		SET next_check_at = $2
		WHERE id IN (
			SELECT id FROM keywords
			WHERE deleted_at IS NULL AND next_check_at <= $1
			ORDER BY next_check_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + keywordColumns

	return r.queryKeywords(ctx, query, now, now.Add(lease), limit)
}

// ScheduleKeyword sets when a keyword is next due.
func (r *Repository) ScheduleKeyword(ctx context.Context, id string, next time.Time) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE keywords SET next_check_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, next,
	)
	if err != nil {
		return fmt.Errorf("failed to schedule keyword: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrKeywordNotFound
	}
	return nil
}

// PriorRank is a keyword's standing as it was when a check was recorded.
// CheckedAt is nil when the keyword had never been checked successfully.
type PriorRank struct {
	Position  *int
	CheckedAt *time.Time
}

// RecordCheck stores a rank check and, unless it failed, shifts the
// keyword's positions. The keyword is updated in place with the stored
// values. The returned PriorRank is read under the same row lock as the
// update, so concurrent checks each see the result of the one before.
func (r *Repository) RecordCheck(ctx context.Context, keyword *model.Keyword, check *model.RankCheck, next time.Time) (PriorRank, error) {
	var prior PriorRank
	err := r.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO rank_checks (id, keyword_id, position, url, title, result_count, status, source, error, checked_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			check.ID,
			check.KeywordID,
			check.Position,
			check.URL,
			check.Title,
			check.ResultCount,
			check.Status,
			check.Source,
			check.Error,
			check.CheckedAt,
		); err != nil {
			return fmt.Errorf("failed to insert rank check: %w", err)
		}

		if check.Status == model.CheckStatusFailed {
			err := tx.QueryRow(ctx, `
				UPDATE keywords SET next_check_at = $2, updated_at = $3
				WHERE id = $1 AND deleted_at IS NULL
				RETURNING last_position, last_checked_at
			`, keyword.ID, next, check.CheckedAt).Scan(&prior.Position, &prior.CheckedAt)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return ErrKeywordNotFound
				}
				return fmt.Errorf("failed to reschedule keyword: %w", err)
			}
			keyword.NextCheckAt = next
			return nil
		}

		err := tx.QueryRow(ctx, `
			WITH prior AS (
				SELECT id, last_position, last_checked_at FROM keywords
				WHERE id = $1 AND deleted_at IS NULL
				FOR UPDATE
			)
			UPDATE keywords k
			SET previous_position = prior.last_position,
				last_position = $2::int,
				best_position = CASE
					WHEN $2::int IS NOT NULL AND (k.best_position IS NULL OR $2::int < k.best_position) THEN $2::int
					ELSE k.best_position
				END,
				last_url = $3,
				last_checked_at = $4,
				next_check_at = $5,
				updated_at = $4
			FROM prior
			WHERE k.id = prior.id
			RETURNING k.previous_position, k.last_position, k.best_position, prior.last_checked_at
		`, keyword.ID, check.Position, check.URL, check.CheckedAt, next).Scan(
			&keyword.PreviousPosition,
			&keyword.LastPosition,
			&keyword.BestPosition,
			&prior.CheckedAt,
		)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrKeywordNotFound
			}
			return fmt.Errorf("failed to update keyword positions: %w", err)
		}

		prior.Position = keyword.PreviousPosition
		checkedAt := check.CheckedAt
		keyword.LastURL = check.URL
		keyword.LastCheckedAt = &checkedAt
		keyword.NextCheckAt = next
		keyword.UpdatedAt = checkedAt
		return nil
	})
	if err != nil {
		return PriorRank{}, err
	}
	return prior, nil
}

func (r *Repository) queryKeywords(ctx context.Context, query string, args ...any) ([]*model.Keyword, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query keywords: %w", err)
	}
	defer rows.Close()

	var keywords []*model.Keyword
	for rows.Next() {
		keyword, err := scanKeyword(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan keyword: %w", err)
		}
		keywords = append(keywords, keyword)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keywords: %w", err)
	}
	return keywords, nil
}

func scanKeyword(row pgx.Row) (*model.Keyword, error) {
	var keyword model.Keyword
	err := row.Scan(
		&keyword.ID,
		&keyword.OwnerID,
		&keyword.DomainID,
		&keyword.Phrase,
		&keyword.Country,
		&keyword.Language,
		&keyword.Device,
		&keyword.LastPosition,
		&keyword.PreviousPosition,
		&keyword.BestPosition,
		&keyword.LastURL,
		&keyword.LastCheckedAt,
		&keyword.NextCheckAt,
		&keyword.CreatedAt,
		&keyword.UpdatedAt,
		&keyword.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &keyword, nil
}
