package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rankwatch/rankwatch/internal/model"
)

// Common errors for domain repository operations.
var (
	ErrDomainNotFound = errors.New("domain not found")
	ErrDomainExists   = errors.New("domain already tracked")
)

const domainColumns = `
	d.id, d.owner_id, d.hostname, d.display_name,
	(SELECT COUNT(*) FROM keywords k WHERE k.domain_id = d.id AND k.deleted_at IS NULL),
	d.created_at, d.updated_at, d.deleted_at`

const countDomainsQuery = `SELECT COUNT(*) FROM domains WHERE owner_id = $1 AND deleted_at IS NULL`

// CreateDomain inserts a new domain.
func (r *Repository) CreateDomain(ctx context.Context, domain *model.Domain) error {
	return r.CreateDomainWithinLimit(ctx, domain, 0)
}

// CreateDomainWithinLimit inserts a domain unless the owner already has
// limit live domains, in which case it returns a *LimitError. Concurrent
// calls for the same owner are serialized.
func (r *Repository) CreateDomainWithinLimit(ctx context.Context, domain *model.Domain, limit int) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		if err := checkOwnerLimit(ctx, tx, domain.OwnerID, countDomainsQuery, limit, 1); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO domains (id, owner_id, hostname, display_name, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`,
			domain.ID,
			domain.OwnerID,
			domain.Hostname,
			domain.DisplayName,
			domain.CreatedAt,
			domain.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDomainExists
			}
			return fmt.Errorf("failed to create domain: %w", err)
		}
		return nil
	})
}

// GetDomainByID retrieves a live domain owned by ownerID.
func (r *Repository) GetDomainByID(ctx context.Context, ownerID, id string) (*model.Domain, error) {
	query := `SELECT ` + domainColumns + `
		FROM domains d
		WHERE d.id = $1 AND d.owner_id = $2 AND d.deleted_at IS NULL
	`

	domain, err := scanDomain(r.pool.QueryRow(ctx, query, id, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDomainNotFound
		}
		return nil, fmt.Errorf("failed to get domain by ID: %w", err)
	}

	return domain, nil
}

// ListDomains retrieves a page of domains for an owner, newest first.
func (r *Repository) ListDomains(ctx context.Context, ownerID, cursor string, limit int) ([]*model.Domain, string, error) {
	query := `SELECT ` + domainColumns + `
		FROM domains d
		WHERE d.deleted_at IS NULL AND d.owner_id = $1
	`
	args := []any{ownerID}

	if cursor != "" {
		c, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		query += " AND (d.created_at, d.id) < ($2, $3)"
		args = append(args, c.CreatedAt, c.ID)
	}

	query += fmt.Sprintf(" ORDER BY d.created_at DESC, d.id DESC LIMIT $%d", len(args)+1)
	args = append(args, limit+1)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list domains: %w", err)
	}
	defer rows.Close()

	var domains []*model.Domain
	for rows.Next() {
		domain, err := scanDomain(rows)
		if err != nil {
			return nil, "", fmt.Errorf("failed to scan domain: %w", err)
		}
		domains = append(domains, domain)
	}

	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("error iterating domains: %w", err)
	}

	domains, next := nextCursor(domains, limit, func(d *model.Domain) PaginationCursor {
		return PaginationCursor{ID: d.ID, CreatedAt: d.CreatedAt}
	})
	return domains, next, nil
}

// UpdateDomain updates a domain's mutable fields.
func (r *Repository) UpdateDomain(ctx context.Context, domain *model.Domain) error {
	query := `
		UPDATE domains
		SET display_name = $3, updated_at = $4
		WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL
	`

	result, err := r.pool.Exec(ctx, query, domain.ID, domain.OwnerID, domain.DisplayName, domain.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update domain: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrDomainNotFound
	}

	return nil
}

// DeleteDomain soft-deletes a domain together with its keywords.
func (r *Repository) DeleteDomain(ctx context.Context, ownerID, id string) error {
	now := time.Now()
	return r.withTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE domains
			SET deleted_at = $3, updated_at = $3
			WHERE id = $1 AND owner_id = $2 AND deleted_at IS NULL
		`, id, ownerID, now)
		if err != nil {
			return fmt.Errorf("failed to delete domain: %w", err)
		}
		if result.RowsAffected() == 0 {
			return ErrDomainNotFound
		}

		if _, err := tx.Exec(ctx, `
			UPDATE keywords
			SET deleted_at = $2, updated_at = $2
			WHERE domain_id = $1 AND deleted_at IS NULL
		`, id, now); err != nil {
			return fmt.Errorf("failed to delete domain keywords: %w", err)
		}
		return nil
	})
}

// CountDomainsByOwner returns the number of live domains an owner tracks.
func (r *Repository) CountDomainsByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, countDomainsQuery, ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count domains: %w", err)
	}
	return count, nil
}

func scanDomain(row pgx.Row) (*model.Domain, error) {
	var domain model.Domain
	err := row.Scan(
		&domain.ID,
		&domain.OwnerID,
		&domain.Hostname,
		&domain.DisplayName,
		&domain.KeywordCount,
		&domain.CreatedAt,
		&domain.UpdatedAt,
		&domain.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &domain, nil
}
