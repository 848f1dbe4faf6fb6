package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rankwatch/rankwatch/internal/model"
)

// Lookup errors. Handlers report endpoints of other accounts as not found
// too.
var (
	ErrEndpointNotFound = errors.New("webhook endpoint not found")
	ErrDeliveryNotFound = errors.New("webhook delivery not found")
)

const maxErrorLength = 500

const endpointColumns = `id, user_id, target_url, secret_hash, enabled, event_types,
	domain_ids, name, description, created_at, updated_at, deleted_at`

const deliveryColumns = `id, endpoint_id, event_id, event_type, payload_json,
	status, attempt_count, max_attempts, next_retry_at,
	last_attempt_at, last_http_status, last_error, created_at, updated_at`

// Repository stores endpoints and deliveries in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a webhook repository on pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func eventStrings(types []model.EventType) []string {
	out := make([]string, len(types))
	for i, et := range types {
		out[i] = string(et)
	}
	return out
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func scanEndpoint(row pgx.Row) (*model.WebhookEndpoint, error) {
	var (
		e      model.WebhookEndpoint
		events []string
	)
	err := row.Scan(
		&e.ID, &e.UserID, &e.TargetURL, &e.SecretHash, &e.Enabled, &events,
		&e.DomainIDs, &e.Name, &e.Description, &e.CreatedAt, &e.UpdatedAt, &e.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	e.EventTypes = make([]model.EventType, len(events))
	for i, et := range events {
		e.EventTypes[i] = model.EventType(et)
	}
	return &e, nil
}

func scanDelivery(row pgx.Row) (*model.WebhookDelivery, error) {
	var d model.WebhookDelivery
	err := row.Scan(
		&d.ID, &d.EndpointID, &d.EventID, &d.EventType, &d.PayloadJSON,
		&d.Status, &d.AttemptCount, &d.MaxAttempts, &d.NextRetryAt,
		&d.LastAttemptAt, &d.LastHTTPStatus, &d.LastError, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *Repository) queryEndpoints(ctx context.Context, query string, args ...any) ([]*model.WebhookEndpoint, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query webhook endpoints: %w", err)
	}
	endpoints, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.WebhookEndpoint, error) {
		return scanEndpoint(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan webhook endpoints: %w", err)
	}
	return endpoints, nil
}

func (r *Repository) queryDeliveries(ctx context.Context, query string, args ...any) ([]*model.WebhookDelivery, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query webhook deliveries: %w", err)
	}
	deliveries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.WebhookDelivery, error) {
		return scanDelivery(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan webhook deliveries: %w", err)
	}
	return deliveries, nil
}

// CreateEndpoint inserts an endpoint.
func (r *Repository) CreateEndpoint(ctx context.Context, e *model.WebhookEndpoint) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_endpoints (
			id, user_id, target_url, secret_hash, enabled, event_types,
			domain_ids, name, description, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.UserID, e.TargetURL, e.SecretHash, e.Enabled, eventStrings(e.EventTypes),
		nonNil(e.DomainIDs), e.Name, e.Description, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook endpoint: %w", err)
	}
	return nil
}

// GetEndpoint returns a live endpoint by ID.
func (r *Repository) GetEndpoint(ctx context.Context, id string) (*model.WebhookEndpoint, error) {
	e, err := scanEndpoint(r.pool.QueryRow(ctx,
		`SELECT `+endpointColumns+` FROM webhook_endpoints WHERE id = $1 AND deleted_at IS NULL`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEndpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook endpoint: %w", err)
	}
	return e, nil
}

// ListEndpointsByUser returns the live endpoints of a user, newest first.
func (r *Repository) ListEndpointsByUser(ctx context.Context, userID string) ([]*model.WebhookEndpoint, error) {
	return r.queryEndpoints(ctx, `SELECT `+endpointColumns+`
		FROM webhook_endpoints
		WHERE user_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC, id DESC`, userID)
}

// ListSubscribedEndpoints returns the enabled endpoints of userID that want
// eventType for domainID: subscribed to the event and either unscoped or
// scoped to that domain.
func (r *Repository) ListSubscribedEndpoints(ctx context.Context, userID string, eventType model.EventType, domainID string) ([]*model.WebhookEndpoint, error) {
	return r.queryEndpoints(ctx, `SELECT `+endpointColumns+`
		FROM webhook_endpoints
		WHERE user_id = $1
		  AND deleted_at IS NULL
		  AND enabled
		  AND $2 = ANY(event_types)
		  AND (cardinality(domain_ids) = 0 OR $3 = ANY(domain_ids))
		ORDER BY created_at`, userID, string(eventType), domainID)
}

// UpdateEndpoint saves the mutable fields of an endpoint.
func (r *Repository) UpdateEndpoint(ctx context.Context, e *model.WebhookEndpoint) error {
	e.UpdatedAt = time.Now().UTC()
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_endpoints
		SET target_url = $2, enabled = $3, event_types = $4, domain_ids = $5,
			name = $6, description = $7, updated_at = $8
		WHERE id = $1 AND deleted_at IS NULL`,
		e.ID, e.TargetURL, e.Enabled, eventStrings(e.EventTypes), nonNil(e.DomainIDs),
		e.Name, e.Description, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update webhook endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

// UpdateEndpointSecret replaces the stored secret hash.
func (r *Repository) UpdateEndpointSecret(ctx context.Context, id, secretHash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_endpoints
		SET secret_hash = $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL`, id, secretHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update webhook secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

// DeleteEndpoint soft-deletes an endpoint. Its deliveries stay readable
// until purged.
func (r *Repository) DeleteEndpoint(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_endpoints
		SET deleted_at = $2, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete webhook endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

// CreateDelivery queues a delivery. A second delivery of the same event to
// the same endpoint is ignored; created reports whether a row was added.
func (r *Repository) CreateDelivery(ctx context.Context, d *model.WebhookDelivery) (created bool, err error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (
			id, endpoint_id, event_id, event_type, payload_json,
			status, attempt_count, max_attempts, next_retry_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (endpoint_id, event_id) DO NOTHING`,
		d.ID, d.EndpointID, d.EventID, string(d.EventType), d.PayloadJSON,
		string(d.Status), d.AttemptCount, d.MaxAttempts, d.NextRetryAt,
		d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert webhook delivery: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetDelivery returns a delivery by ID.
func (r *Repository) GetDelivery(ctx context.Context, id string) (*model.WebhookDelivery, error) {
	d, err := scanDelivery(r.pool.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook delivery: %w", err)
	}
	return d, nil
}

// ClaimPendingDeliveries returns due deliveries of live, enabled endpoints
// and pushes their next_retry_at out by lease so that concurrent workers do
// not send them twice. Claims of a crashed worker fall due again once the
// lease passes.
func (r *Repository) ClaimPendingDeliveries(ctx context.Context, limit int, lease time.Duration) ([]*model.WebhookDelivery, error) {
	now := time.Now().UTC()
	return r.queryDeliveries(ctx, `
		WITH due AS (
			SELECT d.id
			FROM webhook_deliveries d
			JOIN webhook_endpoints e ON e.id = d.endpoint_id
			WHERE d.status IN ('pending', 'failed')
			  AND d.next_retry_at <= $1
			  AND e.deleted_at IS NULL
			  AND e.enabled
			ORDER BY d.next_retry_at
			LIMIT $2
			FOR UPDATE OF d SKIP LOCKED
		)
		UPDATE webhook_deliveries w
		SET next_retry_at = $3
		FROM due
		WHERE w.id = due.id
		RETURNING w.id, w.endpoint_id, w.event_id, w.event_type, w.payload_json,
			w.status, w.attempt_count, w.max_attempts, w.next_retry_at,
			w.last_attempt_at, w.last_http_status, w.last_error, w.created_at, w.updated_at`,
		now, limit, now.Add(lease))
}

// UpdateDeliverySuccess records a 2xx answer.
func (r *Repository) UpdateDeliverySuccess(ctx context.Context, id string, httpStatus int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = 'success', attempt_count = attempt_count + 1,
			last_attempt_at = $2, last_http_status = $3, last_error = '', updated_at = $2
		WHERE id = $1`, id, time.Now().UTC(), httpStatus)
	if err != nil {
		return fmt.Errorf("record delivery success: %w", err)
	}
	return nil
}

// UpdateDeliveryFailure records a failed attempt. Exhausted deliveries are
// only sent again through ResetDeliveryForRetry.
func (r *Repository) UpdateDeliveryFailure(ctx context.Context, id string, httpStatus *int, errMsg string, nextRetryAt time.Time, exhausted bool) error {
	status := model.DeliveryFailed
	if exhausted {
		status = model.DeliveryExhausted
	}
	if len(errMsg) > maxErrorLength {
		errMsg = errMsg[:maxErrorLength]
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, attempt_count = attempt_count + 1,
			last_attempt_at = $3, last_http_status = $4, last_error = $5,
			next_retry_at = $6, updated_at = $3
		WHERE id = $1`, id, string(status), time.Now().UTC(), httpStatus, errMsg, nextRetryAt)
	if err != nil {
		return fmt.Errorf("record delivery failure: %w", err)
	}
	return nil
}

// ListDeliveriesByEndpoint returns a page of an endpoint's deliveries,
// newest first, optionally filtered by status, and the total match count.
func (r *Repository) ListDeliveriesByEndpoint(ctx context.Context, endpointID string, statuses []string, limit, offset int) ([]*model.WebhookDelivery, int, error) {
	const where = `WHERE endpoint_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2))`
	statuses = nonNil(statuses)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_deliveries `+where, endpointID, statuses).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count webhook deliveries: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	deliveries, err := r.queryDeliveries(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries `+where+`
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`, endpointID, statuses, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return deliveries, total, nil
}

// ResetDeliveryForRetry makes an exhausted delivery due now with a fresh
// attempt budget.
func (r *Repository) ResetDeliveryForRetry(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = 'pending', attempt_count = 0, next_retry_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'exhausted'`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reset webhook delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// GetQueueDepth counts deliveries the worker still has to send.
func (r *Repository) GetQueueDepth(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM webhook_deliveries WHERE status IN ('pending', 'failed')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count webhook queue: %w", err)
	}
	return n, nil
}

// PurgeDeliveries deletes terminal deliveries last touched before cutoff
// and returns how many were removed.
func (r *Repository) PurgeDeliveries(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM webhook_deliveries
		WHERE status IN ('success', 'exhausted') AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge webhook deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}
