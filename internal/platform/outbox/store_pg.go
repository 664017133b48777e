package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telerx/telerx/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PgStore is the PostgreSQL-backed outbox store.
type PgStore struct{ pool *pgxpool.Pool }

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

const eventCols = `id, kind, payload, status, attempts, next_attempt_at, last_error, created_at, updated_at`

// claimLease bounds how long a claimed event may sit in processing. A worker
// that crashes between claim and mark leaves the row in processing forever;
// once the lease lapses the row becomes claimable again. The lease must
// exceed the longest handler run (pharmacy submission under its 15s HTTP
// timeout) by a wide margin so a slow-but-alive worker is never raced.
const claimLease = 5 * time.Minute

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.Kind, &e.Payload, &e.Status, &e.Attempts,
		&e.NextAttemptAt, &e.LastError, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PgStore) Enqueue(ctx context.Context, kind string, payload interface{}) (*Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal outbox payload: %w", err)
	}
	row := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO outbox_events (id, kind, payload, status, attempts, next_attempt_at)
		VALUES ($1, $2, $3, $4, 0, now())
		RETURNING `+eventCols,
		uuid.New(), kind, body, StatusPending)
	e, err := scanEvent(row)
	if err != nil {
		return nil, fmt.Errorf("enqueue outbox event: %w", err)
	}
	return e, nil
}

func (s *PgStore) ClaimDue(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		UPDATE outbox_events SET status = $1, updated_at = now()
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE (status = $2 AND next_attempt_at <= now())
			   OR (status = $1 AND updated_at < now() - make_interval(secs => $3))
			ORDER BY next_attempt_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+eventCols,
		StatusProcessing, StatusPending, claimLease.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PgStore) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	_, err := s.conn(ctx).Exec(ctx,
		`UPDATE outbox_events SET status = $1, last_error = NULL, updated_at = now() WHERE id = $2`,
		StatusDelivered, id)
	if err != nil {
		return fmt.Errorf("mark outbox event delivered: %w", err)
	}
	return nil
}

func (s *PgStore) MarkRetry(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error {
	_, err := s.conn(ctx).Exec(ctx, `
		UPDATE outbox_events
		SET status = $1, attempts = $2, next_attempt_at = $3, last_error = $4, updated_at = now()
		WHERE id = $5`,
		StatusPending, attempts, nextAttemptAt, lastError, id)
	if err != nil {
		return fmt.Errorf("mark outbox event for retry: %w", err)
	}
	return nil
}

func (s *PgStore) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	_, err := s.conn(ctx).Exec(ctx,
		`UPDATE outbox_events SET status = $1, last_error = $2, updated_at = now() WHERE id = $3`,
		StatusFailed, lastError, id)
	if err != nil {
		return fmt.Errorf("mark outbox event failed: %w", err)
	}
	return nil
}

func (s *PgStore) Reset(ctx context.Context, id uuid.UUID) (*Event, error) {
	row := s.conn(ctx).QueryRow(ctx, `
		UPDATE outbox_events
		SET status = $1, attempts = 0, next_attempt_at = now(), last_error = NULL, updated_at = now()
		WHERE id = $2 AND status = $3
		RETURNING `+eventCols,
		StatusPending, id, StatusFailed)
	e, err := scanEvent(row)
	if err == pgx.ErrNoRows {
		return nil, ErrNotRetryable
	}
	if err != nil {
		return nil, fmt.Errorf("reset outbox event: %w", err)
	}
	return e, nil
}

func (s *PgStore) List(ctx context.Context, status string, limit, offset int) ([]*Event, int, error) {
	where := ""
	args := []interface{}{}
	if status != "" {
		where = "WHERE status = $1"
		args = append(args, status)
	}

	var total int
	if err := s.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count outbox events: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM outbox_events %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		eventCols, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list outbox events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}
