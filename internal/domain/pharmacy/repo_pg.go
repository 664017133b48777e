package pharmacy

import (
	"context"

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

type backendRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &backendRepoPG{pool: pool}
}

func (r *backendRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const backendCols = `id, name, system_type, base_url, store_id, api_key, is_active, created_at, updated_at`

func scanBackend(row pgx.Row) (*Backend, error) {
	var b Backend
	err := row.Scan(&b.ID, &b.Name, &b.SystemType, &b.BaseURL, &b.StoreID,
		&b.APIKey, &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *backendRepoPG) Create(ctx context.Context, b *Backend) error {
	b.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO pharmacy_backends (id, name, system_type, base_url, store_id, api_key, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		b.ID, b.Name, b.SystemType, b.BaseURL, b.StoreID, b.APIKey, b.IsActive)
	return err
}

func (r *backendRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Backend, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+backendCols+` FROM pharmacy_backends WHERE id = $1`, id)
	return scanBackend(row)
}

func (r *backendRepoPG) GetFallback(ctx context.Context, systemType string) (*Backend, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+backendCols+` FROM pharmacy_backends
		WHERE system_type = $1 AND is_active = true
		ORDER BY updated_at DESC
		LIMIT 1`, systemType)
	return scanBackend(row)
}

func (r *backendRepoPG) GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Backend, error) {
	out := make(map[uuid.UUID]*Backend, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+backendCols+` FROM pharmacy_backends WHERE id = ANY($1) AND is_active = true`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		b, err := scanBackend(rows)
		if err != nil {
			return nil, err
		}
		out[b.ID] = b
	}
	return out, rows.Err()
}

func (r *backendRepoPG) List(ctx context.Context, limit, offset int) ([]*Backend, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM pharmacy_backends`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+backendCols+` FROM pharmacy_backends
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Backend
	for rows.Next() {
		b, err := scanBackend(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

func (r *backendRepoPG) Update(ctx context.Context, b *Backend) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE pharmacy_backends
		SET name = $2, system_type = $3, base_url = $4, store_id = $5, api_key = $6,
			is_active = $7, updated_at = now()
		WHERE id = $1`,
		b.ID, b.Name, b.SystemType, b.BaseURL, b.StoreID, b.APIKey, b.IsActive)
	return err
}

func (r *backendRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM pharmacy_backends WHERE id = $1`, id)
	return err
}
