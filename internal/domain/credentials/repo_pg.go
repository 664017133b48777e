package credentials

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

type credsRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &credsRepoPG{pool: pool}
}

func (r *credsRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const credsCols = `id, label, api_login_id, transaction_key, signature_key, is_active, created_at, updated_at`

func scanCreds(row pgx.Row) (*MerchantCredentials, error) {
	var c MerchantCredentials
	err := row.Scan(&c.ID, &c.Label, &c.APILoginID, &c.TransactionKey, &c.SignatureKey,
		&c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *credsRepoPG) GetActive(ctx context.Context) (*MerchantCredentials, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+credsCols+` FROM payment_credentials WHERE is_active = true`)
	return scanCreds(row)
}

func (r *credsRepoPG) Replace(ctx context.Context, c *MerchantCredentials) error {
	return db.WithinTx(ctx, r.pool, func(ctx context.Context) error {
		if _, err := r.conn(ctx).Exec(ctx,
			`UPDATE payment_credentials SET is_active = false, updated_at = now() WHERE is_active = true`); err != nil {
			return err
		}
		c.ID = uuid.New()
		c.IsActive = true
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO payment_credentials (id, label, api_login_id, transaction_key, signature_key, is_active)
			VALUES ($1,$2,$3,$4,$5,true)`,
			c.ID, c.Label, c.APILoginID, c.TransactionKey, c.SignatureKey)
		return err
	})
}

func (r *credsRepoPG) List(ctx context.Context) ([]*MerchantCredentials, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+credsCols+` FROM payment_credentials ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*MerchantCredentials
	for rows.Next() {
		c, err := scanCreds(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}
