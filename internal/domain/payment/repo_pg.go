package payment

import (
	"context"
	"errors"
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

type txnRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &txnRepoPG{pool: pool}
}

func (r *txnRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const txnCols = `id, prescription_id, payment_token, status, order_progress,
	medication_cents, consultation_cents, shipping_cents, total_cents,
	gateway_txn_id, card_type, link_expires_at, created_at, updated_at`

func scanTxn(row pgx.Row) (*Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.PrescriptionID, &t.PaymentToken, &t.Status, &t.OrderProgress,
		&t.MedicationCents, &t.ConsultationCents, &t.ShippingCents, &t.TotalCents,
		&t.GatewayTxnID, &t.CardType, &t.LinkExpiresAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *txnRepoPG) Create(ctx context.Context, t *Transaction) error {
	t.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payment_transactions (id, prescription_id, payment_token, status, order_progress,
			medication_cents, consultation_cents, shipping_cents, total_cents,
			gateway_txn_id, card_type, link_expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		t.ID, t.PrescriptionID, t.PaymentToken, t.Status, t.OrderProgress,
		t.MedicationCents, t.ConsultationCents, t.ShippingCents, t.TotalCents,
		t.GatewayTxnID, t.CardType, t.LinkExpiresAt)
	return err
}

func (r *txnRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+txnCols+` FROM payment_transactions WHERE id = $1`, id)
	return scanTxn(row)
}

func (r *txnRepoPG) GetByToken(ctx context.Context, token string) (*Transaction, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+txnCols+` FROM payment_transactions WHERE payment_token = $1`, token)
	return scanTxn(row)
}

func (r *txnRepoPG) GetByGatewayTxn(ctx context.Context, gatewayTxnID string) (*Transaction, error) {
	row := r.conn(ctx).QueryRow(ctx,
		`SELECT `+txnCols+` FROM payment_transactions WHERE gateway_txn_id = $1`, gatewayTxnID)
	return scanTxn(row)
}

func (r *txnRepoPG) GetLatestByPrescription(ctx context.Context, prescriptionID uuid.UUID) (*Transaction, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		SELECT `+txnCols+` FROM payment_transactions
		WHERE prescription_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, prescriptionID)
	return scanTxn(row)
}

// Complete is a single conditional update so two concurrent deliveries of
// the same event cannot both pass an idempotency check.
func (r *txnRepoPG) Complete(ctx context.Context, token, gatewayTxnID, cardType string) (*Transaction, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE payment_transactions
		SET status = $2, order_progress = $3, gateway_txn_id = $4, card_type = $5, updated_at = now()
		WHERE payment_token = $1 AND status <> $2 AND gateway_txn_id IS NULL
		RETURNING `+txnCols,
		token, StatusCompleted, ProgressPaymentReceived, gatewayTxnID, cardType)
	t, err := scanTxn(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the token is unknown or the row was already processed.
		if _, gerr := r.GetByToken(ctx, token); gerr == nil {
			return nil, ErrAlreadyProcessed
		}
		return nil, pgx.ErrNoRows
	}
	return t, err
}

func (r *txnRepoPG) CompleteManual(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE payment_transactions
		SET status = $2, order_progress = $3, card_type = $4, updated_at = now()
		WHERE id = $1 AND status <> $2
		RETURNING `+txnCols,
		id, StatusCompleted, ProgressPaymentReceived, CardTypeManual)
	t, err := scanTxn(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAlreadyProcessed
	}
	return t, err
}

func (r *txnRepoPG) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE payment_transactions SET status = $2, updated_at = now() WHERE id = $1`,
		id, status)
	return err
}

func (r *txnRepoPG) RefreshLink(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE payment_transactions
		SET payment_token = $2, link_expires_at = $3, updated_at = now()
		WHERE id = $1`,
		id, token, expiresAt)
	return err
}

func (r *txnRepoPG) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payment_transactions
		SET status = $1, updated_at = now()
		WHERE status = $2 AND link_expires_at IS NOT NULL AND link_expires_at < $3`,
		StatusExpired, StatusPending, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
