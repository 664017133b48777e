package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyProcessed is returned by the conditional completion update when
// the transaction was already completed or already carries a gateway
// transaction id. Duplicate webhook deliveries land here.
var ErrAlreadyProcessed = errors.New("payment: transaction already processed")

// Repository persists payment transactions.
type Repository interface {
	Create(ctx context.Context, t *Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	GetByToken(ctx context.Context, token string) (*Transaction, error)
	GetByGatewayTxn(ctx context.Context, gatewayTxnID string) (*Transaction, error)
	// GetLatestByPrescription returns the newest transaction for a
	// prescription.
	GetLatestByPrescription(ctx context.Context, prescriptionID uuid.UUID) (*Transaction, error)

	// Complete finalizes the transaction identified by token in a single
	// conditional update. It returns ErrAlreadyProcessed when the row was
	// already completed or already has a gateway transaction id, closing
	// the duplicate-delivery race without a separate read.
	Complete(ctx context.Context, token, gatewayTxnID, cardType string) (*Transaction, error)

	// CompleteManual marks an existing transaction paid via the manual path.
	CompleteManual(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// SetStatus updates gateway status (void, refund, decline).
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error

	// RefreshLink stores a newly issued payment token and expiry.
	RefreshLink(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error

	// ExpireStale marks pending transactions with a lapsed link expired and
	// returns how many rows changed.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}
