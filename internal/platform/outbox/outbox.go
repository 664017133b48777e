// Package outbox persists side effects (pharmacy submission, patient emails)
// as durable events and delivers them with retry instead of firing them
// inline from webhook and cron paths.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotRetryable is returned when resetting an event that is not parked
// in the failed state.
var ErrNotRetryable = errors.New("outbox: event is not in a retryable state")

// Event kinds dispatched by the worker.
const (
	KindSubmitToPharmacy      = "submit_to_pharmacy"
	KindGeneratePaymentLink   = "generate_payment_link"
	KindSendPaymentEmail      = "send_payment_email"
	KindSendConfirmationEmail = "send_confirmation_email"
)

// Event statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusDelivered  = "delivered"
	StatusFailed     = "failed"
)

// Event is one pending side effect.
type Event struct {
	ID            uuid.UUID       `json:"id"`
	Kind          string          `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	Status        string          `json:"status"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     *string         `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Store persists and claims outbox events.
type Store interface {
	// Enqueue inserts a pending event due immediately.
	Enqueue(ctx context.Context, kind string, payload interface{}) (*Event, error)

	// ClaimDue atomically claims up to limit due pending events, marking
	// them processing so concurrent workers cannot double-deliver. Events
	// stuck in processing past the claim lease (a worker crashed between
	// claim and mark) are reclaimed the same way.
	ClaimDue(ctx context.Context, limit int) ([]*Event, error)

	// MarkDelivered finalizes a successfully delivered event.
	MarkDelivered(ctx context.Context, id uuid.UUID) error

	// MarkRetry reschedules a failed attempt.
	MarkRetry(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error

	// MarkFailed parks an event after exhausting its attempts.
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error

	// Reset moves a parked event back to pending for manual redelivery.
	Reset(ctx context.Context, id uuid.UUID) (*Event, error)

	// List returns events filtered by status ("" for all), newest first.
	List(ctx context.Context, status string, limit, offset int) ([]*Event, int, error)
}
