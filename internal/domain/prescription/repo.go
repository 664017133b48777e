package prescription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists prescriptions.
type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error)
	// List returns prescriptions, optionally filtered by status.
	List(ctx context.Context, status Status, limit, offset int) ([]*Prescription, int, error)
	Update(ctx context.Context, p *Prescription) error

	// UpdateStatus sets the lifecycle status and, when tracking is non-nil,
	// the tracking number.
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, tracking *string) error

	// RecordSubmission stores the pharmacy queue id assigned on submission
	// along with the post-submission status.
	RecordSubmission(ctx context.Context, id uuid.UUID, queueID string, status Status) error

	// RecordPayment links a payment transaction and advances both statuses.
	RecordPayment(ctx context.Context, id uuid.UUID, txnID uuid.UUID, status Status, ps PaymentStatus) error

	// ListDueRefills returns original prescriptions whose next_refill_date
	// has passed. Refill-count filtering happens in the caller.
	ListDueRefills(ctx context.Context, now time.Time) ([]*Prescription, error)

	// ListSyncable returns prescriptions with a queue id that are not in a
	// terminal status, for batch status synchronization.
	ListSyncable(ctx context.Context) ([]*Prescription, error)

	// ScheduleNextRefill increments total_refills_to_date and moves
	// next_refill_date forward.
	ScheduleNextRefill(ctx context.Context, id uuid.UUID, next time.Time) error
}
