package pharmacy

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists pharmacy backends.
type Repository interface {
	Create(ctx context.Context, b *Backend) error
	GetByID(ctx context.Context, id uuid.UUID) (*Backend, error)
	// GetFallback returns the most recently updated active backend for the
	// given system type.
	GetFallback(ctx context.Context, systemType string) (*Backend, error)
	// GetByIDs returns active backends for the given ids, keyed by id.
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Backend, error)
	List(ctx context.Context, limit, offset int) ([]*Backend, int, error)
	Update(ctx context.Context, b *Backend) error
	Delete(ctx context.Context, id uuid.UUID) error
}
