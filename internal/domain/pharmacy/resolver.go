package pharmacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/google/uuid"

	"github.com/telerx/telerx/internal/platform/crypto"
	"github.com/telerx/telerx/internal/platform/digitalrx"
)

// ErrNotConfigured means no active pharmacy backend exists to serve a
// prescription without an explicit backend assignment.
var ErrNotConfigured = errors.New("pharmacy: no active backend configured")

// Resolved pairs a backend with its decrypted transport credentials.
type Resolved struct {
	Backend     *Backend
	Credentials digitalrx.Credentials
}

// Resolver looks up the pharmacy backend to use for a prescription and
// decrypts its credentials for outbound calls.
type Resolver struct {
	repo Repository
	enc  *crypto.KeyEncryptor
}

func NewResolver(repo Repository, enc *crypto.KeyEncryptor) *Resolver {
	return &Resolver{repo: repo, enc: enc}
}

func (r *Resolver) resolved(b *Backend) (*Resolved, error) {
	apiKey, err := r.enc.Decrypt(b.APIKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt api key for backend %s: %w", b.ID, err)
	}
	return &Resolved{
		Backend: b,
		Credentials: digitalrx.Credentials{
			APIKey:  apiKey,
			BaseURL: b.BaseURL,
			StoreID: b.StoreID,
		},
	}, nil
}

// Resolve returns the backend for the given pharmacy id. A missing or
// inactive explicit backend falls back to the most recently updated active
// backend, as does a nil id; only when no active backend exists at all does
// resolution fail with ErrNotConfigured.
func (r *Resolver) Resolve(ctx context.Context, pharmacyID *uuid.UUID) (*Resolved, error) {
	if pharmacyID != nil && *pharmacyID != uuid.Nil {
		b, err := r.repo.GetByID(ctx, *pharmacyID)
		switch {
		case err == nil && b.IsActive:
			return r.resolved(b)
		case err != nil && !errors.Is(err, pgx.ErrNoRows):
			return nil, err
		}
	}

	b, err := r.repo.GetFallback(ctx, digitalrx.SystemType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotConfigured
		}
		return nil, err
	}
	return r.resolved(b)
}

// ResolveBatch resolves many pharmacy ids with two repository queries.
// The uuid.Nil key in the result maps to the fallback backend; callers pass
// uuid.Nil for prescriptions without an explicit backend and fall back to
// the sentinel entry for any id absent from the result.
func (r *Resolver) ResolveBatch(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Resolved, error) {
	out := make(map[uuid.UUID]*Resolved, len(ids))

	needFallback := false
	distinct := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			needFallback = true
			continue
		}
		if !seen[id] {
			seen[id] = true
			distinct = append(distinct, id)
		}
	}

	backends, err := r.repo.GetByIDs(ctx, distinct)
	if err != nil {
		return nil, err
	}
	for id, b := range backends {
		res, err := r.resolved(b)
		if err != nil {
			return nil, err
		}
		out[id] = res
	}

	// An explicit id that resolved to nothing (deleted or deactivated
	// backend) uses the fallback, same as Resolve.
	if len(out) < len(distinct) {
		needFallback = true
	}

	if needFallback {
		b, err := r.repo.GetFallback(ctx, digitalrx.SystemType)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		if b != nil {
			res, err := r.resolved(b)
			if err != nil {
				return nil, err
			}
			out[uuid.Nil] = res
		}
	}
	return out, nil
}
