package pharmacy

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/telerx/telerx/internal/platform/crypto"
	"github.com/telerx/telerx/internal/platform/digitalrx"
)

var validSystemTypes = map[string]bool{
	digitalrx.SystemType: true,
}

// Service manages pharmacy backend configuration. API keys are encrypted
// before they reach the repository and stay encrypted until a resolver
// needs them for an outbound call.
type Service struct {
	repo Repository
	enc  *crypto.KeyEncryptor
}

func NewService(repo Repository, enc *crypto.KeyEncryptor) *Service {
	return &Service{repo: repo, enc: enc}
}

func (s *Service) validate(b *Backend) error {
	if b.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !validSystemTypes[b.SystemType] {
		return fmt.Errorf("invalid system_type: %s", b.SystemType)
	}
	if b.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if b.StoreID == "" {
		return fmt.Errorf("store_id is required")
	}
	return nil
}

func (s *Service) Create(ctx context.Context, b *Backend) error {
	if err := s.validate(b); err != nil {
		return err
	}
	if b.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	sealed, err := s.enc.Encrypt(b.APIKey)
	if err != nil {
		return fmt.Errorf("encrypt api key: %w", err)
	}
	b.APIKey = sealed
	return s.repo.Create(ctx, b)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Backend, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Backend, int, error) {
	return s.repo.List(ctx, limit, offset)
}

// Update replaces a backend. An empty APIKey keeps the stored key.
func (s *Service) Update(ctx context.Context, b *Backend) error {
	if err := s.validate(b); err != nil {
		return err
	}
	existing, err := s.repo.GetByID(ctx, b.ID)
	if err != nil {
		return err
	}
	if b.APIKey == "" {
		b.APIKey = existing.APIKey
	} else {
		sealed, err := s.enc.Encrypt(b.APIKey)
		if err != nil {
			return fmt.Errorf("encrypt api key: %w", err)
		}
		b.APIKey = sealed
	}
	return s.repo.Update(ctx, b)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}
