package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/telerx/telerx/internal/platform/authnet"
	"github.com/telerx/telerx/internal/platform/crypto"
)

// ErrNoActiveCredentials means no merchant credential set has been
// configured yet.
var ErrNoActiveCredentials = errors.New("credentials: no active merchant credentials")

// Active is a decrypted credential set ready for gateway calls.
type Active struct {
	Merchant     authnet.MerchantAuth
	SignatureKey string
}

// Service manages merchant credential sets, encrypting secrets before
// storage and decrypting them for gateway use.
type Service struct {
	repo Repository
	enc  *crypto.KeyEncryptor
}

func NewService(repo Repository, enc *crypto.KeyEncryptor) *Service {
	return &Service{repo: repo, enc: enc}
}

// SetInput is the plaintext payload for replacing the active set.
type SetInput struct {
	Label          string `json:"label"`
	APILoginID     string `json:"api_login_id"`
	TransactionKey string `json:"transaction_key"`
	SignatureKey   string `json:"signature_key"`
}

func (s *Service) Set(ctx context.Context, in SetInput) (*MerchantCredentials, error) {
	if in.APILoginID == "" || in.TransactionKey == "" || in.SignatureKey == "" {
		return nil, fmt.Errorf("api_login_id, transaction_key and signature_key are required")
	}
	c := &MerchantCredentials{Label: in.Label}
	var err error
	if c.APILoginID, err = s.enc.Encrypt(in.APILoginID); err != nil {
		return nil, fmt.Errorf("encrypt api login id: %w", err)
	}
	if c.TransactionKey, err = s.enc.Encrypt(in.TransactionKey); err != nil {
		return nil, fmt.Errorf("encrypt transaction key: %w", err)
	}
	if c.SignatureKey, err = s.enc.Encrypt(in.SignatureKey); err != nil {
		return nil, fmt.Errorf("encrypt signature key: %w", err)
	}
	if err := s.repo.Replace(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetActive returns the decrypted active credential set.
func (s *Service) GetActive(ctx context.Context) (*Active, error) {
	c, err := s.repo.GetActive(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoActiveCredentials
		}
		return nil, err
	}
	loginID, err := s.enc.Decrypt(c.APILoginID)
	if err != nil {
		return nil, fmt.Errorf("decrypt api login id: %w", err)
	}
	txnKey, err := s.enc.Decrypt(c.TransactionKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt transaction key: %w", err)
	}
	sigKey, err := s.enc.Decrypt(c.SignatureKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt signature key: %w", err)
	}
	return &Active{
		Merchant:     authnet.MerchantAuth{Name: loginID, TransactionKey: txnKey},
		SignatureKey: sigKey,
	}, nil
}

// List returns the credential history without secrets.
func (s *Service) List(ctx context.Context) ([]*MerchantCredentials, error) {
	return s.repo.List(ctx)
}
