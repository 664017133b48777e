package credentials

import (
	"time"

	"github.com/google/uuid"
)

// MerchantCredentials is one Authorize.Net credential set. Secret fields
// are stored encrypted and never serialized.
type MerchantCredentials struct {
	ID             uuid.UUID `json:"id"`
	Label          string    `json:"label"`
	APILoginID     string    `json:"-"`
	TransactionKey string    `json:"-"`
	SignatureKey   string    `json:"-"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
