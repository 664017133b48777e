package credentials

import "context"

// Repository persists merchant credential sets. Exactly one set is active
// at a time; Replace swaps the active set atomically.
type Repository interface {
	GetActive(ctx context.Context) (*MerchantCredentials, error)
	// Replace deactivates the current active set and inserts c as the new
	// active set within one transaction.
	Replace(ctx context.Context, c *MerchantCredentials) error
	List(ctx context.Context) ([]*MerchantCredentials, error)
}
