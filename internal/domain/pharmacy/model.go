package pharmacy

import (
	"time"

	"github.com/google/uuid"
)

// Backend is a configured pharmacy fulfillment system. The API key is
// stored encrypted at rest and is never serialized in responses.
type Backend struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	SystemType string    `json:"system_type"`
	BaseURL    string    `json:"base_url"`
	StoreID    string    `json:"store_id"`
	APIKey     string    `json:"-"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
