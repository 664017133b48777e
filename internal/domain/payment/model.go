package payment

import (
	"time"

	"github.com/google/uuid"
)

// Status is the gateway-level state of a payment transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusDeclined  Status = "declined"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
	StatusExpired   Status = "expired"
)

// OrderProgress tracks fulfillment progress from the payment side.
type OrderProgress string

const (
	ProgressPaymentPending     OrderProgress = "payment_pending"
	ProgressPaymentReceived    OrderProgress = "payment_received"
	ProgressProviderApproved   OrderProgress = "provider_approved"
	ProgressPharmacyProcessing OrderProgress = "pharmacy_processing"
	ProgressShipped            OrderProgress = "shipped"
)

// CardTypeManual marks transactions recorded through the mark-paid path
// rather than the gateway.
const CardTypeManual = "manual-payment"

// Transaction is one payment attempt for a prescription, keyed by a unique
// payment token that the hosted payment page carries as its invoice number.
type Transaction struct {
	ID             uuid.UUID     `json:"id"`
	PrescriptionID uuid.UUID     `json:"prescription_id"`
	PaymentToken   string        `json:"payment_token"`
	Status         Status        `json:"status"`
	OrderProgress  OrderProgress `json:"order_progress"`

	MedicationCents   int64 `json:"medication_cents"`
	ConsultationCents int64 `json:"consultation_cents"`
	ShippingCents     int64 `json:"shipping_cents"`
	TotalCents        int64 `json:"total_cents"`

	GatewayTxnID  *string    `json:"gateway_txn_id,omitempty"`
	CardType      string     `json:"card_type,omitempty"`
	LinkExpiresAt *time.Time `json:"link_expires_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
