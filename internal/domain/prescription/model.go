package prescription

import (
	"time"

	"github.com/google/uuid"
)

// Status is the prescription lifecycle status. Transitions are validated
// against the transition table below; call sites never compare raw strings.
type Status string

const (
	StatusSubmitted       Status = "submitted"
	StatusPendingPayment  Status = "pending_payment"
	StatusPaymentReceived Status = "payment_received"
	StatusBilling         Status = "billing"
	StatusApproved        Status = "approved"
	StatusProcessing      Status = "processing"
	StatusPacked          Status = "packed"
	StatusShipped         Status = "shipped"
	StatusPickedUp        Status = "picked_up"
	StatusDelivered       Status = "delivered"
	StatusCancelled       Status = "cancelled"
)

// PaymentStatus tracks payment state on the prescription itself; the
// payment transaction row carries the gateway-level detail.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// Prescription types.
const (
	TypePrescription = "prescription"
	TypeRefill       = "refill"
)

var transitions = map[Status]map[Status]bool{
	StatusSubmitted: {
		StatusPendingPayment: true,
		StatusBilling:        true,
		StatusCancelled:      true,
	},
	StatusPendingPayment: {
		StatusPaymentReceived: true,
		StatusCancelled:       true,
	},
	StatusPaymentReceived: {
		StatusBilling:    true,
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusBilling: {
		StatusApproved:   true,
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusApproved: {
		StatusProcessing: true,
		StatusPacked:     true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusApproved:  true,
		StatusPacked:    true,
		StatusShipped:   true,
		StatusCancelled: true,
	},
	StatusPacked: {
		StatusShipped:   true,
		StatusPickedUp:  true,
		StatusDelivered: true,
		StatusCancelled: true,
	},
	StatusShipped: {
		StatusPickedUp:  true,
		StatusDelivered: true,
	},
	StatusPickedUp: {
		StatusDelivered: true,
	},
	// delivered and cancelled are terminal.
	StatusDelivered: {},
	StatusCancelled: {},
}

// CanTransition reports whether moving from one status to another is
// allowed. A status never transitions to itself; callers treat equal
// statuses as a no-op before asking.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// IsTerminal reports whether no further transitions exist from s.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

var validStatuses = map[Status]bool{
	StatusSubmitted: true, StatusPendingPayment: true, StatusPaymentReceived: true,
	StatusBilling: true, StatusApproved: true, StatusProcessing: true,
	StatusPacked: true, StatusShipped: true, StatusPickedUp: true,
	StatusDelivered: true, StatusCancelled: true,
}

// ParseStatus validates a raw status string.
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	return s, validStatuses[s]
}

// Prescription is one prescribing event, either an original prescription
// or a refill linked to its parent.
type Prescription struct {
	ID                   uuid.UUID     `json:"id"`
	PrescriptionType     string        `json:"prescription_type"`
	ParentPrescriptionID *uuid.UUID    `json:"parent_prescription_id,omitempty"`
	Status               Status        `json:"status"`
	PaymentStatus        PaymentStatus `json:"payment_status"`

	PatientFirstName string     `json:"patient_first_name"`
	PatientLastName  string     `json:"patient_last_name"`
	PatientEmail     string     `json:"patient_email"`
	PatientPhone     string     `json:"patient_phone"`
	PatientDOB       *time.Time `json:"patient_dob,omitempty"`
	PatientGender    string     `json:"patient_gender,omitempty"`
	PatientAddress   string     `json:"patient_address,omitempty"`
	PatientCity      string     `json:"patient_city,omitempty"`
	PatientState     string     `json:"patient_state,omitempty"`
	PatientZip       string     `json:"patient_zip,omitempty"`

	DoctorName string `json:"doctor_name"`
	DoctorNPI  string `json:"doctor_npi"`

	Medication string `json:"medication"`
	Strength   string `json:"strength,omitempty"`
	Quantity   int    `json:"quantity"`
	DaysSupply int    `json:"days_supply,omitempty"`
	Directions string `json:"directions,omitempty"`

	MedicationCents   int64 `json:"medication_cents"`
	ConsultationCents int64 `json:"consultation_cents"`
	ShippingCents     int64 `json:"shipping_cents"`

	PharmacyID           *uuid.UUID `json:"pharmacy_id,omitempty"`
	PaymentTransactionID *uuid.UUID `json:"payment_transaction_id,omitempty"`
	QueueID              *string    `json:"queue_id,omitempty"`
	TrackingNumber       *string    `json:"tracking_number,omitempty"`

	Refills             int        `json:"refills"`
	TotalRefillsToDate  int        `json:"total_refills_to_date"`
	RefillFrequencyDays int        `json:"refill_frequency_days"`
	NextRefillDate      *time.Time `json:"next_refill_date,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TotalCents is the full amount the patient is charged.
func (p *Prescription) TotalCents() int64 {
	return p.MedicationCents + p.ConsultationCents + p.ShippingCents
}

// RefillEligible reports whether the cron job may create another refill.
func (p *Prescription) RefillEligible(now time.Time) bool {
	return p.PrescriptionType == TypePrescription &&
		p.NextRefillDate != nil &&
		!p.NextRefillDate.After(now) &&
		p.TotalRefillsToDate < p.Refills
}
