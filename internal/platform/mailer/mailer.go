// Package mailer renders and sends patient-facing transactional email.
// Delivery goes through the outbox worker, so implementations only need to
// perform a single best-effort send per call.
package mailer

import (
	"context"
	"fmt"
)

// PaymentLinkEmail asks the patient to complete payment for a prescription.
type PaymentLinkEmail struct {
	To           string
	PatientName  string
	Medication   string
	AmountCents  int64
	PaymentURL   string
	PharmacyName string
}

// ConfirmationEmail confirms a completed payment.
type ConfirmationEmail struct {
	To          string
	PatientName string
	Medication  string
	AmountCents int64
}

// Mailer sends transactional email.
type Mailer interface {
	SendPaymentLink(ctx context.Context, email PaymentLinkEmail) error
	SendConfirmation(ctx context.Context, email ConfirmationEmail) error
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}
