package mailer

import (
	"context"

	"github.com/rs/zerolog"
)

// LogMailer writes email contents to the log instead of delivering them.
// Used in development and test environments where no SMTP relay exists.
type LogMailer struct {
	log zerolog.Logger
}

func NewLogMailer(log zerolog.Logger) *LogMailer {
	return &LogMailer{log: log.With().Str("component", "mailer").Logger()}
}

func (m *LogMailer) SendPaymentLink(_ context.Context, email PaymentLinkEmail) error {
	m.log.Info().
		Str("to", email.To).
		Str("medication", email.Medication).
		Str("amount", formatAmount(email.AmountCents)).
		Str("payment_url", email.PaymentURL).
		Msg("payment link email")
	return nil
}

func (m *LogMailer) SendConfirmation(_ context.Context, email ConfirmationEmail) error {
	m.log.Info().
		Str("to", email.To).
		Str("medication", email.Medication).
		Str("amount", formatAmount(email.AmountCents)).
		Msg("payment confirmation email")
	return nil
}
