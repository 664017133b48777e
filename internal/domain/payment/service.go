package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/telerx/telerx/internal/domain/credentials"
	"github.com/telerx/telerx/internal/domain/prescription"
	"github.com/telerx/telerx/internal/platform/audit"
	"github.com/telerx/telerx/internal/platform/authnet"
	"github.com/telerx/telerx/internal/platform/outbox"
)

// Payment links stay valid for three days before the expiry sweep marks
// them expired.
const linkTTL = 72 * time.Hour

// amountToleranceCents is the maximum difference tolerated between the
// webhook's asserted amount and the stored expected total.
const amountToleranceCents = 100

var (
	// ErrAmountMismatch means a webhook asserted an amount outside the
	// tolerance window; the event is rejected without state changes.
	ErrAmountMismatch = errors.New("payment: webhook amount outside tolerance")
	// ErrUnknownToken means no transaction matches the webhook's invoice.
	ErrUnknownToken = errors.New("payment: unknown payment token")
)

// Gateway is the Authorize.Net surface the service depends on.
type Gateway interface {
	GetHostedPaymentPage(ctx context.Context, auth authnet.MerchantAuth, req authnet.HostedPageRequest) (*authnet.HostedPageResponse, error)
	ChargeCard(ctx context.Context, auth authnet.MerchantAuth, req authnet.ChargeRequest) (*authnet.ChargeResponse, error)
}

// CredentialSource supplies the active merchant credential set.
type CredentialSource interface {
	GetActive(ctx context.Context) (*credentials.Active, error)
}

// Enqueuer persists outbox side effects.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload interface{}) (*outbox.Event, error)
}

// Service owns the payment transaction ledger: link generation, webhook
// completion, the manual payment path, and link expiry.
type Service struct {
	repo    Repository
	rxRepo  prescription.Repository
	gateway Gateway
	creds   CredentialSource
	outbox  Enqueuer
	audit   *audit.Logger
	log     zerolog.Logger
	baseURL string
}

func NewService(repo Repository, rxRepo prescription.Repository, gateway Gateway,
	creds CredentialSource, enq Enqueuer, auditLog *audit.Logger, log zerolog.Logger, baseURL string) *Service {
	return &Service{
		repo:    repo,
		rxRepo:  rxRepo,
		gateway: gateway,
		creds:   creds,
		outbox:  enq,
		audit:   auditLog,
		log:     log.With().Str("component", "payment").Logger(),
		baseURL: baseURL,
	}
}

// Link is the result of payment-link generation.
type Link struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	PaymentToken  string    `json:"payment_token"`
	PaymentURL    string    `json:"payment_url"`
	FormToken     string    `json:"form_token"`
	AmountCents   int64     `json:"amount_cents"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// GenerateLink lazily creates (or refreshes) the prescription's payment
// transaction, obtains a hosted payment page token from the gateway, and
// optionally schedules a payment email to the patient.
func (s *Service) GenerateLink(ctx context.Context, prescriptionID uuid.UUID, sendEmail bool) (*Link, error) {
	p, err := s.rxRepo.GetByID(ctx, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("load prescription: %w", err)
	}
	if p.TotalCents() <= 0 {
		return nil, fmt.Errorf("prescription %s has no amount to charge", prescriptionID)
	}

	token := uuid.NewString()
	expiresAt := time.Now().UTC().Add(linkTTL)

	txn, err := s.repo.GetLatestByPrescription(ctx, prescriptionID)
	switch {
	case errors.Is(err, pgx.ErrNoRows) || (err == nil && txn.Status != StatusPending):
		txn = &Transaction{
			PrescriptionID:    prescriptionID,
			PaymentToken:      token,
			Status:            StatusPending,
			OrderProgress:     ProgressPaymentPending,
			MedicationCents:   p.MedicationCents,
			ConsultationCents: p.ConsultationCents,
			ShippingCents:     p.ShippingCents,
			TotalCents:        p.TotalCents(),
			LinkExpiresAt:     &expiresAt,
		}
		if err := s.repo.Create(ctx, txn); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		// Pending transaction exists: rotate its token and expiry.
		if err := s.repo.RefreshLink(ctx, txn.ID, token, expiresAt); err != nil {
			return nil, err
		}
		txn.PaymentToken = token
		txn.LinkExpiresAt = &expiresAt
	}

	active, err := s.creds.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	page, err := s.gateway.GetHostedPaymentPage(ctx, active.Merchant, authnet.HostedPageRequest{
		AmountCents: txn.TotalCents,
		InvoiceID:   txn.PaymentToken,
		Description: p.Medication,
		ReturnURL:   s.baseURL + "/payments/complete",
		CancelURL:   s.baseURL + "/payments/cancelled",
	})
	if err != nil {
		s.audit.Event(ctx, "error", "payment_link", "hosted payment page request failed",
			map[string]string{"prescription_id": prescriptionID.String(), "error": err.Error()})
		return nil, fmt.Errorf("hosted payment page: %w", err)
	}

	link := &Link{
		TransactionID: txn.ID,
		PaymentToken:  txn.PaymentToken,
		PaymentURL:    fmt.Sprintf("%s/pay/%s", s.baseURL, txn.PaymentToken),
		FormToken:     page.Token,
		AmountCents:   txn.TotalCents,
		ExpiresAt:     expiresAt,
	}

	if sendEmail {
		_, err := s.outbox.Enqueue(ctx, outbox.KindSendPaymentEmail, map[string]interface{}{
			"prescription_id": prescriptionID.String(),
			"to":              p.PatientEmail,
			"medication":      p.Medication,
			"amount_cents":    txn.TotalCents,
			"payment_url":     link.PaymentURL,
		})
		if err != nil {
			s.log.Error().Err(err).Str("prescription_id", prescriptionID.String()).
				Msg("enqueue payment email failed")
		}
	}
	return link, nil
}

// CardDetails is a prescriber-entered card for a direct charge.
type CardDetails struct {
	Number     string `json:"card_number"`
	Expiration string `json:"expiration"` // YYYY-MM
	Code       string `json:"card_code"`
}

// ChargeDirect charges a card through the gateway immediately, for patients
// who pay over the phone instead of using the hosted payment page. The
// charge settles into the same conditional completion path as the webhook,
// so a capture webhook arriving later for the same transaction is a no-op.
func (s *Service) ChargeDirect(ctx context.Context, prescriptionID uuid.UUID, card CardDetails) (*Transaction, error) {
	p, err := s.rxRepo.GetByID(ctx, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("load prescription: %w", err)
	}
	if p.TotalCents() <= 0 {
		return nil, fmt.Errorf("prescription %s has no amount to charge", prescriptionID)
	}

	txn, err := s.repo.GetLatestByPrescription(ctx, prescriptionID)
	switch {
	case errors.Is(err, pgx.ErrNoRows) || (err == nil && txn.Status != StatusPending):
		txn = &Transaction{
			PrescriptionID:    prescriptionID,
			PaymentToken:      uuid.NewString(),
			Status:            StatusPending,
			OrderProgress:     ProgressPaymentPending,
			MedicationCents:   p.MedicationCents,
			ConsultationCents: p.ConsultationCents,
			ShippingCents:     p.ShippingCents,
			TotalCents:        p.TotalCents(),
		}
		if err := s.repo.Create(ctx, txn); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	active, err := s.creds.GetActive(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := s.gateway.ChargeCard(ctx, active.Merchant, authnet.ChargeRequest{
		AmountCents: txn.TotalCents,
		CardNumber:  card.Number,
		Expiration:  card.Expiration,
		CardCode:    card.Code,
		InvoiceID:   txn.PaymentToken,
	})
	if err != nil {
		s.audit.Event(ctx, "error", "payment_charge", "direct charge failed",
			map[string]string{"prescription_id": prescriptionID.String(), "error": err.Error()})
		return nil, fmt.Errorf("direct charge: %w", err)
	}

	completed, err := s.repo.Complete(ctx, txn.PaymentToken, resp.TransactionID, "card")
	if err != nil {
		return nil, err
	}

	s.advancePrescription(ctx, completed)
	s.enqueueSideEffects(ctx, completed)
	return completed, nil
}

// RecordManualPayment implements the mark-paid ledger: it completes the
// prescription's pending transaction, or creates an already-completed
// manual one when none exists. Satisfies prescription.ManualPaymentRecorder.
func (s *Service) RecordManualPayment(ctx context.Context, prescriptionID uuid.UUID, totalCents int64) (uuid.UUID, error) {
	txn, err := s.repo.GetLatestByPrescription(ctx, prescriptionID)
	if err == nil && txn.Status == StatusPending {
		completed, err := s.repo.CompleteManual(ctx, txn.ID)
		if err != nil {
			return uuid.Nil, err
		}
		return completed.ID, nil
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, err
	}

	txn = &Transaction{
		PrescriptionID: prescriptionID,
		PaymentToken:   uuid.NewString(),
		Status:         StatusCompleted,
		OrderProgress:  ProgressPaymentReceived,
		TotalCents:     totalCents,
		CardType:       CardTypeManual,
	}
	if err := s.repo.Create(ctx, txn); err != nil {
		return uuid.Nil, err
	}
	return txn.ID, nil
}

// CompleteCapture finalizes a gateway capture event. Amount validation and
// the conditional update both happen before any prescription state moves.
// A duplicate delivery returns ErrAlreadyProcessed and changes nothing.
func (s *Service) CompleteCapture(ctx context.Context, token, gatewayTxnID string, amountCents int64, cardType string) (*Transaction, error) {
	txn, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUnknownToken
		}
		return nil, err
	}

	diff := amountCents - txn.TotalCents
	if diff < 0 {
		diff = -diff
	}
	if diff > amountToleranceCents {
		s.audit.Event(ctx, "error", "payment_webhook", "amount mismatch",
			map[string]interface{}{
				"payment_token": token,
				"expected":      txn.TotalCents,
				"asserted":      amountCents,
			})
		return nil, fmt.Errorf("%w: expected %d got %d", ErrAmountMismatch, txn.TotalCents, amountCents)
	}

	completed, err := s.repo.Complete(ctx, token, gatewayTxnID, cardType)
	if err != nil {
		return nil, err
	}

	s.advancePrescription(ctx, completed)
	s.enqueueSideEffects(ctx, completed)
	return completed, nil
}

func (s *Service) advancePrescription(ctx context.Context, txn *Transaction) {
	p, err := s.rxRepo.GetByID(ctx, txn.PrescriptionID)
	if err != nil {
		s.log.Error().Err(err).Str("transaction_id", txn.ID.String()).Msg("load prescription after capture")
		return
	}
	if p.Status != prescription.StatusPendingPayment &&
		!prescription.CanTransition(p.Status, prescription.StatusPaymentReceived) {
		s.log.Warn().Str("prescription_id", p.ID.String()).Str("status", string(p.Status)).
			Msg("prescription not awaiting payment; ledger updated only")
		return
	}
	if err := s.rxRepo.RecordPayment(ctx, p.ID, txn.ID,
		prescription.StatusPaymentReceived, prescription.PaymentPaid); err != nil {
		s.log.Error().Err(err).Str("prescription_id", p.ID.String()).Msg("record payment on prescription")
	}
}

func (s *Service) enqueueSideEffects(ctx context.Context, txn *Transaction) {
	payload := map[string]string{"prescription_id": txn.PrescriptionID.String()}
	if _, err := s.outbox.Enqueue(ctx, outbox.KindSubmitToPharmacy, payload); err != nil {
		s.log.Error().Err(err).Str("transaction_id", txn.ID.String()).
			Msg("enqueue pharmacy submission failed")
	}
	if _, err := s.outbox.Enqueue(ctx, outbox.KindSendConfirmationEmail, payload); err != nil {
		s.log.Error().Err(err).Str("transaction_id", txn.ID.String()).
			Msg("enqueue confirmation email failed")
	}
}

// Void cancels a transaction after a gateway void event.
func (s *Service) Void(ctx context.Context, gatewayTxnID string) error {
	txn, err := s.repo.GetByGatewayTxn(ctx, gatewayTxnID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUnknownToken
		}
		return err
	}
	return s.repo.SetStatus(ctx, txn.ID, StatusCancelled)
}

// Refund marks a transaction refunded and flips the prescription's payment
// status back.
func (s *Service) Refund(ctx context.Context, gatewayTxnID string) error {
	txn, err := s.repo.GetByGatewayTxn(ctx, gatewayTxnID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUnknownToken
		}
		return err
	}
	if err := s.repo.SetStatus(ctx, txn.ID, StatusRefunded); err != nil {
		return err
	}
	p, err := s.rxRepo.GetByID(ctx, txn.PrescriptionID)
	if err != nil {
		return nil
	}
	if err := s.rxRepo.RecordPayment(ctx, p.ID, txn.ID, p.Status, prescription.PaymentRefunded); err != nil {
		s.log.Error().Err(err).Str("prescription_id", p.ID.String()).Msg("record refund on prescription")
	}
	return nil
}

// ExpireStaleLinks sweeps pending transactions whose link lapsed. Runs with
// the daily job.
func (s *Service) ExpireStaleLinks(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireStale(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info().Int64("expired", n).Msg("expired stale payment links")
	}
	return n, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.repo.GetByID(ctx, id)
}
