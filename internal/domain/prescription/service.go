package prescription

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telerx/telerx/internal/domain/pharmacy"
	"github.com/telerx/telerx/internal/platform/audit"
	"github.com/telerx/telerx/internal/platform/digitalrx"
	"github.com/telerx/telerx/internal/platform/outbox"
)

var (
	ErrPaymentRequired   = errors.New("prescription: payment required before pharmacy submission")
	ErrNotPendingPayment = errors.New("prescription: not awaiting payment")
	ErrNotSubmitted      = errors.New("prescription: no pharmacy queue id assigned")
	ErrInvalidTransition = errors.New("prescription: invalid status transition")
)

// RxClient is the pharmacy API surface the service depends on.
type RxClient interface {
	Submit(ctx context.Context, creds digitalrx.Credentials, req digitalrx.SubmitRequest) (*digitalrx.SubmitResponse, error)
	Status(ctx context.Context, creds digitalrx.Credentials, queueID string) (*digitalrx.StatusPayload, error)
}

// BackendResolver resolves pharmacy backend credentials.
type BackendResolver interface {
	Resolve(ctx context.Context, pharmacyID *uuid.UUID) (*pharmacy.Resolved, error)
	ResolveBatch(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*pharmacy.Resolved, error)
}

// ManualPaymentRecorder creates the manual-payment transaction backing the
// mark-paid path.
type ManualPaymentRecorder interface {
	RecordManualPayment(ctx context.Context, prescriptionID uuid.UUID, totalCents int64) (uuid.UUID, error)
}

// Enqueuer persists outbox side effects.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload interface{}) (*outbox.Event, error)
}

// Service orchestrates the prescription lifecycle: intake, pharmacy
// submission, status synchronization, and the manual mark-paid path.
type Service struct {
	repo     Repository
	resolver BackendResolver
	rx       RxClient
	outbox   Enqueuer
	ledger   ManualPaymentRecorder
	audit    *audit.Logger
	log      zerolog.Logger
}

func NewService(repo Repository, resolver BackendResolver, rx RxClient, enq Enqueuer,
	ledger ManualPaymentRecorder, auditLog *audit.Logger, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		resolver: resolver,
		rx:       rx,
		outbox:   enq,
		ledger:   ledger,
		audit:    auditLog,
		log:      log.With().Str("component", "prescription").Logger(),
	}
}

func (s *Service) validate(p *Prescription) error {
	if p.PatientFirstName == "" || p.PatientLastName == "" {
		return fmt.Errorf("patient name is required")
	}
	if p.PatientEmail == "" {
		return fmt.Errorf("patient email is required")
	}
	if p.Medication == "" {
		return fmt.Errorf("medication is required")
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if p.Refills < 0 {
		return fmt.Errorf("refills cannot be negative")
	}
	if p.Refills > 0 && p.RefillFrequencyDays <= 0 {
		return fmt.Errorf("refill_frequency_days is required when refills are authorized")
	}
	return nil
}

// Create records a new intake submission. Prescriptions with a charge start
// at pending_payment; free ones go straight to submitted.
func (s *Service) Create(ctx context.Context, p *Prescription) error {
	if err := s.validate(p); err != nil {
		return err
	}
	if p.PrescriptionType == "" {
		p.PrescriptionType = TypePrescription
	}
	if p.TotalCents() > 0 {
		p.Status = StatusPendingPayment
		p.PaymentStatus = PaymentPending
	} else {
		p.Status = StatusSubmitted
		p.PaymentStatus = PaymentUnpaid
	}
	if p.Refills > 0 && p.NextRefillDate == nil {
		next := time.Now().UTC().AddDate(0, 0, p.RefillFrequencyDays)
		p.NextRefillDate = &next
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, status Status, limit, offset int) ([]*Prescription, int, error) {
	if status != "" {
		if _, ok := ParseStatus(string(status)); !ok {
			return nil, 0, fmt.Errorf("invalid status filter: %s", status)
		}
	}
	return s.repo.List(ctx, status, limit, offset)
}

// Cancel moves a prescription to cancelled if its current status allows it.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(p.Status, StatusCancelled) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, StatusCancelled)
	}
	if err := s.repo.UpdateStatus(ctx, id, StatusCancelled, nil); err != nil {
		return nil, err
	}
	p.Status = StatusCancelled
	return p, nil
}

// SubmitToPharmacy sends the prescription to its resolved pharmacy backend
// and stores the assigned queue id. Already-submitted prescriptions are a
// no-op; unpaid ones are rejected.
func (s *Service) SubmitToPharmacy(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.QueueID != nil {
		return p, nil
	}
	if p.Status == StatusPendingPayment {
		return nil, ErrPaymentRequired
	}
	if !CanTransition(p.Status, StatusBilling) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, StatusBilling)
	}

	resolved, err := s.resolver.Resolve(ctx, p.PharmacyID)
	if err != nil {
		s.audit.Event(ctx, "error", "pharmacy_submit", "resolve pharmacy backend failed",
			map[string]string{"prescription_id": id.String(), "error": err.Error()})
		return nil, err
	}

	resp, err := s.rx.Submit(ctx, resolved.Credentials, buildSubmitRequest(p))
	if err != nil {
		s.audit.Event(ctx, "error", "pharmacy_submit", "pharmacy submission failed",
			map[string]string{"prescription_id": id.String(), "error": err.Error()})
		return nil, fmt.Errorf("submit to pharmacy: %w", err)
	}

	if err := s.repo.RecordSubmission(ctx, id, resp.QueueID, StatusBilling); err != nil {
		return nil, err
	}
	p.QueueID = &resp.QueueID
	p.Status = StatusBilling
	s.log.Info().Str("prescription_id", id.String()).Str("queue_id", resp.QueueID).Msg("submitted to pharmacy")
	return p, nil
}

func buildSubmitRequest(p *Prescription) digitalrx.SubmitRequest {
	dob := ""
	if p.PatientDOB != nil {
		dob = p.PatientDOB.Format("2006-01-02")
	}
	docFirst, docLast := splitName(p.DoctorName)
	return digitalrx.SubmitRequest{
		Patient: digitalrx.Patient{
			FirstName: p.PatientFirstName,
			LastName:  p.PatientLastName,
			DOB:       dob,
			Gender:    p.PatientGender,
			Phone:     p.PatientPhone,
			Address:   p.PatientAddress,
			City:      p.PatientCity,
			State:     p.PatientState,
			Zip:       p.PatientZip,
		},
		Doctor: digitalrx.Doctor{
			FirstName: docFirst,
			LastName:  docLast,
			NPI:       p.DoctorNPI,
		},
		RxClaim: digitalrx.RxClaim{
			DrugName:   strings.TrimSpace(p.Medication + " " + p.Strength),
			Quantity:   fmt.Sprintf("%d", p.Quantity),
			DaysSupply: fmt.Sprintf("%d", p.DaysSupply),
			Directions: p.Directions,
			Refills:    p.Refills,
		},
	}
}

func splitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}
	i := strings.LastIndex(full, " ")
	if i < 0 {
		return full, ""
	}
	return full[:i], full[i+1:]
}

// SyncStatus pulls the pharmacy's status for one prescription and applies
// the mapped transition.
func (s *Service) SyncStatus(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.QueueID == nil {
		return nil, ErrNotSubmitted
	}
	resolved, err := s.resolver.Resolve(ctx, p.PharmacyID)
	if err != nil {
		return nil, err
	}
	payload, err := s.rx.Status(ctx, resolved.Credentials, *p.QueueID)
	if err != nil {
		return nil, fmt.Errorf("fetch pharmacy status: %w", err)
	}
	if err := s.applyStatus(ctx, p, *payload); err != nil {
		return nil, err
	}
	return p, nil
}

// applyStatus maps the payload onto p and persists any change, mutating p.
func (s *Service) applyStatus(ctx context.Context, p *Prescription, payload digitalrx.StatusPayload) error {
	currentTracking := ""
	if p.TrackingNumber != nil {
		currentTracking = *p.TrackingNumber
	}
	mapped := digitalrx.MapStatus(payload, string(p.Status))
	tracking := digitalrx.MapTracking(payload, currentTracking)

	newStatus, ok := ParseStatus(mapped)
	if !ok {
		newStatus = p.Status
	}
	if newStatus != p.Status && !CanTransition(p.Status, newStatus) {
		// Stale or out-of-order pharmacy data never moves the status
		// backwards; keep tracking updates though.
		s.log.Warn().
			Str("prescription_id", p.ID.String()).
			Str("from", string(p.Status)).Str("to", string(newStatus)).
			Msg("skipping disallowed status transition from pharmacy sync")
		newStatus = p.Status
	}

	if newStatus == p.Status && tracking == currentTracking {
		return nil
	}

	var trackingPtr *string
	if tracking != "" {
		trackingPtr = &tracking
	}
	if err := s.repo.UpdateStatus(ctx, p.ID, newStatus, trackingPtr); err != nil {
		return err
	}
	p.Status = newStatus
	if trackingPtr != nil {
		p.TrackingNumber = trackingPtr
	}
	return nil
}

// SyncReport summarizes a batch synchronization run.
type SyncReport struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// SyncAll refreshes every non-terminal submitted prescription, resolving
// pharmacy credentials in one batch instead of per row.
func (s *Service) SyncAll(ctx context.Context) (*SyncReport, error) {
	items, err := s.repo.ListSyncable(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(items))
	for _, p := range items {
		if p.PharmacyID != nil {
			ids = append(ids, *p.PharmacyID)
		} else {
			ids = append(ids, uuid.Nil)
		}
	}
	resolved, err := s.resolver.ResolveBatch(ctx, ids)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{Checked: len(items)}
	for _, p := range items {
		key := uuid.Nil
		if p.PharmacyID != nil {
			key = *p.PharmacyID
		}
		r, ok := resolved[key]
		if !ok {
			// Backend gone or deactivated since submission; use the
			// active fallback rather than stranding the prescription.
			r, ok = resolved[uuid.Nil]
		}
		if !ok {
			report.Skipped++
			continue
		}
		payload, err := s.rx.Status(ctx, r.Credentials, *p.QueueID)
		if err != nil {
			report.Failed++
			s.log.Warn().Err(err).Str("prescription_id", p.ID.String()).Msg("status sync failed")
			continue
		}
		before := p.Status
		beforeTracking := p.TrackingNumber
		if err := s.applyStatus(ctx, p, *payload); err != nil {
			report.Failed++
			continue
		}
		if p.Status != before || p.TrackingNumber != beforeTracking {
			report.Updated++
		}
	}
	return report, nil
}

// MarkPaidResult reports a manual payment. Warning is set when payment was
// recorded but the follow-on pharmacy submission could not be scheduled.
type MarkPaidResult struct {
	Prescription *Prescription `json:"prescription"`
	Warning      string        `json:"warning,omitempty"`
}

// MarkPaid records an out-of-band payment for a pending_payment
// prescription and schedules pharmacy submission through the outbox.
// Recording the payment is the primary obligation: a scheduling failure
// downgrades to a warning instead of failing the call.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID) (*MarkPaidResult, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPendingPayment {
		return nil, ErrNotPendingPayment
	}

	txnID, err := s.ledger.RecordManualPayment(ctx, p.ID, p.TotalCents())
	if err != nil {
		return nil, fmt.Errorf("record manual payment: %w", err)
	}
	if err := s.repo.RecordPayment(ctx, p.ID, txnID, StatusPaymentReceived, PaymentPaid); err != nil {
		return nil, err
	}
	p.PaymentTransactionID = &txnID
	p.Status = StatusPaymentReceived
	p.PaymentStatus = PaymentPaid

	result := &MarkPaidResult{Prescription: p}
	if _, err := s.outbox.Enqueue(ctx, outbox.KindSubmitToPharmacy,
		map[string]string{"prescription_id": p.ID.String()}); err != nil {
		result.Warning = "payment recorded but pharmacy submission could not be scheduled"
		s.audit.Event(ctx, "warn", "mark_paid", result.Warning,
			map[string]string{"prescription_id": p.ID.String(), "error": err.Error()})
	}
	return result, nil
}
