// Package refill implements the daily refill job: it scans for
// prescriptions whose refill is due, creates the follow-on refill
// prescription, and schedules a fresh payment link for the patient.
package refill

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/telerx/telerx/internal/domain/prescription"
	"github.com/telerx/telerx/internal/platform/audit"
	"github.com/telerx/telerx/internal/platform/outbox"
)

// TxRunner executes fn within one database transaction. Each eligible row
// is processed in its own transaction: a failure on row N never unwinds
// rows 1..N-1, and a crash cannot half-create a refill for a row.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Enqueuer persists outbox side effects.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind string, payload interface{}) (*outbox.Event, error)
}

// LinkExpirer sweeps stale payment links; it piggybacks on the daily run.
type LinkExpirer interface {
	ExpireStaleLinks(ctx context.Context) (int64, error)
}

// Job creates due refills.
type Job struct {
	repo    prescription.Repository
	outbox  Enqueuer
	expirer LinkExpirer
	inTx    TxRunner
	log     zerolog.Logger
	now     func() time.Time
}

func NewJob(repo prescription.Repository, enq Enqueuer, expirer LinkExpirer, inTx TxRunner, log zerolog.Logger) *Job {
	return &Job{
		repo:    repo,
		outbox:  enq,
		expirer: expirer,
		inTx:    inTx,
		log:     log.With().Str("component", "refill").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run processes all due refills. Partial failure is reported in the result,
// not returned as an error, so the audit recorder can mark the run partial.
func (j *Job) Run(ctx context.Context) (audit.JobResult, error) {
	now := j.now()

	due, err := j.repo.ListDueRefills(ctx, now)
	if err != nil {
		return audit.JobResult{}, fmt.Errorf("list due refills: %w", err)
	}

	var result audit.JobResult
	for _, parent := range due {
		// The query checks the date; refill count is checked here so an
		// exhausted prescription never spawns another refill.
		if !parent.RefillEligible(now) {
			continue
		}
		if err := j.processOne(ctx, parent, now); err != nil {
			result.Failed++
			j.log.Error().Err(err).Str("prescription_id", parent.ID.String()).Msg("refill creation failed")
			continue
		}
		result.Processed++
	}

	if j.expirer != nil {
		if _, err := j.expirer.ExpireStaleLinks(ctx); err != nil {
			j.log.Error().Err(err).Msg("payment link expiry sweep failed")
		}
	}

	result.Detail = fmt.Sprintf("due=%d created=%d failed=%d", len(due), result.Processed, result.Failed)
	return result, nil
}

// processOne advances the parent's refill counters and inserts the child
// refill in one transaction, then schedules payment-link generation.
func (j *Job) processOne(ctx context.Context, parent *prescription.Prescription, now time.Time) error {
	var child *prescription.Prescription
	err := j.inTx(ctx, func(ctx context.Context) error {
		next := now.AddDate(0, 0, parent.RefillFrequencyDays)
		if err := j.repo.ScheduleNextRefill(ctx, parent.ID, next); err != nil {
			return fmt.Errorf("advance refill schedule: %w", err)
		}
		child = newRefill(parent)
		if err := j.repo.Create(ctx, child); err != nil {
			return fmt.Errorf("create refill: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	_, err = j.outbox.Enqueue(ctx, outbox.KindGeneratePaymentLink, map[string]interface{}{
		"prescription_id": child.ID.String(),
		"send_email":      true,
	})
	if err != nil {
		// The refill exists; the payment link can be issued manually.
		j.log.Error().Err(err).Str("prescription_id", child.ID.String()).
			Msg("enqueue payment link generation failed")
	}
	return nil
}

// newRefill builds the child prescription for a due parent. The child is
// unpaid, unsubmitted, and never spawns refills of its own.
func newRefill(parent *prescription.Prescription) *prescription.Prescription {
	parentID := parent.ID
	return &prescription.Prescription{
		PrescriptionType:     prescription.TypeRefill,
		ParentPrescriptionID: &parentID,
		Status:               prescription.StatusPendingPayment,
		PaymentStatus:        prescription.PaymentPending,

		PatientFirstName: parent.PatientFirstName,
		PatientLastName:  parent.PatientLastName,
		PatientEmail:     parent.PatientEmail,
		PatientPhone:     parent.PatientPhone,
		PatientDOB:       parent.PatientDOB,
		PatientGender:    parent.PatientGender,
		PatientAddress:   parent.PatientAddress,
		PatientCity:      parent.PatientCity,
		PatientState:     parent.PatientState,
		PatientZip:       parent.PatientZip,

		DoctorName: parent.DoctorName,
		DoctorNPI:  parent.DoctorNPI,

		Medication: parent.Medication,
		Strength:   parent.Strength,
		Quantity:   parent.Quantity,
		DaysSupply: parent.DaysSupply,
		Directions: parent.Directions,

		MedicationCents:   parent.MedicationCents,
		ConsultationCents: parent.ConsultationCents,
		ShippingCents:     parent.ShippingCents,

		PharmacyID: parent.PharmacyID,
	}
}
