package refill

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/telerx/telerx/internal/domain/prescription"
	"github.com/telerx/telerx/internal/platform/outbox"
)

type mockRepo struct {
	rows      map[uuid.UUID]*prescription.Prescription
	createErr error
}

func newMockRepo() *mockRepo {
	return &mockRepo{rows: make(map[uuid.UUID]*prescription.Prescription)}
}

func (m *mockRepo) Create(_ context.Context, p *prescription.Prescription) error {
	if m.createErr != nil {
		return m.createErr
	}
	p.ID = uuid.New()
	copied := *p
	m.rows[p.ID] = &copied
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*prescription.Prescription, error) {
	p, ok := m.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *p
	return &copied, nil
}

func (m *mockRepo) List(context.Context, prescription.Status, int, int) ([]*prescription.Prescription, int, error) {
	return nil, 0, nil
}

func (m *mockRepo) Update(_ context.Context, p *prescription.Prescription) error {
	copied := *p
	m.rows[p.ID] = &copied
	return nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, id uuid.UUID, status prescription.Status, _ *string) error {
	m.rows[id].Status = status
	return nil
}

func (m *mockRepo) RecordSubmission(_ context.Context, id uuid.UUID, queueID string, status prescription.Status) error {
	p := m.rows[id]
	p.QueueID = &queueID
	p.Status = status
	return nil
}

func (m *mockRepo) RecordPayment(_ context.Context, id uuid.UUID, txnID uuid.UUID, status prescription.Status, ps prescription.PaymentStatus) error {
	p := m.rows[id]
	p.PaymentTransactionID = &txnID
	p.Status = status
	p.PaymentStatus = ps
	return nil
}

func (m *mockRepo) ListDueRefills(_ context.Context, now time.Time) ([]*prescription.Prescription, error) {
	var out []*prescription.Prescription
	for _, p := range m.rows {
		if p.PrescriptionType == prescription.TypePrescription &&
			p.NextRefillDate != nil && !p.NextRefillDate.After(now) {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockRepo) ListSyncable(context.Context) ([]*prescription.Prescription, error) {
	return nil, nil
}

func (m *mockRepo) ScheduleNextRefill(_ context.Context, id uuid.UUID, next time.Time) error {
	p := m.rows[id]
	p.TotalRefillsToDate++
	p.NextRefillDate = &next
	return nil
}

func (m *mockRepo) refills() []*prescription.Prescription {
	var out []*prescription.Prescription
	for _, p := range m.rows {
		if p.PrescriptionType == prescription.TypeRefill {
			out = append(out, p)
		}
	}
	return out
}

type mockEnqueuer struct {
	events []outbox.Event
	fail   bool
}

func (m *mockEnqueuer) Enqueue(_ context.Context, kind string, payload interface{}) (*outbox.Event, error) {
	if m.fail {
		return nil, errors.New("outbox unavailable")
	}
	body, _ := json.Marshal(payload)
	e := outbox.Event{ID: uuid.New(), Kind: kind, Payload: body}
	m.events = append(m.events, e)
	return &e, nil
}

type mockExpirer struct{ calls int }

func (m *mockExpirer) ExpireStaleLinks(context.Context) (int64, error) {
	m.calls++
	return 0, nil
}

func passthroughTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func seedParent(t *testing.T, repo *mockRepo, mutate func(*prescription.Prescription)) *prescription.Prescription {
	t.Helper()
	due := time.Now().UTC().Add(-time.Hour)
	p := &prescription.Prescription{
		PrescriptionType:    prescription.TypePrescription,
		Status:              prescription.StatusDelivered,
		PaymentStatus:       prescription.PaymentPaid,
		PatientFirstName:    "Ada",
		PatientLastName:     "Nguyen",
		PatientEmail:        "ada@example.com",
		Medication:          "Semaglutide",
		Quantity:            4,
		MedicationCents:     29900,
		Refills:             3,
		TotalRefillsToDate:  0,
		RefillFrequencyDays: 30,
		NextRefillDate:      &due,
	}
	if mutate != nil {
		mutate(p)
	}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return p
}

func newJob(repo *mockRepo, enq *mockEnqueuer, exp LinkExpirer) *Job {
	return NewJob(repo, enq, exp, passthroughTx, zerolog.Nop())
}

func TestRunCreatesOneRefillPerEligibleRow(t *testing.T) {
	repo := newMockRepo()
	enq := &mockEnqueuer{}
	p1 := seedParent(t, repo, nil)
	p2 := seedParent(t, repo, nil)

	result, err := newJob(repo, enq, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 2 || result.Failed != 0 {
		t.Fatalf("result = %+v", result)
	}

	refills := repo.refills()
	if len(refills) != 2 {
		t.Fatalf("expected 2 refills, got %d", len(refills))
	}
	parents := map[uuid.UUID]int{}
	for _, r := range refills {
		if r.ParentPrescriptionID == nil {
			t.Fatal("refill missing parent link")
		}
		parents[*r.ParentPrescriptionID]++
		if r.Status != prescription.StatusPendingPayment {
			t.Errorf("refill status = %s, want pending_payment", r.Status)
		}
		if r.QueueID != nil {
			t.Error("refill must start without a queue id")
		}
	}
	if parents[p1.ID] != 1 || parents[p2.ID] != 1 {
		t.Errorf("expected exactly one refill per parent, got %v", parents)
	}
}

func TestRunAdvancesParentCounters(t *testing.T) {
	repo := newMockRepo()
	p := seedParent(t, repo, nil)
	before := *p.NextRefillDate

	if _, err := newJob(repo, &mockEnqueuer{}, nil).Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := repo.rows[p.ID]
	if got.TotalRefillsToDate != 1 {
		t.Errorf("total_refills_to_date = %d, want 1", got.TotalRefillsToDate)
	}
	if !got.NextRefillDate.After(before) {
		t.Error("next_refill_date must move forward")
	}
}

func TestRunSkipsExhaustedPrescriptions(t *testing.T) {
	repo := newMockRepo()
	seedParent(t, repo, func(p *prescription.Prescription) {
		p.TotalRefillsToDate = 3 // equals authorized refills
	})

	result, err := newJob(repo, &mockEnqueuer{}, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Processed != 0 {
		t.Errorf("exhausted prescription processed: %+v", result)
	}
	if len(repo.refills()) != 0 {
		t.Error("no refill should be created for exhausted prescriptions")
	}
}

func TestRunEnqueuesPaymentLink(t *testing.T) {
	repo := newMockRepo()
	enq := &mockEnqueuer{}
	seedParent(t, repo, nil)

	if _, err := newJob(repo, enq, nil).Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(enq.events) != 1 || enq.events[0].Kind != outbox.KindGeneratePaymentLink {
		t.Fatalf("expected one generate-payment-link event, got %v", enq.events)
	}
	var payload struct {
		PrescriptionID string `json:"prescription_id"`
		SendEmail      bool   `json:"send_email"`
	}
	if err := json.Unmarshal(enq.events[0].Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if !payload.SendEmail {
		t.Error("refill payment links must be emailed to the patient")
	}
	if _, err := uuid.Parse(payload.PrescriptionID); err != nil {
		t.Errorf("payload prescription id: %v", err)
	}
}

func TestRunContinuesPastRowFailure(t *testing.T) {
	repo := newMockRepo()
	seedParent(t, repo, nil)
	seedParent(t, repo, nil)

	calls := 0
	failSecondTx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		calls++
		if calls == 2 {
			return errors.New("connection reset")
		}
		return fn(ctx)
	}
	job := NewJob(repo, &mockEnqueuer{}, nil, failSecondTx, zerolog.Nop())

	result, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("row failures must not abort the run: %v", err)
	}
	if result.Processed != 1 || result.Failed != 1 {
		t.Errorf("result = %+v, want 1 processed / 1 failed", result)
	}
}

func TestRunSweepsExpiredLinks(t *testing.T) {
	repo := newMockRepo()
	exp := &mockExpirer{}

	if _, err := newJob(repo, &mockEnqueuer{}, exp).Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exp.calls != 1 {
		t.Errorf("expected expiry sweep, got %d calls", exp.calls)
	}
}

func TestNextRun(t *testing.T) {
	now := time.Date(2025, 6, 1, 7, 30, 0, 0, time.UTC)
	if got := nextRun(now, 8); got != time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC) {
		t.Errorf("before the hour: %v", got)
	}
	later := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	if got := nextRun(later, 8); got != time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC) {
		t.Errorf("after the hour: %v", got)
	}
}
