package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type mockStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]*Event
	order  []uuid.UUID
}

func newMockStore() *mockStore {
	return &mockStore{events: make(map[uuid.UUID]*Event)}
}

func (s *mockStore) Enqueue(_ context.Context, kind string, payload interface{}) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	e := &Event{
		ID:            uuid.New(),
		Kind:          kind,
		Payload:       body,
		Status:        StatusPending,
		NextAttemptAt: time.Now(),
		CreatedAt:     time.Now(),
	}
	s.events[e.ID] = e
	s.order = append(s.order, e.ID)
	return e, nil
}

func (s *mockStore) ClaimDue(_ context.Context, limit int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Event
	now := time.Now()
	for _, id := range s.order {
		e := s.events[id]
		claimable := (e.Status == StatusPending && !e.NextAttemptAt.After(now)) ||
			(e.Status == StatusProcessing && e.UpdatedAt.Before(now.Add(-claimLease)))
		if claimable {
			e.Status = StatusProcessing
			e.UpdatedAt = now
			copied := *e
			due = append(due, &copied)
			if len(due) == limit {
				break
			}
		}
	}
	return due, nil
}

func (s *mockStore) MarkDelivered(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[id].Status = StatusDelivered
	return nil
}

func (s *mockStore) MarkRetry(_ context.Context, id uuid.UUID, attempts int, next time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.events[id]
	e.Status = StatusPending
	e.Attempts = attempts
	e.NextAttemptAt = next
	e.LastError = &lastError
	return nil
}

func (s *mockStore) MarkFailed(_ context.Context, id uuid.UUID, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.events[id]
	e.Status = StatusFailed
	e.LastError = &lastError
	return nil
}

func (s *mockStore) Reset(_ context.Context, id uuid.UUID) (*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok || e.Status != StatusFailed {
		return nil, ErrNotRetryable
	}
	e.Status = StatusPending
	e.Attempts = 0
	e.NextAttemptAt = time.Now()
	e.LastError = nil
	copied := *e
	return &copied, nil
}

func (s *mockStore) List(_ context.Context, status string, _, _ int) ([]*Event, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for _, id := range s.order {
		e := s.events[id]
		if status == "" || e.Status == status {
			copied := *e
			out = append(out, &copied)
		}
	}
	return out, len(out), nil
}

func (s *mockStore) get(id uuid.UUID) Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.events[id]
}

func TestWorkerDeliversEvent(t *testing.T) {
	store := newMockStore()
	e, _ := store.Enqueue(context.Background(), KindSendPaymentEmail, map[string]string{"to": "pt@example.com"})

	w := NewWorker(store, zerolog.Nop(), time.Second)
	var handled []string
	w.Register(KindSendPaymentEmail, func(_ context.Context, e *Event) error {
		handled = append(handled, e.Kind)
		return nil
	})

	w.drain(context.Background())

	if len(handled) != 1 {
		t.Fatalf("expected 1 handled event, got %d", len(handled))
	}
	if got := store.get(e.ID); got.Status != StatusDelivered {
		t.Errorf("expected status %q, got %q", StatusDelivered, got.Status)
	}
}

func TestWorkerReclaimsStrandedEvent(t *testing.T) {
	store := newMockStore()
	e, _ := store.Enqueue(context.Background(), KindSubmitToPharmacy, map[string]string{"prescription_id": uuid.NewString()})

	// A previous worker claimed the event and died before marking it.
	store.events[e.ID].Status = StatusProcessing
	store.events[e.ID].UpdatedAt = time.Now().Add(-claimLease - time.Minute)

	w := NewWorker(store, zerolog.Nop(), time.Second)
	delivered := 0
	w.Register(KindSubmitToPharmacy, func(context.Context, *Event) error {
		delivered++
		return nil
	})

	w.drain(context.Background())

	if delivered != 1 {
		t.Fatalf("expected stranded event to be redelivered once, got %d", delivered)
	}
	if got := store.get(e.ID); got.Status != StatusDelivered {
		t.Errorf("expected status %q, got %q", StatusDelivered, got.Status)
	}
}

func TestWorkerDoesNotReclaimFreshClaim(t *testing.T) {
	store := newMockStore()
	e, _ := store.Enqueue(context.Background(), KindSubmitToPharmacy, map[string]string{"prescription_id": uuid.NewString()})

	// Claimed moments ago by a live worker; the lease has not lapsed.
	store.events[e.ID].Status = StatusProcessing
	store.events[e.ID].UpdatedAt = time.Now()

	w := NewWorker(store, zerolog.Nop(), time.Second)
	delivered := 0
	w.Register(KindSubmitToPharmacy, func(context.Context, *Event) error {
		delivered++
		return nil
	})

	w.drain(context.Background())

	if delivered != 0 {
		t.Fatalf("expected no redelivery inside the lease window, got %d", delivered)
	}
	if got := store.get(e.ID); got.Status != StatusProcessing {
		t.Errorf("expected status %q, got %q", StatusProcessing, got.Status)
	}
}

func TestWorkerReschedulesOnFailure(t *testing.T) {
	store := newMockStore()
	e, _ := store.Enqueue(context.Background(), KindSubmitToPharmacy, map[string]string{"prescription_id": uuid.NewString()})

	w := NewWorker(store, zerolog.Nop(), time.Second)
	w.Register(KindSubmitToPharmacy, func(context.Context, *Event) error {
		return errors.New("pharmacy backend unavailable")
	})

	w.drain(context.Background())

	got := store.get(e.ID)
	if got.Status != StatusPending {
		t.Fatalf("expected status %q, got %q", StatusPending, got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", got.Attempts)
	}
	if !got.NextAttemptAt.After(time.Now()) {
		t.Error("expected next attempt to be scheduled in the future")
	}
	if got.LastError == nil || *got.LastError != "pharmacy backend unavailable" {
		t.Errorf("unexpected last error: %v", got.LastError)
	}
}

func TestWorkerParksAfterMaxAttempts(t *testing.T) {
	store := newMockStore()
	e, _ := store.Enqueue(context.Background(), KindSendConfirmationEmail, map[string]string{})
	store.events[e.ID].Attempts = maxAttempts - 1

	w := NewWorker(store, zerolog.Nop(), time.Second)
	w.Register(KindSendConfirmationEmail, func(context.Context, *Event) error {
		return errors.New("smtp rejected")
	})

	w.drain(context.Background())

	if got := store.get(e.ID); got.Status != StatusFailed {
		t.Errorf("expected status %q, got %q", StatusFailed, got.Status)
	}
}

func TestWorkerParksUnknownKind(t *testing.T) {
	store := newMockStore()
	e, _ := store.Enqueue(context.Background(), "no_such_kind", map[string]string{})

	w := NewWorker(store, zerolog.Nop(), time.Second)
	w.drain(context.Background())

	if got := store.get(e.ID); got.Status != StatusFailed {
		t.Errorf("expected status %q, got %q", StatusFailed, got.Status)
	}
}

func TestResetFailedEvent(t *testing.T) {
	store := newMockStore()
	e, _ := store.Enqueue(context.Background(), KindSendPaymentEmail, map[string]string{})
	_ = store.MarkFailed(context.Background(), e.ID, "boom")

	reset, err := store.Reset(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reset.Status != StatusPending || reset.Attempts != 0 {
		t.Errorf("expected pending event with zero attempts, got %q/%d", reset.Status, reset.Attempts)
	}

	// Only failed events may be reset.
	if _, err := store.Reset(context.Background(), e.ID); err != ErrNotRetryable {
		t.Errorf("expected ErrNotRetryable, got %v", err)
	}
}

func TestRetryDelayGrows(t *testing.T) {
	prev := time.Duration(0)
	for attempts := 1; attempts <= 4; attempts++ {
		d := retryDelay(attempts)
		if d <= 0 {
			t.Fatalf("attempt %d: non-positive delay %v", attempts, d)
		}
		// Randomization aside, the schedule must trend upward.
		if attempts > 1 && d < prev/2 {
			t.Errorf("attempt %d: delay %v regressed from %v", attempts, d, prev)
		}
		prev = d
	}
}
