package audit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"
)

type mockStore struct {
	logs    []string
	runs    []*JobRun
	failLog bool
}

func (m *mockStore) InsertLog(_ context.Context, level, source, message string, _ json.RawMessage) error {
	if m.failLog {
		return errors.New("insert failed")
	}
	m.logs = append(m.logs, level+"/"+source+"/"+message)
	return nil
}

func (m *mockStore) InsertJobRun(_ context.Context, run *JobRun) error {
	cp := *run
	m.runs = append(m.runs, &cp)
	return nil
}

func (m *mockStore) UpdateJobRun(_ context.Context, run *JobRun) error {
	cp := *run
	m.runs = append(m.runs, &cp)
	return nil
}

func newTestLogger(store Store) *Logger {
	return NewLogger(store, zerolog.New(os.Stderr))
}

func TestEvent_Records(t *testing.T) {
	store := &mockStore{}
	l := newTestLogger(store)

	l.Event(context.Background(), "error", "webhook", "signature mismatch", map[string]string{"ip": "1.2.3.4"})

	if len(store.logs) != 1 {
		t.Fatalf("expected 1 log row, got %d", len(store.logs))
	}
	if store.logs[0] != "error/webhook/signature mismatch" {
		t.Errorf("unexpected log row: %s", store.logs[0])
	}
}

func TestEvent_SwallowsStoreFailure(t *testing.T) {
	store := &mockStore{failLog: true}
	l := newTestLogger(store)

	// Must not panic or propagate the store error.
	l.Event(context.Background(), "info", "refill", "run started", nil)
}

func TestRunJob_Success(t *testing.T) {
	store := &mockStore{}
	l := newTestLogger(store)

	err := l.RunJob(context.Background(), "refill", func(ctx context.Context) (JobResult, error) {
		return JobResult{Processed: 3}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final := store.runs[len(store.runs)-1]
	if final.Status != RunSuccess {
		t.Errorf("expected success, got %s", final.Status)
	}
	if final.Processed != 3 {
		t.Errorf("expected 3 processed, got %d", final.Processed)
	}
	if final.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestRunJob_Partial(t *testing.T) {
	store := &mockStore{}
	l := newTestLogger(store)

	err := l.RunJob(context.Background(), "refill", func(ctx context.Context) (JobResult, error) {
		return JobResult{Processed: 2, Failed: 1}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	final := store.runs[len(store.runs)-1]
	if final.Status != RunPartial {
		t.Errorf("expected partial, got %s", final.Status)
	}
}

func TestRunJob_Error(t *testing.T) {
	store := &mockStore{}
	l := newTestLogger(store)

	jobErr := errors.New("query failed")
	err := l.RunJob(context.Background(), "refill", func(ctx context.Context) (JobResult, error) {
		return JobResult{}, jobErr
	})
	if !errors.Is(err, jobErr) {
		t.Fatalf("expected job error to propagate, got %v", err)
	}

	final := store.runs[len(store.runs)-1]
	if final.Status != RunError {
		t.Errorf("expected error status, got %s", final.Status)
	}
	if final.Detail == nil || *final.Detail != "query failed" {
		t.Error("expected detail to carry the error message")
	}
}
