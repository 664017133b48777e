// Package audit records operational events to the system_logs table and
// tracks scheduled job runs in job_runs. Audit writes are best-effort: a
// failed insert is logged and swallowed so that auditing can never fail the
// operation being audited.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Run statuses recorded for scheduled jobs.
const (
	RunSuccess = "success"
	RunPartial = "partial"
	RunError   = "error"
)

// Store persists audit rows.
type Store interface {
	InsertLog(ctx context.Context, level, source, message string, detail json.RawMessage) error
	InsertJobRun(ctx context.Context, run *JobRun) error
	UpdateJobRun(ctx context.Context, run *JobRun) error
}

// JobRun is one execution of a scheduled job.
type JobRun struct {
	ID          uuid.UUID  `json:"id"`
	JobName     string     `json:"job_name"`
	Status      string     `json:"status"`
	Processed   int        `json:"processed"`
	Failed      int        `json:"failed"`
	Detail      *string    `json:"detail,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Logger writes structured events to both zerolog and the system_logs table.
type Logger struct {
	store Store
	log   zerolog.Logger
}

func NewLogger(store Store, log zerolog.Logger) *Logger {
	return &Logger{store: store, log: log}
}

// Event records a single audit event. detail may be nil.
func (l *Logger) Event(ctx context.Context, level, source, message string, detail interface{}) {
	var raw json.RawMessage
	if detail != nil {
		if b, err := json.Marshal(detail); err == nil {
			raw = b
		}
	}

	if err := l.store.InsertLog(ctx, level, source, message, raw); err != nil {
		l.log.Error().Err(err).Str("source", source).Msg("audit write failed")
	}

	evt := l.log.Info()
	if level == "error" {
		evt = l.log.Error()
	} else if level == "warn" {
		evt = l.log.Warn()
	}
	evt.Str("source", source).Msg(message)
}

// JobResult is reported by a job body back to RunJob.
type JobResult struct {
	Processed int
	Failed    int
	Detail    string
}

// RunJob wraps a job execution: it opens a job_runs row, invokes fn, and
// records success, partial, or error depending on the outcome. fn returning
// an error marks the whole run as error; per-item failures reported through
// JobResult.Failed mark it partial.
func (l *Logger) RunJob(ctx context.Context, jobName string, fn func(ctx context.Context) (JobResult, error)) error {
	run := &JobRun{
		ID:        uuid.New(),
		JobName:   jobName,
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}
	if err := l.store.InsertJobRun(ctx, run); err != nil {
		l.log.Error().Err(err).Str("job", jobName).Msg("job run insert failed")
	}

	result, err := fn(ctx)

	now := time.Now().UTC()
	run.CompletedAt = &now
	run.Processed = result.Processed
	run.Failed = result.Failed
	if result.Detail != "" {
		run.Detail = &result.Detail
	}

	switch {
	case err != nil:
		run.Status = RunError
		msg := err.Error()
		run.Detail = &msg
	case result.Failed > 0:
		run.Status = RunPartial
	default:
		run.Status = RunSuccess
	}

	if uerr := l.store.UpdateJobRun(ctx, run); uerr != nil {
		l.log.Error().Err(uerr).Str("job", jobName).Msg("job run update failed")
	}

	l.log.Info().
		Str("job", jobName).
		Str("status", run.Status).
		Int("processed", run.Processed).
		Int("failed", run.Failed).
		Msg("job run completed")

	return err
}
