package refill

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/telerx/telerx/internal/platform/audit"
)

const jobName = "daily_refill"

// Scheduler fires the refill job once a day at a fixed UTC hour. Start is
// guarded so a process registers the schedule exactly once.
type Scheduler struct {
	job      *Job
	recorder *audit.Logger
	hourUTC  int
	log      zerolog.Logger
	once     sync.Once
}

func NewScheduler(job *Job, recorder *audit.Logger, hourUTC int, log zerolog.Logger) *Scheduler {
	if hourUTC < 0 || hourUTC > 23 {
		hourUTC = 8
	}
	return &Scheduler{
		job:      job,
		recorder: recorder,
		hourUTC:  hourUTC,
		log:      log.With().Str("component", "refill_scheduler").Logger(),
	}
}

// Start launches the schedule loop. Subsequent calls are no-ops.
func (s *Scheduler) Start(ctx context.Context) {
	s.once.Do(func() {
		go s.loop(ctx)
	})
}

func (s *Scheduler) loop(ctx context.Context) {
	s.log.Info().Int("hour_utc", s.hourUTC).Msg("refill scheduler started")
	for {
		wait := time.Until(nextRun(time.Now().UTC(), s.hourUTC))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info().Msg("refill scheduler stopped")
			return
		case <-timer.C:
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Error().Err(err).Msg("daily refill run failed")
		}
	}
}

// RunOnce executes the job immediately, wrapped by the audit run recorder.
// The refill CLI command calls this directly.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.recorder.RunJob(ctx, jobName, s.job.Run)
}

// nextRun returns the next occurrence of the schedule hour strictly after
// now.
func nextRun(now time.Time, hourUTC int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
