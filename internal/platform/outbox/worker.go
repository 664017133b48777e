package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// HandlerFunc delivers one event. A nil return marks the event delivered; an
// error reschedules it with backoff until maxAttempts, then parks it failed.
type HandlerFunc func(ctx context.Context, e *Event) error

const (
	defaultBatchSize = 20
	maxAttempts      = 8
)

// Worker polls the store for due events and dispatches them to registered
// handlers. Multiple workers can run against the same table; ClaimDue uses
// row locking so each event is delivered by exactly one of them.
type Worker struct {
	store    Store
	log      zerolog.Logger
	interval time.Duration
	handlers map[string]HandlerFunc
}

func NewWorker(store Store, log zerolog.Logger, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	return &Worker{
		store:    store,
		log:      log.With().Str("component", "outbox").Logger(),
		interval: pollInterval,
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a handler to an event kind. Must be called before Run.
func (w *Worker) Register(kind string, h HandlerFunc) {
	w.handlers[kind] = h
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info().Dur("interval", w.interval).Msg("outbox worker started")
	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			w.log.Info().Msg("outbox worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// drain claims and processes due events until the table has no more due work.
func (w *Worker) drain(ctx context.Context) {
	for {
		events, err := w.store.ClaimDue(ctx, defaultBatchSize)
		if err != nil {
			if ctx.Err() == nil {
				w.log.Error().Err(err).Msg("claim due events")
			}
			return
		}
		if len(events) == 0 {
			return
		}
		for _, e := range events {
			w.process(ctx, e)
		}
	}
}

func (w *Worker) process(ctx context.Context, e *Event) {
	log := w.log.With().Str("event_id", e.ID.String()).Str("kind", e.Kind).Logger()

	h, ok := w.handlers[e.Kind]
	if !ok {
		msg := fmt.Sprintf("no handler registered for kind %q", e.Kind)
		log.Error().Msg(msg)
		if err := w.store.MarkFailed(ctx, e.ID, msg); err != nil {
			log.Error().Err(err).Msg("mark event failed")
		}
		return
	}

	if err := h(ctx, e); err != nil {
		attempts := e.Attempts + 1
		if attempts >= maxAttempts {
			log.Error().Err(err).Int("attempts", attempts).Msg("event exhausted retries")
			if merr := w.store.MarkFailed(ctx, e.ID, err.Error()); merr != nil {
				log.Error().Err(merr).Msg("mark event failed")
			}
			return
		}
		delay := retryDelay(attempts)
		log.Warn().Err(err).Int("attempts", attempts).Dur("retry_in", delay).Msg("event delivery failed")
		if merr := w.store.MarkRetry(ctx, e.ID, attempts, time.Now().Add(delay), err.Error()); merr != nil {
			log.Error().Err(merr).Msg("mark event for retry")
		}
		return
	}

	if err := w.store.MarkDelivered(ctx, e.ID); err != nil {
		log.Error().Err(err).Msg("mark event delivered")
		return
	}
	log.Info().Msg("event delivered")
}

// retryDelay returns the backoff delay for the given attempt count.
func retryDelay(attempts int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 30 * time.Second
	b.MaxInterval = time.Hour
	b.MaxElapsedTime = 0
	b.Multiplier = 2

	d := b.NextBackOff()
	for i := 1; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}
