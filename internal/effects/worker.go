package effects

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/moneyflow/engine/pkg/audit"
)

const (
	defaultMaxAttempts  = 5
	defaultPollInterval = 5 * time.Second

	// A 'processing' row older than this belongs to a worker that died
	// mid-flight. Reclaiming it is safe: handlers are idempotent, so a
	// second delivery is a no-op.
	staleClaimTimeout = 5 * time.Minute
)

// Handler processes one effect payload. Returning an error reschedules
// the effect with backoff until the attempt limit is reached.
type Handler func(ctx context.Context, payload []byte) error

// Recorder receives audit events for effects that exhaust their
// attempts. Matches internal/audit.Recorder.
type Recorder interface {
	Record(ctx context.Context, actorID, eventType string, severity audit.Severity, payload map[string]any)
}

// Worker claims pending effects one at a time and dispatches them to
// registered handlers. Claiming uses FOR UPDATE SKIP LOCKED so several
// workers can drain the same table without stepping on each other.
type Worker struct {
	pool         Pool
	logger       *slog.Logger
	recorder     Recorder
	handlers     map[string]Handler
	maxAttempts  int
	pollInterval time.Duration
}

func NewWorker(pool Pool, logger *slog.Logger, recorder Recorder) *Worker {
	return &Worker{
		pool:         pool,
		logger:       logger,
		recorder:     recorder,
		handlers:     make(map[string]Handler),
		maxAttempts:  defaultMaxAttempts,
		pollInterval: defaultPollInterval,
	}
}

// Register binds a handler to an effect type. Not safe to call after
// Run has started.
func (w *Worker) Register(effectType string, h Handler) {
	w.handlers[effectType] = h
}

// Run drains the queue until ctx is cancelled. When the queue is empty
// it sleeps for the poll interval before checking again.
func (w *Worker) Run(ctx context.Context) {
	for {
		processed, err := w.ProcessOne(ctx)
		if err != nil {
			w.logger.Error("effect processing failed", "error", err)
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// ProcessOne claims and runs at most one due effect. It reports whether
// an effect was claimed, so callers can drain eagerly while work
// remains.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	var (
		id         string
		effectType string
		payload    []byte
		attempts   int
	)
	staleCutoff := time.Now().Add(-staleClaimTimeout)
	err := w.pool.QueryRow(ctx, `
		UPDATE effects SET status = 'processing', claimed_at = now()
		WHERE id = (
			SELECT id FROM effects
			WHERE (status = 'pending' AND next_run_at <= now())
			   OR (status = 'processing' AND claimed_at < $1)
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, effect_type, payload, attempts
	`, staleCutoff).Scan(&id, &effectType, &payload, &attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	handler, ok := w.handlers[effectType]
	if !ok {
		w.logger.Error("no handler registered for effect", "effect_id", id, "effect_type", effectType)
		return true, w.markFailed(ctx, id, effectType, attempts, "no handler registered")
	}

	if herr := handler(ctx, payload); herr != nil {
		return true, w.reschedule(ctx, id, effectType, attempts, herr)
	}

	_, err = w.pool.Exec(ctx, `UPDATE effects SET status = 'completed', completed_at = now() WHERE id = $1`, id)
	return true, err
}

func (w *Worker) reschedule(ctx context.Context, id, effectType string, attempts int, herr error) error {
	attempts++
	if attempts >= w.maxAttempts {
		w.logger.Error("effect exhausted attempts",
			"effect_id", id, "effect_type", effectType, "attempts", attempts, "error", herr)
		return w.markFailed(ctx, id, effectType, attempts, herr.Error())
	}

	nextRun := time.Now().Add(time.Duration(attempts) * 10 * time.Second)
	w.logger.Warn("effect failed, rescheduling",
		"effect_id", id, "effect_type", effectType, "attempts", attempts, "next_run_at", nextRun)
	_, err := w.pool.Exec(ctx, `
		UPDATE effects SET status = 'pending', attempts = $1, next_run_at = $2, last_error = $3
		WHERE id = $4
	`, attempts, nextRun, herr.Error(), id)
	return err
}

func (w *Worker) markFailed(ctx context.Context, id, effectType string, attempts int, reason string) error {
	if w.recorder != nil {
		w.recorder.Record(ctx, "effects-worker", "effect.delivery_failed", audit.SeverityCritical, map[string]any{
			"effect_id":   id,
			"effect_type": effectType,
			"attempts":    attempts,
			"reason":      reason,
		})
	}
	_, err := w.pool.Exec(ctx, `
		UPDATE effects SET status = 'failed', attempts = $1, last_error = $2 WHERE id = $3
	`, attempts, reason, id)
	return err
}
