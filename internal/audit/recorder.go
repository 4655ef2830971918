// Package audit persists the append-only audit trail backing every
// balance-affecting attempt. Writes are fire-and-forget: a failing sink
// degrades to a local spool and never blocks or fails the money
// movement that produced the event.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/moneyflow/engine/pkg/audit"
)

// Event types emitted by the engine.
const (
	EventTransferValidated   = "transfer.validated"
	EventTransferDebited     = "transfer.debited"
	EventTransferCredited    = "transfer.credited"
	EventTransferCompleted   = "transfer.completed"
	EventTransferFailed      = "transfer.failed"
	EventTransferCompensated = "transfer.compensated"
	EventReconciliationNeeded = "transfer.reconciliation_required"

	EventWithdrawalCompleted = "withdrawal.completed"
	EventWithdrawalFailed    = "withdrawal.failed"
	EventDepositCompleted    = "deposit.completed"
	EventDepositFailed       = "deposit.failed"

	EventCommissionCredited = "commission.credited"
	EventCommissionFailed   = "commission.failed"
)

// Pool is the single-statement subset of pgxpool.Pool the recorder uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Recorder appends audit events to Postgres, hash-chained for
// tamper evidence. The chain logger's mutex serializes appends, which
// preserves per-actor timestamp ordering.
type Recorder struct {
	pool   Pool
	spool  *Spool
	chain  *audit.ChainLogger
	logger *slog.Logger
}

// NewRecorder builds a recorder. spool may be nil; events that fail to
// persist are then only logged. logger may be nil.
func NewRecorder(pool Pool, spool *Spool, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		pool:   pool,
		spool:  spool,
		chain:  audit.NewChainLogger(),
		logger: logger,
	}
}

const insertTimeout = 2 * time.Second

// Record appends one audit event. It never returns an error: on a sink
// failure the event is spooled locally, and on a spool failure it is
// logged and dropped. Callers treat this as fire-and-forget.
func (r *Recorder) Record(ctx context.Context, actorID, eventType string, severity audit.Severity, payload map[string]any) {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte(`{}`)
	}

	ev := r.chain.Append(uuid.NewString(), actorID, eventType, severity, string(body))

	// The audit write must survive the caller's request being canceled:
	// the balance mutation it describes has already happened.
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), insertTimeout)
	defer cancel()

	if r.pool != nil {
		_, err = r.pool.Exec(insertCtx, `
			INSERT INTO audit_events (id, actor_id, event_type, severity, payload, previous_hash, hash, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, ev.ID, ev.ActorID, ev.EventType, ev.Severity, ev.Payload, ev.PreviousHash, ev.Hash, ev.Timestamp)
		if err == nil {
			return
		}
	}

	if r.spool != nil {
		if spoolErr := r.spool.Append(insertCtx, ev); spoolErr == nil {
			r.logger.Warn("audit event spooled locally",
				"event_id", ev.ID, "event_type", ev.EventType, "error", err)
			return
		}
	}

	r.logger.Error("audit event dropped",
		"event_id", ev.ID, "actor_id", ev.ActorID, "event_type", ev.EventType,
		"severity", ev.Severity, "error", err)
}

// ReplaySpool re-delivers locally spooled events to the primary sink.
// Intended to be called periodically by a background daemon.
func (r *Recorder) ReplaySpool(ctx context.Context) (int, error) {
	if r.spool == nil || r.pool == nil {
		return 0, nil
	}

	return r.spool.Drain(ctx, func(ctx context.Context, ev *audit.Event) error {
		_, err := r.pool.Exec(ctx, `
			INSERT INTO audit_events (id, actor_id, event_type, severity, payload, previous_hash, hash, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING
		`, ev.ID, ev.ActorID, ev.EventType, ev.Severity, ev.Payload, ev.PreviousHash, ev.Hash, ev.Timestamp)
		return err
	})
}
