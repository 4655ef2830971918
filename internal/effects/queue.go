// Package effects is the durable post-commit side-effect queue. Moves
// that must not fail a completed money movement (commission credits)
// are enqueued here and delivered at-least-once by an idempotent
// consumer, instead of being fired inline and silently lost on error.
package effects

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Effect types known to the worker.
const (
	TypeCommissionCredit = "commission_credit"
)

// CommissionPayload credits an agent's commission balance for one
// source transaction. Consumers dedupe on (source transaction, type),
// so redelivery is safe.
type CommissionPayload struct {
	AgentID             string `json:"agent_id"`
	Amount              int64  `json:"amount"`
	SourceTransactionID string `json:"source_transaction_id"`
	SourceType          string `json:"source_type"` // transfer, withdrawal, deposit
}

// Pool is the subset of pgxpool.Pool the queue and worker need.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queue enqueues effects into the Postgres-backed outbox.
type Queue struct {
	pool Pool
}

func NewQueue(pool Pool) *Queue {
	return &Queue{pool: pool}
}

// Enqueue appends one pending effect, runnable immediately.
func (q *Queue) Enqueue(ctx context.Context, effectType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", effectType, err)
	}

	_, err = q.pool.Exec(ctx, `
		INSERT INTO effects (id, effect_type, payload, status, attempts, next_run_at)
		VALUES ($1, $2, $3, 'pending', 0, $4)
	`, uuid.NewString(), effectType, body, time.Now())
	if err != nil {
		return fmt.Errorf("failed to enqueue %s effect: %w", effectType, err)
	}
	return nil
}
