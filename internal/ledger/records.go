package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// RecordStatus is the lifecycle of a money-movement record. Transitions
// are append-only: pending -> completed or pending -> failed.
type RecordStatus string

const (
	StatusPending   RecordStatus = "pending"
	StatusCompleted RecordStatus = "completed"
	StatusFailed    RecordStatus = "failed"
)

// TransferRecord is persisted as pending before any balance mutation;
// the unique idempotency key makes replays short-circuit.
type TransferRecord struct {
	ID                  string       `json:"id"`
	SenderID            string       `json:"sender_id"`
	RecipientID         string       `json:"recipient_id"`
	RecipientPhone      string       `json:"recipient_phone"`
	Amount              int64        `json:"amount"`
	Fee                 int64        `json:"fee"`
	AgentCommission     int64        `json:"agent_commission"`
	MoneyFlowCommission int64        `json:"moneyflow_commission"`
	Currency            string       `json:"currency"`
	Status              RecordStatus `json:"status"`
	IdempotencyKey      string       `json:"idempotency_key"`
	FailureReason       string       `json:"failure_reason,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
}

// CashMovementRecord covers agent withdrawals and deposits, which share
// the Transfer lifecycle shape between a client and an agent account.
type CashMovementRecord struct {
	ID             string       `json:"id"`
	UserID         string       `json:"user_id"`
	AgentID        string       `json:"agent_id"`
	Amount         int64        `json:"amount"`
	Commission     int64        `json:"commission"`
	Phone          string       `json:"phone"`
	Status         RecordStatus `json:"status"`
	IdempotencyKey string       `json:"idempotency_key"`
	FailureReason  string       `json:"failure_reason,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// CommissionEntry allocates part of a fee to an agent. Type names the
// originating operation.
type CommissionEntry struct {
	ID                  string `json:"id"`
	AgentID             string `json:"agent_id"`
	Amount              int64  `json:"amount"`
	SourceTransactionID string `json:"source_transaction_id"`
	Type                string `json:"type"` // transfer, withdrawal, deposit
}

// CreatePendingTransfer inserts the pending row for an incoming
// transfer. A false return means a row with the same idempotency key
// already exists and the caller must short-circuit instead of moving
// money again.
func (s *Store) CreatePendingTransfer(ctx context.Context, rec *TransferRecord) (bool, error) {
	var created bool
	err := withRetry(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `
			INSERT INTO transfers (
				id, sender_id, recipient_id, recipient_phone, amount, fee,
				agent_commission, moneyflow_commission, currency, status, idempotency_key
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending', $10)
			ON CONFLICT (idempotency_key) DO NOTHING
		`, rec.ID, rec.SenderID, rec.RecipientID, rec.RecipientPhone, rec.Amount, rec.Fee,
			rec.AgentCommission, rec.MoneyFlowCommission, rec.Currency, rec.IdempotencyKey)
		if err != nil {
			return err
		}
		created = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to create pending transfer: %w", err)
	}
	return created, nil
}

// GetTransferByIdempotencyKey loads the transfer owning the key, or nil
// when no such transfer exists.
func (s *Store) GetTransferByIdempotencyKey(ctx context.Context, key string) (*TransferRecord, error) {
	var rec TransferRecord
	err := withRetry(ctx, func(ctx context.Context) error {
		return s.pool.QueryRow(ctx, `
			SELECT id, sender_id, recipient_id, recipient_phone, amount, fee,
			       agent_commission, moneyflow_commission, currency, status,
			       idempotency_key, COALESCE(failure_reason, ''), created_at
			FROM transfers
			WHERE idempotency_key = $1
		`, key).Scan(
			&rec.ID, &rec.SenderID, &rec.RecipientID, &rec.RecipientPhone, &rec.Amount, &rec.Fee,
			&rec.AgentCommission, &rec.MoneyFlowCommission, &rec.Currency, &rec.Status,
			&rec.IdempotencyKey, &rec.FailureReason, &rec.CreatedAt,
		)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return &rec, nil
}

// MarkTransferCompleted moves a pending transfer to completed. The
// status guard in SQL keeps the transition append-only.
func (s *Store) MarkTransferCompleted(ctx context.Context, transferID string) error {
	return s.markStatus(ctx, "transfers", transferID, StatusCompleted, "")
}

// MarkTransferFailed moves a pending transfer to failed with a reason.
func (s *Store) MarkTransferFailed(ctx context.Context, transferID, reason string) error {
	return s.markStatus(ctx, "transfers", transferID, StatusFailed, reason)
}

// CreatePendingWithdrawal mirrors CreatePendingTransfer for cash-outs.
func (s *Store) CreatePendingWithdrawal(ctx context.Context, rec *CashMovementRecord) (bool, error) {
	return s.createPendingCashMovement(ctx, "withdrawals", rec)
}

// CreatePendingDeposit mirrors CreatePendingTransfer for cash-ins.
func (s *Store) CreatePendingDeposit(ctx context.Context, rec *CashMovementRecord) (bool, error) {
	return s.createPendingCashMovement(ctx, "deposits", rec)
}

func (s *Store) createPendingCashMovement(ctx context.Context, table string, rec *CashMovementRecord) (bool, error) {
	var created bool
	err := withRetry(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (id, user_id, agent_id, amount, commission, phone, status, idempotency_key)
			VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7)
			ON CONFLICT (idempotency_key) DO NOTHING
		`, table), rec.ID, rec.UserID, rec.AgentID, rec.Amount, rec.Commission, rec.Phone, rec.IdempotencyKey)
		if err != nil {
			return err
		}
		created = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to create pending %s record: %w", table, err)
	}
	return created, nil
}

// GetWithdrawalByIdempotencyKey loads a withdrawal by key, nil if absent.
func (s *Store) GetWithdrawalByIdempotencyKey(ctx context.Context, key string) (*CashMovementRecord, error) {
	return s.getCashMovementByKey(ctx, "withdrawals", key)
}

// GetDepositByIdempotencyKey loads a deposit by key, nil if absent.
func (s *Store) GetDepositByIdempotencyKey(ctx context.Context, key string) (*CashMovementRecord, error) {
	return s.getCashMovementByKey(ctx, "deposits", key)
}

func (s *Store) getCashMovementByKey(ctx context.Context, table, key string) (*CashMovementRecord, error) {
	var rec CashMovementRecord
	err := withRetry(ctx, func(ctx context.Context) error {
		return s.pool.QueryRow(ctx, fmt.Sprintf(`
			SELECT id, user_id, agent_id, amount, commission, phone, status,
			       idempotency_key, COALESCE(failure_reason, ''), created_at
			FROM %s
			WHERE idempotency_key = $1
		`, table), key).Scan(
			&rec.ID, &rec.UserID, &rec.AgentID, &rec.Amount, &rec.Commission, &rec.Phone,
			&rec.Status, &rec.IdempotencyKey, &rec.FailureReason, &rec.CreatedAt,
		)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s record: %w", table, err)
	}
	return &rec, nil
}

// MarkWithdrawalCompleted / MarkWithdrawalFailed close out a cash-out.
func (s *Store) MarkWithdrawalCompleted(ctx context.Context, id string) error {
	return s.markStatus(ctx, "withdrawals", id, StatusCompleted, "")
}

func (s *Store) MarkWithdrawalFailed(ctx context.Context, id, reason string) error {
	return s.markStatus(ctx, "withdrawals", id, StatusFailed, reason)
}

// MarkDepositCompleted / MarkDepositFailed close out a cash-in.
func (s *Store) MarkDepositCompleted(ctx context.Context, id string) error {
	return s.markStatus(ctx, "deposits", id, StatusCompleted, "")
}

func (s *Store) MarkDepositFailed(ctx context.Context, id, reason string) error {
	return s.markStatus(ctx, "deposits", id, StatusFailed, reason)
}

func (s *Store) markStatus(ctx context.Context, table, id string, status RecordStatus, reason string) error {
	err := withRetry(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
			UPDATE %s
			SET status = $1, failure_reason = NULLIF($2, '')
			WHERE id = $3 AND status = 'pending'
		`, table), status, reason, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("record %s in %s is not pending", id, table)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mark %s %s: %w", table, status, err)
	}
	return nil
}
