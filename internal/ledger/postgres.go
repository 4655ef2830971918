package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool is the subset of pgxpool.Pool the store needs. Tests inject
// fakes; production wires a *pgxpool.Pool.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Role classifies ledger accounts.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

// Account is a ledger account. Balance and CommissionBalance are integer
// minor currency units and are only ever mutated through the atomic
// primitives below, never written directly.
type Account struct {
	ID                string    `json:"id"`
	Phone             string    `json:"phone"`
	Name              string    `json:"name"`
	Role              Role      `json:"role"`
	Country           string    `json:"country"`
	Balance           int64     `json:"balance"`
	CommissionBalance int64     `json:"commission_balance"`
	CreatedAt         time.Time `json:"created_at"`
}

// AccountNotFoundError is returned when an account id or phone does not
// resolve.
type AccountNotFoundError struct {
	Ref string
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account %s not found", e.Ref)
}

// InsufficientFundsError is the typed failure of CheckedDecrement. The
// check and the decrement happen in one statement, so seeing this error
// means no balance was touched.
type InsufficientFundsError struct {
	AccountID string
	Requested int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on account %s for debit of %d", e.AccountID, e.Requested)
}

// Store exposes the atomic balance primitives and record stores over
// PostgreSQL.
type Store struct {
	pool Pool
}

func NewStore(pool Pool) *Store {
	return &Store{pool: pool}
}

const (
	maxRetries   = 3
	queryTimeout = 5 * time.Second
)

// withRetry runs fn, retrying briefly on serialization and deadlock
// failures (SQLSTATE 40001/40P01) with linear backoff.
func withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
		err = fn(queryCtx)
		cancel()
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
			time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
			continue
		}
		return err
	}
	return fmt.Errorf("retries exhausted: %w", err)
}

// CreateAccountRequest carries the fields needed to open an account.
type CreateAccountRequest struct {
	Phone   string
	Name    string
	Role    Role
	Country string
}

func (s *Store) CreateAccount(ctx context.Context, req CreateAccountRequest) (*Account, error) {
	switch req.Role {
	case RoleUser, RoleAgent, RoleAdmin:
	default:
		return nil, fmt.Errorf("invalid account role: %s", req.Role)
	}
	if req.Phone == "" {
		return nil, fmt.Errorf("phone is required")
	}
	if len(req.Country) != 2 {
		return nil, fmt.Errorf("country must be a 2-letter code")
	}

	account := &Account{
		ID:      uuid.NewString(),
		Phone:   req.Phone,
		Name:    req.Name,
		Role:    req.Role,
		Country: strings.ToUpper(req.Country),
	}

	err := withRetry(ctx, func(ctx context.Context) error {
		return s.pool.QueryRow(ctx, `
			INSERT INTO accounts (id, phone, name, role, country, balance, commission_balance)
			VALUES ($1, $2, $3, $4, $5, 0, 0)
			RETURNING created_at
		`, account.ID, account.Phone, account.Name, account.Role, account.Country).Scan(&account.CreatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return account, nil
}

func (s *Store) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	return s.getAccountBy(ctx, "id", accountID)
}

// ResolveByPhone performs exact-match identity resolution from a phone
// number to an account.
func (s *Store) ResolveByPhone(ctx context.Context, phone string) (*Account, error) {
	return s.getAccountBy(ctx, "phone", phone)
}

func (s *Store) getAccountBy(ctx context.Context, column, value string) (*Account, error) {
	var account Account
	err := withRetry(ctx, func(ctx context.Context) error {
		return s.pool.QueryRow(ctx, fmt.Sprintf(`
			SELECT id, phone, name, role, country, balance, commission_balance, created_at
			FROM accounts
			WHERE %s = $1
		`, column), value).Scan(
			&account.ID, &account.Phone, &account.Name, &account.Role,
			&account.Country, &account.Balance, &account.CommissionBalance, &account.CreatedAt,
		)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &AccountNotFoundError{Ref: value}
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// IncrementBalance applies delta to the account balance in a single
// atomic statement and returns the new balance. Two concurrent
// increments on the same account serialize at the row and can never
// lose an update.
func (s *Store) IncrementBalance(ctx context.Context, accountID string, delta int64) (int64, error) {
	var newBalance int64
	err := withRetry(ctx, func(ctx context.Context) error {
		return s.pool.QueryRow(ctx, `
			UPDATE accounts
			SET balance = balance + $1
			WHERE id = $2
			RETURNING balance
		`, delta, accountID).Scan(&newBalance)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, &AccountNotFoundError{Ref: accountID}
		}
		return 0, fmt.Errorf("failed to increment balance: %w", err)
	}
	return newBalance, nil
}

// GetBalance reads the balance by incrementing by zero, so it always
// observes the latest committed value rather than a cached read.
func (s *Store) GetBalance(ctx context.Context, accountID string) (int64, error) {
	return s.IncrementBalance(ctx, accountID, 0)
}

// CheckedDecrement debits amount only if the balance covers it, as one
// atomic statement. No matching row means either the account is missing
// or the funds are insufficient; the follow-up read disambiguates.
func (s *Store) CheckedDecrement(ctx context.Context, accountID string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("decrement amount must be positive, got %d", amount)
	}

	var newBalance int64
	err := withRetry(ctx, func(ctx context.Context) error {
		return s.pool.QueryRow(ctx, `
			UPDATE accounts
			SET balance = balance - $1
			WHERE id = $2 AND balance >= $1
			RETURNING balance
		`, amount, accountID).Scan(&newBalance)
	})
	if err == nil {
		return newBalance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("failed to decrement balance: %w", err)
	}

	if _, getErr := s.GetAccount(ctx, accountID); getErr != nil {
		return 0, getErr
	}
	return 0, &InsufficientFundsError{AccountID: accountID, Requested: amount}
}

// CreditCommission credits an agent's commission balance and records the
// commission entry in one statement. The entry insert is keyed on
// (source transaction, type), so replays are no-ops: applied reports
// whether this call actually moved the commission.
func (s *Store) CreditCommission(ctx context.Context, entry CommissionEntry) (bool, error) {
	if entry.Amount <= 0 {
		return false, fmt.Errorf("commission amount must be positive, got %d", entry.Amount)
	}
	if entry.ID == "" {
		// Fresh id per attempt; replays dedupe on (source, type), not id.
		entry.ID = uuid.NewString()
	}

	var applied bool
	err := withRetry(ctx, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `
			WITH entry AS (
				INSERT INTO commission_entries (id, agent_id, amount, source_transaction_id, type)
				VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (source_transaction_id, type) DO NOTHING
				RETURNING amount
			)
			UPDATE accounts
			SET commission_balance = commission_balance + (SELECT amount FROM entry)
			WHERE id = $2
			  AND role = 'agent'
			  AND EXISTS (SELECT 1 FROM entry)
		`, entry.ID, entry.AgentID, entry.Amount, entry.SourceTransactionID, entry.Type)
		if err != nil {
			return err
		}
		applied = tag.RowsAffected() == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to credit commission: %w", err)
	}
	return applied, nil
}
