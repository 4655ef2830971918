package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/moneyflow/engine/internal/agent"
	"github.com/moneyflow/engine/internal/ledger"
	"github.com/moneyflow/engine/internal/security"
	"github.com/moneyflow/engine/internal/transfer"
)

type transferResponse struct {
	CorrelationID string           `json:"correlation_id"`
	Transfer      *transfer.Result `json:"transfer"`
}

type cashMovementRequest struct {
	UserID         string `json:"user_id"`
	AgentID        string `json:"agent_id"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotency_key"`
}

type cashMovementResponse struct {
	CorrelationID string        `json:"correlation_id"`
	Movement      *agent.Result `json:"movement"`
}

type createAccountRequest struct {
	Phone   string `json:"phone"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	Country string `json:"country"`
}

type createAccountResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Account       *ledger.Account `json:"account"`
}

type balanceResponse struct {
	CorrelationID string `json:"correlation_id"`
	AccountID     string `json:"account_id"`
	Balance       int64  `json:"balance"`
}

func handleTransfer(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Transfers == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "transfers_unavailable")
			return
		}

		var req transfer.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		res, err := deps.Transfers.Execute(r.Context(), req)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, transferResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Transfer:      res,
		})
	}
}

func handleWithdrawal(deps Dependencies) http.HandlerFunc {
	return handleCashMovement(deps, func(deps Dependencies) cashMovementFn {
		return deps.Agents.Withdraw
	})
}

func handleDeposit(deps Dependencies) http.HandlerFunc {
	return handleCashMovement(deps, func(deps Dependencies) cashMovementFn {
		return deps.Agents.Deposit
	})
}

type cashMovementFn func(ctx context.Context, req agent.Request) (*agent.Result, error)

func handleCashMovement(deps Dependencies, pick func(Dependencies) cashMovementFn) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Agents == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "agents_unavailable")
			return
		}

		var req cashMovementRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		res, err := pick(deps)(r.Context(), agent.Request{
			UserID:         req.UserID,
			AgentID:        req.AgentID,
			Amount:         req.Amount,
			IdempotencyKey: req.IdempotencyKey,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, cashMovementResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Movement:      res,
		})
	}
}

func handleCreateAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Accounts == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "accounts_unavailable")
			return
		}

		var req createAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
			return
		}

		account, err := deps.Accounts.CreateAccount(r.Context(), ledger.CreateAccountRequest{
			Phone:   security.SanitizePhone(req.Phone),
			Name:    req.Name,
			Role:    ledger.Role(req.Role),
			Country: req.Country,
		})
		if err != nil {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_account")
			return
		}

		writeJSON(w, r, http.StatusCreated, createAccountResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Account:       account,
		})
	}
}

func handleBalance(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Accounts == nil {
			security.WriteJSONError(w, r, http.StatusServiceUnavailable, "accounts_unavailable")
			return
		}

		accountID := chi.URLParam(r, "accountID")
		balance, err := deps.Accounts.GetBalance(r.Context(), accountID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, balanceResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			AccountID:     accountID,
			Balance:       balance,
		})
	}
}
