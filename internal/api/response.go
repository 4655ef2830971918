package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/moneyflow/engine/internal/ledger"
	"github.com/moneyflow/engine/internal/security"
	"github.com/moneyflow/engine/internal/transfer"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	cid := security.CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(security.CorrelationIDHeader, cid)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps the orchestration error taxonomy onto HTTP
// status codes and forwards the detail each typed error carries.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation   *transfer.ValidationError
		amount       *security.AmountError
		insufficient *transfer.InsufficientBalanceError
		limited      *security.RateLimitExceededError
		notFound     *ledger.AccountNotFoundError
		storage      *transfer.StorageError
		partial      *transfer.PartialFailureError
		reconcile    *transfer.ReconciliationRequiredError
	)
	switch {
	case errors.As(err, &validation):
		security.WriteJSONErrorDetail(w, r, http.StatusBadRequest, "validation_error",
			validation.Field, validation.Reason)
	case errors.As(err, &amount):
		security.WriteJSONErrorDetail(w, r, http.StatusBadRequest, "validation_error",
			"amount", amount.Reason)
	case errors.As(err, &insufficient):
		security.WriteJSONErrorDetail(w, r, http.StatusUnprocessableEntity, "insufficient_balance",
			"amount", fmt.Sprintf("account %s cannot cover %d", insufficient.AccountID, insufficient.Requested))
	case errors.As(err, &limited):
		security.WriteJSONErrorDetail(w, r, http.StatusTooManyRequests, "rate_limited",
			"", fmt.Sprintf("max %d %s attempts per %s", limited.Max, limited.Operation, limited.Window))
	case errors.As(err, &notFound):
		security.WriteJSONErrorDetail(w, r, http.StatusNotFound, "account_not_found",
			"", notFound.Ref)
	case errors.As(err, &storage):
		security.WriteJSONError(w, r, http.StatusServiceUnavailable, "storage_unavailable")
	case errors.As(err, &reconcile):
		security.WriteJSONErrorDetail(w, r, http.StatusInternalServerError, "movement_failed",
			"", fmt.Sprintf("account %s is owed %d pending reconciliation", reconcile.AccountID, reconcile.Amount))
	case errors.As(err, &partial):
		security.WriteJSONErrorDetail(w, r, http.StatusInternalServerError, "movement_failed",
			"", fmt.Sprintf("failed at %s, compensation %s", partial.FailedStep, partial.CompensationStatus))
	default:
		security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
	}
}
