package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/moneyflow/engine/internal/agent"
	"github.com/moneyflow/engine/internal/ledger"
	"github.com/moneyflow/engine/internal/security"
	"github.com/moneyflow/engine/internal/transfer"
	"github.com/moneyflow/engine/pkg/audit"
)

// Recorder is the audit sink for request-level events.
type Recorder interface {
	Record(ctx context.Context, actorID, eventType string, severity audit.Severity, payload map[string]any)
}

type Dependencies struct {
	Logger *slog.Logger

	Transfers interface {
		Execute(ctx context.Context, req transfer.Request) (*transfer.Result, error)
	}
	Agents interface {
		Withdraw(ctx context.Context, req agent.Request) (*agent.Result, error)
		Deposit(ctx context.Context, req agent.Request) (*agent.Result, error)
	}
	Accounts interface {
		CreateAccount(ctx context.Context, req ledger.CreateAccountRequest) (*ledger.Account, error)
		GetBalance(ctx context.Context, accountID string) (int64, error)
	}

	Recorder     Recorder
	MaxBodyBytes int64
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	transferV, err := security.NewJSONSchemaValidator(transferSchema)
	if err != nil {
		return nil, err
	}
	cashMovementV, err := security.NewJSONSchemaValidator(cashMovementSchema)
	if err != nil {
		return nil, err
	}
	createAccountV, err := security.NewJSONSchemaValidator(createAccountSchema)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	if deps.Recorder != nil {
		r.Use(AuditMiddleware(deps.Recorder))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", func(r chi.Router) {
		r.With(transferV.Middleware).Post("/transfers", handleTransfer(deps))
		r.With(cashMovementV.Middleware).Post("/withdrawals", handleWithdrawal(deps))
		r.With(cashMovementV.Middleware).Post("/deposits", handleDeposit(deps))

		r.Route("/accounts", func(r chi.Router) {
			// the mount serves both /v1/accounts and /v1/accounts/
			r.With(createAccountV.Middleware).Post("/", handleCreateAccount(deps))
			r.Get("/{accountID}/balance", handleBalance(deps))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}
