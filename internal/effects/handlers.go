package effects

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/moneyflow/engine/internal/ledger"
)

// CommissionStore is the slice of the ledger store the commission
// handler needs.
type CommissionStore interface {
	CreditCommission(ctx context.Context, entry ledger.CommissionEntry) (bool, error)
}

// CommissionHandler delivers a CommissionPayload to the agent's
// commission balance. The store dedupes on (source transaction, type),
// so a redelivered effect is acknowledged without a second credit.
func CommissionHandler(store CommissionStore, logger *slog.Logger) Handler {
	return func(ctx context.Context, payload []byte) error {
		var p CommissionPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("failed to decode commission payload: %w", err)
		}
		applied, err := store.CreditCommission(ctx, ledger.CommissionEntry{
			AgentID:             p.AgentID,
			Amount:              p.Amount,
			SourceTransactionID: p.SourceTransactionID,
			Type:                p.SourceType,
		})
		if err != nil {
			return err
		}
		if !applied {
			logger.Info("commission already credited, skipping",
				"agent_id", p.AgentID, "source_transaction_id", p.SourceTransactionID)
		}
		return nil
	}
}
