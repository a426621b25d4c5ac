package models

import (
	"encoding/json"
	"time"

	"github.com/wallet-sync/internal/types"
)

// Transaction represents a wallet transaction and its lifecycle status.
// A retry or speed-up creates a new Transaction whose ReplacesID points at the original.
type Transaction struct {
	ID         string                  `json:"id"`
	From       AccountID               `json:"from"`
	Network    NetworkKey              `json:"network"`
	Status     types.TransactionStatus `json:"status"`
	TxHash     string                  `json:"txHash,omitempty"`
	Payload    json.RawMessage         `json:"payload,omitempty"` // coin-specific transaction data
	ReplacesID string                  `json:"replacesId,omitempty"`
	CreatedAt  time.Time               `json:"createdAt"`
	UpdatedAt  time.Time               `json:"updatedAt"`
}

// IsTerminal reports whether the transaction reached a final status
func (t *Transaction) IsTerminal() bool {
	return t.Status.IsTerminal()
}
