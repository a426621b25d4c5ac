// Package backend is the outbound side of the wallet core: typed calls to
// the keyring, network, transaction and wallet services over JSON-RPC.
package backend

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/wallet-sync/internal/errors"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/types"
)

// Backend is the set of backend service calls the core makes. Reads are
// idempotent and may be retried; mutations are issued exactly once.
type Backend interface {
	// keyring
	CreateAccount(ctx context.Context, req CreateAccountRequest) (models.Account, error)
	Unlock(ctx context.Context, password string) (bool, error)
	RemoveAccount(ctx context.Context, id models.AccountID) error
	RenameAccount(ctx context.Context, id models.AccountID, name string) error
	SelectAccount(ctx context.Context, id models.AccountID) error

	// network
	SetNetwork(ctx context.Context, key models.NetworkKey) error

	// transactions
	SubmitTransaction(ctx context.Context, req SubmitTransactionRequest) (models.Transaction, error)
	ApproveTransaction(ctx context.Context, id string) error
	RejectTransaction(ctx context.Context, id string) error
	RetryTransaction(ctx context.Context, id string) (models.Transaction, error)
	SpeedUpTransaction(ctx context.Context, id string) (models.Transaction, error)
	CancelTransaction(ctx context.Context, id string) (models.Transaction, error)

	// user asset list
	AddUserAsset(ctx context.Context, asset models.Asset) error
	RemoveUserAsset(ctx context.Context, id models.AssetID) error
	SetUserAssetVisible(ctx context.Context, id models.AssetID, visible bool) error

	// reads
	GetAccounts(ctx context.Context) ([]models.Account, error)
	GetNetworks(ctx context.Context) ([]models.Network, error)
	GetAssets(ctx context.Context) ([]models.Asset, error)
	GetBalances(ctx context.Context, req BalancesRequest) ([]models.BalanceFact, error)
	GetPrices(ctx context.Context, req PricesRequest) ([]models.SpotPrice, error)
}

// CreateAccountRequest asks the keyring to derive a new account
type CreateAccountRequest struct {
	Name      string         `json:"name"`
	Coin      types.CoinType `json:"coin"`
	KeyringID string         `json:"keyringId"`
	ChainID   types.ChainID  `json:"chainId,omitempty"`
}

// SubmitTransactionRequest hands an unsigned transaction to the tx service
type SubmitTransactionRequest struct {
	From    models.AccountID  `json:"from"`
	Network models.NetworkKey `json:"network"`
	Payload json.RawMessage   `json:"payload"`
}

// BalancesRequest selects the (account, asset) pairs to read
type BalancesRequest struct {
	Accounts []models.AccountID `json:"accounts"`
	Assets   []models.AssetID   `json:"assets"`
}

// PricesRequest selects the assets to price in one fiat currency
type PricesRequest struct {
	Assets   []models.AssetID `json:"assets"`
	Symbols  []string         `json:"symbols,omitempty"`
	Currency string           `json:"currency"`
}

// CallError is a failed backend call. The underlying error is kept so
// callers can match it with errors.Is / errors.As.
type CallError struct {
	Method   string
	Endpoint string
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Method, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// ErrorCategory reports backend failures to the error taxonomy
func (e *CallError) ErrorCategory() apperrors.ErrorCategory {
	return apperrors.CategoryBackend
}
