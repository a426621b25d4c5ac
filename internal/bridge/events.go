// Package bridge folds backend push notifications into the entity store.
// Every notification is decoded into one of a closed set of event variants
// at the boundary; handlers translate variants into store patches.
package bridge

import (
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/types"
)

// Kind names a notification variant on the wire
type Kind string

const (
	KindAccountsChanged        Kind = "accountsChanged"
	KindSelectedAccountChanged Kind = "selectedAccountChanged"
	KindActiveNetworkChanged   Kind = "activeNetworkChanged"
	KindNetworksChanged        Kind = "networksChanged"
	KindLockStateChanged       Kind = "lockStateChanged"
	KindLocked                 Kind = "locked"
	KindUnlocked               Kind = "unlocked"
	KindTransactionAdded       Kind = "transactionAdded"
	KindTransactionUpdated     Kind = "transactionUpdated"
	KindBalancesUpdated        Kind = "balancesUpdated"
	KindPricesUpdated          Kind = "pricesUpdated"
	KindAssetsChanged          Kind = "assetsChanged"
)

// Event is a decoded backend notification
type Event interface {
	Kind() Kind
	event()
}

// AccountsChanged carries the keyring's full account list
type AccountsChanged struct {
	Accounts []models.Account
}

// SelectedAccountChanged carries the newly selected account; nil clears it
type SelectedAccountChanged struct {
	ID *models.AccountID
}

// ActiveNetworkChanged carries the newly active network; nil clears it
type ActiveNetworkChanged struct {
	Key *models.NetworkKey
}

// NetworksChanged carries the full network list
type NetworksChanged struct {
	Networks []models.Network
}

// LockStateChanged reports the keyring locking or unlocking
type LockStateChanged struct {
	Locked bool
}

// TransactionAdded reports a new transaction
type TransactionAdded struct {
	Tx models.Transaction
}

// TransactionUpdated reports a status change of a known transaction
type TransactionUpdated struct {
	ID     string
	Status types.TransactionStatus
	TxHash string
}

// BalancesUpdated carries fresh balance facts
type BalancesUpdated struct {
	Facts []models.BalanceFact
}

// PricesUpdated carries fresh spot prices
type PricesUpdated struct {
	Prices []models.SpotPrice
}

// AssetsChanged carries user-asset list additions and edits
type AssetsChanged struct {
	Assets []models.Asset
}

func (AccountsChanged) Kind() Kind        { return KindAccountsChanged }
func (SelectedAccountChanged) Kind() Kind { return KindSelectedAccountChanged }
func (ActiveNetworkChanged) Kind() Kind   { return KindActiveNetworkChanged }
func (NetworksChanged) Kind() Kind        { return KindNetworksChanged }
func (LockStateChanged) Kind() Kind       { return KindLockStateChanged }
func (TransactionAdded) Kind() Kind       { return KindTransactionAdded }
func (TransactionUpdated) Kind() Kind     { return KindTransactionUpdated }
func (BalancesUpdated) Kind() Kind        { return KindBalancesUpdated }
func (PricesUpdated) Kind() Kind          { return KindPricesUpdated }
func (AssetsChanged) Kind() Kind          { return KindAssetsChanged }

func (AccountsChanged) event()        {}
func (SelectedAccountChanged) event() {}
func (ActiveNetworkChanged) event()   {}
func (NetworksChanged) event()        {}
func (LockStateChanged) event()       {}
func (TransactionAdded) event()       {}
func (TransactionUpdated) event()     {}
func (BalancesUpdated) event()        {}
func (PricesUpdated) event()          {}
func (AssetsChanged) event()          {}
