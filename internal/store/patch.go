package store

import (
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/types"
)

// Patch is one atomic store mutation. The set of patches is closed; every
// writer goes through Store.Apply.
type Patch interface {
	Op() string
	apply(t *txn) error
}

// PutAccount inserts a new account
type PutAccount struct {
	Account models.Account
}

func (PutAccount) Op() string { return "put_account" }

func (p PutAccount) apply(t *txn) error {
	acc := p.Account
	acc.ID = acc.ID.Normalized()
	if acc.ID.Address == "" {
		return reject(p.Op(), ReasonInvalidValue, "account address is empty")
	}
	if _, exists := t.st.accounts[acc.ID]; exists {
		return reject(p.Op(), ReasonDuplicateID, "account %s already exists", acc.ID)
	}
	t.mutAccounts()
	t.st.accounts[acc.ID] = acc
	t.st.accountOrder = append(t.st.accountOrder, acc.ID)
	t.touchAccount(acc.ID)
	return nil
}

// RenameAccount replaces an account's display name
type RenameAccount struct {
	ID   models.AccountID
	Name string
}

func (RenameAccount) Op() string { return "rename_account" }

func (p RenameAccount) apply(t *txn) error {
	id := p.ID.Normalized()
	acc, ok := t.st.accounts[id]
	if !ok {
		return reject(p.Op(), ReasonUnknownAccount, "account %s", id)
	}
	if acc.Name == p.Name {
		return nil
	}
	acc.Name = p.Name
	t.mutAccounts()
	t.st.accounts[id] = acc
	t.touchAccount(id)
	return nil
}

// RemoveAccount deletes an account and every balance fact referencing it
type RemoveAccount struct {
	ID models.AccountID
}

func (RemoveAccount) Op() string { return "remove_account" }

func (p RemoveAccount) apply(t *txn) error {
	id := p.ID.Normalized()
	if _, ok := t.st.accounts[id]; !ok {
		return reject(p.Op(), ReasonUnknownAccount, "account %s", id)
	}
	t.removeAccount(id)
	return nil
}

// ReplaceAccounts reconciles the account set with the keyring's list.
// Accounts missing from the list are removed with their balance facts.
type ReplaceAccounts struct {
	Accounts []models.Account
}

func (ReplaceAccounts) Op() string { return "replace_accounts" }

func (p ReplaceAccounts) apply(t *txn) error {
	next := make(map[models.AccountID]models.Account, len(p.Accounts))
	order := make([]models.AccountID, 0, len(p.Accounts))
	for _, acc := range p.Accounts {
		acc.ID = acc.ID.Normalized()
		if acc.ID.Address == "" {
			return reject(p.Op(), ReasonInvalidValue, "account address is empty")
		}
		if _, dup := next[acc.ID]; dup {
			return reject(p.Op(), ReasonDuplicateID, "account %s listed twice", acc.ID)
		}
		next[acc.ID] = acc
		order = append(order, acc.ID)
	}

	// removeAccount rewrites accountOrder
	for _, id := range slices.Clone(t.st.accountOrder) {
		if _, keep := next[id]; !keep {
			t.removeAccount(id)
		}
	}
	for _, id := range order {
		if cur, ok := t.st.accounts[id]; ok && cur == next[id] {
			continue
		}
		t.mutAccounts()
		t.st.accounts[id] = next[id]
		t.touchAccount(id)
	}
	if !reflect.DeepEqual(t.st.accountOrder, order) && !(len(order) == 0 && len(t.st.accountOrder) == 0) {
		t.mutAccounts()
		t.st.accountOrder = order
		t.touch(KindAccount)
	}
	return nil
}

// ReplaceNetworks swaps the whole network set. Networks are never edited in
// place. The active network is cleared when it is no longer listed.
type ReplaceNetworks struct {
	Networks []models.Network
}

func (ReplaceNetworks) Op() string { return "replace_networks" }

func (p ReplaceNetworks) apply(t *txn) error {
	next := make(map[models.NetworkKey]models.Network, len(p.Networks))
	order := make([]models.NetworkKey, 0, len(p.Networks))
	for _, n := range p.Networks {
		n.Key = n.Key.Normalized()
		if n.Key.ChainID == "" {
			return reject(p.Op(), ReasonInvalidValue, "network chain id is empty")
		}
		if _, dup := next[n.Key]; dup {
			return reject(p.Op(), ReasonDuplicateID, "network %s listed twice", n.Key)
		}
		n.IsTestnet = n.IsTestnet || types.IsTestNetwork(n.Key.Coin, n.Key.ChainID)
		next[n.Key] = n
		order = append(order, n.Key)
	}

	if reflect.DeepEqual(next, t.st.networks) && reflect.DeepEqual(order, t.st.networkOrder) {
		return nil
	}
	if len(next) == 0 && len(t.st.networks) == 0 {
		return nil
	}

	for key, n := range t.st.networks {
		if nn, ok := next[key]; !ok || !reflect.DeepEqual(n, nn) {
			t.touchNetwork(key)
		}
	}
	for key := range next {
		if _, ok := t.st.networks[key]; !ok {
			t.touchNetwork(key)
		}
	}
	t.own("networks")
	t.st.networks = next
	t.st.networkOrder = order
	t.touch(KindNetwork)

	if t.st.activeNetwork != nil {
		if _, ok := next[*t.st.activeNetwork]; !ok {
			t.st.activeNetwork = nil
		}
	}
	return nil
}

// SetActiveNetwork selects the active network; nil clears it
type SetActiveNetwork struct {
	Key *models.NetworkKey
}

func (SetActiveNetwork) Op() string { return "set_active_network" }

func (p SetActiveNetwork) apply(t *txn) error {
	if p.Key == nil {
		if t.st.activeNetwork != nil {
			t.st.activeNetwork = nil
			t.touch(KindNetwork)
		}
		return nil
	}
	key := p.Key.Normalized()
	if _, ok := t.st.networks[key]; !ok {
		return reject(p.Op(), ReasonUnknownNetwork, "network %s", key)
	}
	if t.st.activeNetwork != nil && *t.st.activeNetwork == key {
		return nil
	}
	t.st.activeNetwork = &key
	t.touchNetwork(key)
	return nil
}

func (t *txn) checkAsset(op string, a models.Asset) (models.Asset, error) {
	a.ID = a.ID.Normalized()
	if a.ID.ChainID == "" {
		return a, reject(op, ReasonInvalidValue, "asset chain id is empty")
	}
	if a.Decimals < 0 {
		return a, reject(op, ReasonInvalidValue, "asset %s has negative decimals", a.ID)
	}
	if _, ok := t.st.networks[a.ID.Network()]; !ok {
		return a, reject(op, ReasonUnknownNetwork, "asset %s on network %s", a.ID, a.ID.Network())
	}
	return a, nil
}

// PutAsset inserts a new tracked asset
type PutAsset struct {
	Asset models.Asset
}

func (PutAsset) Op() string { return "put_asset" }

func (p PutAsset) apply(t *txn) error {
	a, err := t.checkAsset(p.Op(), p.Asset)
	if err != nil {
		return err
	}
	if _, exists := t.st.assets[a.ID]; exists {
		return reject(p.Op(), ReasonDuplicateID, "asset %s already exists", a.ID)
	}
	t.mutAssets()
	t.st.assets[a.ID] = a
	t.st.assetOrder = append(t.st.assetOrder, a.ID)
	t.touchAsset(a.ID)
	return nil
}

// UpsertAssets inserts assets or replaces all fields of existing ones
type UpsertAssets struct {
	Assets []models.Asset
}

func (UpsertAssets) Op() string { return "upsert_assets" }

func (p UpsertAssets) apply(t *txn) error {
	checked := make([]models.Asset, 0, len(p.Assets))
	for _, a := range p.Assets {
		a, err := t.checkAsset(p.Op(), a)
		if err != nil {
			return err
		}
		checked = append(checked, a)
	}
	for _, a := range checked {
		cur, exists := t.st.assets[a.ID]
		if exists && cur == a {
			continue
		}
		t.mutAssets()
		if !exists {
			t.st.assetOrder = append(t.st.assetOrder, a.ID)
		}
		t.st.assets[a.ID] = a
		t.touchAsset(a.ID)
	}
	return nil
}

// SetAssetVisibility toggles whether an asset shows in portfolio views
type SetAssetVisibility struct {
	ID      models.AssetID
	Visible bool
}

func (SetAssetVisibility) Op() string { return "set_asset_visibility" }

func (p SetAssetVisibility) apply(t *txn) error {
	id := p.ID.Normalized()
	a, ok := t.st.assets[id]
	if !ok {
		return reject(p.Op(), ReasonUnknownAsset, "asset %s", id)
	}
	if a.Visible == p.Visible {
		return nil
	}
	a.Visible = p.Visible
	t.mutAssets()
	t.st.assets[id] = a
	t.touchAsset(id)
	return nil
}

// RemoveAsset deletes an asset and every balance fact referencing it
type RemoveAsset struct {
	ID models.AssetID
}

func (RemoveAsset) Op() string { return "remove_asset" }

func (p RemoveAsset) apply(t *txn) error {
	id := p.ID.Normalized()
	if _, ok := t.st.assets[id]; !ok {
		return reject(p.Op(), ReasonUnknownAsset, "asset %s", id)
	}
	t.removeAsset(id)
	return nil
}

// UpsertBalances writes per-(account, asset) balance facts
type UpsertBalances struct {
	Facts []models.BalanceFact
}

func (UpsertBalances) Op() string { return "upsert_balances" }

func (p UpsertBalances) apply(t *txn) error {
	facts := make([]models.BalanceFact, 0, len(p.Facts))
	for _, f := range p.Facts {
		f.Account = f.Account.Normalized()
		f.Asset = f.Asset.Normalized()
		if _, ok := t.st.accounts[f.Account]; !ok {
			return reject(p.Op(), ReasonUnknownAccount, "account %s", f.Account)
		}
		if _, ok := t.st.assets[f.Asset]; !ok {
			return reject(p.Op(), ReasonUnknownAsset, "asset %s", f.Asset)
		}
		amount, err := models.NormalizeAmount(f.Amount)
		if err != nil {
			return reject(p.Op(), ReasonInvalidValue, "%v", err)
		}
		f.Amount = amount
		facts = append(facts, f)
	}
	for _, f := range facts {
		key := f.Key()
		if cur, ok := t.st.balances[key]; ok && cur == f {
			continue
		}
		t.mutBalances()
		t.st.balances[key] = f
		t.touchBalance(key)
	}
	return nil
}

// PutPrices upserts spot prices. Prices may reference assets the wallet does
// not track; they are matched by contract or symbol at valuation time.
type PutPrices struct {
	Prices []models.SpotPrice
}

func (PutPrices) Op() string { return "put_prices" }

func (p PutPrices) apply(t *txn) error {
	prices := make([]models.SpotPrice, 0, len(p.Prices))
	for _, sp := range p.Prices {
		sp.Asset = sp.Asset.Normalized()
		sp.Currency = strings.ToUpper(strings.TrimSpace(sp.Currency))
		if sp.Currency == "" {
			return reject(p.Op(), ReasonInvalidValue, "price for %s has no currency", sp.Asset)
		}
		d, err := decimal.NewFromString(sp.Price)
		if err != nil || d.IsNegative() {
			return reject(p.Op(), ReasonInvalidValue, "price %q for %s", sp.Price, sp.Asset)
		}
		sp.Price = d.String()
		prices = append(prices, sp)
	}
	for _, sp := range prices {
		key := sp.Key()
		if cur, ok := t.st.prices[key]; ok && cur.Price == sp.Price && cur.Symbol == sp.Symbol && cur.UpdatedAt.Equal(sp.UpdatedAt) {
			continue
		}
		t.mutPrices()
		t.st.prices[key] = sp
		t.touch(KindPrice)
		t.assets[sp.Asset] = true
	}
	return nil
}

// PutTransaction inserts a new transaction
type PutTransaction struct {
	Tx models.Transaction
}

func (PutTransaction) Op() string { return "put_transaction" }

func (p PutTransaction) apply(t *txn) error {
	tx := p.Tx
	tx.From = tx.From.Normalized()
	tx.Network = tx.Network.Normalized()
	if tx.ID == "" {
		return reject(p.Op(), ReasonInvalidValue, "transaction id is empty")
	}
	if tx.Status == "" {
		tx.Status = types.StatusUnapproved
	}
	if !tx.Status.IsValid() {
		return reject(p.Op(), ReasonInvalidValue, "transaction %s has status %q", tx.ID, tx.Status)
	}
	if _, exists := t.st.txs[tx.ID]; exists {
		return reject(p.Op(), ReasonDuplicateID, "transaction %s already exists", tx.ID)
	}
	if _, ok := t.st.accounts[tx.From]; !ok {
		return reject(p.Op(), ReasonUnknownAccount, "transaction %s from %s", tx.ID, tx.From)
	}
	if _, ok := t.st.networks[tx.Network]; !ok {
		return reject(p.Op(), ReasonUnknownNetwork, "transaction %s on %s", tx.ID, tx.Network)
	}
	t.mutTxs()
	t.st.txs[tx.ID] = tx
	t.st.txOrder = append(t.st.txOrder, tx.ID)
	t.touch(KindTransaction)
	t.accounts[tx.From] = true
	t.evictTransactions()
	return nil
}

// UpdateTransactionStatus advances a transaction's status. Regressions and
// moves out of a terminal status are rejected; repeating the current status
// is accepted as a no-op so replayed events stay idempotent.
type UpdateTransactionStatus struct {
	ID     string
	Status types.TransactionStatus
	TxHash string
	At     time.Time
}

func (UpdateTransactionStatus) Op() string { return "update_transaction_status" }

func (p UpdateTransactionStatus) apply(t *txn) error {
	tx, ok := t.st.txs[p.ID]
	if !ok {
		return reject(p.Op(), ReasonUnknownTransaction, "transaction %s", p.ID)
	}
	if !p.Status.IsValid() {
		return reject(p.Op(), ReasonInvalidValue, "status %q", p.Status)
	}
	if !tx.Status.CanTransitionTo(p.Status) {
		return reject(p.Op(), ReasonStatusRegression, "transaction %s: %s -> %s", p.ID, tx.Status, p.Status)
	}
	if tx.Status == p.Status && (p.TxHash == "" || p.TxHash == tx.TxHash) {
		return nil
	}
	tx.Status = p.Status
	if p.TxHash != "" {
		tx.TxHash = p.TxHash
	}
	if !p.At.IsZero() {
		tx.UpdatedAt = p.At
	}
	t.mutTxs()
	t.st.txs[p.ID] = tx
	t.touch(KindTransaction)
	t.accounts[tx.From] = true
	t.evictTransactions()
	return nil
}

// SetLocked records the keyring lock state
type SetLocked struct {
	Locked bool
}

func (SetLocked) Op() string { return "set_locked" }

func (p SetLocked) apply(t *txn) error {
	if t.st.locked != p.Locked {
		t.st.locked = p.Locked
		t.touch(KindLock)
	}
	return nil
}

// SetSelectedAccount selects an account; nil clears the selection
type SetSelectedAccount struct {
	ID *models.AccountID
}

func (SetSelectedAccount) Op() string { return "set_selected_account" }

func (p SetSelectedAccount) apply(t *txn) error {
	if p.ID == nil {
		if t.st.selected != nil {
			t.st.selected = nil
			t.touch(KindSelection)
		}
		return nil
	}
	id := p.ID.Normalized()
	if _, ok := t.st.accounts[id]; !ok {
		return reject(p.Op(), ReasonUnknownAccount, "account %s", id)
	}
	if t.st.selected != nil && *t.st.selected == id {
		return nil
	}
	t.st.selected = &id
	t.touch(KindSelection)
	t.accounts[id] = true
	return nil
}

// Batch applies several patches as one; any rejection discards them all
type Batch struct {
	Patches []Patch
}

func (Batch) Op() string { return "batch" }

func (p Batch) apply(t *txn) error {
	for _, sub := range p.Patches {
		if err := sub.apply(t); err != nil {
			return err
		}
	}
	return nil
}
