package store

import (
	"maps"
	"slices"
	"sort"

	"github.com/wallet-sync/internal/models"
)

// Kind names an entity kind touched by a patch
type Kind string

const (
	KindAccount     Kind = "account"
	KindNetwork     Kind = "network"
	KindAsset       Kind = "asset"
	KindBalance     Kind = "balance"
	KindPrice       Kind = "price"
	KindTransaction Kind = "transaction"
	KindLock        Kind = "lock"
	KindSelection   Kind = "selection"
)

// Change describes one committed patch
type Change struct {
	Revision uint64              `json:"revision"`
	Op       string              `json:"op"`
	Kinds    []Kind              `json:"kinds"`
	Accounts []models.AccountID  `json:"accounts,omitempty"`
	Assets   []models.AssetID    `json:"assets,omitempty"`
	Networks []models.NetworkKey `json:"networks,omitempty"`
}

// Has reports whether the change touched kind
func (c Change) Has(kind Kind) bool {
	return slices.Contains(c.Kinds, kind)
}

// txn is the working copy a patch is applied to. Maps are shared with the
// base state until first written, then cloned once.
type txn struct {
	st        *State
	owned     map[string]bool
	retention int

	kinds    map[Kind]bool
	accounts map[models.AccountID]bool
	assets   map[models.AssetID]bool
	networks map[models.NetworkKey]bool
}

func newTxn(base *State, retention int) *txn {
	st := *base
	return &txn{
		st:        &st,
		owned:     map[string]bool{},
		retention: retention,
		kinds:     map[Kind]bool{},
		accounts:  map[models.AccountID]bool{},
		assets:    map[models.AssetID]bool{},
		networks:  map[models.NetworkKey]bool{},
	}
}

func (t *txn) own(name string) bool {
	if t.owned[name] {
		return false
	}
	t.owned[name] = true
	return true
}

func (t *txn) mutAccounts() {
	if t.own("accounts") {
		t.st.accounts = maps.Clone(t.st.accounts)
		t.st.accountOrder = slices.Clone(t.st.accountOrder)
	}
}

func (t *txn) mutNetworks() {
	if t.own("networks") {
		t.st.networks = maps.Clone(t.st.networks)
		t.st.networkOrder = slices.Clone(t.st.networkOrder)
	}
}

func (t *txn) mutAssets() {
	if t.own("assets") {
		t.st.assets = maps.Clone(t.st.assets)
		t.st.assetOrder = slices.Clone(t.st.assetOrder)
	}
}

func (t *txn) mutBalances() {
	if t.own("balances") {
		t.st.balances = maps.Clone(t.st.balances)
	}
}

func (t *txn) mutPrices() {
	if t.own("prices") {
		t.st.prices = maps.Clone(t.st.prices)
	}
}

func (t *txn) mutTxs() {
	if t.own("txs") {
		t.st.txs = maps.Clone(t.st.txs)
		t.st.txOrder = slices.Clone(t.st.txOrder)
	}
}

func (t *txn) touch(kind Kind) { t.kinds[kind] = true }

func (t *txn) touchAccount(id models.AccountID) {
	t.kinds[KindAccount] = true
	t.accounts[id] = true
}

func (t *txn) touchAsset(id models.AssetID) {
	t.kinds[KindAsset] = true
	t.assets[id] = true
}

func (t *txn) touchBalance(b models.BalanceKey) {
	t.kinds[KindBalance] = true
	t.accounts[b.Account] = true
	t.assets[b.Asset] = true
}

func (t *txn) touchNetwork(key models.NetworkKey) {
	t.kinds[KindNetwork] = true
	t.networks[key] = true
}

func (t *txn) changed() bool { return len(t.kinds) > 0 }

func (t *txn) change(op string, revision uint64) Change {
	c := Change{Revision: revision, Op: op}
	for k := range t.kinds {
		c.Kinds = append(c.Kinds, k)
	}
	sort.Slice(c.Kinds, func(i, j int) bool { return c.Kinds[i] < c.Kinds[j] })
	for id := range t.accounts {
		c.Accounts = append(c.Accounts, id)
	}
	sort.Slice(c.Accounts, func(i, j int) bool { return c.Accounts[i].String() < c.Accounts[j].String() })
	for id := range t.assets {
		c.Assets = append(c.Assets, id)
	}
	sort.Slice(c.Assets, func(i, j int) bool { return c.Assets[i].String() < c.Assets[j].String() })
	for key := range t.networks {
		c.Networks = append(c.Networks, key)
	}
	sort.Slice(c.Networks, func(i, j int) bool { return c.Networks[i].String() < c.Networks[j].String() })
	return c
}

// dropBalances removes every fact whose key matches
func (t *txn) dropBalances(match func(models.BalanceKey) bool) {
	for key := range t.st.balances {
		if match(key) {
			t.mutBalances()
			delete(t.st.balances, key)
			t.touchBalance(key)
		}
	}
}

func (t *txn) removeAccount(id models.AccountID) {
	t.mutAccounts()
	delete(t.st.accounts, id)
	t.st.accountOrder = slices.DeleteFunc(t.st.accountOrder, func(x models.AccountID) bool { return x == id })
	t.touchAccount(id)
	t.dropBalances(func(k models.BalanceKey) bool { return k.Account == id })
	if t.st.selected != nil && *t.st.selected == id {
		t.st.selected = nil
		t.touch(KindSelection)
	}
}

func (t *txn) removeAsset(id models.AssetID) {
	t.mutAssets()
	delete(t.st.assets, id)
	t.st.assetOrder = slices.DeleteFunc(t.st.assetOrder, func(x models.AssetID) bool { return x == id })
	t.touchAsset(id)
	t.dropBalances(func(k models.BalanceKey) bool { return k.Asset == id })
}

// evictTransactions drops the oldest terminal transactions beyond retention
func (t *txn) evictTransactions() {
	retention := t.retention
	if retention <= 0 {
		return
	}
	terminal := 0
	for _, id := range t.st.txOrder {
		if t.st.txs[id].Status.IsTerminal() {
			terminal++
		}
	}
	excess := terminal - retention
	if excess <= 0 {
		return
	}
	t.mutTxs()
	kept := t.st.txOrder[:0]
	for _, id := range t.st.txOrder {
		if excess > 0 && t.st.txs[id].Status.IsTerminal() {
			delete(t.st.txs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	t.st.txOrder = kept
	t.touch(KindTransaction)
}
