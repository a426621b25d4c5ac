package store

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/wallet-sync/internal/models"
)

// State is an immutable snapshot of every entity the wallet knows about.
// A *State returned by the store is never modified afterwards; each applied
// patch produces a new State sharing untouched maps with its predecessor.
type State struct {
	revision uint64

	accounts     map[models.AccountID]models.Account
	accountOrder []models.AccountID

	networks      map[models.NetworkKey]models.Network
	networkOrder  []models.NetworkKey
	activeNetwork *models.NetworkKey

	assets     map[models.AssetID]models.Asset
	assetOrder []models.AssetID

	balances map[models.BalanceKey]models.BalanceFact
	prices   map[models.PriceKey]models.SpotPrice

	txs     map[string]models.Transaction
	txOrder []string

	locked   bool
	selected *models.AccountID
}

func emptyState() *State {
	return &State{
		accounts: map[models.AccountID]models.Account{},
		networks: map[models.NetworkKey]models.Network{},
		assets:   map[models.AssetID]models.Asset{},
		balances: map[models.BalanceKey]models.BalanceFact{},
		prices:   map[models.PriceKey]models.SpotPrice{},
		txs:      map[string]models.Transaction{},
	}
}

// Revision increments once per patch that changed the state
func (s *State) Revision() uint64 { return s.revision }

// Locked reports the keyring lock state
func (s *State) Locked() bool { return s.locked }

// ActiveNetwork returns the active network, if any
func (s *State) ActiveNetwork() (models.NetworkKey, bool) {
	if s.activeNetwork == nil {
		return models.NetworkKey{}, false
	}
	return *s.activeNetwork, true
}

// SelectedAccount returns the selected account, if any
func (s *State) SelectedAccount() (models.AccountID, bool) {
	if s.selected == nil {
		return models.AccountID{}, false
	}
	return *s.selected, true
}

// Account looks up an account by identifier
func (s *State) Account(id models.AccountID) (models.Account, bool) {
	acc, ok := s.accounts[id.Normalized()]
	return acc, ok
}

// Accounts returns accounts in the order the keyring reported them
func (s *State) Accounts() []models.Account {
	out := make([]models.Account, 0, len(s.accountOrder))
	for _, id := range s.accountOrder {
		out = append(out, s.accounts[id])
	}
	return out
}

// Network looks up a network by key
func (s *State) Network(key models.NetworkKey) (models.Network, bool) {
	n, ok := s.networks[key.Normalized()]
	return n, ok
}

// Networks returns the known networks in backend order
func (s *State) Networks() []models.Network {
	out := make([]models.Network, 0, len(s.networkOrder))
	for _, key := range s.networkOrder {
		out = append(out, s.networks[key])
	}
	return out
}

// Asset looks up an asset by identifier
func (s *State) Asset(id models.AssetID) (models.Asset, bool) {
	a, ok := s.assets[id.Normalized()]
	return a, ok
}

// Assets returns tracked assets in insertion order
func (s *State) Assets() []models.Asset {
	out := make([]models.Asset, 0, len(s.assetOrder))
	for _, id := range s.assetOrder {
		out = append(out, s.assets[id])
	}
	return out
}

// Balance returns the balance fact for an (account, asset) pair
func (s *State) Balance(account models.AccountID, asset models.AssetID) (models.BalanceFact, bool) {
	b, ok := s.balances[models.BalanceKey{Account: account.Normalized(), Asset: asset.Normalized()}]
	return b, ok
}

// Balances returns every balance fact ordered by account then asset
func (s *State) Balances() []models.BalanceFact {
	out := make([]models.BalanceFact, 0, len(s.balances))
	for _, b := range s.balances {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].Account.String(), out[j].Account.String()
		if ai != aj {
			return ai < aj
		}
		return out[i].Asset.String() < out[j].Asset.String()
	})
	return out
}

// BalancesByAsset calls fn for every fact; iteration order is unspecified
func (s *State) BalancesByAsset(fn func(models.BalanceFact)) {
	for _, b := range s.balances {
		fn(b)
	}
}

// Price returns the spot price for an asset in a fiat currency
func (s *State) Price(asset models.AssetID, currency string) (models.SpotPrice, bool) {
	p, ok := s.prices[models.PriceKey{Asset: asset.Normalized(), Currency: strings.ToUpper(currency)}]
	return p, ok
}

// Prices returns every spot price ordered by asset then currency
func (s *State) Prices() []models.SpotPrice {
	out := make([]models.SpotPrice, 0, len(s.prices))
	for _, p := range s.prices {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := out[i].Asset.String(), out[j].Asset.String()
		if ai != aj {
			return ai < aj
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}

// Transaction looks up a transaction by id
func (s *State) Transaction(id string) (models.Transaction, bool) {
	tx, ok := s.txs[id]
	return tx, ok
}

// Transactions returns transactions oldest first
func (s *State) Transactions() []models.Transaction {
	out := make([]models.Transaction, 0, len(s.txOrder))
	for _, id := range s.txOrder {
		out = append(out, s.txs[id])
	}
	return out
}

// Export is the serializable form of a State
type Export struct {
	Revision        uint64               `json:"revision"`
	Locked          bool                 `json:"locked"`
	ActiveNetwork   *models.NetworkKey   `json:"activeNetwork,omitempty"`
	SelectedAccount *models.AccountID    `json:"selectedAccount,omitempty"`
	Accounts        []models.Account     `json:"accounts"`
	Networks        []models.Network     `json:"networks"`
	Assets          []models.Asset       `json:"assets"`
	Balances        []models.BalanceFact `json:"balances"`
	Prices          []models.SpotPrice   `json:"prices"`
	Transactions    []models.Transaction `json:"transactions"`
}

// Export copies the snapshot into plain values
func (s *State) Export() Export {
	e := Export{
		Revision:     s.revision,
		Locked:       s.locked,
		Accounts:     s.Accounts(),
		Networks:     s.Networks(),
		Assets:       s.Assets(),
		Balances:     s.Balances(),
		Prices:       s.Prices(),
		Transactions: s.Transactions(),
	}
	if s.activeNetwork != nil {
		key := *s.activeNetwork
		e.ActiveNetwork = &key
	}
	if s.selected != nil {
		id := *s.selected
		e.SelectedAccount = &id
	}
	return e
}

// MarshalJSON encodes the snapshot
func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Export())
}
