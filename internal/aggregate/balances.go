// Package aggregate derives portfolio views from a store snapshot. Every
// function here is pure: it reads a snapshot and never writes to the store.
package aggregate

import (
	"github.com/shopspring/decimal"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/types"
)

// BalanceReader is the part of a snapshot balance aggregation needs
type BalanceReader interface {
	Balance(account models.AccountID, asset models.AssetID) (models.BalanceFact, bool)
}

// NetworkReader resolves a tracked network. Sources that implement it let
// a network's own testnet flag decide what "all networks" hides.
type NetworkReader interface {
	Network(key models.NetworkKey) (models.Network, bool)
}

// NetworkFilter restricts aggregation to one network or to all mainnets
type NetworkFilter struct {
	ChainID types.ChainID  `json:"chainId"`
	Coin    types.CoinType `json:"coin"`
}

// AllNetworks selects every non-test network
var AllNetworks = NetworkFilter{ChainID: types.ChainAll}

// IsAll reports whether the filter is the all-networks sentinel
func (f NetworkFilter) IsAll() bool {
	return f.ChainID == types.ChainAll || f.ChainID == ""
}

// Matches reports whether an asset lives on a network the filter selects.
// Localhost chain ids are reused across coin types, so they also match coin.
func (f NetworkFilter) Matches(asset models.AssetID) bool {
	return f.matches(nil, asset)
}

func (f NetworkFilter) matches(networks NetworkReader, asset models.AssetID) bool {
	if f.IsAll() {
		if networks != nil {
			if n, ok := networks.Network(models.NetworkKey{ChainID: asset.ChainID, Coin: asset.Coin}); ok {
				return !n.IsTestnet
			}
		}
		return !types.IsTestNetwork(asset.Coin, asset.ChainID)
	}
	chain := types.NormalizeChainID(string(f.ChainID))
	if chain == types.ChainLocalhost {
		return asset.ChainID == chain && asset.Coin == f.Coin
	}
	return asset.ChainID == chain
}

// AssetTotal is the summed balance of one asset across accounts, in base units
type AssetTotal struct {
	Asset    models.Asset `json:"asset"`
	Total    string       `json:"total"`
	Accounts int          `json:"accounts"`
}

// AggregateBalances sums, per asset, the balance facts of the given accounts.
// Only accounts of the asset's coin type contribute. Assets the filter
// excludes are skipped; an asset no account can hold still yields a "0" row.
func AggregateBalances(src BalanceReader, accounts []models.AccountID, assets []models.Asset, filter NetworkFilter) []AssetTotal {
	networks, _ := src.(NetworkReader)
	out := make([]AssetTotal, 0, len(assets))
	for _, asset := range assets {
		if !filter.matches(networks, asset.ID) {
			continue
		}

		total := decimal.Zero
		matched := 0
		for _, acc := range accounts {
			if acc.Coin != asset.ID.Coin {
				continue
			}
			matched++
			fact, ok := src.Balance(acc, asset.ID)
			if !ok {
				continue
			}
			amount, err := decimal.NewFromString(fact.Amount)
			if err != nil {
				// facts are normalized on write
				continue
			}
			total = total.Add(amount)
		}

		out = append(out, AssetTotal{
			Asset:    asset,
			Total:    total.String(),
			Accounts: matched,
		})
	}
	return out
}
