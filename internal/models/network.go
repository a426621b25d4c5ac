package models

import (
	"fmt"

	"github.com/wallet-sync/internal/types"
)

// NetworkKey is the composite identifier of a network
type NetworkKey struct {
	ChainID types.ChainID  `json:"chainId"`
	Coin    types.CoinType `json:"coin"`
}

// String returns <coin>:<chain>
func (k NetworkKey) String() string {
	return fmt.Sprintf("%d:%s", int(k.Coin), k.ChainID)
}

// Network represents a blockchain network known to the wallet.
// Networks are never mutated in place; the set is replaced wholesale.
type Network struct {
	Key          NetworkKey `json:"key"`
	Name         string     `json:"name"`
	RPCEndpoints []string   `json:"rpcEndpoints"`
	Symbol       string     `json:"symbol"`
	SymbolName   string     `json:"symbolName"`
	Decimals     int32      `json:"decimals"`
	IsTestnet    bool       `json:"isTestnet"`
}

// NativeAsset returns the asset describing the network's native currency
func (n Network) NativeAsset() Asset {
	return Asset{
		ID: AssetID{
			ChainID: n.Key.ChainID,
			Coin:    n.Key.Coin,
		},
		Name:     n.SymbolName,
		Symbol:   n.Symbol,
		Decimals: n.Decimals,
		Visible:  true,
	}
}

// Normalized returns the key with its chain id in canonical form
func (k NetworkKey) Normalized() NetworkKey {
	k.ChainID = types.NormalizeChainID(string(k.ChainID))
	return k
}
