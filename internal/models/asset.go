package models

import (
	"fmt"
	"strings"

	"github.com/wallet-sync/internal/types"
)

// AssetID identifies a token. An empty Contract marks the network's native asset.
type AssetID struct {
	Contract string         `json:"contractAddress"`
	ChainID  types.ChainID  `json:"chainId"`
	Coin     types.CoinType `json:"coin"`
	TokenID  string         `json:"tokenId,omitempty"`
}

// String returns <coin>:<chain>:<contract|native>[:<tokenId>]
func (id AssetID) String() string {
	contract := id.Contract
	if contract == "" {
		contract = "native"
	}
	if id.TokenID != "" {
		return fmt.Sprintf("%d:%s:%s:%s", int(id.Coin), id.ChainID, contract, id.TokenID)
	}
	return fmt.Sprintf("%d:%s:%s", int(id.Coin), id.ChainID, contract)
}

// IsNative reports whether the asset is the network's native currency
func (id AssetID) IsNative() bool {
	return id.Contract == ""
}

// Network returns the key of the network the asset lives on
func (id AssetID) Network() NetworkKey {
	return NetworkKey{ChainID: id.ChainID, Coin: id.Coin}
}

// Normalized returns the identifier with contract and chain in canonical form
func (id AssetID) Normalized() AssetID {
	id.Contract = NormalizeAddress(id.Coin, id.Contract)
	id.ChainID = types.NormalizeChainID(string(id.ChainID))
	id.TokenID = strings.TrimSpace(id.TokenID)
	return id
}

// Asset represents a token the user tracks
type Asset struct {
	ID       AssetID `json:"id"`
	Name     string  `json:"name"`
	Symbol   string  `json:"symbol"`
	Decimals int32   `json:"decimals"`
	Visible  bool    `json:"visible"`
	IsNFT    bool    `json:"isNft"`
}
