// Package models provides the normalized wallet entities held by the store.
package models

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/wallet-sync/internal/types"
)

// Keyring identifiers owned by the backend keyring service
const (
	KeyringDefault         = "default"
	KeyringSolana          = "solana"
	KeyringFilecoin        = "filecoin"
	KeyringFilecoinTestnet = "filecoin_testnet"
	KeyringBitcoin         = "bitcoin84"
)

// AccountID identifies an account; immutable for the lifetime of the account
type AccountID struct {
	Address   string         `json:"address"`
	Coin      types.CoinType `json:"coin"`
	KeyringID string         `json:"keyringId"`
}

// String returns a stable textual key: <coin>:<keyring>:<address>
func (id AccountID) String() string {
	return fmt.Sprintf("%d:%s:%s", int(id.Coin), id.KeyringID, id.Address)
}

// IsZero reports whether the identifier is empty
func (id AccountID) IsZero() bool {
	return id.Address == "" && id.KeyringID == ""
}

// Normalized returns the identifier with its address in canonical form
func (id AccountID) Normalized() AccountID {
	id.Address = NormalizeAddress(id.Coin, id.Address)
	id.KeyringID = strings.TrimSpace(id.KeyringID)
	return id
}

// Account represents a wallet account owned by a keyring
type Account struct {
	ID      AccountID `json:"id"`
	Name    string    `json:"name"`
	Keyring string    `json:"keyring"`
}

// NormalizeAddress returns the canonical address form for a coin type.
// EVM addresses are lowercased hex; other coins are case sensitive and only trimmed.
func NormalizeAddress(coin types.CoinType, address string) string {
	address = strings.TrimSpace(address)
	if coin == types.CoinETH && common.IsHexAddress(address) {
		return strings.ToLower(common.HexToAddress(address).Hex())
	}
	return address
}

// KeyringIDFor returns the keyring that derives new accounts for a coin/chain pair
func KeyringIDFor(coin types.CoinType, chain types.ChainID) string {
	switch coin {
	case types.CoinSOL:
		return KeyringSolana
	case types.CoinFIL:
		if chain == types.ChainFilecoinTestnet || chain == types.ChainLocalhost {
			return KeyringFilecoinTestnet
		}
		return KeyringFilecoin
	case types.CoinBTC:
		return KeyringBitcoin
	default:
		return KeyringDefault
	}
}

// SuggestAccountName proposes "<Coin> Account N" where N is one past the number
// of existing accounts of the same coin type
func SuggestAccountName(existing []Account, coin types.CoinType) string {
	count := 0
	for _, acc := range existing {
		if acc.ID.Coin == coin {
			count++
		}
	}
	prefix := "Account"
	if coin != types.CoinETH {
		prefix = coin.String() + " Account"
	}
	return fmt.Sprintf("%s %d", prefix, count+1)
}
