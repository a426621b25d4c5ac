package models

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

// BalanceKey identifies a balance fact
type BalanceKey struct {
	Account AccountID
	Asset   AssetID
}

// BalanceFact is the amount of an asset held by an account, in base units.
// Amount is an arbitrary-precision decimal string.
type BalanceFact struct {
	Account AccountID `json:"account"`
	Asset   AssetID   `json:"asset"`
	Amount  string    `json:"amount"`
}

// Key returns the fact's (account, asset) key
func (b BalanceFact) Key() BalanceKey {
	return BalanceKey{Account: b.Account, Asset: b.Asset}
}

// NormalizeAmount converts a base-unit amount to its canonical decimal string.
// Hex quantities ("0x...") as emitted by JSON-RPC services are accepted.
func NormalizeAmount(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty amount")
	}

	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		n, err := hexutil.DecodeBig("0x" + strings.TrimLeft(raw[2:], "0"))
		if err != nil {
			if strings.Trim(raw[2:], "0") == "" {
				return "0", nil
			}
			return "", fmt.Errorf("invalid hex amount %q: %w", raw, err)
		}
		return n.String(), nil
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return "", fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if d.IsNegative() {
		return "", fmt.Errorf("negative amount %q", raw)
	}
	return d.String(), nil
}
