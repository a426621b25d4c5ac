package models

import (
	"strings"
	"time"
)

// SpotPrice is the fiat valuation of one whole unit of an asset.
// Prices feed derived fiat amounts only and are never persisted.
type SpotPrice struct {
	Asset     AssetID   `json:"asset"`
	Symbol    string    `json:"symbol"`
	Currency  string    `json:"currency"`
	Price     string    `json:"price"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PriceKey identifies a spot price by asset and fiat currency
type PriceKey struct {
	Asset    AssetID
	Currency string
}

// Key returns the price's (asset, currency) key with the currency uppercased
func (p SpotPrice) Key() PriceKey {
	return PriceKey{Asset: p.Asset, Currency: strings.ToUpper(p.Currency)}
}
