package aggregate

import (
	"encoding/json"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/types"
)

// AssetRef carries the asset fields fiat valuation needs
type AssetRef struct {
	Symbol   string
	Decimals int32
	Contract string
	ChainID  types.ChainID
	// Coin tells apart assets on the Localhost chain id, which every coin
	// type reuses
	Coin types.CoinType
}

// RefOf builds an AssetRef from a stored asset
func RefOf(a models.Asset) AssetRef {
	return AssetRef{
		Symbol:   a.Symbol,
		Decimals: a.Decimals,
		Contract: a.ID.Contract,
		ChainID:  a.ID.ChainID,
		Coin:     a.ID.Coin,
	}
}

// FiatAmount is a fiat valuation. Unavailable means no price was known,
// which is different from a zero value.
type FiatAmount struct {
	Value       decimal.Decimal
	Currency    string
	Unavailable bool
}

// UnavailableText is how an unavailable amount renders
const UnavailableText = "unavailable"

func (f FiatAmount) String() string {
	if f.Unavailable {
		return UnavailableText
	}
	return f.Value.String()
}

// Display formats the amount for humans, e.g. "$1,234.57"
func (f FiatAmount) Display() string {
	if f.Unavailable {
		return UnavailableText
	}
	return FormatFiat(f.Value, f.Currency)
}

// MarshalJSON encodes an unavailable amount as a null value
func (f FiatAmount) MarshalJSON() ([]byte, error) {
	out := struct {
		Value       *string `json:"value"`
		Display     string  `json:"display"`
		Currency    string  `json:"currency"`
		Unavailable bool    `json:"unavailable,omitempty"`
	}{Currency: f.Currency, Unavailable: f.Unavailable, Display: f.Display()}
	if !f.Unavailable {
		v := f.Value.String()
		out.Value = &v
	}
	return json.Marshal(out)
}

// FindPrice looks up the price of an asset in a currency: first by contract
// and chain (and coin on Localhost), then by case-insensitive symbol.
func FindPrice(ref AssetRef, prices []models.SpotPrice, currency string) (models.SpotPrice, bool) {
	contract := strings.ToLower(ref.Contract)
	chain := types.NormalizeChainID(string(ref.ChainID))

	for _, p := range prices {
		if !strings.EqualFold(p.Currency, currency) {
			continue
		}
		if strings.ToLower(p.Asset.Contract) != contract || types.NormalizeChainID(string(p.Asset.ChainID)) != chain {
			continue
		}
		if chain == types.ChainLocalhost && p.Asset.Coin != ref.Coin {
			continue
		}
		return p, true
	}
	if ref.Symbol == "" {
		return models.SpotPrice{}, false
	}
	for _, p := range prices {
		if strings.EqualFold(p.Currency, currency) && strings.EqualFold(p.Symbol, ref.Symbol) {
			return p, true
		}
	}
	return models.SpotPrice{}, false
}

// ComputeFiatAmount values a base-unit amount: amount / 10^decimals * price.
// It returns an Unavailable amount when no price matches or the amount is
// not a number.
func ComputeFiatAmount(amount string, ref AssetRef, prices []models.SpotPrice, currency string) FiatAmount {
	currency = strings.ToUpper(currency)
	unavailable := FiatAmount{Currency: currency, Unavailable: true}

	price, ok := FindPrice(ref, prices, currency)
	if !ok {
		return unavailable
	}
	p, err := decimal.NewFromString(price.Price)
	if err != nil {
		return unavailable
	}
	a, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return unavailable
	}

	return FiatAmount{
		Value:    a.Shift(-ref.Decimals).Mul(p),
		Currency: currency,
	}
}

// FormatFiat renders a major-unit value in a currency, rounded to the
// currency's minor unit. Unknown currencies fall back to two decimals.
func FormatFiat(value decimal.Decimal, currency string) string {
	cur := money.GetCurrency(strings.ToUpper(currency))
	if cur == nil {
		return value.StringFixed(2) + " " + strings.ToUpper(currency)
	}
	minor := value.Shift(int32(cur.Fraction)).Round(0)
	return money.New(minor.IntPart(), cur.Code).Display()
}
