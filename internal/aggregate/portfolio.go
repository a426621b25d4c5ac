package aggregate

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/wallet-sync/internal/models"
)

// Source is the read side of a store snapshot
type Source interface {
	BalanceReader
	Accounts() []models.Account
	Assets() []models.Asset
	Prices() []models.SpotPrice
}

// Query selects a portfolio view
type Query struct {
	// Accounts restricts the view; empty means every account
	Accounts      []models.AccountID
	Filter        NetworkFilter
	Currency      string
	IncludeHidden bool
}

// Row is one asset line of a portfolio view
type Row struct {
	Asset models.Asset `json:"asset"`
	// Total in base units
	Total string `json:"total"`
	// Amount in whole units
	Amount string     `json:"amount"`
	Fiat   FiatAmount `json:"fiat"`
}

// View is a filtered, valued and sorted portfolio
type View struct {
	Currency    string          `json:"currency"`
	Rows        []Row           `json:"rows"`
	FiatTotal   decimal.Decimal `json:"fiatTotal"`
	Display     string          `json:"display"`
	Unavailable int             `json:"unavailable"`
}

// Portfolio aggregates and values the snapshot's assets. Rows are ordered by
// fiat value descending, unpriced rows last, ties broken by symbol.
// Unpriced rows are excluded from FiatTotal and counted in Unavailable.
func Portfolio(src Source, q Query) View {
	accounts := q.Accounts
	if len(accounts) == 0 {
		for _, acc := range src.Accounts() {
			accounts = append(accounts, acc.ID)
		}
	}

	assets := make([]models.Asset, 0)
	for _, a := range src.Assets() {
		if a.Visible || q.IncludeHidden {
			assets = append(assets, a)
		}
	}

	currency := strings.ToUpper(q.Currency)
	prices := src.Prices()
	totals := AggregateBalances(src, accounts, assets, q.Filter)

	view := View{Currency: currency, Rows: make([]Row, 0, len(totals)), FiatTotal: decimal.Zero}
	for _, t := range totals {
		fiat := ComputeFiatAmount(t.Total, RefOf(t.Asset), prices, currency)
		amount, _ := decimal.NewFromString(t.Total)
		view.Rows = append(view.Rows, Row{
			Asset:  t.Asset,
			Total:  t.Total,
			Amount: amount.Shift(-t.Asset.Decimals).String(),
			Fiat:   fiat,
		})
		if fiat.Unavailable {
			view.Unavailable++
			continue
		}
		view.FiatTotal = view.FiatTotal.Add(fiat.Value)
	}

	sort.SliceStable(view.Rows, func(i, j int) bool {
		a, b := view.Rows[i].Fiat, view.Rows[j].Fiat
		if a.Unavailable != b.Unavailable {
			return !a.Unavailable
		}
		if !a.Unavailable && !a.Value.Equal(b.Value) {
			return a.Value.GreaterThan(b.Value)
		}
		return strings.ToLower(view.Rows[i].Asset.Symbol) < strings.ToLower(view.Rows[j].Asset.Symbol)
	})

	view.Display = FormatFiat(view.FiatTotal, currency)
	return view
}
