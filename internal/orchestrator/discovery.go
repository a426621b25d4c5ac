package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/wallet-sync/internal/backend"
	"github.com/wallet-sync/internal/bridge"
	"github.com/wallet-sync/internal/cache"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/store"
)

// tagBackend is carried by every cached backend read so a resync can drop
// them all at once
const tagBackend = "backend:reads"

// DiscoveryReport summarizes one discovery sweep
type DiscoveryReport struct {
	Networks int           `json:"networks"`
	Accounts int           `json:"accounts"`
	Assets   int           `json:"assets"`
	Balances int           `json:"balances"`
	Prices   int           `json:"prices"`
	Dropped  int           `json:"dropped"`
	Revision uint64        `json:"revision"`
	Duration time.Duration `json:"duration"`
}

// Discover reads networks, accounts, assets, balances and prices from the
// backend and folds them into the store. Reads go through the query cache.
// The sweep stops at the first failing read; what was folded before stays.
func (o *Orchestrator) Discover(ctx context.Context) (DiscoveryReport, error) {
	start := time.Now()
	var report DiscoveryReport

	networks, err := o.RefreshNetworks(ctx)
	if err != nil {
		return report, err
	}
	report.Networks = len(o.store.Snapshot().Networks())
	report.Dropped += len(networks.Dropped)

	accounts, err := o.refreshAccounts(ctx)
	if err != nil {
		return report, err
	}
	report.Accounts = len(o.store.Snapshot().Accounts())
	report.Dropped += len(accounts.Dropped)

	assets, err := o.refreshAssets(ctx)
	if err != nil {
		return report, err
	}
	report.Assets = len(o.store.Snapshot().Assets())
	report.Dropped += len(assets.Dropped)

	balances, err := o.RefreshBalances(ctx, nil)
	if err != nil {
		return report, err
	}
	report.Balances = len(o.store.Snapshot().Balances())
	report.Dropped += len(balances.Dropped)

	prices, err := o.RefreshPrices(ctx, "")
	if err != nil {
		return report, err
	}
	report.Prices = len(o.store.Snapshot().Prices())
	report.Dropped += len(prices.Dropped)

	report.Revision = o.store.Snapshot().Revision()
	report.Duration = time.Since(start)
	o.logger.WithFields(map[string]interface{}{
		"networks": report.Networks,
		"accounts": report.Accounts,
		"assets":   report.Assets,
		"balances": report.Balances,
		"prices":   report.Prices,
		"dropped":  report.Dropped,
		"duration": report.Duration.String(),
	}).Info("discovery complete")
	return report, nil
}

// Resync drops every cached backend read and runs discovery again. It is
// used after the notification stream reconnects.
func (o *Orchestrator) Resync(ctx context.Context) (DiscoveryReport, error) {
	o.invalidate(ctx, tagBackend)
	return o.Discover(ctx)
}

// RefreshNetworks replaces the network set with the backend's
func (o *Orchestrator) RefreshNetworks(ctx context.Context) (bridge.Report, error) {
	networks, _, err := cache.Load(ctx, o.cache,
		cache.Key{Kind: "networks"},
		[]string{tagBackend, cache.TagKind(string(store.KindNetwork))},
		o.backend.GetNetworks)
	if err != nil {
		return bridge.Report{}, err
	}
	return o.bridge.Ingest(ctx, bridge.NetworksChanged{Networks: networks})
}

func (o *Orchestrator) refreshAccounts(ctx context.Context) (bridge.Report, error) {
	accounts, _, err := cache.Load(ctx, o.cache,
		cache.Key{Kind: "accounts"},
		[]string{tagBackend, cache.TagKind(string(store.KindAccount))},
		o.backend.GetAccounts)
	if err != nil {
		return bridge.Report{}, err
	}
	return o.bridge.Ingest(ctx, bridge.AccountsChanged{Accounts: accounts})
}

// refreshAssets upserts the user's asset list. Every known network's native
// asset is tracked even when the list omits it.
func (o *Orchestrator) refreshAssets(ctx context.Context) (bridge.Report, error) {
	assets, _, err := cache.Load(ctx, o.cache,
		cache.Key{Kind: "assets"},
		[]string{tagBackend, cache.TagKind(string(store.KindAsset))},
		o.backend.GetAssets)
	if err != nil {
		return bridge.Report{}, err
	}

	listed := make(map[models.AssetID]bool, len(assets))
	for _, a := range assets {
		listed[a.ID.Normalized()] = true
	}
	st := o.store.Snapshot()
	for _, n := range st.Networks() {
		native := n.NativeAsset()
		if listed[native.ID.Normalized()] {
			continue
		}
		if _, known := st.Asset(native.ID); known {
			continue
		}
		assets = append(assets, native)
	}
	return o.bridge.Ingest(ctx, bridge.AssetsChanged{Assets: assets})
}

// RefreshBalances reads balances for the given accounts, or every account
// when none are given, across all tracked fungible assets
func (o *Orchestrator) RefreshBalances(ctx context.Context, accounts []models.AccountID) (bridge.Report, error) {
	st := o.store.Snapshot()
	if len(accounts) == 0 {
		for _, acc := range st.Accounts() {
			accounts = append(accounts, acc.ID)
		}
	}
	req := backend.BalancesRequest{Accounts: make([]models.AccountID, 0, len(accounts))}
	// any pushed balance change evicts the entry; a write-back that changes
	// nothing commits nothing and keeps it
	tags := []string{tagBackend, cache.TagKind(string(store.KindBalance))}
	for _, id := range accounts {
		id = id.Normalized()
		req.Accounts = append(req.Accounts, id)
		tags = append(tags, cache.TagAccount(id))
	}
	for _, a := range st.Assets() {
		if a.IsNFT {
			continue
		}
		req.Assets = append(req.Assets, a.ID)
		tags = append(tags, cache.TagAsset(a.ID))
	}
	if len(req.Accounts) == 0 || len(req.Assets) == 0 {
		return bridge.Report{Kind: bridge.KindBalancesUpdated}, nil
	}

	facts, _, err := cache.Load(ctx, o.cache, cache.Key{Kind: "balances", Params: req}, tags,
		func(ctx context.Context) ([]models.BalanceFact, error) {
			return o.backend.GetBalances(ctx, req)
		})
	if err != nil {
		return bridge.Report{}, err
	}
	return o.bridge.Ingest(ctx, bridge.BalancesUpdated{Facts: facts})
}

// RefreshPrices reads spot prices for every tracked fungible asset in
// currency, or the configured currency when empty
func (o *Orchestrator) RefreshPrices(ctx context.Context, currency string) (bridge.Report, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = o.cfg.Currency
	}
	req := backend.PricesRequest{Currency: currency}
	tags := []string{tagBackend, cache.TagKind(string(store.KindPrice))}
	seen := map[string]bool{}
	for _, a := range o.store.Snapshot().Assets() {
		if a.IsNFT {
			continue
		}
		req.Assets = append(req.Assets, a.ID)
		tags = append(tags, cache.TagAsset(a.ID))
		sym := strings.ToUpper(a.Symbol)
		if sym != "" && !seen[sym] {
			seen[sym] = true
			req.Symbols = append(req.Symbols, sym)
		}
	}
	if len(req.Assets) == 0 {
		return bridge.Report{Kind: bridge.KindPricesUpdated}, nil
	}

	prices, _, err := cache.Load(ctx, o.cache, cache.Key{Kind: "prices", Params: req}, tags,
		func(ctx context.Context) ([]models.SpotPrice, error) {
			return o.backend.GetPrices(ctx, req)
		})
	if err != nil {
		return bridge.Report{}, err
	}
	return o.bridge.Ingest(ctx, bridge.PricesUpdated{Prices: prices})
}
