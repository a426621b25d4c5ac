// Command portfolio_check runs one discovery pass against the wallet backend
// and prints the resulting portfolio. Useful to compare backend totals with
// what walletd serves.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wallet-sync/internal/aggregate"
	"github.com/wallet-sync/internal/backend"
	"github.com/wallet-sync/internal/bridge"
	"github.com/wallet-sync/internal/cache"
	"github.com/wallet-sync/internal/config"
	"github.com/wallet-sync/internal/logging"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/orchestrator"
	"github.com/wallet-sync/internal/store"
	"github.com/wallet-sync/internal/types"
)

func main() {
	currencyFlag := flag.String("currency", "", "Fiat currency (default from PRICING_DEFAULT_CURRENCY)")
	chainFlag := flag.String("chain", "", "Restrict to one EVM chain id, e.g. 0x1 (default: all non-test networks)")
	hiddenFlag := flag.Bool("hidden", false, "Include hidden assets")
	jsonFlag := flag.Bool("json", false, "Print the view as JSON")
	timeoutFlag := flag.Duration("timeout", 30*time.Second, "Discovery timeout")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))

	currency := strings.ToUpper(*currencyFlag)
	if currency == "" {
		currency = cfg.Pricing.DefaultCurrency
	}

	st := store.New(store.Config{TxRetention: cfg.Store.TxRetention}, logger)
	defer st.Close()

	rpcClient, err := backend.NewRPCClient(cfg.Backend, logger)
	if err != nil {
		fmt.Printf("Error creating backend client: %v\n", err)
		os.Exit(1)
	}
	defer rpcClient.Close()

	orch := orchestrator.New(orchestrator.Config{
		DefaultNetwork: models.NetworkKey{ChainID: cfg.Orchestrator.DefaultChainID, Coin: cfg.Orchestrator.DefaultCoin},
		Currency:       currency,
	}, st, rpcClient, cache.New(cache.NewMemoryBackend(), time.Minute, logger), bridge.New(st, logger), logger)
	defer orch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	report, err := orch.Discover(ctx)
	if err != nil {
		fmt.Printf("Discovery failed: %v\n", err)
		os.Exit(1)
	}

	filter := aggregate.AllNetworks
	if *chainFlag != "" {
		filter = aggregate.NetworkFilter{ChainID: types.NormalizeChainID(*chainFlag), Coin: types.CoinETH}
	}
	view := aggregate.Portfolio(st.Snapshot(), aggregate.Query{
		Filter:        filter,
		Currency:      currency,
		IncludeHidden: *hiddenFlag,
	})

	if *jsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(view); err != nil {
			fmt.Printf("Error encoding view: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("Discovered %d networks, %d accounts, %d assets, %d balances, %d prices in %s (%d dropped)\n\n",
		report.Networks, report.Accounts, report.Assets, report.Balances, report.Prices, report.Duration.Round(time.Millisecond), report.Dropped)

	fmt.Printf("%-10s %-10s %28s %18s\n", "SYMBOL", "CHAIN", "AMOUNT", "VALUE")
	fmt.Println(strings.Repeat("-", 70))
	for _, row := range view.Rows {
		value := "n/a"
		if !row.Fiat.Unavailable {
			value = aggregate.FormatFiat(row.Fiat.Value, currency)
		}
		fmt.Printf("%-10s %-10s %28s %18s\n", row.Asset.Symbol, row.Asset.ID.ChainID, row.Amount, value)
	}
	fmt.Println(strings.Repeat("-", 70))
	fmt.Printf("%-10s %-10s %28s %18s\n", "TOTAL", "", "", view.Display)
	if view.Unavailable > 0 {
		fmt.Printf("\n%d assets have no %s price and are not included in the total\n", view.Unavailable, currency)
	}
}
