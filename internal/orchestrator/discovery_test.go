package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-sync/internal/bridge"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/types"
)

var (
	acctB = models.AccountID{Address: "0x2222222222222222222222222222222222222222", Coin: types.CoinETH, KeyringID: models.KeyringDefault}
	ghost = models.AccountID{Address: "0x9999999999999999999999999999999999999999", Coin: types.CoinETH, KeyringID: models.KeyringDefault}
)

func stockBackend(be *fakeBackend) {
	be.networks = []models.Network{
		{Key: mainnet, Name: "Ethereum Mainnet", Symbol: "ETH", SymbolName: "Ether", Decimals: 18},
		{Key: sepolia, Name: "Sepolia", Symbol: "ETH", SymbolName: "Ether", Decimals: 18, IsTestnet: true},
	}
	be.accounts = []models.Account{{ID: acctA, Name: "Account 1"}, {ID: acctB, Name: "Account 2"}}
	be.assets = []models.Asset{{ID: ethAsset, Name: "Ether", Symbol: "ETH", Decimals: 18, Visible: true}}
	be.balances = []models.BalanceFact{
		{Account: acctA, Asset: ethAsset, Amount: "0xde0b6b3a7640000"},
		{Account: acctB, Asset: ethAsset, Amount: "500000000000000000"},
		{Account: ghost, Asset: ethAsset, Amount: "1"},
	}
	be.prices = []models.SpotPrice{{Asset: ethAsset, Symbol: "ETH", Currency: "USD", Price: "2000.50"}}
}

func TestDiscover(t *testing.T) {
	h := newHarness(t)
	stockBackend(h.be)

	report, err := h.o.Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Networks)
	assert.Equal(t, 2, report.Accounts)
	// the sepolia native asset is tracked even though the list omits it
	assert.Equal(t, 2, report.Assets)
	assert.Equal(t, 2, report.Balances)
	assert.Equal(t, 1, report.Prices)
	assert.Equal(t, 1, report.Dropped, "the ghost account's balance is dropped")

	st := h.store.Snapshot()
	bal, ok := st.Balance(acctA, ethAsset)
	require.True(t, ok)
	assert.Equal(t, "1000000000000000000", bal.Amount)

	price, ok := st.Price(ethAsset, "USD")
	require.True(t, ok)
	// stored in canonical decimal form
	assert.Equal(t, "2000.5", price.Price)

	sepoliaNative := models.AssetID{ChainID: types.ChainSepolia, Coin: types.CoinETH}
	native, ok := st.Asset(sepoliaNative)
	require.True(t, ok)
	assert.Equal(t, "ETH", native.Symbol)
}

func TestDiscover_ReadsAreCached(t *testing.T) {
	h := newHarness(t)
	stockBackend(h.be)
	ctx := context.Background()

	_, err := h.o.Discover(ctx)
	require.NoError(t, err)
	_, err = h.o.Discover(ctx)
	require.NoError(t, err)
	_, err = h.o.Discover(ctx)
	require.NoError(t, err)

	// the first write-back of each read changes the store and evicts its own
	// entry once; unchanged write-backs commit nothing and keep it
	assert.Equal(t, 2, h.be.count("GetBalances"))
	assert.Equal(t, 2, h.be.count("GetPrices"))
	assert.Equal(t, 2, h.be.count("GetNetworks"))

	_, err = h.o.Resync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, h.be.count("GetBalances"))
	assert.Equal(t, 3, h.be.count("GetNetworks"))
}

func TestMutationInvalidatesCachedReads(t *testing.T) {
	h := newHarness(t)
	stockBackend(h.be)
	ctx := context.Background()

	_, err := h.o.Discover(ctx)
	require.NoError(t, err)
	_, err = h.o.RefreshBalances(ctx, nil)
	require.NoError(t, err)
	_, err = h.o.RefreshBalances(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 2, h.be.count("GetBalances"))

	require.NoError(t, h.o.RenameAccount(ctx, acctA, "Savings"))
	_, err = h.o.RefreshBalances(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, h.be.count("GetBalances"), "renaming the account evicts its balance entries")
}

func TestPushedBalanceEvictsCachedRead(t *testing.T) {
	h := newHarness(t)
	stockBackend(h.be)
	ctx := context.Background()

	_, err := h.o.Discover(ctx)
	require.NoError(t, err)
	_, err = h.o.RefreshBalances(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 2, h.be.count("GetBalances"))

	// the backend moves on and pushes the new amount
	h.be.balances = []models.BalanceFact{
		{Account: acctA, Asset: ethAsset, Amount: "7"},
		{Account: acctB, Asset: ethAsset, Amount: "500000000000000000"},
	}
	h.ingest(t, bridge.BalancesUpdated{Facts: []models.BalanceFact{{Account: acctA, Asset: ethAsset, Amount: "7"}}})

	_, err = h.o.RefreshBalances(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, h.be.count("GetBalances"), "the pushed change evicts the cached read")

	bal, ok := h.store.Snapshot().Balance(acctA, ethAsset)
	require.True(t, ok)
	assert.Equal(t, "7", bal.Amount)
}

func TestPushedPriceEvictsCachedRead(t *testing.T) {
	h := newHarness(t)
	stockBackend(h.be)
	ctx := context.Background()

	_, err := h.o.Discover(ctx)
	require.NoError(t, err)
	_, err = h.o.RefreshPrices(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 2, h.be.count("GetPrices"))

	h.be.prices = []models.SpotPrice{{Asset: ethAsset, Symbol: "ETH", Currency: "USD", Price: "2100"}}
	h.ingest(t, bridge.PricesUpdated{Prices: h.be.prices})

	_, err = h.o.RefreshPrices(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, h.be.count("GetPrices"))

	price, ok := h.store.Snapshot().Price(ethAsset, "USD")
	require.True(t, ok)
	assert.Equal(t, "2100", price.Price)
}

func TestDiscover_StopsOnBackendError(t *testing.T) {
	h := newHarness(t)
	stockBackend(h.be)
	h.be.fail("GetAccounts", errBoom)

	report, err := h.o.Discover(context.Background())
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, 2, report.Networks, "networks folded before the failure stay")
	assert.Empty(t, h.store.Snapshot().Accounts())
	assert.Equal(t, 0, h.be.count("GetBalances"))
}

func TestRefreshPrices_Currency(t *testing.T) {
	h := newHarness(t)
	stockBackend(h.be)
	ctx := context.Background()
	_, err := h.o.Discover(ctx)
	require.NoError(t, err)

	h.be.prices = []models.SpotPrice{{Asset: ethAsset, Symbol: "ETH", Currency: "EUR", Price: "1850"}}
	_, err = h.o.RefreshPrices(ctx, "eur")
	require.NoError(t, err)
	assert.Equal(t, 2, h.be.count("GetPrices"), "a different currency is a different cache key")

	price, ok := h.store.Snapshot().Price(ethAsset, "EUR")
	require.True(t, ok)
	assert.Equal(t, "1850", price.Price)
}
