package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-sync/internal/config"
	apperrors "github.com/wallet-sync/internal/errors"
	"github.com/wallet-sync/internal/logging"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/types"
)

var testAccount = models.Account{
	ID:   models.AccountID{Address: "0x1111111111111111111111111111111111111111", Coin: types.CoinETH, KeyringID: models.KeyringDefault},
	Name: "Account 1",
}

// walletService answers the wallet_* namespace
type walletService struct {
	accountCalls atomic.Int32
	unlockCalls  atomic.Int32
}

func (s *walletService) GetAccounts(ctx context.Context) ([]models.Account, error) {
	s.accountCalls.Add(1)
	return []models.Account{testAccount}, nil
}

func (s *walletService) GetBalances(ctx context.Context, req BalancesRequest) ([]models.BalanceFact, error) {
	out := make([]models.BalanceFact, 0, len(req.Accounts)*len(req.Assets))
	for _, acc := range req.Accounts {
		for _, asset := range req.Assets {
			out = append(out, models.BalanceFact{Account: acc, Asset: asset, Amount: "0x64"})
		}
	}
	return out, nil
}

func (s *walletService) GetPrices(ctx context.Context, req PricesRequest) ([]models.SpotPrice, error) {
	return nil, errors.New("unsupported currency " + req.Currency)
}

func (s *walletService) Unlock(ctx context.Context, password string) (bool, error) {
	s.unlockCalls.Add(1)
	return password == "hunter2", nil
}

func (s *walletService) CreateAccount(ctx context.Context, req CreateAccountRequest) (models.Account, error) {
	return models.Account{
		ID:   models.AccountID{Address: "0x2222222222222222222222222222222222222222", Coin: req.Coin, KeyringID: req.KeyringID},
		Name: req.Name,
	}, nil
}

// txService answers the tx_* namespace
type txService struct{}

func (txService) SpeedUp(ctx context.Context, id string) (models.Transaction, error) {
	return models.Transaction{ID: id + "-fast", ReplacesID: id, Status: types.StatusUnapproved}, nil
}

func newRPCServer(t *testing.T) (*httptest.Server, *walletService) {
	t.Helper()

	wallet := &walletService{}
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("wallet", wallet))
	require.NoError(t, server.RegisterName("tx", txService{}))
	t.Cleanup(server.Stop)

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	return ts, wallet
}

func newTestClient(t *testing.T, primary, secondary string) *RPCClient {
	t.Helper()
	c, err := NewRPCClient(config.BackendConfig{
		RPCPrimary:   primary,
		RPCSecondary: secondary,
		CallTimeout:  2 * time.Second,
		ReadRetries:  3,
	}, logging.Discard())
	require.NoError(t, err)
	c.retryCfg.InitialDelay = time.Millisecond
	c.retryCfg.MaxDelay = time.Millisecond
	t.Cleanup(c.Close)
	return c
}

func TestRPCClient_Reads(t *testing.T) {
	ts, _ := newRPCServer(t)
	c := newTestClient(t, ts.URL, "")
	ctx := context.Background()

	accounts, err := c.GetAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Account{testAccount}, accounts)

	eth := models.AssetID{ChainID: types.ChainMainnet, Coin: types.CoinETH}
	facts, err := c.GetBalances(ctx, BalancesRequest{Accounts: []models.AccountID{testAccount.ID}, Assets: []models.AssetID{eth}})
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "0x64", facts[0].Amount)
}

func TestRPCClient_ApplicationErrorIsNotRetried(t *testing.T) {
	ts, _ := newRPCServer(t)
	c := newTestClient(t, ts.URL, "")

	_, err := c.GetPrices(context.Background(), PricesRequest{Currency: "XYZ"})
	require.Error(t, err)

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, MethodGetPrices, callErr.Method)
	assert.Contains(t, err.Error(), "unsupported currency XYZ")

	var rpcErr rpc.Error
	assert.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, apperrors.CategoryBackend, apperrors.CategoryOf(err))

	health, _ := c.Health()
	assert.Equal(t, int64(1), health[0].TotalRequests)
}

func TestRPCClient_ReadFailsOverToSecondary(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	t.Cleanup(down.Close)
	ts, wallet := newRPCServer(t)

	c := newTestClient(t, down.URL, ts.URL)
	accounts, err := c.GetAccounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
	assert.Equal(t, int32(1), wallet.accountCalls.Load())

	idx, url := c.provider.Current()
	assert.Equal(t, 1, idx)
	assert.Equal(t, ts.URL, url)
}

func TestRPCClient_MutationsAreSentOnce(t *testing.T) {
	var hits atomic.Int32
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(down.Close)
	ts, wallet := newRPCServer(t)

	c := newTestClient(t, down.URL, ts.URL)
	_, err := c.Unlock(context.Background(), "hunter2")
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, int32(0), wallet.unlockCalls.Load())
}

func TestRPCClient_Mutations(t *testing.T) {
	ts, _ := newRPCServer(t)
	c := newTestClient(t, ts.URL, "")
	ctx := context.Background()

	ok, err := c.Unlock(ctx, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.Unlock(ctx, "hunter2")
	require.NoError(t, err)
	assert.True(t, ok)

	acc, err := c.CreateAccount(ctx, CreateAccountRequest{Name: "Account 2", Coin: types.CoinETH, KeyringID: models.KeyringDefault})
	require.NoError(t, err)
	assert.Equal(t, "Account 2", acc.Name)

	tx, err := c.SpeedUpTransaction(ctx, "tx1")
	require.NoError(t, err)
	assert.Equal(t, "tx1", tx.ReplacesID)
}

func TestProvider_Failover(t *testing.T) {
	p, err := NewProvider("http://a", "http://b")
	require.NoError(t, err)

	require.NoError(t, p.Failover(0))
	idx, url := p.Current()
	assert.Equal(t, 1, idx)
	assert.Equal(t, "http://b", url)

	// a stale failover from index 0 keeps the current endpoint
	require.NoError(t, p.Failover(0))
	idx, _ = p.Current()
	assert.Equal(t, 1, idx)

	single, err := NewProvider("http://a", "")
	require.NoError(t, err)
	assert.Error(t, single.Failover(0))

	_, err = NewProvider("", "")
	assert.Error(t, err)
}

func TestProvider_Health(t *testing.T) {
	p, err := NewProvider("http://a", "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		p.RecordFailure(0)
	}
	assert.False(t, p.IsHealthy())

	p.RecordSuccess(0, 10*time.Millisecond)
	assert.True(t, p.IsHealthy())

	health := p.Health()
	require.Len(t, health, 1)
	assert.True(t, health[0].Active)
	assert.Equal(t, int64(6), health[0].TotalRequests)
	assert.Equal(t, 10*time.Millisecond, health[0].AverageLatency)
}
