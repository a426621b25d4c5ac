package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-sync/internal/backend"
	"github.com/wallet-sync/internal/bridge"
	"github.com/wallet-sync/internal/cache"
	"github.com/wallet-sync/internal/circuitbreaker"
	"github.com/wallet-sync/internal/logging"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/orchestrator"
	"github.com/wallet-sync/internal/store"
	"github.com/wallet-sync/internal/types"
)

var (
	mainnet = models.NetworkKey{ChainID: types.ChainMainnet, Coin: types.CoinETH}
	sepolia = models.NetworkKey{ChainID: types.ChainSepolia, Coin: types.CoinETH}

	acctA    = models.AccountID{Address: "0x1111111111111111111111111111111111111111", Coin: types.CoinETH, KeyringID: models.KeyringDefault}
	ethAsset = models.AssetID{ChainID: types.ChainMainnet, Coin: types.CoinETH}
	sepAsset = models.AssetID{ChainID: types.ChainSepolia, Coin: types.CoinETH}
)

// stubBackend answers the keyring, network and transaction calls the tests
// drive; anything else panics through the nil embedded interface.
type stubBackend struct {
	backend.Backend

	mu      sync.Mutex
	created int
	txs     int
	err     error
}

func (b *stubBackend) Unlock(ctx context.Context, password string) (bool, error) {
	return password == "hunter2", b.err
}

func (b *stubBackend) CreateAccount(ctx context.Context, req backend.CreateAccountRequest) (models.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return models.Account{}, b.err
	}
	b.created++
	return models.Account{
		ID:   models.AccountID{Address: fmt.Sprintf("0x%040x", 0xbeef+b.created), Coin: req.Coin, KeyringID: req.KeyringID},
		Name: req.Name,
	}, nil
}

func (b *stubBackend) SetNetwork(ctx context.Context, key models.NetworkKey) error { return b.err }

func (b *stubBackend) RenameAccount(ctx context.Context, id models.AccountID, name string) error {
	return b.err
}

func (b *stubBackend) SubmitTransaction(ctx context.Context, req backend.SubmitTransactionRequest) (models.Transaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txs++
	return models.Transaction{ID: fmt.Sprintf("tx-%d", b.txs), From: req.From, Network: req.Network, Payload: req.Payload}, b.err
}

func (b *stubBackend) ApproveTransaction(ctx context.Context, id string) error { return b.err }

type testEnv struct {
	server *Server
	store  *store.Store
	bridge *bridge.Bridge
	be     *stubBackend
}

func newTestEnv(t *testing.T, monitors Monitors) *testEnv {
	t.Helper()
	log := logging.Discard()
	s := store.New(store.Config{}, log)
	c := cache.New(cache.NewMemoryBackend(), time.Minute, log)
	s.AddHook(c.Hook())
	b := bridge.New(s, log)
	be := &stubBackend{}
	o := orchestrator.New(orchestrator.Config{MaxUnlockAttempts: 3, DefaultNetwork: mainnet, Currency: "USD"}, s, be, c, b, log)
	t.Cleanup(func() {
		o.Close()
		s.Close()
	})

	srv := NewServer(&ServerConfig{RequestsPerSecond: 1000, Burst: 1000, PingInterval: time.Second}, s, o, monitors, log)
	return &testEnv{server: srv, store: s, bridge: b, be: be}
}

func (e *testEnv) ingest(t *testing.T, events ...bridge.Event) {
	t.Helper()
	for _, ev := range events {
		_, err := e.bridge.Ingest(context.Background(), ev)
		require.NoError(t, err)
	}
}

// seed loads two networks, one account with a mainnet and a testnet balance
// and a mainnet price
func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	e.ingest(t,
		bridge.NetworksChanged{Networks: []models.Network{
			{Key: mainnet, Name: "Ethereum Mainnet", Symbol: "ETH", SymbolName: "Ether", Decimals: 18},
			{Key: sepolia, Name: "Sepolia", Symbol: "ETH", SymbolName: "Ether", Decimals: 18, IsTestnet: true},
		}},
		bridge.AccountsChanged{Accounts: []models.Account{{ID: acctA, Name: "Account 1"}}},
		bridge.AssetsChanged{Assets: []models.Asset{
			{ID: ethAsset, Symbol: "ETH", Decimals: 18, Visible: true},
			{ID: sepAsset, Symbol: "ETH", Decimals: 18, Visible: true},
		}},
		bridge.BalancesUpdated{Facts: []models.BalanceFact{
			{Account: acctA, Asset: ethAsset, Amount: "1000000000000000000"},
			{Account: acctA, Asset: sepAsset, Amount: "5000000000000000000"},
		}},
		bridge.PricesUpdated{Prices: []models.SpotPrice{
			{Asset: ethAsset, Symbol: "ETH", Currency: "USD", Price: "3000"},
		}},
	)
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	decode(t, w, &resp)
	return resp.Error.Code
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name      string
		connected bool
		breaker   circuitbreaker.State
		want      string
	}{
		{"healthy", true, circuitbreaker.StateClosed, "healthy"},
		{"stream down", false, circuitbreaker.StateClosed, "degraded"},
		{"breaker open", true, circuitbreaker.StateOpen, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, Monitors{
				StreamConnected: func() bool { return tt.connected },
				Backend: func() ([]backend.EndpointHealth, circuitbreaker.Stats) {
					return nil, circuitbreaker.Stats{Name: "backend", State: tt.breaker}
				},
			})
			w := env.do(t, "GET", "/health", nil)
			require.Equal(t, http.StatusOK, w.Code)

			var resp HealthResponse
			decode(t, w, &resp)
			assert.Equal(t, tt.want, resp.Status)
			assert.Equal(t, "wallet-sync", resp.Service)
			require.NotNil(t, resp.StreamConnected)
			assert.Equal(t, tt.connected, *resp.StreamConnected)
		})
	}
}

func TestReadEndpoints(t *testing.T) {
	env := newTestEnv(t, Monitors{})
	env.seed(t)

	t.Run("accounts", func(t *testing.T) {
		w := env.do(t, "GET", "/v1/accounts", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Revision uint64           `json:"revision"`
			Accounts []models.Account `json:"accounts"`
		}
		decode(t, w, &resp)
		assert.Equal(t, env.store.Snapshot().Revision(), resp.Revision)
		require.Len(t, resp.Accounts, 1)
		assert.Equal(t, acctA, resp.Accounts[0].ID)
	})

	t.Run("networks", func(t *testing.T) {
		w := env.do(t, "GET", "/v1/networks", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Networks []models.Network `json:"networks"`
		}
		decode(t, w, &resp)
		assert.Len(t, resp.Networks, 2)
	})

	t.Run("snapshot", func(t *testing.T) {
		w := env.do(t, "GET", "/v1/snapshot", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), acctA.Address)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		w := env.do(t, "GET", "/v1/transactions/nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, ErrCodeNotFound, errorCode(t, w))
	})
}

func TestBalances_NetworkFilter(t *testing.T) {
	env := newTestEnv(t, Monitors{})
	env.seed(t)

	tests := []struct {
		name  string
		query string
		want  map[types.ChainID]string
	}{
		{"all networks skips testnets", "", map[types.ChainID]string{types.ChainMainnet: "1000000000000000000"}},
		{"explicit all sentinel", "?chainId=AllNetworks", map[types.ChainID]string{types.ChainMainnet: "1000000000000000000"}},
		{"testnet selected", "?chainId=0xaa36a7", map[types.ChainID]string{types.ChainSepolia: "5000000000000000000"}},
		{"account restricted", "?account=" + acctA.String(), map[types.ChainID]string{types.ChainMainnet: "1000000000000000000"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "GET", "/v1/balances"+tt.query, nil)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			var resp struct {
				Totals []struct {
					Asset models.Asset `json:"asset"`
					Total string       `json:"total"`
				} `json:"totals"`
			}
			decode(t, w, &resp)
			got := make(map[types.ChainID]string)
			for _, total := range resp.Totals {
				got[total.Asset.ID.ChainID] = total.Total
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBalances_BadParams(t *testing.T) {
	env := newTestEnv(t, Monitors{})
	for _, q := range []string{"?account=garbage", "?account=99:default:0xabc", "?coin=abc"} {
		w := env.do(t, "GET", "/v1/balances"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestPortfolio(t *testing.T) {
	env := newTestEnv(t, Monitors{})
	env.seed(t)

	w := env.do(t, "GET", "/v1/portfolio", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Revision  uint64 `json:"revision"`
		Currency  string `json:"currency"`
		Display   string `json:"display"`
		FiatTotal string `json:"fiatTotal"`
		Rows      []struct {
			Amount string `json:"amount"`
		} `json:"rows"`
	}
	decode(t, w, &resp)
	assert.Equal(t, "USD", resp.Currency)
	assert.Equal(t, env.store.Snapshot().Revision(), resp.Revision)
	require.Len(t, resp.Rows, 1)
	assert.Equal(t, "1", resp.Rows[0].Amount)
	assert.Equal(t, "3000", resp.FiatTotal)
	assert.NotEmpty(t, resp.Display)

	w = env.do(t, "GET", "/v1/portfolio?includeHidden=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnlock(t *testing.T) {
	env := newTestEnv(t, Monitors{})
	env.seed(t)
	require.Equal(t, http.StatusOK, env.do(t, "POST", "/v1/lock", nil).Code)
	require.True(t, env.store.Snapshot().Locked())

	w := env.do(t, "POST", "/v1/unlock", UnlockRequest{Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "WRONG_PASSWORD", errorCode(t, w))
	assert.True(t, env.store.Snapshot().Locked())

	w = env.do(t, "POST", "/v1/unlock", UnlockRequest{Password: "hunter2"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, env.store.Snapshot().Locked())
}

func TestUnlock_BackendErrorIsInternal(t *testing.T) {
	env := newTestEnv(t, Monitors{})
	env.be.err = errors.New("keyring service unavailable")

	w := env.do(t, "POST", "/v1/unlock", UnlockRequest{Password: "hunter2"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, ErrCodeInternalError, errorCode(t, w))
}

func TestCreateAccount_Wait(t *testing.T) {
	env := newTestEnv(t, Monitors{})
	env.seed(t)

	w := env.do(t, "POST", "/v1/accounts?wait=true", orchestrator.CreateAccountInput{Coin: types.CoinETH})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, strings.HasPrefix(w.Header().Get("Location"), "/v1/commands/"))

	var info orchestrator.Info
	decode(t, w, &info)
	assert.Equal(t, orchestrator.StateCommitted, info.State)
	require.NotNil(t, info.Account)
	assert.Equal(t, "Account 2", info.Account.Name)

	selected, ok := env.store.Snapshot().SelectedAccount()
	require.True(t, ok)
	assert.Equal(t, info.Account.ID, selected)

	w = env.do(t, "GET", "/v1/commands/"+info.ID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCreateAccount_QueuedWhileLocked(t *testing.T) {
	env := newTestEnv(t, Monitors{})
	env.seed(t)
	env.ingest(t, bridge.LockStateChanged{Locked: true})

	w := env.do(t, "POST", "/v1/accounts", orchestrator.CreateAccountInput{Coin: types.CoinETH})
	require.Equal(t, http.StatusAccepted, w.Code)
	var info orchestrator.Info
	decode(t, w, &info)
	assert.Equal(t, orchestrator.StateAwaitingUnlock, info.State)

	w = env.do(t, "POST", "/v1/commands/"+info.ID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &info)
	assert.Equal(t, orchestrator.StateCancelled, info.State)

	w = env.do(t, "POST", "/v1/commands/"+info.ID.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, "GET", "/v1/commands/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateAccount_RejectsUnknownCoin(t *testing.T) {
	env := newTestEnv(t, Monitors{})
	w := env.do(t, "POST", "/v1/accounts", map[string]interface{}{"coin": 12345})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/v1/accounts", map[string]interface{}{"coin": 60, "bogus": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAccountCommands(t *testing.T) {
	env := newTestEnv(t, Monitors{})
	env.seed(t)

	w := env.do(t, "POST", "/v1/accounts/rename", AccountRequest{Account: acctA, Name: "  Savings "})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	acc, ok := env.store.Snapshot().Account(acctA)
	require.True(t, ok)
	assert.Equal(t, "Savings", acc.Name)

	w = env.do(t, "POST", "/v1/accounts/rename", AccountRequest{Account: acctA, Name: " "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/v1/accounts/rename", AccountRequest{Name: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSwitchNetwork(t *testing.T) {
	env := newTestEnv(t, Monitors{})
	env.seed(t)

	w := env.do(t, "PUT", "/v1/network", models.NetworkKey{ChainID: "0xAA36A7", Coin: types.CoinETH})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	active, ok := env.store.Snapshot().ActiveNetwork()
	require.True(t, ok)
	assert.Equal(t, sepolia, active)

	w = env.do(t, "PUT", "/v1/network", models.NetworkKey{ChainID: "0x89", Coin: types.CoinETH})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTransactionFlow(t *testing.T) {
	env := newTestEnv(t, Monitors{})
	env.seed(t)

	w := env.do(t, "POST", "/v1/transactions", orchestrator.SubmitTransactionInput{
		From:    acctA,
		Network: mainnet,
		Payload: json.RawMessage(`{"to":"0x2222222222222222222222222222222222222222","value":"0x1"}`),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var tx models.Transaction
	decode(t, w, &tx)
	assert.Equal(t, types.StatusUnapproved, tx.Status)

	w = env.do(t, "POST", "/v1/transactions/"+tx.ID+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &tx)
	assert.Equal(t, types.StatusApproved, tx.Status)

	// approved transactions cannot be approved again
	w = env.do(t, "POST", "/v1/transactions/"+tx.ID+"/approve", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, "POST", "/v1/transactions/"+tx.ID+"/explode", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "GET", "/v1/transactions?account="+acctA.String()+"&status=approved", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Transactions []models.Transaction `json:"transactions"`
	}
	decode(t, w, &list)
	assert.Len(t, list.Transactions, 1)

	w = env.do(t, "GET", "/v1/transactions?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRefresh_UnknownTarget(t *testing.T) {
	env := newTestEnv(t, Monitors{})
	w := env.do(t, "POST", "/v1/refresh/everything", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRateLimit(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	handler := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/v1/accounts", nil)
		req.Header.Set("X-Client-ID", "client-1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// another client has its own bucket
	req := httptest.NewRequest("GET", "/v1/accounts", nil)
	req.Header.Set("X-Client-ID", "client-2")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStream(t *testing.T) {
	env := newTestEnv(t, Monitors{})
	env.seed(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var hello StreamMessage
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello.Type)
	assert.Equal(t, env.store.Snapshot().Revision(), hello.Revision)

	env.ingest(t, bridge.LockStateChanged{Locked: true})

	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "change", msg.Type)
	assert.Equal(t, hello.Revision+1, msg.Revision)
	require.NotNil(t, msg.Change)
	assert.True(t, msg.Change.Has(store.KindLock))
}
