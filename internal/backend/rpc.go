package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/wallet-sync/internal/circuitbreaker"
	"github.com/wallet-sync/internal/config"
	"github.com/wallet-sync/internal/logging"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/retry"
)

// JSON-RPC method names exposed by the backend services
const (
	MethodCreateAccount       = "wallet_createAccount"
	MethodSetNetwork          = "wallet_setNetwork"
	MethodUnlock              = "wallet_unlock"
	MethodGetBalances         = "wallet_getBalances"
	MethodGetPrices           = "wallet_getPrices"
	MethodGetNetworks         = "wallet_getNetworks"
	MethodGetAccounts         = "wallet_getAccounts"
	MethodGetAssets           = "wallet_getAssets"
	MethodAddUserAsset        = "wallet_addUserAsset"
	MethodRemoveUserAsset     = "wallet_removeUserAsset"
	MethodSetUserAssetVisible = "wallet_setUserAssetVisible"
	MethodSubmitTransaction   = "tx_submit"
	MethodApproveTransaction  = "tx_approve"
	MethodRejectTransaction   = "tx_reject"
	MethodRetryTransaction    = "tx_retry"
	MethodSpeedUpTransaction  = "tx_speedUp"
	MethodCancelTransaction   = "tx_cancel"
	MethodRemoveAccount       = "keyring_removeAccount"
	MethodRenameAccount       = "keyring_renameAccount"
	MethodSelectAccount       = "keyring_selectAccount"
)

// RPCClient implements Backend over JSON-RPC. Reads go through the circuit
// breaker and are retried with failover; mutations are sent once to the
// active endpoint.
type RPCClient struct {
	provider *Provider
	breaker  *circuitbreaker.CircuitBreaker
	limiter  *rate.Limiter
	retryCfg retry.Config
	timeout  time.Duration
	logger   *logging.Logger

	mu      sync.Mutex
	clients map[int]*rpc.Client
}

// NewRPCClient creates a client for the configured endpoints. Connections
// are dialed lazily on first use.
func NewRPCClient(cfg config.BackendConfig, logger *logging.Logger) (*RPCClient, error) {
	provider, err := NewProvider(cfg.RPCPrimary, cfg.RPCSecondary)
	if err != nil {
		return nil, err
	}

	retryCfg := retry.DefaultConfig()
	if cfg.ReadRetries > 0 {
		retryCfg.MaxAttempts = cfg.ReadRetries
	}
	retryCfg.Retryable = isTransient

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	logger = logger.WithComponent("backend")
	return &RPCClient{
		provider: provider,
		breaker:  circuitbreaker.New(circuitbreaker.DefaultConfig("backend-reads"), logger),
		limiter:  rate.NewLimiter(limit, burst),
		retryCfg: retryCfg,
		timeout:  cfg.CallTimeout,
		logger:   logger,
		clients:  make(map[int]*rpc.Client),
	}, nil
}

// isTransient reports whether a read failure may succeed on another attempt.
// JSON-RPC application errors are answers, not outages.
func isTransient(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, circuitbreaker.ErrCircuitOpen)
}

func (c *RPCClient) client(ctx context.Context, idx int, url string) (*rpc.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.clients[idx]; ok {
		return cl, nil
	}
	cl, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to backend %s: %w", url, err)
	}
	c.clients[idx] = cl
	return cl, nil
}

func (c *RPCClient) callOnce(ctx context.Context, result interface{}, method string, args ...interface{}) (int, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return -1, "", err
	}

	idx, url := c.provider.Current()
	cl, err := c.client(ctx, idx, url)
	if err != nil {
		c.provider.RecordFailure(idx)
		return idx, url, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	err = cl.CallContext(ctx, result, method, args...)
	var rpcErr rpc.Error
	switch {
	case err == nil, errors.As(err, &rpcErr):
		// an application error still means the endpoint answered
		c.provider.RecordSuccess(idx, time.Since(start))
	default:
		c.provider.RecordFailure(idx)
	}
	return idx, url, err
}

// read performs an idempotent call with breaker, retries and failover
func (c *RPCClient) read(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	logger := c.logger.WithField("method", method)
	var endpoint string

	err := retry.Do(ctx, c.retryCfg, logger, func(ctx context.Context, attempt int) error {
		var answered error
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			idx, url, err := c.callOnce(ctx, result, method, args...)
			endpoint = url
			var rpcErr rpc.Error
			if errors.As(err, &rpcErr) {
				answered = err
				return nil
			}
			if err != nil && idx >= 0 && ctx.Err() == nil {
				if ferr := c.provider.Failover(idx); ferr == nil {
					logger.WithField("endpoint", url).WithError(err).Debug("read failed, failing over")
				}
			}
			return err
		})
		if answered != nil {
			return answered
		}
		return err
	})
	if err != nil {
		return &CallError{Method: method, Endpoint: endpoint, Err: err}
	}
	return nil
}

// mutate sends a state-changing call exactly once
func (c *RPCClient) mutate(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	_, endpoint, err := c.callOnce(ctx, result, method, args...)
	if err != nil {
		c.logger.WithFields(map[string]interface{}{
			"method":   method,
			"endpoint": endpoint,
		}).WithError(err).Warn("backend mutation failed")
		return &CallError{Method: method, Endpoint: endpoint, Err: err}
	}
	return nil
}

// Health reports per-endpoint health and breaker state
func (c *RPCClient) Health() ([]EndpointHealth, circuitbreaker.Stats) {
	return c.provider.Health(), c.breaker.GetStats()
}

// Close closes every dialed connection
func (c *RPCClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for idx, cl := range c.clients {
		cl.Close()
		delete(c.clients, idx)
	}
}

func (c *RPCClient) CreateAccount(ctx context.Context, req CreateAccountRequest) (models.Account, error) {
	var acc models.Account
	if err := c.mutate(ctx, &acc, MethodCreateAccount, req); err != nil {
		return models.Account{}, err
	}
	return acc, nil
}

func (c *RPCClient) Unlock(ctx context.Context, password string) (bool, error) {
	var ok bool
	if err := c.mutate(ctx, &ok, MethodUnlock, password); err != nil {
		return false, err
	}
	return ok, nil
}

func (c *RPCClient) RemoveAccount(ctx context.Context, id models.AccountID) error {
	return c.mutate(ctx, nil, MethodRemoveAccount, id)
}

func (c *RPCClient) RenameAccount(ctx context.Context, id models.AccountID, name string) error {
	return c.mutate(ctx, nil, MethodRenameAccount, id, name)
}

func (c *RPCClient) SelectAccount(ctx context.Context, id models.AccountID) error {
	return c.mutate(ctx, nil, MethodSelectAccount, id)
}

func (c *RPCClient) SetNetwork(ctx context.Context, key models.NetworkKey) error {
	return c.mutate(ctx, nil, MethodSetNetwork, key)
}

func (c *RPCClient) SubmitTransaction(ctx context.Context, req SubmitTransactionRequest) (models.Transaction, error) {
	var tx models.Transaction
	if err := c.mutate(ctx, &tx, MethodSubmitTransaction, req); err != nil {
		return models.Transaction{}, err
	}
	return tx, nil
}

func (c *RPCClient) ApproveTransaction(ctx context.Context, id string) error {
	return c.mutate(ctx, nil, MethodApproveTransaction, id)
}

func (c *RPCClient) RejectTransaction(ctx context.Context, id string) error {
	return c.mutate(ctx, nil, MethodRejectTransaction, id)
}

func (c *RPCClient) RetryTransaction(ctx context.Context, id string) (models.Transaction, error) {
	return c.replace(ctx, MethodRetryTransaction, id)
}

func (c *RPCClient) SpeedUpTransaction(ctx context.Context, id string) (models.Transaction, error) {
	return c.replace(ctx, MethodSpeedUpTransaction, id)
}

func (c *RPCClient) CancelTransaction(ctx context.Context, id string) (models.Transaction, error) {
	return c.replace(ctx, MethodCancelTransaction, id)
}

func (c *RPCClient) replace(ctx context.Context, method, id string) (models.Transaction, error) {
	var tx models.Transaction
	if err := c.mutate(ctx, &tx, method, id); err != nil {
		return models.Transaction{}, err
	}
	return tx, nil
}

func (c *RPCClient) AddUserAsset(ctx context.Context, asset models.Asset) error {
	return c.mutate(ctx, nil, MethodAddUserAsset, asset)
}

func (c *RPCClient) RemoveUserAsset(ctx context.Context, id models.AssetID) error {
	return c.mutate(ctx, nil, MethodRemoveUserAsset, id)
}

func (c *RPCClient) SetUserAssetVisible(ctx context.Context, id models.AssetID, visible bool) error {
	return c.mutate(ctx, nil, MethodSetUserAssetVisible, id, visible)
}

func (c *RPCClient) GetAccounts(ctx context.Context) ([]models.Account, error) {
	var out []models.Account
	err := c.read(ctx, &out, MethodGetAccounts)
	return out, err
}

func (c *RPCClient) GetNetworks(ctx context.Context) ([]models.Network, error) {
	var out []models.Network
	err := c.read(ctx, &out, MethodGetNetworks)
	return out, err
}

func (c *RPCClient) GetAssets(ctx context.Context) ([]models.Asset, error) {
	var out []models.Asset
	err := c.read(ctx, &out, MethodGetAssets)
	return out, err
}

func (c *RPCClient) GetBalances(ctx context.Context, req BalancesRequest) ([]models.BalanceFact, error) {
	var out []models.BalanceFact
	err := c.read(ctx, &out, MethodGetBalances, req)
	return out, err
}

func (c *RPCClient) GetPrices(ctx context.Context, req PricesRequest) ([]models.SpotPrice, error) {
	var out []models.SpotPrice
	err := c.read(ctx, &out, MethodGetPrices, req)
	return out, err
}
