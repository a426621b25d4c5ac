package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/wallet-sync/internal/backend"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/types"
)

// fakeBackend records calls and answers from canned data
type fakeBackend struct {
	mu    sync.Mutex
	calls map[string]int

	password string
	errs     map[string]error

	// createGate, when set, blocks CreateAccount until it is closed
	createGate chan struct{}
	created    chan backend.CreateAccountRequest
	onApprove  func()

	networks []models.Network
	accounts []models.Account
	assets   []models.Asset
	balances []models.BalanceFact
	prices   []models.SpotPrice

	lastNetwork models.NetworkKey
	nextTx      int
}

var _ backend.Backend = (*fakeBackend)(nil)

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		calls:    make(map[string]int),
		errs:     make(map[string]error),
		password: "hunter2",
		created:  make(chan backend.CreateAccountRequest, 16),
	}
}

func (f *fakeBackend) record(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	return f.errs[method]
}

func (f *fakeBackend) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeBackend) fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = err
}

func (f *fakeBackend) CreateAccount(ctx context.Context, req backend.CreateAccountRequest) (models.Account, error) {
	if err := f.record("CreateAccount"); err != nil {
		return models.Account{}, err
	}
	f.created <- req
	if f.createGate != nil {
		select {
		case <-f.createGate:
		case <-ctx.Done():
			return models.Account{}, ctx.Err()
		}
	}
	f.mu.Lock()
	n := f.calls["CreateAccount"]
	f.mu.Unlock()
	return models.Account{
		ID: models.AccountID{
			Address:   fmt.Sprintf("0x%040x", 0xabc0+n),
			Coin:      req.Coin,
			KeyringID: req.KeyringID,
		},
		Name: req.Name,
	}, nil
}

func (f *fakeBackend) Unlock(_ context.Context, password string) (bool, error) {
	if err := f.record("Unlock"); err != nil {
		return false, err
	}
	return password == f.password, nil
}

func (f *fakeBackend) RemoveAccount(context.Context, models.AccountID) error {
	return f.record("RemoveAccount")
}

func (f *fakeBackend) RenameAccount(context.Context, models.AccountID, string) error {
	return f.record("RenameAccount")
}

func (f *fakeBackend) SelectAccount(context.Context, models.AccountID) error {
	return f.record("SelectAccount")
}

func (f *fakeBackend) SetNetwork(_ context.Context, key models.NetworkKey) error {
	if err := f.record("SetNetwork"); err != nil {
		return err
	}
	f.mu.Lock()
	f.lastNetwork = key
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) SubmitTransaction(_ context.Context, req backend.SubmitTransactionRequest) (models.Transaction, error) {
	if err := f.record("SubmitTransaction"); err != nil {
		return models.Transaction{}, err
	}
	return models.Transaction{ID: f.txID(), Status: types.StatusUnapproved}, nil
}

func (f *fakeBackend) ApproveTransaction(context.Context, string) error {
	if err := f.record("ApproveTransaction"); err != nil {
		return err
	}
	if f.onApprove != nil {
		f.onApprove()
	}
	return nil
}

func (f *fakeBackend) RejectTransaction(context.Context, string) error {
	return f.record("RejectTransaction")
}

func (f *fakeBackend) RetryTransaction(context.Context, string) (models.Transaction, error) {
	return f.replacement("RetryTransaction")
}

func (f *fakeBackend) SpeedUpTransaction(context.Context, string) (models.Transaction, error) {
	return f.replacement("SpeedUpTransaction")
}

func (f *fakeBackend) CancelTransaction(context.Context, string) (models.Transaction, error) {
	return f.replacement("CancelTransaction")
}

func (f *fakeBackend) replacement(method string) (models.Transaction, error) {
	if err := f.record(method); err != nil {
		return models.Transaction{}, err
	}
	return models.Transaction{ID: f.txID(), Status: types.StatusApproved}, nil
}

func (f *fakeBackend) txID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTx++
	return fmt.Sprintf("tx-%d", f.nextTx)
}

func (f *fakeBackend) AddUserAsset(context.Context, models.Asset) error {
	return f.record("AddUserAsset")
}

func (f *fakeBackend) RemoveUserAsset(context.Context, models.AssetID) error {
	return f.record("RemoveUserAsset")
}

func (f *fakeBackend) SetUserAssetVisible(context.Context, models.AssetID, bool) error {
	return f.record("SetUserAssetVisible")
}

func (f *fakeBackend) GetAccounts(context.Context) ([]models.Account, error) {
	if err := f.record("GetAccounts"); err != nil {
		return nil, err
	}
	return f.accounts, nil
}

func (f *fakeBackend) GetNetworks(context.Context) ([]models.Network, error) {
	if err := f.record("GetNetworks"); err != nil {
		return nil, err
	}
	return f.networks, nil
}

func (f *fakeBackend) GetAssets(context.Context) ([]models.Asset, error) {
	if err := f.record("GetAssets"); err != nil {
		return nil, err
	}
	return f.assets, nil
}

func (f *fakeBackend) GetBalances(context.Context, backend.BalancesRequest) ([]models.BalanceFact, error) {
	if err := f.record("GetBalances"); err != nil {
		return nil, err
	}
	return f.balances, nil
}

func (f *fakeBackend) GetPrices(context.Context, backend.PricesRequest) ([]models.SpotPrice, error) {
	if err := f.record("GetPrices"); err != nil {
		return nil, err
	}
	return f.prices, nil
}
