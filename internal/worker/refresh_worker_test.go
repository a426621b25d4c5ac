package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-sync/internal/bridge"
	"github.com/wallet-sync/internal/logging"
	"github.com/wallet-sync/internal/models"
)

type countingRefresher struct {
	mu          sync.Mutex
	balances    int
	prices      int
	balancesErr error
	polled      chan struct{}
}

func (r *countingRefresher) RefreshBalances(ctx context.Context, accounts []models.AccountID) (bridge.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances++
	return bridge.Report{Kind: bridge.KindBalancesUpdated, Applied: r.balancesErr == nil}, r.balancesErr
}

func (r *countingRefresher) RefreshPrices(ctx context.Context, currency string) (bridge.Report, error) {
	r.mu.Lock()
	r.prices++
	r.mu.Unlock()
	if r.polled != nil {
		select {
		case r.polled <- struct{}{}:
		default:
		}
	}
	return bridge.Report{Kind: bridge.KindPricesUpdated, Applied: true}, nil
}

func TestNewRefreshWorker_Validation(t *testing.T) {
	_, err := NewRefreshWorker(nil, time.Second, logging.Discard())
	assert.Error(t, err)

	_, err = NewRefreshWorker(&countingRefresher{}, 0, logging.Discard())
	assert.Error(t, err)
}

func TestPoll_BalanceFailureStillRefreshesPrices(t *testing.T) {
	boom := errors.New("backend down")
	r := &countingRefresher{balancesErr: boom}
	w, err := NewRefreshWorker(r, time.Minute, logging.Discard())
	require.NoError(t, err)

	err = w.Poll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, r.balances)
	assert.Equal(t, 1, r.prices)

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.Polls)
	assert.Equal(t, int64(1), stats.Failures)
	assert.Contains(t, stats.LastError, "refresh balances")

	r.balancesErr = nil
	require.NoError(t, w.Poll(context.Background()))
	stats = w.Stats()
	assert.Equal(t, int64(2), stats.Polls)
	assert.Empty(t, stats.LastError)
}

func TestStartStop(t *testing.T) {
	r := &countingRefresher{polled: make(chan struct{}, 1)}
	w, err := NewRefreshWorker(r, 10*time.Millisecond, logging.Discard())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	assert.Error(t, w.Start(ctx), "second start")

	select {
	case <-r.polled:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never polled")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, w.Stop(stopCtx))
	assert.False(t, w.Stats().Running)
	assert.Error(t, w.Stop(stopCtx), "already stopped")

	// restartable after stop
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Stop(stopCtx))
}

func TestStop_ConcurrentCallers(t *testing.T) {
	w, err := NewRefreshWorker(&countingRefresher{}, time.Hour, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- w.Stop(ctx)
		}()
	}
	wg.Wait()
	close(errs)

	stopped := 0
	for err := range errs {
		if err == nil {
			stopped++
		}
	}
	assert.Equal(t, 1, stopped, "exactly one caller stops the run")
	assert.False(t, w.Stats().Running)
}
