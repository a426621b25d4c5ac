// Package worker runs background polling that keeps balances and prices
// fresh between backend notifications.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wallet-sync/internal/bridge"
	"github.com/wallet-sync/internal/logging"
	"github.com/wallet-sync/internal/models"
)

// Refresher is the part of the orchestrator the worker drives
type Refresher interface {
	RefreshBalances(ctx context.Context, accounts []models.AccountID) (bridge.Report, error)
	RefreshPrices(ctx context.Context, currency string) (bridge.Report, error)
}

// Stats reports worker activity
type Stats struct {
	Running      bool      `json:"running"`
	Polls        int64     `json:"polls"`
	Failures     int64     `json:"failures"`
	LastPollTime time.Time `json:"lastPollTime,omitempty"`
	LastError    string    `json:"lastError,omitempty"`
}

// RefreshWorker periodically re-reads balances and prices. Reads go through
// the query cache, so an interval shorter than the cache TTL mostly hits it.
type RefreshWorker struct {
	refresher    Refresher
	pollInterval time.Duration
	logger       *logging.Logger

	mu      sync.RWMutex
	running bool
	stats   Stats
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRefreshWorker creates a worker polling every interval
func NewRefreshWorker(r Refresher, interval time.Duration, logger *logging.Logger) (*RefreshWorker, error) {
	if r == nil {
		return nil, fmt.Errorf("refresher cannot be nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive, got %v", interval)
	}
	return &RefreshWorker{
		refresher:    r,
		pollInterval: interval,
		logger:       logger.WithComponent("refresh_worker"),
	}, nil
}

// Start begins polling until ctx ends or Stop is called
func (w *RefreshWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("refresh worker is already running")
	}
	w.running = true
	w.stats.Running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	w.logger.WithField("interval", w.pollInterval.String()).Info("starting refresh worker")
	go w.pollLoop(ctx, w.stopCh, w.doneCh)
	return nil
}

// Stop signals the polling loop and waits for it to exit. Only one caller
// stops a given run; later callers get an error.
func (w *RefreshWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("refresh worker is not running")
	}
	w.running = false
	w.stats.Running = false
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.logger.Info("refresh worker stopped")
	return nil
}

// Stats returns a copy of the counters
func (w *RefreshWorker) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *RefreshWorker) pollLoop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if err := w.Poll(ctx); err != nil {
				// keep polling; the next tick may succeed
				w.logger.WithError(err).Warn("refresh failed")
			}
		}
	}
}

// Poll runs one refresh of balances then prices. A balance failure does
// not skip the price refresh.
func (w *RefreshWorker) Poll(ctx context.Context) error {
	start := time.Now()
	var firstErr error

	balances, err := w.refresher.RefreshBalances(ctx, nil)
	if err != nil {
		firstErr = fmt.Errorf("refresh balances: %w", err)
	}
	prices, err := w.refresher.RefreshPrices(ctx, "")
	if err != nil && firstErr == nil {
		firstErr = fmt.Errorf("refresh prices: %w", err)
	}

	w.mu.Lock()
	w.stats.Polls++
	w.stats.LastPollTime = start
	w.stats.LastError = ""
	if firstErr != nil {
		w.stats.Failures++
		w.stats.LastError = firstErr.Error()
	}
	w.mu.Unlock()

	if firstErr == nil {
		w.logger.WithFields(map[string]interface{}{
			"balancesApplied": balances.Applied,
			"pricesApplied":   prices.Applied,
			"revision":        prices.Revision,
			"duration":        time.Since(start).String(),
		}).Debug("refresh complete")
	}
	return firstErr
}
