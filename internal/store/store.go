// Package store holds the normalized wallet entities. A single goroutine owns
// all writes: patches are sent over a channel, applied one at a time, and
// published as immutable snapshots.
package store

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/wallet-sync/internal/logging"
)

// Config holds store settings
type Config struct {
	// TxRetention caps the number of terminal transactions kept; 0 keeps all
	TxRetention    int
	MutationBuffer int
}

// Hook runs on the writer goroutine after a patch commits and before Apply
// returns to the caller. Hooks must not call Apply.
type Hook func(ctx context.Context, change Change)

type request struct {
	ctx   context.Context
	patch Patch
	reply chan response
}

type response struct {
	change Change
	err    error
}

// Store is the single source of truth for wallet entities
type Store struct {
	cfg       Config
	logger    *logging.Logger
	mutations chan request
	current   atomic.Pointer[State]

	hooksMu sync.RWMutex
	hooks   []Hook

	subsMu sync.Mutex
	subs   map[int]*subscriber
	nextID int

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a store and starts its writer goroutine
func New(cfg Config, logger *logging.Logger) *Store {
	if cfg.MutationBuffer <= 0 {
		cfg.MutationBuffer = 64
	}
	s := &Store{
		cfg:       cfg,
		logger:    logger.WithComponent("store"),
		mutations: make(chan request, cfg.MutationBuffer),
		subs:      make(map[int]*subscriber),
		done:      make(chan struct{}),
	}
	s.current.Store(emptyState())

	s.wg.Add(1)
	go s.run()
	return s
}

// Snapshot returns the latest committed state. It never blocks on writers.
func (s *Store) Snapshot() *State {
	return s.current.Load()
}

// Apply sends a patch to the writer and waits for its outcome. A rejected
// patch returns *RejectedPatchError and leaves the state untouched. A patch
// that changes nothing commits without bumping the revision.
// If ctx ends after the patch was queued the patch may still be applied.
func (s *Store) Apply(ctx context.Context, p Patch) (Change, error) {
	req := request{ctx: ctx, patch: p, reply: make(chan response, 1)}

	select {
	case s.mutations <- req:
	case <-s.done:
		return Change{}, ErrClosed
	case <-ctx.Done():
		return Change{}, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp.change, resp.err
	case <-s.done:
		return Change{}, ErrClosed
	case <-ctx.Done():
		return Change{}, ctx.Err()
	}
}

// AddHook registers a synchronous commit hook
func (s *Store) AddHook(h Hook) {
	s.hooksMu.Lock()
	s.hooks = append(s.hooks, h)
	s.hooksMu.Unlock()
}

// Close stops the writer goroutine and ends every subscription
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()

		s.subsMu.Lock()
		for id, sub := range s.subs {
			sub.close()
			delete(s.subs, id)
		}
		s.subsMu.Unlock()
	})
}

func (s *Store) run() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.mutations:
			req.reply <- s.commit(req)
		case <-s.done:
			return
		}
	}
}

func (s *Store) commit(req request) response {
	base := s.current.Load()
	t := newTxn(base, s.cfg.TxRetention)

	if err := req.patch.apply(t); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"op":       req.patch.Op(),
			"revision": base.revision,
		}).WithError(err).Warn("patch rejected")
		return response{err: err}
	}
	if !t.changed() {
		return response{change: Change{Revision: base.revision, Op: req.patch.Op()}}
	}

	t.st.revision = base.revision + 1
	s.current.Store(t.st)
	change := t.change(req.patch.Op(), t.st.revision)

	s.logger.WithFields(map[string]interface{}{
		"op":       change.Op,
		"revision": change.Revision,
		"kinds":    change.Kinds,
	}).Debug("patch committed")

	s.hooksMu.RLock()
	hooks := s.hooks
	s.hooksMu.RUnlock()
	for _, h := range hooks {
		h(req.ctx, change)
	}

	s.publish(change)
	return response{change: change}
}
