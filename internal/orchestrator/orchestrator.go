// Package orchestrator runs user-initiated flows against the wallet backend
// and records their outcome in the entity store. Backend failures are
// returned to the caller unmodified and leave the store untouched.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/wallet-sync/internal/backend"
	"github.com/wallet-sync/internal/bridge"
	"github.com/wallet-sync/internal/cache"
	apperrors "github.com/wallet-sync/internal/errors"
	"github.com/wallet-sync/internal/logging"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/store"
)

var (
	// ErrAbandoned is returned by Wait for a queued command whose unlock
	// attempts ran out
	ErrAbandoned = apperrors.NewAbandonedError("unlock attempts exhausted")

	// ErrNotCancellable is returned when cancelling a command that is no
	// longer waiting for unlock
	ErrNotCancellable = apperrors.NewConflictError("NOT_CANCELLABLE", "command is not awaiting unlock")

	// ErrWrongPassword is returned by Unlock when the keyring refuses the password
	ErrWrongPassword = &apperrors.CategorizedError{
		Category:   apperrors.CategoryValidation,
		StatusCode: http.StatusUnauthorized,
		Code:       "WRONG_PASSWORD",
		Message:    "incorrect password",
	}
)

// Config holds orchestrator settings
type Config struct {
	MaxUnlockAttempts int
	// DefaultNetwork is selected when a cancelled account creation has no
	// previous network to return to
	DefaultNetwork models.NetworkKey
	// Currency is the fiat currency prices are refreshed in
	Currency string
}

// Stats reports command counters
type Stats struct {
	Queued         int `json:"queued"`
	Running        int `json:"running"`
	UnlockFailures int `json:"unlockFailures"`
}

// Orchestrator sequences backend calls with store updates
type Orchestrator struct {
	cfg     Config
	store   *store.Store
	backend backend.Backend
	cache   *cache.Cache
	bridge  *bridge.Bridge
	logger  *logging.Logger

	// commands run on this context so a caller's request ending does not
	// strand a queued command
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	commands       map[uuid.UUID]*Command
	queue          []*Command
	unlockFailures int
}

// New creates an orchestrator. The orchestrator registers a store hook so
// queued commands resume however the wallet gets unlocked.
func New(cfg Config, s *store.Store, be backend.Backend, c *cache.Cache, b *bridge.Bridge, logger *logging.Logger) *Orchestrator {
	if cfg.MaxUnlockAttempts < 1 {
		cfg.MaxUnlockAttempts = 3
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	cfg.Currency = strings.ToUpper(cfg.Currency)
	cfg.DefaultNetwork = cfg.DefaultNetwork.Normalized()

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:      cfg,
		store:    s,
		backend:  be,
		cache:    c,
		bridge:   b,
		logger:   logger.WithComponent("orchestrator"),
		ctx:      ctx,
		cancel:   cancel,
		commands: make(map[uuid.UUID]*Command),
	}
	s.AddHook(o.onChange)
	return o
}

// Close stops accepting work and waits for running commands to finish
func (o *Orchestrator) Close() {
	o.cancel()
	o.mu.Lock()
	queued := o.queue
	o.queue = nil
	o.mu.Unlock()
	for _, cmd := range queued {
		cmd.settle(StateCancelled, models.Account{}, context.Canceled)
	}
	o.wg.Wait()
}

// Stats returns current counters
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	running := 0
	for _, cmd := range o.commands {
		if s := cmd.State(); s == StateReady || s == StateInFlight {
			running++
		}
	}
	return Stats{Queued: len(o.queue), Running: running, UnlockFailures: o.unlockFailures}
}

// Command looks up a command by id
func (o *Orchestrator) Command(id uuid.UUID) (*Command, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cmd, ok := o.commands[id]
	return cmd, ok
}

// CreateAccount starts creating an account. While the wallet is locked the
// command waits for a successful unlock; otherwise it runs immediately.
func (o *Orchestrator) CreateAccount(ctx context.Context, in CreateAccountInput) *Command {
	cmd := newCommand(in)
	log := o.logger.WithField("command", cmd.ID.String()).WithField("coin", in.Coin.String())

	if !in.Coin.IsKnown() {
		cmd.settle(StateFailed, models.Account{}, apperrors.NewInvalidParameterError("coin", fmt.Sprintf("unsupported coin type %d", int(in.Coin))))
		return cmd
	}
	if o.ctx.Err() != nil {
		cmd.settle(StateCancelled, models.Account{}, o.ctx.Err())
		return cmd
	}

	o.mu.Lock()
	o.commands[cmd.ID] = cmd
	if o.store.Snapshot().Locked() {
		cmd.transition(StateAwaitingUnlock, StateIdle)
		o.queue = append(o.queue, cmd)
		o.mu.Unlock()
		log.Info("wallet locked, create account awaiting unlock")
		return cmd
	}
	cmd.transition(StateReady, StateIdle)
	o.start(cmd)
	o.mu.Unlock()
	return cmd
}

// start runs cmd in the background; callers hold o.mu
func (o *Orchestrator) start(cmd *Command) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runCreateAccount(o.ctx, cmd)
	}()
}

func (o *Orchestrator) runCreateAccount(ctx context.Context, cmd *Command) {
	if !cmd.transition(StateInFlight, StateReady) {
		return
	}
	log := o.logger.WithField("command", cmd.ID.String())

	// values are read when the command leaves the queue, not when it was issued
	st := o.store.Snapshot()
	in := cmd.Input
	chain := in.ChainID
	if chain == "" {
		if key, ok := st.ActiveNetwork(); ok && key.Coin == in.Coin {
			chain = key.ChainID
		}
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = models.SuggestAccountName(st.Accounts(), in.Coin)
	}
	req := backend.CreateAccountRequest{
		Name:      name,
		Coin:      in.Coin,
		KeyringID: models.KeyringIDFor(in.Coin, chain),
		ChainID:   chain,
	}

	acc, err := o.backend.CreateAccount(ctx, req)
	if err != nil {
		log.WithError(err).Warn("create account failed")
		cmd.settle(StateFailed, models.Account{}, err)
		o.prune()
		return
	}
	if acc.Name == "" {
		acc.Name = name
	}
	if acc.ID.Coin == 0 && in.Coin != 0 {
		acc.ID.Coin = in.Coin
	}
	if acc.ID.KeyringID == "" {
		acc.ID.KeyringID = req.KeyringID
	}
	if acc.Keyring == "" {
		acc.Keyring = acc.ID.KeyringID
	}
	acc.ID = acc.ID.Normalized()

	if err := o.commitAccount(ctx, acc); err != nil {
		log.WithError(err).Warn("create account could not be recorded")
		cmd.settle(StateFailed, models.Account{}, err)
		o.prune()
		return
	}
	o.invalidate(ctx, cache.TagKind(string(store.KindAccount)))

	if cmd.settle(StateCommitted, acc, nil) {
		log.WithField("account", acc.ID.String()).Info("account created")
	}
	o.prune()
}

// commitAccount records the new account and selects it. The observer may
// have delivered the account first, in which case only the selection is applied.
func (o *Orchestrator) commitAccount(ctx context.Context, acc models.Account) error {
	id := acc.ID
	_, err := o.store.Apply(ctx, store.Batch{Patches: []store.Patch{
		store.PutAccount{Account: acc},
		store.SetSelectedAccount{ID: &id},
	}})
	if reason, ok := store.ReasonOf(err); ok && reason == store.ReasonDuplicateID {
		_, err = o.store.Apply(ctx, store.SetSelectedAccount{ID: &id})
	}
	return err
}

// prune drops finished commands once the index grows past maxRetainedCommands
func (o *Orchestrator) prune() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.commands) > maxRetainedCommands {
		for id, c := range o.commands {
			if c.State().IsTerminal() {
				delete(o.commands, id)
			}
		}
	}
}

const maxRetainedCommands = 256

// Unlock submits the wallet password. A refused password counts toward the
// attempt limit; at the limit every queued command is abandoned. A backend
// error is returned as is and does not count.
func (o *Orchestrator) Unlock(ctx context.Context, password string) error {
	ok, err := o.backend.Unlock(ctx, password)
	if err != nil {
		return err
	}

	if !ok {
		o.mu.Lock()
		o.unlockFailures++
		failures := o.unlockFailures
		var abandoned []*Command
		if failures >= o.cfg.MaxUnlockAttempts {
			abandoned = o.queue
			o.queue = nil
			o.unlockFailures = 0
		}
		o.mu.Unlock()

		for _, cmd := range abandoned {
			if cmd.settle(StateAbandoned, models.Account{}, ErrAbandoned) {
				o.logger.WithField("command", cmd.ID.String()).Warn("create account abandoned")
			}
		}
		o.logger.WithFields(map[string]interface{}{
			"failures":  failures,
			"abandoned": len(abandoned),
		}).Warn("unlock refused")
		if len(abandoned) > 0 {
			return fmt.Errorf("%w: %d queued commands abandoned", ErrWrongPassword, len(abandoned))
		}
		return ErrWrongPassword
	}

	o.mu.Lock()
	o.unlockFailures = 0
	o.mu.Unlock()

	if _, err := o.store.Apply(ctx, store.SetLocked{Locked: false}); err != nil {
		return err
	}
	o.resume()
	return nil
}

// Lock records that the wallet is locked; new commands queue until unlock
func (o *Orchestrator) Lock(ctx context.Context) error {
	_, err := o.store.Apply(ctx, store.SetLocked{Locked: true})
	return err
}

// onChange resumes queued commands when the store reports the wallet unlocked
func (o *Orchestrator) onChange(_ context.Context, change store.Change) {
	if change.Has(store.KindLock) && !o.store.Snapshot().Locked() {
		o.resume()
	}
}

func (o *Orchestrator) resume() {
	o.mu.Lock()
	defer o.mu.Unlock()
	queued := o.queue
	o.queue = nil
	for _, cmd := range queued {
		if cmd.transition(StateReady, StateAwaitingUnlock) {
			o.start(cmd)
		}
	}
	if len(queued) > 0 {
		o.logger.WithField("resumed", len(queued)).Info("wallet unlocked, resuming queued commands")
	}
}

// Cancel cancels a command that is still waiting for unlock
func (o *Orchestrator) Cancel(id uuid.UUID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	cmd, ok := o.commands[id]
	if !ok {
		return apperrors.NewNotFoundError("command", id.String())
	}
	if cmd.State() != StateAwaitingUnlock {
		return ErrNotCancellable
	}
	o.dequeue(cmd)
	cmd.settle(StateCancelled, models.Account{}, context.Canceled)
	return nil
}

// dequeue removes cmd from the unlock queue; callers hold o.mu
func (o *Orchestrator) dequeue(cmd *Command) {
	for i, c := range o.queue {
		if c == cmd {
			o.queue = append(o.queue[:i], o.queue[i+1:]...)
			return
		}
	}
}

// CancelCreateAccount abandons the create-account flow: queued commands are
// cancelled and the network active before the flow is restored. Without a
// usable previous network the configured default is selected so the wallet
// is never left without an active network.
func (o *Orchestrator) CancelCreateAccount(ctx context.Context, prev *models.NetworkKey) (models.NetworkKey, error) {
	o.mu.Lock()
	queued := o.queue
	o.queue = nil
	o.mu.Unlock()
	for _, cmd := range queued {
		cmd.settle(StateCancelled, models.Account{}, context.Canceled)
	}

	target := o.cfg.DefaultNetwork
	if prev != nil {
		if _, ok := o.store.Snapshot().Network(prev.Normalized()); ok {
			target = prev.Normalized()
		} else {
			o.logger.WithField("network", prev.String()).Warn("previous network is gone, falling back to default")
		}
	}
	if err := o.SwitchNetwork(ctx, target); err != nil {
		return models.NetworkKey{}, err
	}
	return target, nil
}

// invalidate evicts cache entries after a backend mutation
func (o *Orchestrator) invalidate(ctx context.Context, tags ...string) {
	if o.cache == nil || len(tags) == 0 {
		return
	}
	if err := o.cache.Invalidate(ctx, tags...); err != nil {
		o.logger.WithError(err).Warn("cache invalidation failed")
	}
}
