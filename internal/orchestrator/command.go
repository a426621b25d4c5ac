package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/types"
)

// State is a command's position in its lifecycle
type State string

const (
	StateIdle           State = "idle"
	StateAwaitingUnlock State = "awaiting_unlock"
	StateReady          State = "ready"
	StateInFlight       State = "in_flight"
	StateCommitted      State = "committed"
	StateFailed         State = "failed"
	StateAbandoned      State = "abandoned"
	StateCancelled      State = "cancelled"
)

// IsTerminal reports whether the command has finished
func (s State) IsTerminal() bool {
	switch s {
	case StateCommitted, StateFailed, StateAbandoned, StateCancelled:
		return true
	}
	return false
}

// CreateAccountInput is the caller's request for a new account. Name and
// ChainID may be left empty.
type CreateAccountInput struct {
	Name    string         `json:"name"`
	Coin    types.CoinType `json:"coin"`
	ChainID types.ChainID  `json:"chainId,omitempty"`
}

// Command is one asynchronous create-account flow
type Command struct {
	ID        uuid.UUID
	Input     CreateAccountInput
	CreatedAt time.Time

	mu      sync.Mutex
	state   State
	account models.Account
	err     error
	done    chan struct{}
}

// Info is a point-in-time view of a command
type Info struct {
	ID        uuid.UUID          `json:"id"`
	Kind      string             `json:"kind"`
	State     State              `json:"state"`
	Input     CreateAccountInput `json:"input"`
	Account   *models.Account    `json:"account,omitempty"`
	Error     string             `json:"error,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
}

func newCommand(in CreateAccountInput) *Command {
	return &Command{
		ID:        uuid.New(),
		Input:     in,
		CreatedAt: time.Now().UTC(),
		state:     StateIdle,
		done:      make(chan struct{}),
	}
}

// State returns the current state
func (c *Command) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the command reaches a terminal state
func (c *Command) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the command finishes or ctx ends. The command keeps
// running if ctx ends first.
func (c *Command) Wait(ctx context.Context) (models.Account, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		return models.Account{}, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account, c.err
}

// Info snapshots the command
func (c *Command) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := Info{
		ID:        c.ID,
		Kind:      "create_account",
		State:     c.state,
		Input:     c.Input,
		CreatedAt: c.CreatedAt,
	}
	if c.state == StateCommitted {
		acc := c.account
		info.Account = &acc
	}
	if c.err != nil {
		info.Error = c.err.Error()
	}
	return info
}

// transition moves from one of the given states to next
func (c *Command) transition(next State, from ...State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range from {
		if c.state == s {
			c.state = next
			return true
		}
	}
	return false
}

// settle moves a running command to a terminal state exactly once
func (c *Command) settle(state State, acc models.Account, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.IsTerminal() {
		return false
	}
	c.state = state
	c.account = acc
	c.err = err
	close(c.done)
	return true
}
