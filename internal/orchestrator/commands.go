package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wallet-sync/internal/backend"
	"github.com/wallet-sync/internal/cache"
	apperrors "github.com/wallet-sync/internal/errors"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/store"
	"github.com/wallet-sync/internal/types"
)

// SwitchNetwork makes key the active network
func (o *Orchestrator) SwitchNetwork(ctx context.Context, key models.NetworkKey) error {
	key = key.Normalized()
	if _, ok := o.store.Snapshot().Network(key); !ok {
		return apperrors.NewNotFoundError("network", key.String())
	}
	if err := o.backend.SetNetwork(ctx, key); err != nil {
		return err
	}
	if _, err := o.store.Apply(ctx, store.SetActiveNetwork{Key: &key}); err != nil {
		return err
	}
	o.invalidate(ctx, cache.TagNetwork(key))
	o.logger.WithField("network", key.String()).Info("active network switched")
	return nil
}

// RemoveAccount removes an account from its keyring
func (o *Orchestrator) RemoveAccount(ctx context.Context, id models.AccountID) error {
	id = id.Normalized()
	if _, ok := o.store.Snapshot().Account(id); !ok {
		return apperrors.NewNotFoundError("account", id.String())
	}
	if err := o.backend.RemoveAccount(ctx, id); err != nil {
		return err
	}
	_, err := o.store.Apply(ctx, store.RemoveAccount{ID: id})
	if !isReason(err, store.ReasonUnknownAccount) && err != nil {
		return err
	}
	o.invalidate(ctx, cache.TagAccount(id), cache.TagKind(string(store.KindAccount)))
	return nil
}

// RenameAccount changes an account's display name
func (o *Orchestrator) RenameAccount(ctx context.Context, id models.AccountID, name string) error {
	id = id.Normalized()
	name = strings.TrimSpace(name)
	if name == "" {
		return apperrors.NewInvalidParameterError("name", "must not be empty")
	}
	if _, ok := o.store.Snapshot().Account(id); !ok {
		return apperrors.NewNotFoundError("account", id.String())
	}
	if err := o.backend.RenameAccount(ctx, id, name); err != nil {
		return err
	}
	if _, err := o.store.Apply(ctx, store.RenameAccount{ID: id, Name: name}); err != nil {
		return err
	}
	o.invalidate(ctx, cache.TagAccount(id))
	return nil
}

// SelectAccount makes id the selected account
func (o *Orchestrator) SelectAccount(ctx context.Context, id models.AccountID) error {
	id = id.Normalized()
	if _, ok := o.store.Snapshot().Account(id); !ok {
		return apperrors.NewNotFoundError("account", id.String())
	}
	if err := o.backend.SelectAccount(ctx, id); err != nil {
		return err
	}
	_, err := o.store.Apply(ctx, store.SetSelectedAccount{ID: &id})
	return err
}

// AddAsset adds a token to the user's asset list
func (o *Orchestrator) AddAsset(ctx context.Context, asset models.Asset) error {
	asset.ID = asset.ID.Normalized()
	if strings.TrimSpace(asset.Symbol) == "" {
		return apperrors.NewInvalidParameterError("symbol", "must not be empty")
	}
	if asset.Decimals < 0 || asset.Decimals > 36 {
		return apperrors.NewInvalidParameterError("decimals", "must be between 0 and 36")
	}
	st := o.store.Snapshot()
	if _, ok := st.Network(asset.ID.Network()); !ok {
		return apperrors.NewNotFoundError("network", asset.ID.Network().String())
	}
	if _, exists := st.Asset(asset.ID); exists {
		return apperrors.NewConflictError("ASSET_EXISTS", fmt.Sprintf("asset %s is already listed", asset.ID))
	}
	if err := o.backend.AddUserAsset(ctx, asset); err != nil {
		return err
	}
	_, err := o.store.Apply(ctx, store.PutAsset{Asset: asset})
	if !isReason(err, store.ReasonDuplicateID) && err != nil {
		return err
	}
	o.invalidate(ctx, cache.TagAsset(asset.ID), cache.TagKind(string(store.KindAsset)))
	return nil
}

// RemoveAsset removes a token from the user's asset list. Native assets can
// only be hidden.
func (o *Orchestrator) RemoveAsset(ctx context.Context, id models.AssetID) error {
	id = id.Normalized()
	if id.IsNative() {
		return apperrors.NewInvalidParameterError("asset", "native assets cannot be removed")
	}
	if _, ok := o.store.Snapshot().Asset(id); !ok {
		return apperrors.NewNotFoundError("asset", id.String())
	}
	if err := o.backend.RemoveUserAsset(ctx, id); err != nil {
		return err
	}
	_, err := o.store.Apply(ctx, store.RemoveAsset{ID: id})
	if !isReason(err, store.ReasonUnknownAsset) && err != nil {
		return err
	}
	o.invalidate(ctx, cache.TagAsset(id), cache.TagKind(string(store.KindAsset)))
	return nil
}

// SetAssetVisibility shows or hides an asset
func (o *Orchestrator) SetAssetVisibility(ctx context.Context, id models.AssetID, visible bool) error {
	id = id.Normalized()
	if _, ok := o.store.Snapshot().Asset(id); !ok {
		return apperrors.NewNotFoundError("asset", id.String())
	}
	if err := o.backend.SetUserAssetVisible(ctx, id, visible); err != nil {
		return err
	}
	if _, err := o.store.Apply(ctx, store.SetAssetVisibility{ID: id, Visible: visible}); err != nil {
		return err
	}
	o.invalidate(ctx, cache.TagAsset(id))
	return nil
}

// SubmitTransactionInput describes an unsigned transaction
type SubmitTransactionInput struct {
	From    models.AccountID  `json:"from"`
	Network models.NetworkKey `json:"network"`
	Payload json.RawMessage   `json:"payload"`
}

// SubmitTransaction hands a transaction to the backend and records it
func (o *Orchestrator) SubmitTransaction(ctx context.Context, in SubmitTransactionInput) (models.Transaction, error) {
	in.From = in.From.Normalized()
	in.Network = in.Network.Normalized()
	if len(in.Payload) == 0 || !json.Valid(in.Payload) {
		return models.Transaction{}, apperrors.NewInvalidParameterError("payload", "must be a JSON document")
	}
	st := o.store.Snapshot()
	if _, ok := st.Account(in.From); !ok {
		return models.Transaction{}, apperrors.NewNotFoundError("account", in.From.String())
	}
	if _, ok := st.Network(in.Network); !ok {
		return models.Transaction{}, apperrors.NewNotFoundError("network", in.Network.String())
	}

	tx, err := o.backend.SubmitTransaction(ctx, backend.SubmitTransactionRequest{
		From:    in.From,
		Network: in.Network,
		Payload: in.Payload,
	})
	if err != nil {
		return models.Transaction{}, err
	}
	if tx.From.IsZero() {
		tx.From = in.From
	}
	if tx.Network.ChainID == "" {
		tx.Network = in.Network
	}
	if len(tx.Payload) == 0 {
		tx.Payload = in.Payload
	}
	return o.recordTransaction(ctx, tx)
}

// ApproveTransaction approves a transaction awaiting the user's decision
func (o *Orchestrator) ApproveTransaction(ctx context.Context, id string) (models.Transaction, error) {
	return o.decide(ctx, id, types.StatusApproved, o.backend.ApproveTransaction)
}

// RejectTransaction rejects a transaction awaiting the user's decision
func (o *Orchestrator) RejectTransaction(ctx context.Context, id string) (models.Transaction, error) {
	return o.decide(ctx, id, types.StatusRejected, o.backend.RejectTransaction)
}

func (o *Orchestrator) decide(ctx context.Context, id string, next types.TransactionStatus, call func(context.Context, string) error) (models.Transaction, error) {
	tx, ok := o.store.Snapshot().Transaction(id)
	if !ok {
		return models.Transaction{}, apperrors.NewNotFoundError("transaction", id)
	}
	if tx.Status != types.StatusUnapproved {
		return models.Transaction{}, invalidState(tx, next)
	}
	if err := call(ctx, id); err != nil {
		return models.Transaction{}, err
	}

	// the observer may already have moved the transaction further
	_, err := o.store.Apply(ctx, store.UpdateTransactionStatus{ID: id, Status: next, At: time.Now().UTC()})
	if err != nil && !isReason(err, store.ReasonStatusRegression) {
		return models.Transaction{}, err
	}
	o.invalidate(ctx, cache.TagAccount(tx.From))
	current, _ := o.store.Snapshot().Transaction(id)
	return current, nil
}

var (
	retryable = []types.TransactionStatus{types.StatusError, types.StatusDropped}
	pending   = []types.TransactionStatus{types.StatusApproved, types.StatusSigned, types.StatusSubmitted}
)

// RetryTransaction resubmits a failed or dropped transaction as a new one
func (o *Orchestrator) RetryTransaction(ctx context.Context, id string) (models.Transaction, error) {
	return o.replace(ctx, id, "retry", retryable, o.backend.RetryTransaction)
}

// SpeedUpTransaction replaces a pending transaction with a higher fee copy
func (o *Orchestrator) SpeedUpTransaction(ctx context.Context, id string) (models.Transaction, error) {
	return o.replace(ctx, id, "speed_up", pending, o.backend.SpeedUpTransaction)
}

// CancelTransaction replaces a pending transaction with a zero-value transfer
func (o *Orchestrator) CancelTransaction(ctx context.Context, id string) (models.Transaction, error) {
	return o.replace(ctx, id, "cancel", pending, o.backend.CancelTransaction)
}

func (o *Orchestrator) replace(ctx context.Context, id, action string, allowed []types.TransactionStatus, call func(context.Context, string) (models.Transaction, error)) (models.Transaction, error) {
	orig, ok := o.store.Snapshot().Transaction(id)
	if !ok {
		return models.Transaction{}, apperrors.NewNotFoundError("transaction", id)
	}
	if !statusIn(orig.Status, allowed) {
		return models.Transaction{}, apperrors.NewConflictError("INVALID_TRANSACTION_STATE",
			fmt.Sprintf("cannot %s transaction %s in status %s", action, id, orig.Status))
	}

	tx, err := call(ctx, id)
	if err != nil {
		return models.Transaction{}, err
	}
	if tx.ReplacesID == "" {
		tx.ReplacesID = id
	}
	if tx.From.IsZero() {
		tx.From = orig.From
	}
	if tx.Network.ChainID == "" {
		tx.Network = orig.Network
	}
	recorded, err := o.recordTransaction(ctx, tx)
	if err != nil {
		return models.Transaction{}, err
	}
	o.logger.WithFields(map[string]interface{}{
		"action":   action,
		"original": id,
		"tx":       recorded.ID,
	}).Info("transaction replaced")
	return recorded, nil
}

// recordTransaction stores a transaction the backend accepted. When the
// observer delivered it first the stored copy is returned.
func (o *Orchestrator) recordTransaction(ctx context.Context, tx models.Transaction) (models.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	if tx.UpdatedAt.IsZero() {
		tx.UpdatedAt = tx.CreatedAt
	}
	if tx.Status == "" {
		tx.Status = types.StatusUnapproved
	}

	_, err := o.store.Apply(ctx, store.PutTransaction{Tx: tx})
	if err != nil && !isReason(err, store.ReasonDuplicateID) {
		return models.Transaction{}, err
	}
	o.invalidate(ctx, cache.TagAccount(tx.From))
	stored, ok := o.store.Snapshot().Transaction(tx.ID)
	if !ok {
		// already evicted by retention
		return tx, nil
	}
	return stored, nil
}

func invalidState(tx models.Transaction, next types.TransactionStatus) error {
	return apperrors.NewConflictError("INVALID_TRANSACTION_STATE",
		fmt.Sprintf("transaction %s is %s and cannot become %s", tx.ID, tx.Status, next))
}

func statusIn(s types.TransactionStatus, set []types.TransactionStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

func isReason(err error, reason store.Reason) bool {
	r, ok := store.ReasonOf(err)
	return ok && r == reason
}
