package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/wallet-sync/internal/logging"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/store"
)

// maxFilterPasses bounds re-filtering when the store changed between the
// snapshot used to drop unknown items and the commit
const maxFilterPasses = 3

// Drop records one item of an event left out because it references an
// entity the store does not know
type Drop struct {
	Item   string `json:"item"`
	Reason string `json:"reason"`
}

// Report describes what ingesting one event did
type Report struct {
	Kind     Kind   `json:"kind"`
	Applied  bool   `json:"applied"`
	Revision uint64 `json:"revision"`
	Dropped  []Drop `json:"dropped,omitempty"`
}

// Stats counts bridge activity since start
type Stats struct {
	Events    int64 `json:"events"`
	Malformed int64 `json:"malformed"`
	Dropped   int64 `json:"dropped"`
	Rejected  int64 `json:"rejected"`
}

// Bridge translates events into store patches. Handlers are idempotent:
// delivering the same event twice leaves the store as after one delivery.
type Bridge struct {
	store  *store.Store
	logger *logging.Logger

	events    atomic.Int64
	malformed atomic.Int64
	dropped   atomic.Int64
	rejected  atomic.Int64
}

// New creates a bridge writing into s
func New(s *store.Store, logger *logging.Logger) *Bridge {
	return &Bridge{store: s, logger: logger.WithComponent("bridge")}
}

// Stats returns activity counters
func (b *Bridge) Stats() Stats {
	return Stats{
		Events:    b.events.Load(),
		Malformed: b.malformed.Load(),
		Dropped:   b.dropped.Load(),
		Rejected:  b.rejected.Load(),
	}
}

// HandleNotification decodes and ingests one raw notification. Undecodable
// notifications are logged and returned as *MalformedEventError.
func (b *Bridge) HandleNotification(ctx context.Context, kind string, payload interface{}) (Report, error) {
	ev, err := Decode(kind, payload)
	if err != nil {
		b.malformed.Add(1)
		b.logger.WithField("kind", kind).WithError(err).Warn("dropping malformed event")
		return Report{Kind: Kind(kind)}, err
	}
	return b.Ingest(ctx, ev)
}

// Ingest applies one event. Items referencing unknown entities are dropped
// individually with a warning; the rest of the event still applies.
func (b *Bridge) Ingest(ctx context.Context, ev Event) (Report, error) {
	b.events.Add(1)

	var (
		report Report
		err    error
	)
	switch e := ev.(type) {
	case AccountsChanged:
		report, err = b.apply(ctx, e.Kind(), func(*store.State) (store.Patch, []Drop) {
			return accountsPatch(e.Accounts)
		})
	case SelectedAccountChanged:
		report, err = b.apply(ctx, e.Kind(), func(st *store.State) (store.Patch, []Drop) {
			if e.ID == nil {
				return store.SetSelectedAccount{}, nil
			}
			id := e.ID.Normalized()
			if _, ok := st.Account(id); !ok {
				return nil, []Drop{{Item: id.String(), Reason: string(store.ReasonUnknownAccount)}}
			}
			return store.SetSelectedAccount{ID: &id}, nil
		})
	case ActiveNetworkChanged:
		report, err = b.apply(ctx, e.Kind(), func(st *store.State) (store.Patch, []Drop) {
			if e.Key == nil {
				return store.SetActiveNetwork{}, nil
			}
			key := e.Key.Normalized()
			if _, ok := st.Network(key); !ok {
				return nil, []Drop{{Item: key.String(), Reason: string(store.ReasonUnknownNetwork)}}
			}
			return store.SetActiveNetwork{Key: &key}, nil
		})
	case NetworksChanged:
		report, err = b.apply(ctx, e.Kind(), func(*store.State) (store.Patch, []Drop) {
			return networksPatch(e.Networks)
		})
	case LockStateChanged:
		report, err = b.apply(ctx, e.Kind(), func(*store.State) (store.Patch, []Drop) {
			return store.SetLocked{Locked: e.Locked}, nil
		})
	case TransactionAdded:
		report, err = b.transactionAdded(ctx, e)
	case TransactionUpdated:
		report, err = b.transactionUpdated(ctx, e)
	case BalancesUpdated:
		report, err = b.apply(ctx, e.Kind(), func(st *store.State) (store.Patch, []Drop) {
			return balancesPatch(st, e.Facts)
		})
	case PricesUpdated:
		report, err = b.apply(ctx, e.Kind(), func(*store.State) (store.Patch, []Drop) {
			return pricesPatch(e.Prices)
		})
	case AssetsChanged:
		report, err = b.apply(ctx, e.Kind(), func(st *store.State) (store.Patch, []Drop) {
			return assetsPatch(st, e.Assets)
		})
	default:
		b.malformed.Add(1)
		return Report{}, &MalformedEventError{Kind: ev.Kind(), Reason: "unhandled event variant"}
	}

	b.logDrops(report)
	if err != nil && !errors.Is(err, context.Canceled) {
		b.rejected.Add(1)
		b.logger.WithField("kind", report.Kind).WithError(err).Warn("event rejected by store")
	}
	return report, err
}

// apply filters the event against a snapshot and commits the resulting patch.
// When the store changed in between and the patch now references something
// gone, the event is filtered again against the newer snapshot.
func (b *Bridge) apply(ctx context.Context, kind Kind, build func(*store.State) (store.Patch, []Drop)) (Report, error) {
	report := Report{Kind: kind}
	for pass := 1; ; pass++ {
		st := b.store.Snapshot()
		patch, drops := build(st)
		report.Dropped = drops
		report.Revision = st.Revision()
		if patch == nil {
			return report, nil
		}

		change, err := b.store.Apply(ctx, patch)
		if err == nil {
			report.Applied = true
			report.Revision = change.Revision
			return report, nil
		}
		if pass < maxFilterPasses && isUnknownReference(err) {
			continue
		}
		return report, err
	}
}

func isUnknownReference(err error) bool {
	reason, ok := store.ReasonOf(err)
	if !ok {
		return false
	}
	switch reason {
	case store.ReasonUnknownAccount, store.ReasonUnknownAsset, store.ReasonUnknownNetwork:
		return true
	}
	return false
}

func (b *Bridge) logDrops(report Report) {
	if len(report.Dropped) == 0 {
		return
	}
	b.dropped.Add(int64(len(report.Dropped)))
	for _, d := range report.Dropped {
		b.logger.WithFields(map[string]interface{}{
			"kind":   report.Kind,
			"item":   d.Item,
			"reason": d.Reason,
		}).Warn("dropping event item")
	}
}

func (b *Bridge) transactionAdded(ctx context.Context, e TransactionAdded) (Report, error) {
	report, err := b.apply(ctx, e.Kind(), func(st *store.State) (store.Patch, []Drop) {
		tx := e.Tx
		tx.From = tx.From.Normalized()
		tx.Network = tx.Network.Normalized()
		if _, ok := st.Transaction(tx.ID); ok {
			// redelivery of an event already applied
			return nil, nil
		}
		if _, ok := st.Account(tx.From); !ok {
			return nil, []Drop{{Item: tx.ID, Reason: string(store.ReasonUnknownAccount)}}
		}
		if _, ok := st.Network(tx.Network); !ok {
			return nil, []Drop{{Item: tx.ID, Reason: string(store.ReasonUnknownNetwork)}}
		}
		return store.PutTransaction{Tx: tx}, nil
	})
	if reason, ok := store.ReasonOf(err); ok && reason == store.ReasonDuplicateID {
		return report, nil
	}
	return report, err
}

func (b *Bridge) transactionUpdated(ctx context.Context, e TransactionUpdated) (Report, error) {
	report, err := b.apply(ctx, e.Kind(), func(st *store.State) (store.Patch, []Drop) {
		cur, ok := st.Transaction(e.ID)
		if !ok {
			return nil, []Drop{{Item: e.ID, Reason: string(store.ReasonUnknownTransaction)}}
		}
		if !cur.Status.CanTransitionTo(e.Status) {
			// a late event for a transaction that already moved on
			return nil, []Drop{{Item: e.ID, Reason: string(store.ReasonStatusRegression)}}
		}
		return store.UpdateTransactionStatus{ID: e.ID, Status: e.Status, TxHash: e.TxHash}, nil
	})
	if reason, ok := store.ReasonOf(err); ok {
		switch reason {
		case store.ReasonStatusRegression, store.ReasonUnknownTransaction:
			report.Dropped = append(report.Dropped, Drop{Item: e.ID, Reason: string(reason)})
			return report, nil
		}
	}
	return report, err
}

func accountsPatch(accounts []models.Account) (store.Patch, []Drop) {
	var drops []Drop
	seen := make(map[models.AccountID]bool, len(accounts))
	kept := make([]models.Account, 0, len(accounts))
	for _, acc := range accounts {
		acc.ID = acc.ID.Normalized()
		switch {
		case acc.ID.Address == "":
			drops = append(drops, Drop{Item: acc.Name, Reason: string(store.ReasonInvalidValue)})
		case seen[acc.ID]:
			drops = append(drops, Drop{Item: acc.ID.String(), Reason: string(store.ReasonDuplicateID)})
		default:
			seen[acc.ID] = true
			kept = append(kept, acc)
		}
	}
	return store.ReplaceAccounts{Accounts: kept}, drops
}

func networksPatch(networks []models.Network) (store.Patch, []Drop) {
	var drops []Drop
	seen := make(map[models.NetworkKey]bool, len(networks))
	kept := make([]models.Network, 0, len(networks))
	for _, n := range networks {
		n.Key = n.Key.Normalized()
		switch {
		case n.Key.ChainID == "":
			drops = append(drops, Drop{Item: n.Name, Reason: string(store.ReasonInvalidValue)})
		case seen[n.Key]:
			drops = append(drops, Drop{Item: n.Key.String(), Reason: string(store.ReasonDuplicateID)})
		default:
			seen[n.Key] = true
			kept = append(kept, n)
		}
	}
	return store.ReplaceNetworks{Networks: kept}, drops
}

func balancesPatch(st *store.State, facts []models.BalanceFact) (store.Patch, []Drop) {
	var drops []Drop
	kept := make([]models.BalanceFact, 0, len(facts))
	for _, f := range facts {
		f.Account = f.Account.Normalized()
		f.Asset = f.Asset.Normalized()
		item := fmt.Sprintf("%s/%s", f.Account, f.Asset)
		if _, ok := st.Account(f.Account); !ok {
			drops = append(drops, Drop{Item: item, Reason: string(store.ReasonUnknownAccount)})
			continue
		}
		if _, ok := st.Network(f.Asset.Network()); !ok {
			drops = append(drops, Drop{Item: item, Reason: string(store.ReasonUnknownNetwork)})
			continue
		}
		if _, ok := st.Asset(f.Asset); !ok {
			drops = append(drops, Drop{Item: item, Reason: string(store.ReasonUnknownAsset)})
			continue
		}
		if _, err := models.NormalizeAmount(f.Amount); err != nil {
			drops = append(drops, Drop{Item: item, Reason: string(store.ReasonInvalidValue)})
			continue
		}
		kept = append(kept, f)
	}
	if len(kept) == 0 {
		return nil, drops
	}
	return store.UpsertBalances{Facts: kept}, drops
}

func pricesPatch(prices []models.SpotPrice) (store.Patch, []Drop) {
	var drops []Drop
	kept := make([]models.SpotPrice, 0, len(prices))
	for _, p := range prices {
		d, err := decimal.NewFromString(p.Price)
		if err != nil || d.IsNegative() || p.Currency == "" {
			drops = append(drops, Drop{Item: p.Symbol, Reason: string(store.ReasonInvalidValue)})
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return nil, drops
	}
	return store.PutPrices{Prices: kept}, drops
}

func assetsPatch(st *store.State, assets []models.Asset) (store.Patch, []Drop) {
	var drops []Drop
	kept := make([]models.Asset, 0, len(assets))
	for _, a := range assets {
		a.ID = a.ID.Normalized()
		if _, ok := st.Network(a.ID.Network()); !ok {
			drops = append(drops, Drop{Item: a.ID.String(), Reason: string(store.ReasonUnknownNetwork)})
			continue
		}
		kept = append(kept, a)
	}
	if len(kept) == 0 {
		return nil, drops
	}
	return store.UpsertAssets{Assets: kept}, drops
}
