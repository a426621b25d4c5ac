package store

import (
	"context"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/wallet-sync/internal/logging"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/types"
)

// patchPool holds state-setting patches; each may be rejected depending on
// what was applied before it
func patchPool() []Patch {
	return []Patch{
		UpsertBalances{Facts: []models.BalanceFact{{Account: acctA, Asset: ethAsset, Amount: "10"}}},
		UpsertBalances{Facts: []models.BalanceFact{{Account: acctB, Asset: usdcAsset, Amount: "0x20"}}},
		UpsertBalances{Facts: []models.BalanceFact{{Account: acctA, Asset: ethAsset, Amount: "99999999999999999999999"}}},
		RenameAccount{ID: acctA, Name: "Hot"},
		RenameAccount{ID: acctA, Name: "Cold"},
		SetAssetVisibility{ID: usdcAsset, Visible: false},
		SetAssetVisibility{ID: usdcAsset, Visible: true},
		SetLocked{Locked: true},
		SetLocked{Locked: false},
		SetActiveNetwork{Key: &sepolia},
		SetActiveNetwork{Key: &mainnet},
		ReplaceAccounts{Accounts: []models.Account{{ID: acctA, Name: "Account 1"}}},
		ReplaceAccounts{Accounts: []models.Account{{ID: acctA, Name: "Account 1"}, {ID: acctB, Name: "Account 2"}}},
		PutTransaction{Tx: models.Transaction{ID: "t1", From: acctA, Network: mainnet}},
		UpdateTransactionStatus{ID: "t1", Status: types.StatusSubmitted, TxHash: "0x01"},
		UpdateTransactionStatus{ID: "t1", Status: types.StatusConfirmed},
		UpdateTransactionStatus{ID: "t1", Status: types.StatusApproved},
		PutPrices{Prices: []models.SpotPrice{{Asset: ethAsset, Symbol: "ETH", Currency: "usd", Price: "3000.5"}}},
	}
}

func replay(t *testing.T, picks []int, twice bool) Export {
	s := New(Config{}, logging.Discard())
	defer s.Close()
	seed(t, s)

	pool := patchPool()
	for _, i := range picks {
		n := 1
		if twice {
			n = 2
		}
		for k := 0; k < n; k++ {
			// rejections are part of the sequence; only the final state matters
			_, _ = s.Apply(context.Background(), pool[i])
		}
	}
	e := s.Snapshot().Export()
	e.Revision = 0
	return e
}

// Property: applying every patch twice in a row yields the same state as once
func TestPatchReplayIsIdempotent(t *testing.T) {
	properties := gopter.NewProperties(nil)
	size := len(patchPool())

	properties.Property("doubled patch sequence converges to the same state", prop.ForAll(
		func(picks []int) bool {
			return reflect.DeepEqual(replay(t, picks, false), replay(t, picks, true))
		},
		gen.SliceOf(gen.IntRange(0, size-1)),
	))

	properties.Property("same sequence on two stores yields identical state", prop.ForAll(
		func(picks []int) bool {
			return reflect.DeepEqual(replay(t, picks, false), replay(t, picks, false))
		},
		gen.SliceOf(gen.IntRange(0, size-1)),
	))

	properties.TestingRun(t)
}
