package aggregate

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/wallet-sync/internal/models"
	"github.com/wallet-sync/internal/types"
)

// Property: the aggregate of N balances is their exact integer sum, even for
// amounts far wider than 64 bits
func TestAggregateIsExactDecimalSum(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("sum matches big.Int arithmetic", prop.ForAll(
		func(highs []uint64, low uint64) bool {
			src := newFakeSource()
			accounts := make([]models.AccountID, 0, len(highs))
			want := new(big.Int)

			for i, hi := range highs {
				// hi * 10^20 + low overflows int64 for any hi > 0
				amount := new(big.Int).Mul(new(big.Int).SetUint64(hi), new(big.Int).Exp(big.NewInt(10), big.NewInt(20), nil))
				amount.Add(amount, new(big.Int).SetUint64(low))
				want.Add(want, amount)

				acc := models.AccountID{Address: fmt.Sprintf("0x%x", i+1), Coin: types.CoinETH, KeyringID: models.KeyringDefault}
				accounts = append(accounts, acc)
				src.set(acc, ether.ID, amount.String())
			}

			totals := AggregateBalances(src, accounts, []models.Asset{ether}, AllNetworks)
			return len(totals) == 1 && totals[0].Total == want.String()
		},
		gen.SliceOf(gen.UInt64()),
		gen.UInt64(),
	))

	properties.TestingRun(t)
}
