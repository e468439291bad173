package reconcile

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/graphprotocol/escrow-replenisher/internal/chainmoney"
)

func grt(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), chainmoney.GRT)
}

func TestNextBalance_CanonicalPoints(t *testing.T) {
	cases := []struct {
		name string
		debt *big.Int
		want *big.Int
	}{
		{"zero debt", big.NewInt(0), grt(2)},
		{"debt at MIN", grt(2), grt(4)},
		{"debt just above MIN", new(big.Int).Add(grt(2), big.NewInt(1)), grt(4)},
		{"debt at 30 GRT", grt(30), grt(64)},
		{"debt at 70 GRT", grt(70), grt(128)},
		{"debt at 100 GRT", grt(100), grt(256)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, 0, c.want.Cmp(NextBalance(c.debt)), "got %s, want %s", NextBalance(c.debt), c.want)
		})
	}
}

func TestNextBalance_NilDebtTreatedAsZero(t *testing.T) {
	require.Equal(t, 0, grt(2).Cmp(NextBalance(nil)))
}

func TestNextBalance_MonotonicallyNonDecreasing(t *testing.T) {
	prev := NextBalance(big.NewInt(0))
	for _, whole := range []int64{1, 2, 5, 10, 50, 100, 500, 1_000, 5_000, 20_000, 100_000} {
		next := NextBalance(grt(whole))
		require.True(t, next.Cmp(prev) >= 0, "next_balance must never decrease as debt grows")
		prev = next
	}
}

func TestNextBalance_NeverBelowMin(t *testing.T) {
	require.Equal(t, 0, MinDeposit.Cmp(NextBalance(big.NewInt(0))))
}

func TestNextBalance_LinearExtensionBeyondOneMaxBatchWidth(t *testing.T) {
	// Once r exceeds MAX_BATCH/GRT, the ladder must stop doubling and grow
	// by exactly tierStep (10,000) each iteration.
	big10000 := grt(10_000)
	r1 := NextBalance(new(big.Int).Mul(big.NewInt(6), big10000)) // well past the doubling regime
	r2 := NextBalance(new(big.Int).Mul(big.NewInt(12), big10000))
	require.True(t, r2.Cmp(r1) > 0)
	// Both targets sit on the linear extension, so they differ by a whole
	// number of tierStep widths.
	require.Zero(t, new(big.Int).Mod(new(big.Int).Sub(r2, r1), big10000).Sign())
}
