package reconcile

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/streamingfast/eth-go"
)

func addrN(n int) eth.Address {
	return eth.MustNewAddress(fmt.Sprintf("0x%040x", n))
}

func TestReduceBatch_EmptyInput(t *testing.T) {
	require.Nil(t, ReduceBatch(nil))
}

func TestReduceBatch_UnderCapIsUntouchedUpToDesired(t *testing.T) {
	desired := []Adjustment{
		{Receiver: addrN(1), Amount: grt(2)},
		{Receiver: addrN(2), Amount: grt(2)},
	}
	out := ReduceBatch(desired)
	require.Len(t, out, 2)
	for _, a := range out {
		require.Equal(t, 0, a.Amount.Cmp(grt(2)))
	}
}

func TestReduceBatch_SumWithinCapPlusStep(t *testing.T) {
	// Many receivers each wanting far more than MIN, well over MAX_BATCH.
	var desired []Adjustment
	for i := 1; i <= 1000; i++ {
		desired = append(desired, Adjustment{Receiver: addrN(i), Amount: grt(20)})
	}

	out := ReduceBatch(desired)
	require.Len(t, out, len(desired))

	total := new(big.Int)
	for _, a := range out {
		total.Add(total, a.Amount)
	}

	require.True(t, total.Cmp(MaxBatch) >= 0, "total %s must be >= MaxBatch %s", total, MaxBatch)
	upperBound := new(big.Int).Add(MaxBatch, StepAmount)
	require.True(t, total.Cmp(upperBound) <= 0, "total %s must be <= MaxBatch+step %s", total, upperBound)
}

func TestReduceBatch_EveryReceiverPresentAndCapped(t *testing.T) {
	desired := []Adjustment{
		{Receiver: addrN(1), Amount: grt(50_000)},
		{Receiver: addrN(2), Amount: grt(1)}, // below MIN
	}
	out := ReduceBatch(desired)
	require.Len(t, out, 2)

	byAddr := make(map[string]*big.Int, len(out))
	for _, a := range out {
		byAddr[a.Receiver.Pretty()] = a.Amount
	}
	require.Contains(t, byAddr, addrN(1).Pretty())
	require.Contains(t, byAddr, addrN(2).Pretty())
	require.True(t, byAddr[addrN(1).Pretty()].Cmp(grt(50_000)) <= 0)
	require.True(t, byAddr[addrN(2).Pretty()].Cmp(MinDeposit) <= 0)
}

// TestReduceBatch_NeverExceedsDesiredEvenBelowMin is invariant 4 (spec.md
// §8) applied specifically to a receiver whose own desired amount is
// below MinDeposit: ReduceBatch must never raise it past what the tier
// ladder actually asked for, even while every other receiver is seeded at
// MinDeposit and stepped upward.
func TestReduceBatch_NeverExceedsDesiredEvenBelowMin(t *testing.T) {
	belowMin := new(big.Int).Sub(MinDeposit, big.NewInt(1))
	desired := []Adjustment{
		{Receiver: addrN(1), Amount: belowMin},
	}
	for i := 2; i <= 2000; i++ {
		desired = append(desired, Adjustment{Receiver: addrN(i), Amount: grt(20)})
	}

	out := ReduceBatch(desired)
	for _, a := range out {
		if a.Receiver.Pretty() == addrN(1).Pretty() {
			require.Equal(t, 0, a.Amount.Cmp(belowMin), "receiver desiring below MIN must never be raised past its desired amount")
		}
	}
}

func TestReduceBatch_DeterministicAcrossRuns(t *testing.T) {
	desired := []Adjustment{
		{Receiver: addrN(3), Amount: grt(9_000)},
		{Receiver: addrN(1), Amount: grt(9_000)},
		{Receiver: addrN(2), Amount: grt(9_000)},
	}
	first := ReduceBatch(desired)
	second := ReduceBatch(desired)
	require.Equal(t, len(first), len(second))
	for i := range first {
		require.Equal(t, first[i].Receiver.Pretty(), second[i].Receiver.Pretty())
		require.Equal(t, 0, first[i].Amount.Cmp(second[i].Amount))
	}
}
