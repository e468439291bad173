package reconcile

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/streamingfast/eth-go"
)

// Adjustment is spec.md §3's Adjustment entity: a positive deposit to add
// for receiver.
type Adjustment struct {
	Receiver eth.Address
	Amount   *big.Int
}

// ReduceBatch implements spec.md §4.4's batch-cap reduction. desired is
// the unreduced per-receiver deposit target; its sum is assumed to exceed
// MaxBatch, or this is a no-op path the caller should have skipped.
//
// Every receiver in desired is present in the result, each amount no
// greater than its desired value (invariant 4, spec.md §8: "out[r] <=
// desired[r] for all r"), and the result's total sum lands in
// [MaxBatch, MaxBatch+StepAmount]. A receiver whose own desired amount is
// below MinDeposit (e.g. it already holds a small escrow balance close to
// its tier target) is seeded at that lower desired amount instead of
// MinDeposit, so the out<=desired invariant holds even before the
// stepping loop runs. Iteration is sorted by address ascending so the
// reduction is reproducible - eth.Address isn't comparable, so sorting
// and lookups work off its raw bytes rather than using it as a map key.
func ReduceBatch(desired []Adjustment) []Adjustment {
	if len(desired) == 0 {
		return nil
	}

	sorted := make([]Adjustment, len(desired))
	copy(sorted, desired)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Receiver[:], sorted[j].Receiver[:]) < 0
	})

	out := make([]*big.Int, len(sorted))
	total := new(big.Int)
	for i := range sorted {
		seed := MinDeposit
		if sorted[i].Amount.Cmp(seed) < 0 {
			seed = sorted[i].Amount
		}
		out[i] = new(big.Int).Set(seed)
		total.Add(total, seed)
	}

	finish := func() []Adjustment {
		result := make([]Adjustment, len(sorted))
		for i, a := range sorted {
			result[i] = Adjustment{Receiver: a.Receiver, Amount: out[i]}
		}
		return result
	}

	for {
		progressed := false
		for i, a := range sorted {
			if out[i].Cmp(a.Amount) < 0 {
				next := new(big.Int).Add(out[i], StepAmount)
				if next.Cmp(a.Amount) > 0 {
					next = new(big.Int).Set(a.Amount)
				}
				total.Add(total, new(big.Int).Sub(next, out[i]))
				out[i] = next
				progressed = true
			}
			if total.Cmp(MaxBatch) >= 0 {
				return finish()
			}
		}
		if !progressed {
			return finish()
		}
	}
}
