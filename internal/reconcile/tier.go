// Package reconcile implements the Reconciliation Loop from spec.md §4.4:
// the tier ladder, the batch-cap reduction, and the periodic tick that
// joins a debt snapshot with on-chain escrow state to compute and issue
// deposit adjustments.
package reconcile

import (
	"math/big"

	"github.com/graphprotocol/escrow-replenisher/internal/chainmoney"
)

// MinDeposit is the floor deposit target (2 GRT), MaxBatch is the per-tick
// deposit ceiling (10,000 GRT), and StepAmount is the batch-cap
// reduction's increment (100 GRT), all from spec.md §4.4.
var (
	MinDeposit = new(big.Int).Mul(big.NewInt(2), chainmoney.GRT)
	MaxBatch   = new(big.Int).Mul(big.NewInt(10_000), chainmoney.GRT)
	StepAmount = new(big.Int).Mul(big.NewInt(100), chainmoney.GRT)
)

// tierStep is MAX_BATCH/GRT, the linear-extension width past which the
// ladder stops doubling.
var tierStep = big.NewInt(10_000)

// NextBalance maps a receiver's debt to its next deposit target, per
// spec.md §4.4's tier ladder:
//
//	r = MIN/GRT (= 2)
//	while debt >= (r*GRT)*0.6: r = min(r*2, r + MAX_BATCH/GRT)
//	return r*GRT
//
// The 0.6 utilization threshold is evaluated as a ratio comparison
// (debt*10 >= threshold*6) rather than with floating point, per spec.md
// §9's design note — this is exact integer arithmetic, not an
// approximation of the float comparison.
func NextBalance(debt *big.Int) *big.Int {
	if debt == nil {
		debt = big.NewInt(0)
	}

	r := big.NewInt(2)
	for {
		threshold := new(big.Int).Mul(r, chainmoney.GRT)
		lhs := new(big.Int).Mul(debt, big.NewInt(10))
		rhs := new(big.Int).Mul(threshold, big.NewInt(6))
		if lhs.Cmp(rhs) < 0 {
			break
		}

		doubled := new(big.Int).Lsh(r, 1)
		linear := new(big.Int).Add(r, tierStep)
		if doubled.Cmp(linear) > 0 {
			r = linear
		} else {
			r = doubled
		}
	}
	return new(big.Int).Mul(r, chainmoney.GRT)
}
