// Package chainmoney is the single place that converts between the
// human-facing GRT unit and the 18-decimal wei integers the rest of the
// system computes with.
package chainmoney

import (
	"fmt"
	"math"
	"math/big"
	"strings"
)

// Decimals is the number of decimals GRT uses on-chain.
const Decimals = 18

var (
	// GRT is 10^18, one whole GRT expressed in wei.
	GRT = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

	// MaxUint128 bounds the HourBucket saturating accumulator (spec: "Overflow
	// is not expected at u128; on saturation the value clamps").
	MaxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

// Price is a wei-denominated amount with a decimal-string presentation.
//
// Adapted from the teacher's sidecar/pricing.go: same fixed 18-decimal
// wei representation, same decimal-string parse/format pair.
type Price struct {
	wei *big.Int
}

// FromWei wraps a wei value.
func FromWei(wei *big.Int) *Price {
	if wei == nil {
		return &Price{wei: big.NewInt(0)}
	}
	return &Price{wei: new(big.Int).Set(wei)}
}

// FromDecimalGRT parses a decimal GRT string ("1.5", "0.000001") into wei.
func FromDecimalGRT(decimal string) (*Price, error) {
	decimal = strings.TrimSpace(decimal)
	if decimal == "" {
		return &Price{wei: big.NewInt(0)}, nil
	}

	parts := strings.Split(decimal, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("chainmoney: invalid decimal %q", decimal)
	}

	intPart := parts[0]
	if intPart == "" {
		intPart = "0"
	}
	intValue, ok := new(big.Int).SetString(intPart, 10)
	if !ok {
		return nil, fmt.Errorf("chainmoney: invalid integer part %q", intPart)
	}
	wei := new(big.Int).Mul(intValue, GRT)

	if len(parts) == 2 {
		fracPart := parts[1]
		if len(fracPart) > Decimals {
			fracPart = fracPart[:Decimals]
		} else {
			fracPart = fracPart + strings.Repeat("0", Decimals-len(fracPart))
		}
		fracValue, ok := new(big.Int).SetString(fracPart, 10)
		if !ok {
			return nil, fmt.Errorf("chainmoney: invalid fractional part %q", fracPart)
		}
		wei.Add(wei, fracValue)
	}

	return &Price{wei: wei}, nil
}

// FromWholeGRT converts a whole-GRT integer (the unit the `debts` config
// floor is specified in, per spec.md §9) into wei.
func FromWholeGRT(whole uint64) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(whole), GRT)
}

// FromFloatGRT floors a float64 GRT amount (as fee events arrive) into wei.
// Truncation, not rounding, per spec.md §3 ("convert by floor(fee * 1e18)").
func FromFloatGRT(feeGRT float64) *big.Int {
	if feeGRT <= 0 {
		return big.NewInt(0)
	}
	wei, _ := new(big.Float).SetFloat64(math.Floor(feeGRT * 1e18)).Int(nil)
	return wei
}

// Wei returns a defensive copy of the underlying wei value.
func (p *Price) Wei() *big.Int {
	if p == nil || p.wei == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(p.wei)
}

// ToDecimalString renders the price back as a trimmed decimal GRT string.
func (p *Price) ToDecimalString() string {
	if p == nil || p.wei == nil {
		return "0"
	}

	grt := new(big.Int).Div(p.wei, GRT)
	remainder := new(big.Int).Mod(p.wei, GRT)

	if remainder.Sign() == 0 {
		return grt.String()
	}

	fracStr := fmt.Sprintf("%018d", remainder)
	fracStr = strings.TrimRight(fracStr, "0")
	return fmt.Sprintf("%s.%s", grt.String(), fracStr)
}
