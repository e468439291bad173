package chainmoney

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDecimalGRT(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expectedWei string
	}{
		{"zero", "0", "0"},
		{"one GRT", "1", "1000000000000000000"},
		{"half GRT", "0.5", "500000000000000000"},
		{"millionth", "0.000001", "1000000000000"},
		{"empty string", "", "0"},
		{"trailing zeros", "1.500000", "1500000000000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, err := FromDecimalGRT(tt.input)
			require.NoError(t, err)

			expected, ok := new(big.Int).SetString(tt.expectedWei, 10)
			require.True(t, ok)
			assert.Equal(t, expected.String(), price.Wei().String())
		})
	}
}

func TestPrice_ToDecimalString(t *testing.T) {
	wei, ok := new(big.Int).SetString("1500000000000000000", 10)
	require.True(t, ok)
	assert.Equal(t, "1.5", FromWei(wei).ToDecimalString())
	assert.Equal(t, "0", FromWei(nil).ToDecimalString())
}

func TestFromWholeGRT(t *testing.T) {
	got := FromWholeGRT(2)
	want := new(big.Int).Mul(big.NewInt(2), GRT)
	assert.Equal(t, want.String(), got.String())
}

func TestFromFloatGRT(t *testing.T) {
	// floor(0.000001 * 1e18), with the product formed in float64, is exactly
	// 10^12 wei.
	got := FromFloatGRT(0.000001)
	want, _ := new(big.Int).SetString("1000000000000", 10)
	assert.Equal(t, want.String(), got.String())

	assert.Equal(t, "0", FromFloatGRT(0).String())
	assert.Equal(t, "0", FromFloatGRT(-1).String())
}
