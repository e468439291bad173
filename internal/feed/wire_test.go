package feed

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func encodeRealtime(signer, receiver [20]byte, feeGRT float64) []byte {
	var b []byte
	b = protowire.AppendTag(b, tagSigner, protowire.BytesType)
	b = protowire.AppendBytes(b, signer[:])
	b = protowire.AppendTag(b, tagReceiver, protowire.BytesType)
	b = protowire.AppendBytes(b, receiver[:])
	b = protowire.AppendTag(b, tagFeeGRT, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(feeGRT))
	return b
}

func encodeAggregated(hourStartMs int64, fees ...[]byte) []byte {
	var b []byte
	b = protowire.AppendTag(b, tagHourStartMs, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(hourStartMs))
	for _, fee := range fees {
		b = protowire.AppendTag(b, tagAggregations, protowire.BytesType)
		b = protowire.AppendBytes(b, fee)
	}
	return b
}

func addr(b byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = b
	}
	return a
}

func TestDecodeRealtime(t *testing.T) {
	signer := addr(0x11)
	receiver := addr(0x22)
	wire := encodeRealtime(signer, receiver, 1.5)

	f, err := DecodeRealtime(wire)
	require.NoError(t, err)
	require.Equal(t, signer, f.Signer)
	require.Equal(t, receiver, f.Receiver)
	require.InDelta(t, 1.5, f.FeeGRT, 1e-12)
}

func TestDecodeRealtime_MissingFields(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, tagFeeGRT, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(1))
	_, err := DecodeRealtime(b)
	require.Error(t, err)
}

func TestDecodeAggregated(t *testing.T) {
	signer := addr(0x33)
	receiver := addr(0x44)
	fee1 := encodeRealtime(signer, receiver, 2.0)
	fee2 := encodeRealtime(receiver, signer, 3.0)

	wire := encodeAggregated(123456, fee1, fee2)

	batch, err := DecodeAggregated(wire)
	require.NoError(t, err)
	require.EqualValues(t, 123456, batch.HourStartMs)
	require.Len(t, batch.Fees, 2)
	require.InDelta(t, 2.0, batch.Fees[0].FeeGRT, 1e-12)
	require.InDelta(t, 3.0, batch.Fees[1].FeeGRT, 1e-12)
}

func TestDecodeAggregated_Empty(t *testing.T) {
	batch, err := DecodeAggregated(nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), batch.HourStartMs)
	require.Empty(t, batch.Fees)
}
