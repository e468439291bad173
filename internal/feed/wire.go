// Package feed decodes the two Kafka wire formats described in spec.md
// §4.1: a realtime single-fee record and an aggregated hourly wrapper.
// Both are plain protobuf-tagged messages; there is no .proto source for
// them (the wire contract is specified directly as tag numbers), so they
// are decoded field-by-field with protowire instead of generated bindings.
package feed

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Tag numbers from spec.md §4.1.
const (
	tagSigner   = protowire.Number(1)
	tagReceiver = protowire.Number(2)
	tagFeeGRT   = protowire.Number(3)

	tagHourStartMs   = protowire.Number(1)
	tagAggregations  = protowire.Number(2)
)

// Fee is a single (signer, receiver, fee) observation, decoded from either
// wire format. FeeGRT is the raw float64 GRT amount; conversion to wei
// happens in chainmoney, not here.
type Fee struct {
	Signer   [20]byte
	Receiver [20]byte
	FeeGRT   float64
}

// AggregatedBatch is the hourly wrapper: a bucket's worth of fees, all
// attributed to the same hour_start.
type AggregatedBatch struct {
	HourStartMs int64
	Fees        []Fee
}

// DecodeRealtime parses a single length-delimited realtime record:
// {signer:bytes=1, receiver:bytes=2, fee_grt:double=3}.
func DecodeRealtime(data []byte) (Fee, error) {
	var f Fee
	var sawSigner, sawReceiver bool

	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Fee{}, fmt.Errorf("feed: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case tagSigner:
			addr, n, err := consumeAddress(b, typ)
			if err != nil {
				return Fee{}, err
			}
			f.Signer = addr
			sawSigner = true
			b = b[n:]
		case tagReceiver:
			addr, n, err := consumeAddress(b, typ)
			if err != nil {
				return Fee{}, err
			}
			f.Receiver = addr
			sawReceiver = true
			b = b[n:]
		case tagFeeGRT:
			v, n, err := consumeDouble(b, typ)
			if err != nil {
				return Fee{}, err
			}
			f.FeeGRT = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Fee{}, fmt.Errorf("feed: skip unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if !sawSigner || !sawReceiver {
		return Fee{}, fmt.Errorf("feed: realtime record missing signer or receiver")
	}
	return f, nil
}

// DecodeAggregated parses the hourly wrapper:
// {hour_start_ms:int64=1, aggregations:repeated{signer,receiver,fee_grt}=2}.
func DecodeAggregated(data []byte) (AggregatedBatch, error) {
	var out AggregatedBatch

	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return AggregatedBatch{}, fmt.Errorf("feed: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case tagHourStartMs:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return AggregatedBatch{}, fmt.Errorf("feed: bad hour_start_ms: %w", protowire.ParseError(n))
			}
			out.HourStartMs = int64(v)
			b = b[n:]
		case tagAggregations:
			msg, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return AggregatedBatch{}, fmt.Errorf("feed: bad aggregation entry: %w", protowire.ParseError(n))
			}
			fee, err := DecodeRealtime(msg)
			if err != nil {
				return AggregatedBatch{}, fmt.Errorf("feed: aggregation entry: %w", err)
			}
			out.Fees = append(out.Fees, fee)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return AggregatedBatch{}, fmt.Errorf("feed: skip unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return out, nil
}

func consumeAddress(b []byte, typ protowire.Type) ([20]byte, int, error) {
	var addr [20]byte
	raw, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return addr, 0, fmt.Errorf("feed: bad address field: %w", protowire.ParseError(n))
	}
	if len(raw) != 20 {
		return addr, 0, fmt.Errorf("feed: address field must be 20 bytes, got %d", len(raw))
	}
	copy(addr[:], raw)
	return addr, n, nil
}

func consumeDouble(b []byte, typ protowire.Type) (float64, int, error) {
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("feed: bad fee_grt field: %w", protowire.ParseError(n))
	}
	return math.Float64frombits(v), n, nil
}
