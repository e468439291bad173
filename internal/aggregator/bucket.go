package aggregator

import (
	"math/big"
	"time"

	"github.com/holiman/uint256"

	"github.com/graphprotocol/escrow-replenisher/internal/chainmoney"
)

// HourWidth is H from spec.md §4.1 — buckets are keyed by the unix-second
// floor of the hour a fee was observed in.
const HourWidth = time.Hour

// Window is W from spec.md §4.1 — the rolling debt horizon.
const Window = 28 * 24 * time.Hour

var maxUint128 = uint256.MustFromBig(chainmoney.MaxUint128)

// floorToHour truncates t down to the start of its unix hour, in seconds.
func floorToHour(t time.Time) int64 {
	secs := t.Unix()
	return secs - (secs % int64(HourWidth/time.Second))
}

// bucketMap is the HourBucket map from spec.md §3: receiver -> hour_start_secs
// -> cumulative fee, in wei, saturating at 128 bits. It is exclusively owned
// by the aggregator's single owner goroutine — never shared or locked.
type bucketMap struct {
	byReceiver map[[20]byte]map[int64]*uint256.Int
}

func newBucketMap() *bucketMap {
	return &bucketMap{byReceiver: make(map[[20]byte]map[int64]*uint256.Int)}
}

// Add folds a fee update (already wei, already window-filtered) into the
// bucket for its hour. Overflow saturates at MaxUint128 rather than
// wrapping, per spec.md §4.1.
func (m *bucketMap) Add(receiver [20]byte, ts time.Time, feeWei *big.Int) {
	hourSecs := floorToHour(ts)

	buckets, ok := m.byReceiver[receiver]
	if !ok {
		buckets = make(map[int64]*uint256.Int)
		m.byReceiver[receiver] = buckets
	}

	cur, ok := buckets[hourSecs]
	if !ok {
		cur = new(uint256.Int)
		buckets[hourSecs] = cur
	}

	delta, overflow := uint256.FromBig(feeWei)
	if overflow {
		buckets[hourSecs] = new(uint256.Int).Set(maxUint128)
		return
	}

	sum, addOverflow := new(uint256.Int).AddOverflow(cur, delta)
	if addOverflow || sum.Cmp(maxUint128) > 0 {
		sum = new(uint256.Int).Set(maxUint128)
	}
	buckets[hourSecs] = sum
}

// Prune removes every bucket whose hour has fully aged out of the window,
// and drops receivers left with no buckets. Idempotent: pruning twice in a
// row with no intervening Add is a no-op the second time.
func (m *bucketMap) Prune(now time.Time) {
	cutoff := floorToHour(now.Add(-Window))
	for receiver, buckets := range m.byReceiver {
		for hourSecs := range buckets {
			if hourSecs <= cutoff {
				delete(buckets, hourSecs)
			}
		}
		if len(buckets) == 0 {
			delete(m.byReceiver, receiver)
		}
	}
}

// Snapshot sums each receiver's buckets into a fresh, independently owned
// map. The returned map is never mutated after it is returned, so it is
// safe to publish across the broadcast channel without copying again.
func (m *bucketMap) Snapshot() Snapshot {
	out := make(Snapshot, len(m.byReceiver))
	for receiver, buckets := range m.byReceiver {
		sum := new(uint256.Int)
		for _, v := range buckets {
			var overflow bool
			sum, overflow = new(uint256.Int).AddOverflow(sum, v)
			if overflow {
				sum = new(uint256.Int).Set(maxUint128)
			}
		}
		out[receiver] = sum.ToBig()
	}
	return out
}

// WithinWindow reports whether ts is recent enough to be accepted, per
// spec.md §3 ("discarded if timestamp < now - window").
func WithinWindow(ts, now time.Time) bool {
	return !ts.Before(now.Add(-Window))
}
