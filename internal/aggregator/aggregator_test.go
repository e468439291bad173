package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/graphprotocol/escrow-replenisher/internal/chainmoney"
	"github.com/graphprotocol/escrow-replenisher/internal/feed"
)

func TestNew_ConstructsWithoutDialing(t *testing.T) {
	a, err := New(Config{
		Brokers:       []string{"localhost:9092"},
		RealtimeTopic: "gateway_fees_realtime",
	}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, a.Broadcaster())
	require.Zero(t, a.DecodeErrors())
	require.Nil(t, a.Broadcaster().Latest())
}

func TestFeeGRTToWei(t *testing.T) {
	wei := feeGRTToWei(2.5)
	require.Equal(t, "2.5", chainmoney.FromWei(wei).ToDecimalString())
}

var (
	allowedSigner      = [20]byte{0xAA}
	unauthorizedSigner = [20]byte{0xBB}
	someReceiver       = [20]byte{0xCC}
)

func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	a, err := New(Config{
		Brokers:       []string{"localhost:9092"},
		RealtimeTopic: "gateway_fees_realtime",
		Signers:       map[[20]byte]bool{allowedSigner: true},
	}, zap.NewNop())
	require.NoError(t, err)
	return a
}

// TestApplyFee_SignerFilter covers testable property #7 (spec.md §8): a
// record whose signer is outside the authorized set must never affect the
// snapshot, regardless of which ingest path (realtime decode worker or
// aggregated-topic drain) produced it. Both paths call applyFee, so one
// test on applyFee exercises the filter shared by both.
func TestApplyFee_SignerFilter(t *testing.T) {
	a := newTestAggregator(t)
	now := time.Now()
	a.nowFunc = func() time.Time { return now }

	a.applyFee(feed.Fee{Signer: unauthorizedSigner, Receiver: someReceiver, FeeGRT: 5}, now)
	a.applyFee(feed.Fee{Signer: allowedSigner, Receiver: someReceiver, FeeGRT: 3}, now)

	snapshot := a.buckets.Snapshot()
	got := snapshot[someReceiver]
	require.NotNil(t, got)
	require.Equal(t, "3", chainmoney.FromWei(got).ToDecimalString())
}

// TestApplyFee_NoSignerAllowList covers the "empty means accept every
// signer" case from spec.md §4.1's Signers field doc.
func TestApplyFee_NoSignerAllowList(t *testing.T) {
	a, err := New(Config{
		Brokers:       []string{"localhost:9092"},
		RealtimeTopic: "gateway_fees_realtime",
	}, zap.NewNop())
	require.NoError(t, err)
	now := time.Now()
	a.nowFunc = func() time.Time { return now }

	a.applyFee(feed.Fee{Signer: unauthorizedSigner, Receiver: someReceiver, FeeGRT: 7}, now)

	snapshot := a.buckets.Snapshot()
	require.Equal(t, "7", chainmoney.FromWei(snapshot[someReceiver]).ToDecimalString())
}
