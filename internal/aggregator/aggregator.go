// Package aggregator implements the Debt Aggregator component from
// spec.md §4.1: it consumes the realtime and aggregated fee-event Kafka
// topics, folds them into a 28-day sliding window of per-receiver debt,
// and publishes a snapshot of that window once a second for the
// reconciliation loop to read.
package aggregator

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/streamingfast/shutter"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/graphprotocol/escrow-replenisher/internal/chainmoney"
	"github.com/graphprotocol/escrow-replenisher/internal/feed"
)

// Config parameterizes a single Aggregator instance. It is the subset of
// the top-level config relevant to the Kafka feed (spec.md §6's `kafka`
// block) plus the signer allow-list.
type Config struct {
	Brokers         []string
	ClientID        string
	RealtimeTopic   string
	AggregatedTopic string

	// GroupID is the consumer group offsets are committed to while
	// consuming the realtime topic (spec.md §6's `kafka.group_id`,
	// default "tap-escrow-manager"). The aggregator never joins this
	// group for partition assignment - partitions are always assigned
	// directly per the bootstrap protocol in spec.md §4.1 - it exists
	// purely so consumed offsets are visible for lag monitoring and
	// crash recovery, the same role group.id plays in a librdkafka
	// consumer configured for manual `assign()`.
	GroupID string

	// AutoCommit mirrors `enable.auto.commit` / `enable.auto.offset.store`
	// (spec.md §6): when true, the aggregator periodically commits its
	// consumed realtime-topic offsets to GroupID. When false, or when
	// GroupID is empty, no offsets are ever committed.
	AutoCommit bool

	// Signers restricts accepted fee records to these signer addresses.
	// Empty means accept every signer.
	Signers map[[20]byte]bool
}

type pendingUpdate struct {
	fee feed.Fee
	ts  time.Time
}

// Aggregator owns the bucket map exclusively through its single owner
// goroutine (ownerLoop in kafka.go) and exposes the resulting debt map
// through a Broadcaster.
type Aggregator struct {
	*shutter.Shutter

	cfg    Config
	logger *zap.Logger

	client *kgo.Client
	adm    *kadm.Client

	buckets      *bucketMap
	broadcaster  *Broadcaster
	updates      chan pendingUpdate
	decodeErrors atomic.Int64

	// consumedOffsets tracks the highest realtime-topic offset seen per
	// partition, so commitLoop (kafka.go) has something to report to
	// GroupID. Written from steadyState's single poll loop, read by
	// commitLoop; the mutex is what makes that cross-goroutine access
	// safe.
	commitMu        sync.Mutex
	consumedOffsets map[int32]int64

	nowFunc func() time.Time
}

// New constructs an Aggregator and its Kafka client. The client is created
// without consuming any partitions; Run's bootstrap phase assigns them.
func New(cfg Config, logger *zap.Logger) (*Aggregator, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("aggregator: new kafka client: %w", err)
	}

	a := &Aggregator{
		Shutter:         shutter.New(),
		cfg:             cfg,
		logger:          logger,
		client:          client,
		adm:             kadm.NewClient(client),
		buckets:         newBucketMap(),
		broadcaster:     NewBroadcaster(),
		updates:         make(chan pendingUpdate, 128),
		consumedOffsets: make(map[int32]int64),
		nowFunc:         time.Now,
	}
	a.OnTerminating(func(_ error) {
		client.Close()
	})
	return a, nil
}

// Broadcaster exposes the snapshot channel to callers (the reconciliation
// loop reads from this, never from the bucket map directly).
func (a *Aggregator) Broadcaster() *Broadcaster { return a.broadcaster }

// DecodeErrors reports the number of records dropped for failing to
// decode, for observability only; it never causes the aggregator to stop.
func (a *Aggregator) DecodeErrors() int64 { return a.decodeErrors.Load() }

func (a *Aggregator) now() time.Time { return a.nowFunc() }

// Run bootstraps the consumer's starting offsets and then consumes
// indefinitely until ctx is canceled. A bootstrap failure is returned as
// an error. During steady-state consumption, fetch errors are logged and
// consumption continues; Run returns nil once ctx is canceled.
func (a *Aggregator) Run(ctx context.Context) error {
	if err := a.bootstrap(ctx); err != nil {
		a.Shutdown(err)
		return err
	}
	err := a.steadyState(ctx)
	if ctx.Err() != nil {
		a.Shutdown(nil)
		return nil
	}
	a.Shutdown(err)
	return err
}

func feeGRTToWei(feeGRT float64) *big.Int {
	return chainmoney.FromFloatGRT(feeGRT)
}
