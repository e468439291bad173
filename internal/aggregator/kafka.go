package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/graphprotocol/escrow-replenisher/internal/feed"
)

// bootstrap implements spec.md §4.1's bootstrap protocol: drain the
// aggregated topic up to its current watermark starting from the left edge
// of the window, then assign the realtime topic starting just after the
// latest aggregated hour seen (or at the window's left edge, if there was
// no aggregated topic to drain).
func (a *Aggregator) bootstrap(ctx context.Context) error {
	now := a.now()
	windowStart := now.Add(-Window)

	switchAt := windowStart
	if a.cfg.AggregatedTopic != "" {
		latest, err := a.drainAggregated(ctx, windowStart)
		if err != nil {
			return fmt.Errorf("aggregator: bootstrap: drain aggregated topic: %w", err)
		}
		if !latest.IsZero() {
			switchAt = latest.Add(HourWidth)
		}
	}

	a.client.AddConsumeTopics(a.cfg.RealtimeTopic)
	parts, err := a.partitionsOf(ctx, a.cfg.RealtimeTopic)
	if err != nil {
		return fmt.Errorf("aggregator: bootstrap: realtime partitions: %w", err)
	}
	offsets := make(map[int32]kgo.Offset, len(parts))
	for _, p := range parts {
		offsets[p] = kgo.NewOffset().AfterMilli(switchAt.UnixMilli())
	}
	a.client.AddConsumePartitions(map[string]map[int32]kgo.Offset{a.cfg.RealtimeTopic: offsets})

	a.logger.Info("aggregator bootstrap complete",
		zap.Time("realtime_start", switchAt),
		zap.Bool("drained_aggregated", a.cfg.AggregatedTopic != ""))
	return nil
}

// drainAggregated reads the aggregated topic from windowStart to its
// current end offsets (the watermark probed at the start of the drain), so
// that records produced concurrently with the drain are picked up by the
// realtime consumer instead of being double-counted.
func (a *Aggregator) drainAggregated(ctx context.Context, windowStart time.Time) (time.Time, error) {
	topic := a.cfg.AggregatedTopic

	parts, err := a.partitionsOf(ctx, topic)
	if err != nil {
		return time.Time{}, fmt.Errorf("list partitions: %w", err)
	}

	watermarks, err := a.adm.ListEndOffsets(ctx, topic)
	if err != nil {
		return time.Time{}, fmt.Errorf("list end offsets: %w", err)
	}

	targets := make(map[int32]int64, len(parts))
	offsets := make(map[int32]kgo.Offset, len(parts))
	for _, p := range parts {
		lo, ok := watermarks.Lookup(topic, p)
		if !ok {
			return time.Time{}, fmt.Errorf("no watermark for %s[%d]", topic, p)
		}
		targets[p] = lo.Offset
		offsets[p] = kgo.NewOffset().AfterMilli(windowStart.UnixMilli())
	}

	a.client.AddConsumePartitions(map[string]map[int32]kgo.Offset{topic: offsets})
	defer a.client.RemoveConsumePartitions(map[string][]int32{topic: parts})

	var latestHour time.Time
	remaining := make(map[int32]int64, len(targets))
	for p, target := range targets {
		remaining[p] = target
	}

	for len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}
		fetches := a.client.PollFetches(ctx)
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}
		fetches.EachError(func(t string, p int32, err error) {
			a.logger.Warn("aggregated topic fetch error", zap.String("topic", t), zap.Int32("partition", p), zap.Error(err))
		})

		fetches.EachRecord(func(r *kgo.Record) {
			batch, err := feed.DecodeAggregated(r.Value)
			if err != nil {
				a.decodeErrors.Add(1)
				a.logger.Warn("dropping undecodable aggregated record", zap.Error(err))
				return
			}
			hour := time.UnixMilli(batch.HourStartMs)
			if hour.After(latestHour) {
				latestHour = hour
			}
			for _, fee := range batch.Fees {
				a.applyFee(fee, hour)
			}
			if target, ok := remaining[r.Partition]; ok && r.Offset+1 >= target {
				delete(remaining, r.Partition)
			}
		})
	}

	return latestHour, nil
}

// partitionsOf returns the partition IDs of a topic via its end offsets,
// since ListEndOffsets enumerates every partition without a separate
// metadata round trip.
func (a *Aggregator) partitionsOf(ctx context.Context, topic string) ([]int32, error) {
	offsets, err := a.adm.ListEndOffsets(ctx, topic)
	if err != nil {
		return nil, err
	}
	var parts []int32
	offsets.Each(func(lo kadm.ListedOffset) {
		if lo.Topic == topic {
			parts = append(parts, lo.Partition)
		}
	})
	if len(parts) == 0 {
		return nil, fmt.Errorf("topic %s has no partitions", topic)
	}
	return parts, nil
}

const fanOut = 16

// steadyState runs the realtime consumption loop described in spec.md §4.1
// and §5: a fixed pool of decode workers fans out PollFetches output, a
// single owner goroutine folds decoded updates into the bucket map and
// publishes a snapshot once a second.
func (a *Aggregator) steadyState(ctx context.Context) error {
	records := make(chan *kgo.Record, 256)

	var workers sync.WaitGroup
	for i := 0; i < fanOut; i++ {
		workers.Add(1)
		go a.decodeWorker(ctx, records, &workers)
	}

	ownerDone := make(chan struct{})
	go func() {
		defer close(ownerDone)
		a.ownerLoop(ctx)
	}()

	commitDone := make(chan struct{})
	if a.cfg.AutoCommit && a.cfg.GroupID != "" {
		go func() {
			defer close(commitDone)
			a.commitLoop(ctx)
		}()
	} else {
		close(commitDone)
	}

	for {
		fetches := a.client.PollFetches(ctx)
		if err := ctx.Err(); err != nil {
			close(records)
			workers.Wait()
			<-ownerDone
			<-commitDone
			return err
		}

		fetches.EachError(func(t string, p int32, err error) {
			a.logger.Warn("realtime topic fetch error", zap.String("topic", t), zap.Int32("partition", p), zap.Error(err))
		})

		fetches.EachRecord(func(r *kgo.Record) {
			a.recordConsumedOffset(r.Partition, r.Offset)
			select {
			case records <- r:
			case <-ctx.Done():
			}
		})
	}
}

// recordConsumedOffset tracks the highest realtime-topic offset seen per
// partition so commitLoop has a watermark to report, mirroring the
// grafana-tempo partition reader's highWatermark bookkeeping.
func (a *Aggregator) recordConsumedOffset(partition int32, offset int64) {
	a.commitMu.Lock()
	if offset+1 > a.consumedOffsets[partition] {
		a.consumedOffsets[partition] = offset + 1
	}
	a.commitMu.Unlock()
}

const commitInterval = 5 * time.Second

// commitLoop periodically reports the realtime topic's consumed offsets to
// cfg.GroupID via the admin client, honoring spec.md §6's
// enable.auto.commit / enable.auto.offset.store defaults. Partition
// assignment itself never goes through this group - it exists purely so
// a monitoring tool or a restarted process can see how far consumption has
// progressed, the same purpose group.id serves for a librdkafka consumer
// configured with manual `assign()`.
func (a *Aggregator) commitLoop(ctx context.Context) {
	ticker := time.NewTicker(commitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.commitOffsets(context.Background())
			return
		case <-ticker.C:
			a.commitOffsets(ctx)
		}
	}
}

func (a *Aggregator) commitOffsets(ctx context.Context) {
	a.commitMu.Lock()
	snapshot := make(map[int32]int64, len(a.consumedOffsets))
	for p, o := range a.consumedOffsets {
		snapshot[p] = o
	}
	a.commitMu.Unlock()
	if len(snapshot) == 0 {
		return
	}

	offsets := make(kadm.Offsets)
	for p, o := range snapshot {
		offsets.Add(kadm.Offset{Topic: a.cfg.RealtimeTopic, Partition: p, At: o})
	}

	commitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := a.adm.CommitOffsets(commitCtx, a.cfg.GroupID, offsets); err != nil {
		a.logger.Warn("failed to commit kafka offsets", zap.String("group", a.cfg.GroupID), zap.Error(err))
	}
}

func (a *Aggregator) decodeWorker(ctx context.Context, records <-chan *kgo.Record, wg *sync.WaitGroup) {
	defer wg.Done()
	for r := range records {
		f, err := feed.DecodeRealtime(r.Value)
		if err != nil {
			a.decodeErrors.Add(1)
			a.logger.Warn("dropping undecodable realtime record", zap.Error(err))
			continue
		}

		select {
		case a.updates <- pendingUpdate{fee: f, ts: r.Timestamp}:
		case <-ctx.Done():
			return
		}
	}
}

const maxDrainPerWakeup = 128

// ownerLoop is the sole writer to the bucket map: it drains decoded
// updates in batches and publishes a snapshot once a second, matching the
// single-owner design in spec.md §5.
func (a *Aggregator) ownerLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case u := <-a.updates:
			a.applyFee(u.fee, u.ts)
			a.drainUpToN(maxDrainPerWakeup - 1)
		case <-ticker.C:
			now := a.now()
			a.buckets.Prune(now)
			a.broadcaster.Publish(a.buckets.Snapshot())
		}
	}
}

func (a *Aggregator) drainUpToN(n int) {
	for i := 0; i < n; i++ {
		select {
		case u := <-a.updates:
			a.applyFee(u.fee, u.ts)
		default:
			return
		}
	}
}

// applyFee is the single filter/fold point for both ingest paths (the
// realtime decode workers and the aggregated-topic drain): a record whose
// signer is not in the authorized set, or whose timestamp has aged out of
// the window, is dropped before it ever reaches the bucket map, per
// spec.md §3's "Same filters" requirement for aggregated records.
func (a *Aggregator) applyFee(f feed.Fee, ts time.Time) {
	if len(a.cfg.Signers) > 0 && !a.cfg.Signers[f.Signer] {
		return
	}
	now := a.now()
	if !WithinWindow(ts, now) {
		return
	}
	a.buckets.Add(f.Receiver, ts, feeGRTToWei(f.FeeGRT))
}
