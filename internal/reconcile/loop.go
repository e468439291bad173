package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/streamingfast/eth-go"
	"go.uber.org/zap"

	"github.com/graphprotocol/escrow-replenisher/internal/aggregator"
	"github.com/graphprotocol/escrow-replenisher/internal/executor"
	"github.com/graphprotocol/escrow-replenisher/internal/subgraph"
)

// ErrSignalShutdown is the error Run returns when ctx is canceled, letting
// the caller tell a clean signal-triggered shutdown apart from a real
// failure (spec.md §5).
var ErrSignalShutdown = errors.New("reconcile: shutdown requested")

// State names the loop's Idle -> Ticking -> Deposit -> Idle cycle from
// spec.md §4.4, exposed for logging only.
type State int

const (
	StateIdle State = iota
	StateTicking
	StateDeposit
)

func (s State) String() string {
	switch s {
	case StateTicking:
		return "ticking"
	case StateDeposit:
		return "deposit"
	default:
		return "idle"
	}
}

// Config parameterizes a Loop.
type Config struct {
	Payer  eth.Address
	Period time.Duration

	// FloorDebts holds any per-receiver configured debt floor, already
	// converted to wei and keyed by receiver.Pretty(), per spec.md §6.
	// eth.Address isn't comparable, so it can't be a map key directly.
	FloorDebts map[string]*big.Int
}

// Loop is the Reconciliation Loop of spec.md §4.4: on every tick it joins
// the latest debt snapshot with on-chain escrow state, computes deposit
// adjustments via the tier ladder, reduces them to the batch cap if
// needed, and issues them through the executor.
type Loop struct {
	cfg    Config
	logger *zap.Logger

	snapshots *aggregator.Broadcaster
	views     *subgraph.Client
	exec      *executor.Executor

	state State
}

// New constructs a Loop. snapshots is the debt aggregator's broadcast
// channel, views reads the subgraphs, exec issues on-chain deposits.
func New(cfg Config, snapshots *aggregator.Broadcaster, views *subgraph.Client, exec *executor.Executor, logger *zap.Logger) *Loop {
	return &Loop{
		cfg:       cfg,
		logger:    logger,
		snapshots: snapshots,
		views:     views,
		exec:      exec,
		state:     StateIdle,
	}
}

// State reports the loop's current position in its Idle/Ticking/Deposit
// cycle.
func (l *Loop) State() State {
	return l.state
}

// Run ticks once immediately, then every cfg.Period, until ctx is
// canceled. A tick that is still running when the next one is due simply
// misses it: time.Ticker drops ticks rather than queuing them, so a slow
// deposit never produces a backlog of overlapping ticks (spec.md §5).
func (l *Loop) Run(ctx context.Context) error {
	l.tick(ctx)

	ticker := time.NewTicker(l.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ErrSignalShutdown
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	l.state = StateTicking
	defer func() { l.state = StateIdle }()

	active, err := l.views.ActiveReceivers(ctx)
	if err != nil {
		l.logger.Warn("skipping tick: active_receivers failed", zap.Error(err))
		return
	}

	escrow, err := l.views.EscrowAccounts(ctx, l.cfg.Payer)
	if err != nil {
		if subgraph.IsMissingBlock(err) {
			l.logger.Warn("skipping tick: escrow_accounts not yet at pinned block", zap.Error(err))
		} else {
			l.logger.Warn("skipping tick: escrow_accounts failed", zap.Error(err))
		}
		return
	}

	receivers, err := unionReceivers(active, escrow)
	if err != nil {
		l.logger.Warn("skipping tick: could not resolve receiver set", zap.Error(err))
		return
	}

	snapshot := l.snapshots.Latest()
	desired, total := computeAdjustments(receivers, escrow, snapshot, l.cfg.FloorDebts)

	if len(desired) == 0 {
		l.logger.Debug("tick complete: no adjustments needed")
		return
	}

	adjustments := sortAdjustments(desired)
	if total.Cmp(MaxBatch) > 0 {
		l.logger.Info("batch cap exceeded, reducing", zap.Int("receivers", len(desired)), zap.String("desired_total", total.String()))
		adjustments = ReduceBatch(adjustments)
	}

	l.state = StateDeposit
	execAdjustments := make([]executor.Adjustment, len(adjustments))
	for i, a := range adjustments {
		execAdjustments[i] = executor.Adjustment{Receiver: a.Receiver, Amount: a.Amount}
	}

	result, err := l.exec.DepositMany(ctx, execAdjustments)
	if err != nil {
		l.logger.Warn("deposit_many failed, will retry next tick", zap.Error(err))
		return
	}

	l.views.PinBlock(result.BlockNumber)
	l.logger.Info("adjustments complete",
		zap.Int("count", len(adjustments)),
		zap.Uint64("block", result.BlockNumber))
}

// computeAdjustments implements steps 4-6 of spec.md §4.4's per-tick
// algorithm, independent of the subgraph/executor I/O around it: for
// every candidate receiver it floors the snapshotted debt, compares the
// tier ladder's target balance against the current escrow balance, and
// collects the nonzero deposits plus their sum.
func computeAdjustments(receivers []eth.Address, escrow map[string]*big.Int, snapshot aggregator.Snapshot, floorDebts map[string]*big.Int) ([]Adjustment, *big.Int) {
	var desired []Adjustment
	total := new(big.Int)
	for _, r := range receivers {
		debt := debtOf(snapshot, floorDebts, r)
		balance := escrow[r.Pretty()]
		if balance == nil {
			balance = big.NewInt(0)
		}

		target := NextBalance(debt)
		adjustment := new(big.Int).Sub(target, balance)
		if adjustment.Sign() > 0 {
			desired = append(desired, Adjustment{Receiver: r, Amount: adjustment})
			total.Add(total, adjustment)
		}
	}
	return desired, total
}

// debtOf looks up a receiver's cumulative debt in the latest snapshot
// (zero if there isn't one yet, or the receiver has no buckets), floored
// to any configured minimum debt, per spec.md §4.4 and §6.
func debtOf(snapshot aggregator.Snapshot, floorDebts map[string]*big.Int, r eth.Address) *big.Int {
	debt := big.NewInt(0)
	if snapshot != nil {
		if v, ok := snapshot[addrKey(r)]; ok {
			debt = v
		}
	}
	if floor, ok := floorDebts[r.Pretty()]; ok && floor.Cmp(debt) > 0 {
		return floor
	}
	return debt
}

// unionReceivers combines the active-receivers set with every receiver
// that already holds an escrow balance, per spec.md §4.4's receiver set
// definition. escrow is keyed by receiver.Pretty() without the
// corresponding eth.Address, so any key missing from active is
// reparsed.
func unionReceivers(active map[string]eth.Address, escrow map[string]*big.Int) ([]eth.Address, error) {
	seen := make(map[string]bool, len(active)+len(escrow))
	out := make([]eth.Address, 0, len(active)+len(escrow))

	for key, addr := range active {
		seen[key] = true
		out = append(out, addr)
	}
	for key := range escrow {
		if seen[key] {
			continue
		}
		addr, err := eth.NewAddress(key)
		if err != nil {
			return nil, fmt.Errorf("reconcile: bad escrow receiver address %q: %w", key, err)
		}
		seen[key] = true
		out = append(out, addr)
	}
	return out, nil
}

// addrKey converts a receiver address to the raw 20-byte form used as the
// debt snapshot's map key, regardless of eth.Address's underlying
// representation.
func addrKey(a eth.Address) [20]byte {
	var out [20]byte
	copy(out[:], a[:])
	return out
}

// sortAdjustments orders a desired-adjustment slice by receiver address
// ascending, for deterministic logging and as ReduceBatch's expected
// input order.
func sortAdjustments(desired []Adjustment) []Adjustment {
	out := make([]Adjustment, len(desired))
	copy(out, desired)
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Receiver[:], out[j].Receiver[:]) < 0
	})
	return out
}
