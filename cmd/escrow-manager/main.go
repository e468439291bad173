package main

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/spf13/cobra"
	. "github.com/streamingfast/cli"
	"github.com/streamingfast/eth-go"
	"github.com/streamingfast/logging"
	"go.uber.org/zap"

	"github.com/graphprotocol/escrow-replenisher/internal/aggregator"
	"github.com/graphprotocol/escrow-replenisher/internal/appctx"
	"github.com/graphprotocol/escrow-replenisher/internal/chainmoney"
	"github.com/graphprotocol/escrow-replenisher/internal/config"
	"github.com/graphprotocol/escrow-replenisher/internal/executor"
	"github.com/graphprotocol/escrow-replenisher/internal/reconcile"
	"github.com/graphprotocol/escrow-replenisher/internal/subgraph"
)

var zlog, _ = logging.PackageLogger("escrow-manager", "github.com/graphprotocol/escrow-replenisher/cmd/escrow-manager")
var version = "dev"

func init() {
	logging.InstantiateLoggers(logging.WithDefaultLevel(zap.ErrorLevel))
}

func main() {
	Run(
		"escrow-manager <config-path>",
		"Escrow auto-replenisher for a decentralized query-service marketplace",
		Execute(run),
		Description(`
			Continuously aggregates off-chain fee debt from the realtime and
			aggregated Kafka topics, reconciles it against on-chain escrow
			balances and the active-receiver set read from the network and
			escrow subgraphs, and issues batched deposit_many transactions
			that keep every receiver's escrow balance ahead of its accrued
			debt.

			At startup it authorizes any configured delegate signer not
			already authorized with the collector contract, and tops up the
			ERC-20 allowance if it falls short of the configured target.
		`),
		ConfigureVersion(version),
		OnCommandErrorLogAndExit(zlog),
	)
}

func run(cmd *cobra.Command, args []string) error {
	Ensure(len(args) == 1, "expected exactly one argument: <config-path>")
	cfg, err := config.Load(args[0])
	NoError(err, "loading config %q", args[0])

	payerKey, err := executor.ParsePrivateKey(cfg.SecretKey)
	NoError(err, "parsing secret_key")
	payerAddr := payerKey.PublicKey().Address()

	signerKeys := make([]*eth.PrivateKey, len(cfg.Signers))
	signerAddrs := make(map[[20]byte]bool, len(cfg.Signers))
	for i, hexKey := range cfg.Signers {
		key, err := executor.ParsePrivateKey(hexKey)
		NoError(err, "parsing signers[%d]", i)
		signerKeys[i] = key

		addr := key.PublicKey().Address()
		var raw [20]byte
		copy(raw[:], addr[:])
		signerAddrs[raw] = true
	}

	grtContract, err := eth.NewAddress(cfg.GRTContract)
	NoError(err, "parsing grt_contract %q", cfg.GRTContract)
	escrowContract, err := eth.NewAddress(cfg.PaymentsEscrowContract)
	NoError(err, "parsing payments_escrow_contract %q", cfg.PaymentsEscrowContract)
	collectorContract, err := eth.NewAddress(cfg.GraphTallyCollectorContract)
	NoError(err, "parsing graph_tally_collector_contract %q", cfg.GraphTallyCollectorContract)

	floorDebts, err := parseFloorDebts(cfg.Debts)
	NoError(err, "parsing debts")

	views := subgraph.New(cfg.NetworkSubgraph, cfg.EscrowSubgraph, cfg.QueryAuth)

	execLogger, _ := logging.PackageLogger("executor", "github.com/graphprotocol/escrow-replenisher/internal/executor")
	exec := executor.New(executor.Config{
		RPCURL:         cfg.RPCURL,
		ChainID:        cfg.ChainID,
		GRTContract:    grtContract,
		EscrowContract: escrowContract,
		CollectorAddr:  collectorContract,
		Payer:          payerAddr,
		PayerKey:       payerKey,
	}, execLogger)

	startupCtx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	if err := runStartupProtocol(startupCtx, cfg, views, exec, payerAddr, signerKeys); err != nil {
		cancel()
		return fmt.Errorf("startup: %w", err)
	}
	cancel()

	aggregatorLogger, _ := logging.PackageLogger("aggregator", "github.com/graphprotocol/escrow-replenisher/internal/aggregator")
	agg, err := aggregator.New(aggregator.Config{
		Brokers:         cfg.Kafka.Brokers,
		ClientID:        cfg.Kafka.ClientID,
		RealtimeTopic:   cfg.Kafka.RealtimeTopic,
		AggregatedTopic: cfg.Kafka.AggregatedTopic,
		GroupID:         cfg.Kafka.GroupID,
		AutoCommit:      cfg.Kafka.AutoCommitEnabled(),
		Signers:         signerAddrs,
	}, aggregatorLogger)
	NoError(err, "constructing aggregator")

	reconcileLogger, _ := logging.PackageLogger("reconcile", "github.com/graphprotocol/escrow-replenisher/internal/reconcile")
	loop := reconcile.New(reconcile.Config{
		Payer:      payerAddr,
		Period:     time.Duration(cfg.UpdateIntervalSeconds) * time.Second,
		FloorDebts: floorDebts,
	}, agg.Broadcaster(), views, exec, reconcileLogger)

	app := NewApplication(cmd.Context())
	app.SuperviseAndStart(appctx.NewRunnable("aggregator", agg.Run))
	app.SuperviseAndStart(appctx.NewRunnable("reconcile", loop.Run, reconcile.ErrSignalShutdown))

	return app.WaitForTermination(zlog, 0*time.Second, 30*time.Second)
}

// parseFloorDebts converts the config's whole-GRT floors (spec.md §9's
// resolved Open Question: these values are whole GRT, not wei) into wei,
// keyed by receiver.Pretty() (eth.Address isn't comparable, so it can't
// be a map key itself).
func parseFloorDebts(debts map[string]uint64) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int, len(debts))
	for hexAddr, whole := range debts {
		addr, err := eth.NewAddress(hexAddr)
		if err != nil {
			return nil, fmt.Errorf("bad receiver address %q: %w", hexAddr, err)
		}
		out[addr.Pretty()] = chainmoney.FromWholeGRT(whole)
	}
	return out, nil
}

// runStartupProtocol implements spec.md §4's one-shot startup tasks:
// authorizing any configured delegate signer not yet authorized on-chain,
// and topping up the ERC-20 allowance to the configured target.
func runStartupProtocol(ctx context.Context, cfg *config.Config, views *subgraph.Client, exec *executor.Executor, payer eth.Address, signerKeys []*eth.PrivateKey) error {
	if cfg.AuthorizeSigners && len(signerKeys) > 0 {
		authorized, err := views.AuthorizedSigners(ctx, payer)
		if err != nil {
			return fmt.Errorf("querying authorized_signers: %w", err)
		}
		already := make(map[string]bool, len(authorized))
		for _, addr := range authorized {
			already[addr.Pretty()] = true
		}

		for _, key := range signerKeys {
			addr := key.PublicKey().Address()
			if already[addr.Pretty()] {
				continue
			}
			if err := exec.AuthorizeSigner(ctx, key); err != nil {
				return fmt.Errorf("authorizing signer %s: %w", addr.Pretty(), err)
			}
		}
	}

	if cfg.GRTAllowance > 0 {
		target := chainmoney.FromWholeGRT(cfg.GRTAllowance)
		current, err := exec.Allowance(ctx)
		if err != nil {
			return fmt.Errorf("reading allowance: %w", err)
		}
		if current.Cmp(target) < 0 {
			if err := exec.Approve(ctx, target); err != nil {
				return fmt.Errorf("approving allowance: %w", err)
			}
		}
	}

	return nil
}
