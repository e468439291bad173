// Package executor implements the On-Chain Executor component from
// spec.md §4.3: a thin wrapper over the ERC-20 token, PaymentsEscrow, and
// GraphTallyCollector contracts, exposing allowance/approve/deposit_many/
// authorize_signer.
package executor

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/streamingfast/eth-go"
	"github.com/streamingfast/eth-go/rpc"
	"go.uber.org/zap"
)

// Solidity signatures of the contract methods the executor drives.
// Computed selectors are looked up at call time by selector(sig) rather
// than hardcoded, since no ABI artifact ships with this module (see
// DESIGN.md).
const (
	sigAllowance       = "allowance(address,address)"
	sigApprove         = "approve(address,uint256)"
	sigDeposit         = "deposit(address,address,uint256)"
	sigMulticall       = "multicall(bytes[])"
	sigDepositMany     = "depositMany(address[],uint256[])"
	sigAuthorizeSigner = "authorizeSigner(address,uint256,bytes)"
)

// Adjustment is spec.md §3's Adjustment entity: a positive deposit to add
// for receiver.
type Adjustment struct {
	Receiver eth.Address
	Amount   *big.Int
}

// DepositResult reports the block the deposit_many transaction landed in,
// so the caller can pin the next subgraph read (spec.md §4.2).
type DepositResult struct {
	BlockNumber uint64
}

// Config parameterizes a single Executor instance.
type Config struct {
	RPCURL string
	ChainID uint64

	GRTContract    eth.Address
	EscrowContract eth.Address
	CollectorAddr  eth.Address

	Payer     eth.Address
	PayerKey  *eth.PrivateKey

	// LegacyDepositMany selects the legacy depositMany(address[],uint256[])
	// path instead of multicall. Used when only a pre-Horizon escrow
	// contract is deployed (spec.md §9 Open Question). The escrow contract
	// is not probed for multicall support; this flag alone decides.
	LegacyDepositMany bool

	// ApproveConfirm / DepositConfirm / AuthorizeConfirm override the
	// confirmation deadlines of spec.md §4.3 (30s / 30s / 60s). Zero means
	// use the spec default.
	ApproveConfirm   time.Duration
	DepositConfirm   time.Duration
	AuthorizeConfirm time.Duration
}

// Executor owns the wallet/signer and the RPC provider handle exclusively,
// per spec.md §3's ownership rules.
type Executor struct {
	cfg    Config
	logger *zap.Logger
	rpc    *rpc.Client
}

// New constructs an Executor against an already-dialable RPC endpoint.
func New(cfg Config, logger *zap.Logger) *Executor {
	if cfg.ApproveConfirm == 0 {
		cfg.ApproveConfirm = 30 * time.Second
	}
	if cfg.DepositConfirm == 0 {
		cfg.DepositConfirm = 30 * time.Second
	}
	if cfg.AuthorizeConfirm == 0 {
		cfg.AuthorizeConfirm = 60 * time.Second
	}
	return &Executor{
		cfg:    cfg,
		logger: logger,
		rpc:    rpc.NewClient(cfg.RPCURL),
	}
}

// Allowance reads token.allowance(payer, escrow), per spec.md §4.3. It
// fails if the result would overflow u128.
func (e *Executor) Allowance(ctx context.Context) (*big.Int, error) {
	data := encodeStaticCall(sigAllowance, encodeAddress(e.cfg.Payer), encodeAddress(e.cfg.EscrowContract))
	result, err := callContract(ctx, e.rpc, e.cfg.GRTContract, data)
	if err != nil {
		return nil, fmt.Errorf("executor: allowance: %w", err)
	}
	if len(result) != 32 {
		return nil, fmt.Errorf("executor: allowance: unexpected result length %d", len(result))
	}
	value := new(big.Int).SetBytes(result)
	if value.BitLen() > 128 {
		return nil, fmt.Errorf("executor: allowance: result %s exceeds u128", value)
	}
	return value, nil
}

// Approve sends token.approve(escrow, amount) and awaits one confirmation
// within the configured deadline (30s by default), per spec.md §4.3.
func (e *Executor) Approve(ctx context.Context, amount *big.Int) error {
	data := encodeStaticCall(sigApprove, encodeAddress(e.cfg.EscrowContract), encodeUint256(amount))
	_, err := sendTransaction(ctx, e.rpc, e.logger, e.cfg.PayerKey, e.cfg.ChainID, e.cfg.GRTContract, data, e.cfg.ApproveConfirm)
	if err != nil {
		return fmt.Errorf("executor: approve: %w", err)
	}
	return nil
}

// DepositMany atomically executes every adjustment in a single
// transaction, via the escrow contract's multicall of per-receiver
// deposit(collector, receiver, amount) calls (spec.md §4.3, §9's
// preferred deposit path). When cfg.LegacyDepositMany is set, it instead
// calls the legacy depositMany(address[],uint256[]) directly.
func (e *Executor) DepositMany(ctx context.Context, adjustments []Adjustment) (*DepositResult, error) {
	if len(adjustments) == 0 {
		return &DepositResult{}, nil
	}

	var data []byte
	if e.cfg.LegacyDepositMany {
		data = e.legacyDepositManyCalldata(adjustments)
	} else {
		data = e.multicallDepositCalldata(adjustments)
	}

	receipt, err := sendTransaction(ctx, e.rpc, e.logger, e.cfg.PayerKey, e.cfg.ChainID, e.cfg.EscrowContract, data, e.cfg.DepositConfirm)
	if err != nil {
		return nil, fmt.Errorf("executor: deposit_many: %w", err)
	}
	if receipt.BlockNumber == nil {
		return nil, fmt.Errorf("executor: deposit_many: receipt missing block number")
	}
	return &DepositResult{BlockNumber: receipt.BlockNumber.Uint64()}, nil
}

func (e *Executor) multicallDepositCalldata(adjustments []Adjustment) []byte {
	calls := make([][]byte, len(adjustments))
	for i, adj := range adjustments {
		calls[i] = encodeStaticCall(sigDeposit, encodeAddress(e.cfg.CollectorAddr), encodeAddress(adj.Receiver), encodeUint256(adj.Amount))
	}
	return encodeBytesArrayCall(sigMulticall, calls)
}

func (e *Executor) legacyDepositManyCalldata(adjustments []Adjustment) []byte {
	receivers := make([]eth.Address, len(adjustments))
	amounts := make([]*big.Int, len(adjustments))
	for i, adj := range adjustments {
		receivers[i] = adj.Receiver
		amounts[i] = adj.Amount
	}
	return encodeAddressUint256ArraysCall(sigDepositMany, receivers, amounts)
}

// AuthorizeSigner builds and signs the delegate-signer proof and sends
// collector.authorizeSigner(signer, deadline, proof), per spec.md §4.3.
// deadline is now + 60s at call time.
func (e *Executor) AuthorizeSigner(ctx context.Context, signerKey *eth.PrivateKey) error {
	signerAddr := signerKey.PublicKey().Address()
	deadline := uint64(time.Now().Add(60 * time.Second).Unix())

	proof, err := generateSignerProof(e.cfg.ChainID, e.cfg.CollectorAddr, deadline, e.cfg.Payer, signerKey)
	if err != nil {
		return fmt.Errorf("executor: authorize_signer: %w", err)
	}

	data := encodeAuthorizeSignerCall(sigAuthorizeSigner, signerAddr, new(big.Int).SetUint64(deadline), proof)
	_, err = sendTransaction(ctx, e.rpc, e.logger, e.cfg.PayerKey, e.cfg.ChainID, e.cfg.CollectorAddr, data, e.cfg.AuthorizeConfirm)
	if err != nil {
		return fmt.Errorf("executor: authorize_signer: %w", err)
	}
	return nil
}
