package executor

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/streamingfast/eth-go"
	"github.com/streamingfast/eth-go/rpc"
	"github.com/streamingfast/eth-go/signer/native"
	"go.uber.org/zap"
)

// sendTransaction signs and submits data as a call to `to` from key, and
// blocks until the receipt lands or deadline elapses.
//
// Adapted from the teacher's horizon/devenv/helpers.go SendTransaction /
// waitForReceipt and horizon/devenv/contracts.go deployContract (nonce +
// gas price lookup, native.PrivateKeySigner, SendRawTransaction, polling
// TransactionReceipt), generalized from the devenv's fixed 30s timeout to
// a caller-supplied deadline so approve/deposit_many (30s) and
// authorize_signer (60s) share one implementation.
func sendTransaction(ctx context.Context, rpcClient *rpc.Client, logger *zap.Logger, key *eth.PrivateKey, chainID uint64, to eth.Address, data []byte, deadline time.Duration) (*rpc.TransactionReceipt, error) {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	from := key.PublicKey().Address()

	nonce, err := rpcClient.Nonce(ctx, from, nil)
	if err != nil {
		return nil, fmt.Errorf("executor: get nonce: %w", err)
	}

	gasPrice, err := rpcClient.GasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("executor: get gas price: %w", err)
	}

	signer, err := native.NewPrivateKeySigner(logger, new(big.Int).SetUint64(chainID), key)
	if err != nil {
		return nil, fmt.Errorf("executor: create signer: %w", err)
	}

	const gasLimit = uint64(1_000_000)
	signedTx, err := signer.SignTransaction(nonce, to[:], big.NewInt(0), gasLimit, gasPrice, data)
	if err != nil {
		return nil, fmt.Errorf("executor: sign transaction: %w", err)
	}

	txHash, err := rpcClient.SendRawTransaction(ctx, signedTx)
	if err != nil {
		return nil, fmt.Errorf("executor: send transaction: %w", err)
	}
	logger.Debug("transaction submitted", zap.String("tx_hash", txHash), zap.Stringer("to", to))

	receipt, err := waitForReceipt(ctx, rpcClient, txHash)
	if err != nil {
		return nil, err
	}
	if receipt.Status != nil && uint64(*receipt.Status) == 0 {
		// The receipt itself carries no revert reason on most chains (it
		// must be recovered by replaying the call via eth_call); a failed
		// transaction surfaces as a revertError with empty revert data.
		// The call is not replayed, so no revert reason is decoded here.
		return receipt, decodeRevert("")
	}
	return receipt, nil
}

func waitForReceipt(ctx context.Context, rpcClient *rpc.Client, txHash string) (*rpc.TransactionReceipt, error) {
	hash := eth.MustNewHash(txHash)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("executor: waiting for receipt of %s: %w", txHash, ctx.Err())
		case <-ticker.C:
			receipt, err := rpcClient.TransactionReceipt(ctx, hash)
			if err != nil || receipt == nil {
				continue
			}
			return receipt, nil
		}
	}
}

// callContract performs a read-only `eth_call` and returns the raw
// response bytes, per the teacher's horizon/devenv/contracts.go
// CallContract.
func callContract(ctx context.Context, rpcClient *rpc.Client, to eth.Address, data []byte) ([]byte, error) {
	resultHex, err := rpcClient.Call(ctx, rpc.CallParams{To: to, Data: data})
	if err != nil {
		if isRevert(err) {
			return nil, decodeRevert(extractRevertData(err))
		}
		return nil, fmt.Errorf("executor: call: %w", err)
	}
	return hex.DecodeString(strings.TrimPrefix(resultHex, "0x"))
}

// isRevert reports whether an RPC error looks like a decoded contract
// revert rather than a transport failure, per spec.md §4.3/§7's split
// between ContractRevert (surfaced to the loop) and TransportTransient
// (retried next tick).
func isRevert(err error) bool {
	return err != nil && strings.Contains(err.Error(), "revert")
}

// extractRevertData pulls the "0x..."-prefixed revert payload out of an
// RPC error's message, when present.
func extractRevertData(err error) string {
	msg := err.Error()
	idx := strings.Index(msg, "0x")
	if idx < 0 {
		return msg
	}
	end := idx + 2
	for end < len(msg) && isHexChar(msg[end]) {
		end++
	}
	return msg[idx:end]
}

func isHexChar(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}
