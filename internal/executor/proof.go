package executor

import (
	"fmt"
	"math/big"

	"github.com/streamingfast/eth-go"
)

// proofTag is the ASCII literal the collector contract's Authorizable.sol
// mixes into the signer-authorization digest, per spec.md §4.3.
const proofTag = "authorizeSignerProof"

// ethSignedMessagePrefix is EIP-191's "personal sign" prefix.
const ethSignedMessagePrefix = "\x19Ethereum Signed Message:\n32"

// generateSignerProof builds and signs the delegate-signer authorization
// proof described in spec.md §4.3:
//
//	digest = keccak256("\x19Ethereum Signed Message:\n32" ‖
//	           keccak256(chain_id(32BE) ‖ collector(20) ‖ "authorizeSignerProof" ‖ deadline(32BE) ‖ payer(20)))
//
// Adapted from the teacher's test/integration/authorization_helpers_test.go
// GenerateSignerProof, promoted here into production code and generalized
// from a hardcoded test domain to a configured chain ID, collector, and
// payer.
func generateSignerProof(chainID uint64, collector eth.Address, deadline uint64, payer eth.Address, signerKey *eth.PrivateKey) ([]byte, error) {
	message := make([]byte, 0, 32+20+len(proofTag)+32+20)

	chainIDBytes := make([]byte, 32)
	new(big.Int).SetUint64(chainID).FillBytes(chainIDBytes)
	message = append(message, chainIDBytes...)

	message = append(message, collector[:]...)
	message = append(message, []byte(proofTag)...)

	deadlineBytes := make([]byte, 32)
	new(big.Int).SetUint64(deadline).FillBytes(deadlineBytes)
	message = append(message, deadlineBytes...)

	message = append(message, payer[:]...)

	messageHash := keccak256(message)
	digest := keccak256(append([]byte(ethSignedMessagePrefix), messageHash...))

	sig, err := signerKey.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("executor: sign authorization proof: %w", err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("executor: unexpected signature length %d", len(sig))
	}

	// eth-go signatures are V(1) ‖ R(32) ‖ S(32); Solidity's ECDSA.recover
	// expects R(32) ‖ S(32) ‖ V(1).
	proof := make([]byte, 65)
	copy(proof[0:32], sig[1:33])
	copy(proof[32:64], sig[33:65])
	proof[64] = sig[0]
	return proof, nil
}
