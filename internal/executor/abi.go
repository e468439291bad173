package executor

import (
	"math/big"

	"github.com/streamingfast/eth-go"
	"golang.org/x/crypto/sha3"
)

// No Foundry contract artifacts ship with this module (the build container
// that produced them lived under the teacher's horizon/devenv, and is
// dropped along with the rest of the local-devnet harness — see
// DESIGN.md). Calldata is therefore hand-encoded the same way the
// teacher's sidecar/escrow_querier.go builds its getBalance call: a
// selector plus manually packed ABI words, generalized here to the
// dynamic array types deposit_many and the legacy depositMany need.

// keccak256 hashes data with the same Keccak-256 (pre-NIST) variant the
// teacher's signer-proof helper uses.
func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

// selector returns the 4-byte function/error selector for a Solidity
// signature such as "deposit(address,address,uint256)".
func selector(signature string) []byte {
	return keccak256([]byte(signature))[:4]
}

func encodeAddress(addr eth.Address) []byte {
	word := make([]byte, 32)
	copy(word[12:], addr[:])
	return word
}

func encodeUint256(v *big.Int) []byte {
	word := make([]byte, 32)
	v.FillBytes(word)
	return word
}

func encodeUint256FromInt(v int64) []byte {
	return encodeUint256(big.NewInt(v))
}

// encodeDynamicBytes ABI-encodes one `bytes` value: a length word followed
// by its right-padded, 32-byte-aligned content.
func encodeDynamicBytes(b []byte) []byte {
	padded := make([]byte, ((len(b)+31)/32)*32)
	copy(padded, b)
	out := make([]byte, 0, 32+len(padded))
	out = append(out, encodeUint256FromInt(int64(len(b)))...)
	out = append(out, padded...)
	return out
}

// encodeBytesArrayCall encodes calldata for a function whose sole argument
// is `bytes[]`, i.e. `multicall(bytes[])`: selector, then the standard
// dynamic-array-of-dynamic-type head/tail layout.
func encodeBytesArrayCall(sig string, items [][]byte) []byte {
	n := len(items)
	headSize := int64(32 * n)

	var tails []byte
	offsets := make([]int64, n)
	cursor := headSize
	for i, item := range items {
		offsets[i] = cursor
		enc := encodeDynamicBytes(item)
		tails = append(tails, enc...)
		cursor += int64(len(enc))
	}

	out := make([]byte, 0, 4+32+32+len(offsets)*32+len(tails))
	out = append(out, selector(sig)...)
	out = append(out, encodeUint256FromInt(32)...) // offset to the bytes[] arg
	out = append(out, encodeUint256FromInt(int64(n))...)
	for _, off := range offsets {
		out = append(out, encodeUint256FromInt(off)...)
	}
	out = append(out, tails...)
	return out
}

// encodeAddressUint256ArraysCall encodes calldata for the legacy
// `depositMany(address[],uint256[])` path: two same-length dynamic arrays
// of static-size elements.
func encodeAddressUint256ArraysCall(sig string, receivers []eth.Address, amounts []*big.Int) []byte {
	addrArray := make([]byte, 0, 32+32*len(receivers))
	addrArray = append(addrArray, encodeUint256FromInt(int64(len(receivers)))...)
	for _, r := range receivers {
		addrArray = append(addrArray, encodeAddress(r)...)
	}

	amountArray := make([]byte, 0, 32+32*len(amounts))
	amountArray = append(amountArray, encodeUint256FromInt(int64(len(amounts)))...)
	for _, a := range amounts {
		amountArray = append(amountArray, encodeUint256(a)...)
	}

	offset1 := int64(64)
	offset2 := offset1 + int64(len(addrArray))

	out := make([]byte, 0, 4+64+len(addrArray)+len(amountArray))
	out = append(out, selector(sig)...)
	out = append(out, encodeUint256FromInt(offset1)...)
	out = append(out, encodeUint256FromInt(offset2)...)
	out = append(out, addrArray...)
	out = append(out, amountArray...)
	return out
}

// encodeStaticCall encodes calldata for a function whose arguments are all
// 32-byte words (addresses, uint256s): selector followed by each word in
// order.
func encodeStaticCall(sig string, words ...[]byte) []byte {
	out := make([]byte, 0, 4+32*len(words))
	out = append(out, selector(sig)...)
	for _, w := range words {
		out = append(out, w...)
	}
	return out
}

// encodeAuthorizeSignerCall encodes calldata for
// `authorizeSigner(address,uint256,bytes)`: two static head words followed
// by the offset to, and tail of, the dynamic `proof` argument.
func encodeAuthorizeSignerCall(sig string, signer eth.Address, deadline *big.Int, proof []byte) []byte {
	const headWords = 3 // signer, deadline, offset-to-proof
	head := make([]byte, 0, 32*headWords)
	head = append(head, encodeAddress(signer)...)
	head = append(head, encodeUint256(deadline)...)
	head = append(head, encodeUint256FromInt(32*headWords)...)
	tail := encodeDynamicBytes(proof)

	out := make([]byte, 0, 4+len(head)+len(tail))
	out = append(out, selector(sig)...)
	out = append(out, head...)
	out = append(out, tail...)
	return out
}
