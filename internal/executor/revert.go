package executor

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// revertError is a contract revert decoded (or not) against the known
// error interface, per spec.md §4.3: "decodes revert reasons against the
// escrow error interface; unknown reverts are returned verbatim".
type revertError struct {
	Name string // empty when the selector is unrecognized
	Raw  string // original hex revert data
}

func (e *revertError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("executor: contract reverted: %s", e.Raw)
	}
	return fmt.Sprintf("executor: contract reverted: %s (%s)", e.Name, e.Raw)
}

// knownErrors maps a 4-byte selector (hex, no 0x) to the human name of a
// custom error declared by the escrow or collector contracts, plus the
// two built-in Solidity errors every contract can revert with
// (Error(string) and Panic(uint256)).
var knownErrors = buildKnownErrors()

func buildKnownErrors() map[string]string {
	names := []string{
		"Error(string)",
		"Panic(uint256)",
		"PaymentsEscrowInsufficientBalance(address,uint256,uint256)",
		"PaymentsEscrowInvalidZeroAmount()",
		"PaymentsEscrowInvalidZeroTokens()",
		"PaymentsEscrowNotThawing()",
		"GraphTallyCollectorInvalidSignerProof(address)",
		"GraphTallyCollectorSignerAlreadyAuthorized(address,address)",
		"GraphTallyCollectorProofDeadlineExpired(uint256,uint256)",
	}
	out := make(map[string]string, len(names))
	for _, sig := range names {
		out[hex.EncodeToString(selector(sig))] = strings.SplitN(sig, "(", 2)[0]
	}
	return out
}

// decodeRevert classifies raw revert data (hex-encoded, "0x"-prefixed or
// not) against knownErrors. Unrecognized selectors (or data too short to
// contain one) are surfaced verbatim, never dropped.
func decodeRevert(raw string) error {
	clean := strings.TrimPrefix(raw, "0x")
	data, err := hex.DecodeString(clean)
	if err != nil || len(data) < 4 {
		return &revertError{Raw: raw}
	}
	name, ok := knownErrors[hex.EncodeToString(data[:4])]
	if !ok {
		return &revertError{Raw: raw}
	}
	return &revertError{Name: name, Raw: raw}
}
