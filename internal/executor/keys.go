package executor

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/streamingfast/eth-go"
)

// ParsePrivateKey decodes a 32-byte hex-encoded secret key (config's
// `secret_key` / `signers` entries, spec.md §6), with or without a "0x"
// prefix.
func ParsePrivateKey(hexKey string) (*eth.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("executor: decode private key: %w", err)
	}
	key, err := eth.NewPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("executor: parse private key: %w", err)
	}
	return key, nil
}
