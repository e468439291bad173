package subgraph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streamingfast/eth-go"
)

const authorizedSignersQuery = `
query AuthorizedSigners($payer: String!) {
  payer(id: $payer) {
    signers { id }
  }
}`

const legacyAuthorizedSignersQuery = `
query AuthorizedSigners($payer: String!) {
  sender(id: $payer) {
    signers { id }
  }
}`

type authorizedSignersPayload struct {
	Payer *signerSet `json:"payer"`
}

type legacyAuthorizedSignersPayload struct {
	Sender *signerSet `json:"sender"`
}

type signerSet struct {
	Signers []struct {
		ID string `json:"id"`
	} `json:"signers"`
}

// AuthorizedSigners returns the signer addresses currently authorized for
// payer. This is a one-shot startup query (spec.md §4.2), not paginated.
func (c *Client) AuthorizedSigners(ctx context.Context, payer eth.Address) ([]eth.Address, error) {
	data, err := c.post(ctx, c.escrowEndpoint, authorizedSignersQuery, map[string]any{
		"payer": payer.Pretty(),
	})
	var rows []struct {
		ID string `json:"id"`
	}
	if err != nil {
		if !isMissingField(err, "payer") {
			return nil, fmt.Errorf("subgraph: authorized_signers: %w", err)
		}
		data, err = c.post(ctx, c.escrowEndpoint, legacyAuthorizedSignersQuery, map[string]any{
			"payer": payer.Pretty(),
		})
		if err != nil {
			return nil, fmt.Errorf("subgraph: authorized_signers: legacy: %w", err)
		}
		var legacy legacyAuthorizedSignersPayload
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, fmt.Errorf("subgraph: authorized_signers: decode legacy: %w", err)
		}
		if legacy.Sender == nil {
			return nil, nil
		}
		rows = legacy.Sender.Signers
	} else {
		var payload authorizedSignersPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("subgraph: authorized_signers: decode: %w", err)
		}
		if payload.Payer == nil {
			return nil, nil
		}
		rows = payload.Payer.Signers
	}

	out := make([]eth.Address, 0, len(rows))
	for _, row := range rows {
		addr, err := eth.NewAddress(row.ID)
		if err != nil {
			return nil, fmt.Errorf("subgraph: authorized_signers: bad signer id %q: %w", row.ID, err)
		}
		out = append(out, addr)
	}
	return out, nil
}
