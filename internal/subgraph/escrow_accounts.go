package subgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/streamingfast/eth-go"
)

const escrowAccountsQuery = `
query EscrowAccounts($first: Int!, $lastId: String!, $block: Block_height, $payer: String!) {
  paymentsEscrowAccounts(first: $first, where: { payer: $payer, id_gt: $lastId }, orderBy: id, orderDirection: asc, block: $block) {
    id
    balance
    receiver { id }
  }
  _meta(block: $block) {
    block { number hash }
  }
}`

const legacyEscrowAccountsQuery = `
query EscrowAccounts($first: Int!, $lastId: String!, $block: Block_height, $payer: String!) {
  escrowAccounts(first: $first, where: { sender: $payer, id_gt: $lastId }, orderBy: id, orderDirection: asc, block: $block) {
    id
    balance
    receiver { id }
  }
  _meta(block: $block) {
    block { number hash }
  }
}`

type escrowAccountRow struct {
	ID      string `json:"id"`
	Balance string `json:"balance"`
	Receiver struct {
		ID string `json:"id"`
	} `json:"receiver"`
}

type escrowAccountsPage struct {
	Accounts []escrowAccountRow `json:"paymentsEscrowAccounts"`
	Meta     metaPayload        `json:"_meta"`
}

type legacyEscrowAccountsPage struct {
	Accounts []escrowAccountRow `json:"escrowAccounts"`
	Meta     metaPayload        `json:"_meta"`
}

// EscrowAccounts returns every escrow balance funded by payer, keyed by
// receiver address, per spec.md §4.2. It transparently falls back to the
// legacy `escrowAccounts`/`sender:` schema shape when the Horizon-native
// `paymentsEscrowAccounts`/`payer:` field does not exist on the subgraph.
func (c *Client) EscrowAccounts(ctx context.Context, payer eth.Address) (map[string]*big.Int, error) {
	out := make(map[string]*big.Int)

	block := map[string]any{"number_gte": c.blockHint.Load()}
	lastID := ""
	legacy := false

	for {
		query := escrowAccountsQuery
		if legacy {
			query = legacyEscrowAccountsQuery
		}

		data, err := c.post(ctx, c.escrowEndpoint, query, map[string]any{
			"first":  pageSize,
			"lastId": lastID,
			"block":  block,
			"payer":  payer.Pretty(),
		})
		if err != nil {
			if IsReorg(err) {
				block = map[string]any{"number_gte": c.blockHint.Load()}
				lastID = ""
				clear(out)
				continue
			}
			if !legacy && isMissingField(err, "paymentsEscrowAccounts") {
				legacy = true
				lastID = ""
				clear(out)
				continue
			}
			return nil, fmt.Errorf("subgraph: escrow_accounts: %w", err)
		}

		var rows []escrowAccountRow
		var meta metaPayload
		if legacy {
			var page legacyEscrowAccountsPage
			if err := json.Unmarshal(data, &page); err != nil {
				return nil, fmt.Errorf("subgraph: escrow_accounts: decode legacy page: %w", err)
			}
			rows, meta = page.Accounts, page.Meta
		} else {
			var page escrowAccountsPage
			if err := json.Unmarshal(data, &page); err != nil {
				return nil, fmt.Errorf("subgraph: escrow_accounts: decode page: %w", err)
			}
			rows, meta = page.Accounts, page.Meta
		}

		if len(rows) == 0 {
			return out, nil
		}

		for _, row := range rows {
			receiver, err := eth.NewAddress(row.Receiver.ID)
			if err != nil {
				return nil, fmt.Errorf("subgraph: escrow_accounts: bad receiver id %q: %w", row.Receiver.ID, err)
			}
			balance, ok := new(big.Int).SetString(row.Balance, 10)
			if !ok {
				return nil, fmt.Errorf("subgraph: escrow_accounts: bad balance %q for %s", row.Balance, receiver.Pretty())
			}

			key := receiver.Pretty()
			if existing, ok := out[key]; ok {
				balance = new(big.Int).Add(existing, balance)
			}
			out[key] = balance
			lastID = row.ID
		}

		if meta.Block.Hash != "" {
			block = map[string]any{"hash": meta.Block.Hash}
		}

		if len(rows) < pageSize {
			return out, nil
		}
	}
}
