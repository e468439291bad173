package subgraph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streamingfast/eth-go"
)

const activeReceiversQuery = `
query ActiveReceivers($first: Int!, $lastId: String!, $block: Block_height) {
  indexers(first: $first, where: { allocationCount_gt: 0, id_gt: $lastId }, orderBy: id, orderDirection: asc, block: $block) {
    id
  }
  _meta(block: $block) {
    block { number hash }
  }
}`

type indexerRow struct {
	ID string `json:"id"`
}

type metaBlock struct {
	Number uint64 `json:"number"`
	Hash   string `json:"hash"`
}

type metaPayload struct {
	Block metaBlock `json:"block"`
}

type activeReceiversPage struct {
	Indexers []indexerRow `json:"indexers"`
	Meta     metaPayload  `json:"_meta"`
}

// ActiveReceivers returns every indexer address with allocationCount > 0,
// per spec.md §4.2. Unlike EscrowAccounts, this view is never reconfigured
// by PinBlock: spec.md §4.2's block-hint pinning after a deposit applies
// to the escrow-accounts view only, so every call here starts unpinned
// (the subgraph's latest indexed block) and only pins pages to each other
// within a single call, for a consistent multi-page read.
func (c *Client) ActiveReceivers(ctx context.Context) (map[string]eth.Address, error) {
	out := make(map[string]eth.Address)

	var block any
	lastID := ""

	for {
		data, err := c.post(ctx, c.networkEndpoint, activeReceiversQuery, map[string]any{
			"first":  pageSize,
			"lastId": lastID,
			"block":  block,
		})
		if err != nil {
			if IsReorg(err) {
				block = nil
				lastID = ""
				clear(out)
				continue
			}
			return nil, fmt.Errorf("subgraph: active_receivers: %w", err)
		}

		var page activeReceiversPage
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, fmt.Errorf("subgraph: active_receivers: decode page: %w", err)
		}

		if len(page.Indexers) == 0 {
			return out, nil
		}

		for _, row := range page.Indexers {
			addr, err := eth.NewAddress(row.ID)
			if err != nil {
				return nil, fmt.Errorf("subgraph: active_receivers: bad indexer id %q: %w", row.ID, err)
			}
			out[addr.Pretty()] = addr
			lastID = row.ID
		}

		if page.Meta.Block.Hash != "" {
			block = map[string]any{"hash": page.Meta.Block.Hash}
		}

		if len(page.Indexers) < pageSize {
			return out, nil
		}
	}
}
