// Package docstore is the transactional document store backing the
// trading ledger. Balance, position, order, and bonus documents are
// stored as JSON under (collection, id); every multi-document mutation
// in the engine runs through RunTransaction.
package docstore

import (
	"context"
	"time"
)

const (
	CollectionBalances  = "balances"
	CollectionPositions = "positions"
	CollectionOrders    = "limit_orders"
	CollectionBonuses   = "bonus_accounts"
)

type Doc struct {
	ID        string
	Data      []byte
	UpdatedAt time.Time
}

// Filter matches top-level document fields exactly. Values should be
// JSON-comparable (strings in practice: ids, symbols, statuses).
type Filter map[string]any

// Tx is the view handed to a transaction function. Reads observe prior
// writes made in the same transaction.
type Tx interface {
	Get(ctx context.Context, collection, id string) (Doc, error)
	Query(ctx context.Context, collection string, filter Filter) ([]Doc, error)
	Put(ctx context.Context, collection, id string, data []byte) error
	Delete(ctx context.Context, collection, id string) error
}

// Store adds auto-committed single-document operations on top of Tx.
// The non-transactional ops exist for the limit-order engine's
// sequential fallback path; everything else should use RunTransaction.
type Store interface {
	Tx
	// RunTransaction executes fn atomically. The store retries
	// conflicting transactions a bounded number of times and then
	// returns types.ErrTransactionConflict. Any error from fn rolls
	// the transaction back and is returned unchanged.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
