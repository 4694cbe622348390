// Package ledger owns the per-user balance documents: an available
// amount and a reserved amount per asset. Reserved funds back pending
// limit orders and move in lockstep with order lifecycle transitions.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ripple-trading/internal/docstore"
	"ripple-trading/internal/types"
)

type Service struct {
	store docstore.Store
	log   *zap.Logger
}

func NewService(store docstore.Store, log *zap.Logger) *Service {
	return &Service{store: store, log: log}
}

// Ledger is the balance document for one user. Amounts never go
// negative; any mutation that would underflow fails and rolls back.
type Ledger struct {
	UserID    string                     `json:"user_id"`
	Available map[string]decimal.Decimal `json:"available"`
	Reserved  map[string]decimal.Decimal `json:"reserved"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

func (l Ledger) AvailableFor(asset string) decimal.Decimal {
	return l.Available[asset]
}

func (l Ledger) ReservedFor(asset string) decimal.Decimal {
	return l.Reserved[asset]
}

// EnsureInitialized writes an empty ledger document for the user if
// none exists. Called once at account creation; the mutating
// operations below treat a missing ledger as an error rather than
// re-deriving defaults.
func (s *Service) EnsureInitialized(ctx context.Context, userID string) error {
	return s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		_, err := tx.Get(ctx, docstore.CollectionBalances, userID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, types.ErrNotFound) {
			return err
		}
		return s.save(ctx, tx, Ledger{
			UserID:    userID,
			Available: map[string]decimal.Decimal{},
			Reserved:  map[string]decimal.Decimal{},
		})
	})
}

func (s *Service) Balances(ctx context.Context, userID string) (Ledger, error) {
	doc, err := s.store.Get(ctx, docstore.CollectionBalances, userID)
	if err != nil {
		return Ledger{}, err
	}
	return decodeLedger(doc.Data)
}

// Reserve moves amount from available to reserved, backing a new
// pending limit order.
func (s *Service) Reserve(ctx context.Context, tx docstore.Tx, userID, asset string, amount decimal.Decimal) error {
	return s.mutate(ctx, tx, userID, func(l *Ledger) error {
		if l.AvailableFor(asset).LessThan(amount) {
			return fmt.Errorf("reserve %s %s for %s: %w", amount, asset, userID, types.ErrInsufficientBalance)
		}
		l.Available[asset] = l.AvailableFor(asset).Sub(amount)
		l.Reserved[asset] = l.ReservedFor(asset).Add(amount)
		return nil
	}, amount)
}

// Release returns reserved margin to available, pairing with an order
// cancellation.
func (s *Service) Release(ctx context.Context, tx docstore.Tx, userID, asset string, amount decimal.Decimal) error {
	return s.mutate(ctx, tx, userID, func(l *Ledger) error {
		if l.ReservedFor(asset).LessThan(amount) {
			return fmt.Errorf("release %s %s for %s: reserved underflow", amount, asset, userID)
		}
		l.Reserved[asset] = l.ReservedFor(asset).Sub(amount)
		l.Available[asset] = l.AvailableFor(asset).Add(amount)
		return nil
	}, amount)
}

// SpendReserved removes reserved margin without returning it to
// available: the margin is committed into a position when a limit
// order executes.
func (s *Service) SpendReserved(ctx context.Context, tx docstore.Tx, userID, asset string, amount decimal.Decimal) error {
	return s.mutate(ctx, tx, userID, func(l *Ledger) error {
		if l.ReservedFor(asset).LessThan(amount) {
			return fmt.Errorf("spend reserved %s %s for %s: reserved underflow", amount, asset, userID)
		}
		l.Reserved[asset] = l.ReservedFor(asset).Sub(amount)
		return nil
	}, amount)
}

// Debit takes amount straight out of available. Market opens commit
// margin this way; there is no reserved bucket for market positions.
func (s *Service) Debit(ctx context.Context, tx docstore.Tx, userID, asset string, amount decimal.Decimal) error {
	return s.mutate(ctx, tx, userID, func(l *Ledger) error {
		if l.AvailableFor(asset).LessThan(amount) {
			return fmt.Errorf("debit %s %s for %s: %w", amount, asset, userID, types.ErrInsufficientBalance)
		}
		l.Available[asset] = l.AvailableFor(asset).Sub(amount)
		return nil
	}, amount)
}

func (s *Service) Credit(ctx context.Context, tx docstore.Tx, userID, asset string, amount decimal.Decimal) error {
	return s.mutate(ctx, tx, userID, func(l *Ledger) error {
		l.Available[asset] = l.AvailableFor(asset).Add(amount)
		return nil
	}, amount)
}

// Settle applies a signed delta to available.
func (s *Service) Settle(ctx context.Context, tx docstore.Tx, userID, asset string, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	if delta.IsNegative() {
		return s.Debit(ctx, tx, userID, asset, delta.Neg())
	}
	return s.Credit(ctx, tx, userID, asset, delta)
}

func (s *Service) mutate(ctx context.Context, tx docstore.Tx, userID string, apply func(*Ledger) error, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.New("amount must be positive")
	}
	doc, err := tx.Get(ctx, docstore.CollectionBalances, userID)
	if err != nil {
		return err
	}
	l, err := decodeLedger(doc.Data)
	if err != nil {
		return err
	}
	if err := apply(&l); err != nil {
		return err
	}
	return s.save(ctx, tx, l)
}

func (s *Service) save(ctx context.Context, tx docstore.Tx, l Ledger) error {
	l.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(l)
	if err != nil {
		return err
	}
	return tx.Put(ctx, docstore.CollectionBalances, l.UserID, data)
}

func decodeLedger(data []byte) (Ledger, error) {
	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return Ledger{}, err
	}
	if l.Available == nil {
		l.Available = map[string]decimal.Decimal{}
	}
	if l.Reserved == nil {
		l.Reserved = map[string]decimal.Decimal{}
	}
	return l, nil
}
