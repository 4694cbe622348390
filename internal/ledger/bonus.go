package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ripple-trading/internal/docstore"
	"ripple-trading/internal/types"
)

// PurposeLiquidationProtection is the only bonus purpose this engine
// consumes. Accounts are created and topped up by an external
// promotions process.
const PurposeLiquidationProtection = "liquidation_protection"

type BonusUsage struct {
	Date       time.Time       `json:"date"`
	Amount     decimal.Decimal `json:"amount"`
	PositionID string          `json:"position_id"`
	Reason     string          `json:"reason"`
}

type BonusAccount struct {
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Active    bool            `json:"active"`
	Purpose   string          `json:"purpose"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	History   []BonusUsage    `json:"history,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (b BonusAccount) usableAt(now time.Time) bool {
	if !b.Active || b.Purpose != PurposeLiquidationProtection {
		return false
	}
	if !b.Amount.GreaterThan(decimal.Zero) {
		return false
	}
	if b.ExpiresAt != nil && b.ExpiresAt.Before(now) {
		return false
	}
	return true
}

// BonusAccountFor returns the user's bonus account, or ok=false when
// none exists.
func (s *Service) BonusAccountFor(ctx context.Context, userID string) (BonusAccount, bool, error) {
	doc, err := s.store.Get(ctx, docstore.CollectionBonuses, userID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return BonusAccount{}, false, nil
		}
		return BonusAccount{}, false, err
	}
	var b BonusAccount
	if err := json.Unmarshal(doc.Data, &b); err != nil {
		return BonusAccount{}, false, err
	}
	return b, true, nil
}

// PutBonusAccount writes the account document. Exposed for the
// promotions tooling and tests; the engine itself only decrements.
func (s *Service) PutBonusAccount(ctx context.Context, b BonusAccount) error {
	b.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, docstore.CollectionBonuses, b.UserID, data)
}

// ApplyProtection consumes up to shortfall from the user's
// liquidation-protection bonus and returns the amount used. A missing,
// inactive, expired, wrong-purpose, or empty account contributes
// nothing; the position is simply liquidated.
func (s *Service) ApplyProtection(ctx context.Context, tx docstore.Tx, userID string, shortfall decimal.Decimal, positionID string) (decimal.Decimal, error) {
	if !shortfall.GreaterThan(decimal.Zero) {
		return decimal.Zero, nil
	}
	doc, err := tx.Get(ctx, docstore.CollectionBonuses, userID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	var b BonusAccount
	if err := json.Unmarshal(doc.Data, &b); err != nil {
		return decimal.Zero, err
	}
	now := time.Now().UTC()
	if !b.usableAt(now) {
		return decimal.Zero, nil
	}
	used := shortfall
	if b.Amount.LessThan(used) {
		used = b.Amount
	}
	b.Amount = b.Amount.Sub(used)
	b.History = append(b.History, BonusUsage{
		Date:       now,
		Amount:     used,
		PositionID: positionID,
		Reason:     PurposeLiquidationProtection,
	})
	b.UpdatedAt = now
	data, err := json.Marshal(b)
	if err != nil {
		return decimal.Zero, err
	}
	if err := tx.Put(ctx, docstore.CollectionBonuses, userID, data); err != nil {
		return decimal.Zero, err
	}
	s.log.Info("liquidation protection applied",
		zap.String("user_id", userID),
		zap.String("position_id", positionID),
		zap.String("shortfall", shortfall.String()),
		zap.String("bonus_used", used.String()),
		zap.String("bonus_remaining", b.Amount.String()))
	return used, nil
}
