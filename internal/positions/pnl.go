package positions

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ripple-trading/internal/types"
)

// ComputePnL returns the realized profit or loss of closing the
// position at closePrice, rounded to 2 decimal places.
//
// Malformed inputs degrade to a zero result with a logged warning
// instead of an error: a broken PnL must never block a close.
func ComputePnL(p Position, closePrice decimal.Decimal, log *zap.Logger) decimal.Decimal {
	if log == nil {
		log = zap.NewNop()
	}
	if !closePrice.GreaterThan(decimal.Zero) || !p.EntryPrice.GreaterThan(decimal.Zero) || !p.Size.GreaterThan(decimal.Zero) {
		log.Warn("pnl inputs invalid, recording zero",
			zap.String("position_id", p.ID),
			zap.String("entry_price", p.EntryPrice.String()),
			zap.String("close_price", closePrice.String()),
			zap.String("size", p.Size.String()))
		return decimal.Zero
	}
	leverage := p.Leverage
	if leverage.LessThan(decimal.NewFromInt(1)) {
		leverage = decimal.NewFromInt(1)
	}

	var pnl decimal.Decimal
	switch p.Mode {
	case types.ModeFutures:
		// Normalized-return form, kept in this exact order so the
		// rounding matches historical records:
		//   ((close - entry) / entry) * size * entry * leverage
		if p.Side == types.SideShort {
			pnl = p.EntryPrice.Sub(closePrice).Div(p.EntryPrice).Mul(p.Size).Mul(p.EntryPrice).Mul(leverage)
		} else {
			pnl = closePrice.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(p.Size).Mul(p.EntryPrice).Mul(leverage)
		}
	default:
		// Spot carries no leverage multiplier.
		if p.Side == types.SideShort {
			pnl = p.EntryPrice.Sub(closePrice).Mul(p.Size)
		} else {
			pnl = closePrice.Sub(p.EntryPrice).Mul(p.Size)
		}
	}
	return pnl.Round(2)
}
