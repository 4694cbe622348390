// Package positions opens and closes trading positions. Market opens
// debit margin immediately; limit opens go through the limit-order
// engine and arrive here only at execution time.
package positions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"ripple-trading/internal/docstore"
	"ripple-trading/internal/id"
	"ripple-trading/internal/ledger"
	"ripple-trading/internal/types"
)

// ErrAutoCloseDisabled is returned for non-manual closes while the
// service is configured to reject automatic closures.
var ErrAutoCloseDisabled = errors.New("automatic position closures are disabled")

type Position struct {
	ID                   string               `json:"id"`
	UserID               string               `json:"user_id"`
	Symbol               string               `json:"symbol"`
	Side                 types.Side           `json:"side"`
	Size                 decimal.Decimal      `json:"size"`
	Leverage             decimal.Decimal      `json:"leverage"`
	EntryPrice           decimal.Decimal      `json:"entry_price"`
	Margin               decimal.Decimal      `json:"margin"`
	Mode                 types.TradeMode      `json:"mode"`
	Origin               types.Origin         `json:"origin"`
	OrderID              string               `json:"order_id,omitempty"`
	Status               types.PositionStatus `json:"status"`
	ClosePrice           *decimal.Decimal     `json:"close_price,omitempty"`
	PnL                  *decimal.Decimal     `json:"pnl,omitempty"`
	ReturnAmount         *decimal.Decimal     `json:"return_amount,omitempty"`
	BonusUsed            decimal.Decimal      `json:"bonus_used"`
	LiquidationProtected bool                 `json:"liquidation_protected"`
	OpenedAt             time.Time            `json:"opened_at"`
	ClosedAt             *time.Time           `json:"closed_at,omitempty"`
}

// SettlementAsset is the asset margin and settlement are denominated
// in, taken from the quote leg of the instrument symbol.
func (p Position) SettlementAsset(fallback string) string {
	return quoteAsset(p.Symbol, fallback)
}

type Config struct {
	// PreventAutoClose rejects closes that are not user-initiated.
	PreventAutoClose bool
	// QuoteAsset is the settlement asset for symbols without a quote
	// leg, e.g. plain "BTC".
	QuoteAsset string
}

type Service struct {
	store  docstore.Store
	ledger *ledger.Service
	log    *zap.Logger
	cfg    Config
}

func NewService(store docstore.Store, ledgerSvc *ledger.Service, log *zap.Logger, cfg Config) *Service {
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	return &Service{store: store, ledger: ledgerSvc, log: log, cfg: cfg}
}

type OpenRequest struct {
	Symbol     string
	Side       types.Side
	Size       decimal.Decimal
	Leverage   decimal.Decimal
	Margin     decimal.Decimal
	Mode       types.TradeMode
	EntryPrice decimal.Decimal
}

func (r *OpenRequest) normalize() error {
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	if r.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", types.ErrInvalidRequest)
	}
	if r.Side != types.SideLong && r.Side != types.SideShort {
		return fmt.Errorf("%w: invalid side", types.ErrInvalidRequest)
	}
	if r.Mode == "" {
		r.Mode = types.ModeSpot
	}
	if r.Mode != types.ModeSpot && r.Mode != types.ModeFutures {
		return fmt.Errorf("%w: invalid mode", types.ErrInvalidRequest)
	}
	if !r.Size.GreaterThan(decimal.Zero) {
		return fmt.Errorf("%w: size must be positive", types.ErrInvalidRequest)
	}
	if !r.Margin.GreaterThan(decimal.Zero) {
		return fmt.Errorf("%w: margin must be positive", types.ErrInvalidRequest)
	}
	if !r.EntryPrice.GreaterThan(decimal.Zero) {
		return fmt.Errorf("entry price %s: %w", r.EntryPrice, types.ErrInvalidPrice)
	}
	one := decimal.NewFromInt(1)
	if r.Mode == types.ModeSpot {
		r.Leverage = one
	} else if r.Leverage.LessThan(one) {
		r.Leverage = one
	}
	return nil
}

// Open opens a market position: the margin is debited from the user's
// available balance and the position document is written in one
// transaction.
func (s *Service) Open(ctx context.Context, userID string, req OpenRequest) (Position, error) {
	if err := req.normalize(); err != nil {
		return Position{}, err
	}
	pos := Position{
		ID:         id.New(),
		UserID:     userID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Size:       req.Size,
		Leverage:   req.Leverage,
		EntryPrice: req.EntryPrice,
		Margin:     req.Margin,
		Mode:       req.Mode,
		Origin:     types.OriginMarket,
		Status:     types.PositionOpen,
		OpenedAt:   time.Now().UTC(),
	}
	asset := pos.SettlementAsset(s.cfg.QuoteAsset)
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if err := s.ledger.Debit(ctx, tx, userID, asset, req.Margin); err != nil {
			return err
		}
		return s.put(ctx, tx, pos)
	})
	if err != nil {
		return Position{}, err
	}
	s.log.Info("position opened",
		zap.String("position_id", pos.ID),
		zap.String("user_id", userID),
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.String("mode", string(pos.Mode)),
		zap.String("margin", pos.Margin.String()))
	return pos, nil
}

// OpenFromOrder writes the position produced by executing a limit
// order. Balance movement stays with the caller: the order's reserved
// margin is spent into the position in the same transaction.
func (s *Service) OpenFromOrder(ctx context.Context, tx docstore.Tx, userID string, req OpenRequest, orderID string) (Position, error) {
	if err := req.normalize(); err != nil {
		return Position{}, err
	}
	pos := Position{
		ID:         id.New(),
		UserID:     userID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Size:       req.Size,
		Leverage:   req.Leverage,
		EntryPrice: req.EntryPrice,
		Margin:     req.Margin,
		Mode:       req.Mode,
		Origin:     types.OriginLimit,
		OrderID:    orderID,
		Status:     types.PositionOpen,
		OpenedAt:   time.Now().UTC(),
	}
	if err := s.put(ctx, tx, pos); err != nil {
		return Position{}, err
	}
	return pos, nil
}

type CloseOptions struct {
	// Manual marks a user-initiated close. Automatic closes (price
	// triggers, liquidation sweeps) pass false and are rejected when
	// the service is configured with PreventAutoClose.
	Manual bool
}

type CloseResult struct {
	Position             Position
	PnL                  decimal.Decimal
	ReturnAmount         decimal.Decimal
	BonusUsed            decimal.Decimal
	LiquidationProtected bool
}

// Close settles the position at closePrice. The PnL, liquidation
// protection, position update, and balance credit all commit in one
// transaction. A zero return with no bonus is a full liquidation, not
// an error.
func (s *Service) Close(ctx context.Context, userID, positionID string, closePrice decimal.Decimal, opts CloseOptions) (CloseResult, error) {
	if !opts.Manual && s.cfg.PreventAutoClose {
		return CloseResult{}, ErrAutoCloseDisabled
	}
	if !closePrice.GreaterThan(decimal.Zero) {
		return CloseResult{}, fmt.Errorf("close price %s: %w", closePrice, types.ErrInvalidPrice)
	}
	var res CloseResult
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(ctx, docstore.CollectionPositions, positionID)
		if err != nil {
			return err
		}
		pos, err := decode(doc.Data)
		if err != nil {
			return err
		}
		if pos.UserID != userID {
			return fmt.Errorf("position %s: %w", positionID, types.ErrUnauthorized)
		}
		if pos.Status != types.PositionOpen {
			return fmt.Errorf("%w: position %s is already closed", types.ErrInvalidRequest, positionID)
		}

		pnl := ComputePnL(pos, closePrice, s.log)
		ret := pos.Margin.Add(pnl).Round(2)
		bonusUsed := decimal.Zero
		if !ret.GreaterThan(decimal.Zero) {
			shortfall := ret.Neg()
			bonusUsed, err = s.ledger.ApplyProtection(ctx, tx, userID, shortfall, pos.ID)
			if err != nil {
				return err
			}
			ret = ret.Add(bonusUsed)
			if ret.IsNegative() {
				ret = decimal.Zero
			}
		}

		now := time.Now().UTC()
		pos.Status = types.PositionClosed
		pos.ClosePrice = &closePrice
		pos.PnL = &pnl
		pos.ReturnAmount = &ret
		pos.BonusUsed = bonusUsed
		pos.LiquidationProtected = bonusUsed.GreaterThan(decimal.Zero)
		pos.ClosedAt = &now
		if err := s.put(ctx, tx, pos); err != nil {
			return err
		}
		if ret.GreaterThan(decimal.Zero) {
			asset := pos.SettlementAsset(s.cfg.QuoteAsset)
			if err := s.ledger.Credit(ctx, tx, userID, asset, ret); err != nil {
				return err
			}
		}
		res = CloseResult{
			Position:             pos,
			PnL:                  pnl,
			ReturnAmount:         ret,
			BonusUsed:            bonusUsed,
			LiquidationProtected: pos.LiquidationProtected,
		}
		return nil
	})
	if err != nil {
		return CloseResult{}, err
	}
	s.log.Info("position closed",
		zap.String("position_id", positionID),
		zap.String("user_id", userID),
		zap.String("pnl", res.PnL.String()),
		zap.String("return_amount", res.ReturnAmount.String()),
		zap.Bool("liquidation_protected", res.LiquidationProtected))
	return res, nil
}

func (s *Service) Get(ctx context.Context, userID, positionID string) (Position, error) {
	doc, err := s.store.Get(ctx, docstore.CollectionPositions, positionID)
	if err != nil {
		return Position{}, err
	}
	pos, err := decode(doc.Data)
	if err != nil {
		return Position{}, err
	}
	if pos.UserID != userID {
		return Position{}, fmt.Errorf("position %s: %w", positionID, types.ErrUnauthorized)
	}
	return pos, nil
}

// List returns the user's positions, optionally filtered by status.
func (s *Service) List(ctx context.Context, userID string, status types.PositionStatus) ([]Position, error) {
	filter := docstore.Filter{"user_id": userID}
	if status != "" {
		filter["status"] = string(status)
	}
	docs, err := s.store.Query(ctx, docstore.CollectionPositions, filter)
	if err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(docs))
	for _, doc := range docs {
		pos, err := decode(doc.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	return out, nil
}

// FindByOrder locates the position created by executing the given
// limit order. This is the idempotency anchor for order execution.
func (s *Service) FindByOrder(ctx context.Context, q docstore.Tx, orderID string) (Position, bool, error) {
	docs, err := q.Query(ctx, docstore.CollectionPositions, docstore.Filter{"order_id": orderID})
	if err != nil {
		return Position{}, false, err
	}
	if len(docs) == 0 {
		return Position{}, false, nil
	}
	pos, err := decode(docs[0].Data)
	if err != nil {
		return Position{}, false, err
	}
	return pos, true, nil
}

func (s *Service) put(ctx context.Context, tx docstore.Tx, pos Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	return tx.Put(ctx, docstore.CollectionPositions, pos.ID, data)
}

func decode(data []byte) (Position, error) {
	var pos Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return Position{}, err
	}
	return pos, nil
}

func quoteAsset(symbol, fallback string) string {
	if i := strings.LastIndex(symbol, "-"); i >= 0 && i < len(symbol)-1 {
		return symbol[i+1:]
	}
	return fallback
}
