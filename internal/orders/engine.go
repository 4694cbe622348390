// Package orders is the limit-order engine: it reserves margin when an
// order is created, watches trigger prices, and converts triggered
// orders into positions exactly once.
package orders

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
	"ripple-trading/internal/positions"
	"ripple-trading/internal/types"
)

const fallbackRetries = 3

type LimitOrder struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Symbol      string            `json:"symbol"`
	Side        types.Side        `json:"side"`
	Size        decimal.Decimal   `json:"size"`
	Leverage    decimal.Decimal   `json:"leverage"`
	TargetPrice decimal.Decimal   `json:"target_price"`
	Margin      decimal.Decimal   `json:"margin"`
	Mode        types.TradeMode   `json:"mode"`
	Status      types.OrderStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

type Engine struct {
	store      docstore.Store
	ledger     *ledger.Service
	positions  *positions.Service
	log        *zap.Logger
	quoteAsset string
}

func NewEngine(store docstore.Store, ledgerSvc *ledger.Service, posSvc *positions.Service, log *zap.Logger, quoteAsset string) *Engine {
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	return &Engine{store: store, ledger: ledgerSvc, positions: posSvc, log: log, quoteAsset: quoteAsset}
}

type CreateRequest struct {
	Symbol      string
	Side        types.Side
	Size        decimal.Decimal
	Leverage    decimal.Decimal
	Margin      decimal.Decimal
	Mode        types.TradeMode
	TargetPrice decimal.Decimal
}

func (r *CreateRequest) normalize() error {
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
	if !r.TargetPrice.GreaterThan(decimal.Zero) {
		return fmt.Errorf("target price %s: %w", r.TargetPrice, types.ErrInvalidPrice)
	}
	one := decimal.NewFromInt(1)
	if r.Mode == types.ModeSpot {
		r.Leverage = one
	} else if r.Leverage.LessThan(one) {
		r.Leverage = one
	}
	return nil
}

// Create reserves the order's margin and writes the PENDING document
// in one transaction. The reserved bucket and the pending order move
// together from here on.
func (e *Engine) Create(ctx context.Context, userID string, req CreateRequest) (LimitOrder, error) {
	if err := req.normalize(); err != nil {
		return LimitOrder{}, err
	}
	now := time.Now().UTC()
	order := LimitOrder{
		ID:          id.New(),
		UserID:      userID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Size:        req.Size,
		Leverage:    req.Leverage,
		TargetPrice: req.TargetPrice,
		Margin:      req.Margin,
		Mode:        req.Mode,
		Status:      types.OrderPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	asset := e.settlementAsset(order.Symbol)
	err := e.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		if err := e.ledger.Reserve(ctx, tx, userID, asset, order.Margin); err != nil {
			return err
		}
		return putOrder(ctx, tx, order)
	})
	if err != nil {
		return LimitOrder{}, err
	}
	e.log.Info("limit order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", userID),
		zap.String("symbol", order.Symbol),
		zap.String("side", string(order.Side)),
		zap.String("target_price", order.TargetPrice.String()),
		zap.String("margin", order.Margin.String()))
	return order, nil
}

// Cancel releases the reserved margin back to available and deletes
// the order, atomically.
func (e *Engine) Cancel(ctx context.Context, userID, orderID string) error {
	err := e.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		doc, err := tx.Get(ctx, docstore.CollectionOrders, orderID)
		if err != nil {
			return err
		}
		order, err := decodeOrder(doc.Data)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return fmt.Errorf("order %s: %w", orderID, types.ErrUnauthorized)
		}
		asset := e.settlementAsset(order.Symbol)
		if err := e.ledger.Release(ctx, tx, userID, asset, order.Margin); err != nil {
			return err
		}
		return tx.Delete(ctx, docstore.CollectionOrders, orderID)
	})
	if err != nil {
		return err
	}
	e.log.Info("limit order cancelled", zap.String("order_id", orderID), zap.String("user_id", userID))
	return nil
}

// ListPending returns the user's pending orders, optionally filtered
// by instrument.
func (e *Engine) ListPending(ctx context.Context, userID, symbol string) ([]LimitOrder, error) {
	filter := docstore.Filter{"user_id": userID, "status": string(types.OrderPending)}
	if symbol != "" {
		filter["symbol"] = strings.ToUpper(strings.TrimSpace(symbol))
	}
	return e.queryOrders(ctx, filter)
}

// ShouldExecute reports whether the order triggers at currentPrice.
// Buy orders fill at or below target (willing to pay at most X); sell
// orders at or above (willing to accept at least X).
func ShouldExecute(order LimitOrder, currentPrice decimal.Decimal) bool {
	if !currentPrice.GreaterThan(decimal.Zero) {
		return false
	}
	if order.Side == types.SideShort {
		return currentPrice.GreaterThanOrEqual(order.TargetPrice)
	}
	return currentPrice.LessThanOrEqual(order.TargetPrice)
}

var errOrderGone = errors.New("order no longer pending")

// Execute converts the order into a position at currentPrice (the
// triggering market price, not the stale target). It is idempotent:
// the position tied to the order id is the authoritative record, and
// retries return it unchanged instead of executing again. When a retry
// finds the position but the order document still exists, a previous
// attempt stopped partway; the retry resumes the cleanup so the order
// and its reserved margin cannot stay stranded.
func (e *Engine) Execute(ctx context.Context, order LimitOrder, currentPrice decimal.Decimal) (positions.Position, error) {
	if !currentPrice.GreaterThan(decimal.Zero) {
		return positions.Position{}, fmt.Errorf("execution price %s: %w", currentPrice, types.ErrInvalidPrice)
	}
	if pos, ok, err := e.positions.FindByOrder(ctx, e.store, order.ID); err != nil {
		return positions.Position{}, err
	} else if ok {
		return pos, e.finishExecution(ctx, order)
	}

	var created positions.Position
	txErr := e.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		// Re-check inside the transaction: a concurrent execution may
		// have won between the pre-check and here.
		if pos, ok, err := e.positions.FindByOrder(ctx, tx, order.ID); err != nil {
			return err
		} else if ok {
			created = pos
			return e.cleanupOrder(ctx, tx, order)
		}
		doc, err := tx.Get(ctx, docstore.CollectionOrders, order.ID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return errOrderGone
			}
			return err
		}
		fresh, err := decodeOrder(doc.Data)
		if err != nil {
			return err
		}
		created, err = e.openPosition(ctx, tx, fresh, currentPrice)
		if err != nil {
			return err
		}
		if err := tx.Delete(ctx, docstore.CollectionOrders, fresh.ID); err != nil {
			return err
		}
		asset := e.settlementAsset(fresh.Symbol)
		return e.ledger.SpendReserved(ctx, tx, fresh.UserID, asset, fresh.Margin)
	})
	switch {
	case txErr == nil:
		e.log.Info("limit order executed",
			zap.String("order_id", order.ID),
			zap.String("position_id", created.ID),
			zap.String("price", currentPrice.String()))
		return created, nil
	case errors.Is(txErr, errOrderGone):
		// The order was deleted by a concurrent execution or a cancel.
		if pos, ok, err := e.positions.FindByOrder(ctx, e.store, order.ID); err == nil && ok {
			return pos, nil
		}
		return positions.Position{}, fmt.Errorf("order %s: %w", order.ID, types.ErrNotFound)
	case errors.Is(txErr, types.ErrTransactionConflict):
		return e.executeFallback(ctx, order, currentPrice)
	default:
		return positions.Position{}, txErr
	}
}

// executeFallback runs the execution steps sequentially when the store
// cannot complete the transaction: create the position, then the
// order/margin cleanup. Each step is retried and the existing-position
// check is repeated before giving up, so a retry of the whole Execute
// cannot double-fill. A cleanup step that still fails here leaves the
// order document in place, which is what lets a later Execute resume.
func (e *Engine) executeFallback(ctx context.Context, order LimitOrder, currentPrice decimal.Decimal) (positions.Position, error) {
	if pos, ok, err := e.positions.FindByOrder(ctx, e.store, order.ID); err != nil {
		return positions.Position{}, err
	} else if ok {
		return pos, e.cleanupSequential(ctx, order)
	}
	e.log.Warn("executing limit order without a transaction",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID))

	var created positions.Position
	err := e.retry(func() error {
		pos, err := e.openPosition(ctx, e.store, order, currentPrice)
		if err == nil {
			created = pos
		}
		return err
	})
	if err != nil {
		if pos, ok, ferr := e.positions.FindByOrder(ctx, e.store, order.ID); ferr == nil && ok {
			return pos, e.cleanupSequential(ctx, order)
		}
		return positions.Position{}, err
	}
	return created, e.cleanupSequential(ctx, order)
}

// finishExecution completes the cleanup for an order whose position
// already exists: delete the order document and spend its reserved
// margin. Until the order is gone the margin is double-committed, so
// this must eventually succeed; it prefers a transaction and falls
// back to the sequential steps on conflict.
func (e *Engine) finishExecution(ctx context.Context, order LimitOrder) error {
	err := e.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		return e.cleanupOrder(ctx, tx, order)
	})
	if errors.Is(err, types.ErrTransactionConflict) {
		return e.cleanupSequential(ctx, order)
	}
	return err
}

// cleanupOrder deletes the order and spends its reserved margin inside
// the caller's transaction. A missing order means the cleanup already
// happened.
func (e *Engine) cleanupOrder(ctx context.Context, tx docstore.Tx, order LimitOrder) error {
	doc, err := tx.Get(ctx, docstore.CollectionOrders, order.ID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		return err
	}
	fresh, err := decodeOrder(doc.Data)
	if err != nil {
		return err
	}
	if err := tx.Delete(ctx, docstore.CollectionOrders, fresh.ID); err != nil {
		return err
	}
	asset := e.settlementAsset(fresh.Symbol)
	return e.ledger.SpendReserved(ctx, tx, fresh.UserID, asset, fresh.Margin)
}

// cleanupSequential is the non-transactional cleanup. Only the caller
// whose Delete actually removed the order spends the reserved margin;
// racers that lose the delete see not-found and stop, so the margin is
// spent exactly once.
func (e *Engine) cleanupSequential(ctx context.Context, order LimitOrder) error {
	if _, err := e.store.Get(ctx, docstore.CollectionOrders, order.ID); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		return err
	}
	deleted := false
	err := e.retry(func() error {
		derr := e.store.Delete(ctx, docstore.CollectionOrders, order.ID)
		if derr == nil {
			deleted = true
			return nil
		}
		if errors.Is(derr, types.ErrNotFound) {
			return nil
		}
		return derr
	})
	if err != nil || !deleted {
		return err
	}
	asset := e.settlementAsset(order.Symbol)
	return e.retry(func() error {
		return e.ledger.SpendReserved(ctx, e.store, order.UserID, asset, order.Margin)
	})
}

func (e *Engine) openPosition(ctx context.Context, tx docstore.Tx, order LimitOrder, currentPrice decimal.Decimal) (positions.Position, error) {
	return e.positions.OpenFromOrder(ctx, tx, order.UserID, positions.OpenRequest{
		Symbol:     order.Symbol,
		Side:       order.Side,
		Size:       order.Size,
		Leverage:   order.Leverage,
		Margin:     order.Margin,
		Mode:       order.Mode,
		EntryPrice: currentPrice,
	}, order.ID)
}

// CheckAndExecute evaluates the user's pending orders for the symbol
// against currentPrice and executes every triggered one. Returns the
// number executed.
func (e *Engine) CheckAndExecute(ctx context.Context, userID, symbol string, currentPrice decimal.Decimal) (int, error) {
	pending, err := e.ListPending(ctx, userID, symbol)
	if err != nil {
		return 0, err
	}
	return e.executeTriggered(ctx, pending, currentPrice)
}

// CheckAndExecuteAll sweeps every user's pending orders on a symbol;
// driven by the oracle tick worker.
func (e *Engine) CheckAndExecuteAll(ctx context.Context, symbol string, currentPrice decimal.Decimal) (int, error) {
	pending, err := e.queryOrders(ctx, docstore.Filter{
		"symbol": strings.ToUpper(strings.TrimSpace(symbol)),
		"status": string(types.OrderPending),
	})
	if err != nil {
		return 0, err
	}
	return e.executeTriggered(ctx, pending, currentPrice)
}

func (e *Engine) executeTriggered(ctx context.Context, pending []LimitOrder, currentPrice decimal.Decimal) (int, error) {
	executed := 0
	for _, order := range pending {
		if !ShouldExecute(order, currentPrice) {
			continue
		}
		if _, err := e.Execute(ctx, order, currentPrice); err != nil {
			if errors.Is(err, types.ErrNotFound) {
				// Cancelled or already handled in another pass.
				continue
			}
			e.log.Error("limit order execution failed",
				zap.String("order_id", order.ID),
				zap.Error(err))
			continue
		}
		executed++
	}
	return executed, nil
}

func (e *Engine) retry(fn func() error) error {
	var err error
	for attempt := 0; attempt < fallbackRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return err
}

func (e *Engine) queryOrders(ctx context.Context, filter docstore.Filter) ([]LimitOrder, error) {
	docs, err := e.store.Query(ctx, docstore.CollectionOrders, filter)
	if err != nil {
		return nil, err
	}
	out := make([]LimitOrder, 0, len(docs))
	for _, doc := range docs {
		order, err := decodeOrder(doc.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, nil
}

func (e *Engine) settlementAsset(symbol string) string {
	if i := strings.LastIndex(symbol, "-"); i >= 0 && i < len(symbol)-1 {
		return symbol[i+1:]
	}
	return e.quoteAsset
}

func putOrder(ctx context.Context, tx docstore.Tx, order LimitOrder) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return tx.Put(ctx, docstore.CollectionOrders, order.ID, data)
}

func decodeOrder(data []byte) (LimitOrder, error) {
	var o LimitOrder
	if err := json.Unmarshal(data, &o); err != nil {
		return LimitOrder{}, err
	}
	return o, nil
}
