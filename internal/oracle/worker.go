package oracle

import (
	"context"

	"go.uber.org/zap"

	"ripple-trading/internal/orders"
)

// Worker turns price ticks into limit-order sweeps.
type Worker struct {
	bus    *Bus
	engine *orders.Engine
	log    *zap.Logger
}

func NewWorker(bus *Bus, engine *orders.Engine, log *zap.Logger) *Worker {
	return &Worker{bus: bus, engine: engine, log: log}
}

func (w *Worker) Run(ctx context.Context) {
	ch := w.bus.Subscribe()
	defer w.bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ch:
			if !ok {
				return
			}
			executed, err := w.engine.CheckAndExecuteAll(ctx, tick.Symbol, tick.Price)
			if err != nil {
				w.log.Error("limit order sweep failed",
					zap.String("symbol", tick.Symbol),
					zap.Error(err))
				continue
			}
			if executed > 0 {
				w.log.Info("limit orders executed on tick",
					zap.String("symbol", tick.Symbol),
					zap.String("price", tick.Price.String()),
					zap.Int("executed", executed))
			}
		}
	}
}
