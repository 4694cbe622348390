package oracle

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	reconnectBase = time.Second
	reconnectMax  = 30 * time.Second
)

// Feed consumes the external oracle's websocket stream and republishes
// ticks on the bus. It reconnects with backoff until the context is
// cancelled.
type Feed struct {
	url string
	bus *Bus
	log *zap.Logger
}

func NewFeed(url string, bus *Bus, log *zap.Logger) *Feed {
	return &Feed{url: url, bus: bus, log: log}
}

type wireTick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

func (f *Feed) Run(ctx context.Context) {
	backoff := reconnectBase
	for {
		if ctx.Err() != nil {
			return
		}
		err := f.readLoop(ctx)
		if ctx.Err() != nil {
			return
		}
		f.log.Warn("oracle feed disconnected", zap.String("url", f.url), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

func (f *Feed) readLoop(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.url, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()
	f.log.Info("oracle feed connected", zap.String("url", f.url))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var wt wireTick
		if err := json.Unmarshal(msg, &wt); err != nil {
			f.log.Warn("malformed oracle tick", zap.ByteString("payload", msg))
			continue
		}
		if wt.Symbol == "" || !wt.Price.GreaterThan(decimal.Zero) {
			continue
		}
		f.bus.Publish(Tick{
			Symbol: strings.ToUpper(strings.TrimSpace(wt.Symbol)),
			Price:  wt.Price,
			At:     time.Now().UTC(),
		})
	}
}
