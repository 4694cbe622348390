// Package oracle is the plumbing around the external price oracle:
// a tick bus, a websocket feed client, a last-price cache, and the
// worker that drives limit-order execution off price ticks. The engine
// never fetches prices itself.
package oracle

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type Tick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	At     time.Time       `json:"at"`
}

type Bus struct {
	mu   sync.RWMutex
	subs map[chan Tick]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Tick]struct{})}
}

func (b *Bus) Subscribe() chan Tick {
	ch := make(chan Tick, 100)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan Tick) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish drops ticks for slow subscribers rather than blocking the
// feed.
func (b *Bus) Publish(t Tick) {
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- t:
		default:
		}
	}
	b.mu.RUnlock()
}
