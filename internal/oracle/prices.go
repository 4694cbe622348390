package oracle

import (
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Prices caches the most recent tick per symbol. Open and close
// requests that omit an explicit price are filled from here.
type Prices struct {
	mu   sync.RWMutex
	last map[string]Tick
	bus  *Bus
	ch   chan Tick
}

func NewPrices(bus *Bus) *Prices {
	p := &Prices{last: make(map[string]Tick), bus: bus, ch: bus.Subscribe()}
	go func() {
		for tick := range p.ch {
			p.mu.Lock()
			p.last[tick.Symbol] = tick
			p.mu.Unlock()
		}
	}()
	return p
}

// Close drops the bus subscription and stops the caching goroutine.
// Safe to call more than once.
func (p *Prices) Close() {
	p.bus.Unsubscribe(p.ch)
}

func (p *Prices) Last(symbol string) (decimal.Decimal, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tick, ok := p.last[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return decimal.Decimal{}, false
	}
	return tick.Price, true
}
