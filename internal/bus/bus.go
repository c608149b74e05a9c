// Package bus decouples the order lifecycle from the price engine and the
// state broadcaster. Two event kinds exist, each with at most one handler;
// publishing with no handler registered is a silent no-op.
package bus

import (
	"sync"

	"github.com/nrsilver/venue/internal/models"
)

// TradeHandler reacts to a newly submitted order
type TradeHandler func(direction models.OrderType, units float64)

// Bus is a minimal single-handler notification bus. The last registration
// for an event kind wins.
type Bus struct {
	mu      sync.RWMutex
	onState func()
	onTrade TradeHandler
}

// New creates a bus with no handlers registered
func New() *Bus {
	return &Bus{}
}

// SetStateHandler registers the handler for state-changed events
func (b *Bus) SetStateHandler(fn func()) {
	b.mu.Lock()
	b.onState = fn
	b.mu.Unlock()
}

// NotifyStateChanged publishes a state-changed event
func (b *Bus) NotifyStateChanged() {
	b.mu.RLock()
	fn := b.onState
	b.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// SetTradeHandler registers the handler for trade-occurred events
func (b *Bus) SetTradeHandler(fn TradeHandler) {
	b.mu.Lock()
	b.onTrade = fn
	b.mu.Unlock()
}

// NotifyTrade publishes a trade-occurred event
func (b *Bus) NotifyTrade(direction models.OrderType, units float64) {
	b.mu.RLock()
	fn := b.onTrade
	b.mu.RUnlock()
	if fn != nil {
		fn(direction, units)
	}
}
