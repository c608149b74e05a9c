// Package engine owns the price simulation: a random walk on a fixed tick
// plus immediate impact from order flow. All price state lives behind one
// mutex; every mutation runs the same floor -> round -> append -> notify
// sequence.
package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nrsilver/venue/internal/config"
	"github.com/nrsilver/venue/internal/models"
)

// Engine holds the current price, the bounded price history and the
// uptrend lock timestamp.
type Engine struct {
	mu        sync.Mutex
	price     float64
	history   []models.PricePoint
	lockUntil time.Time

	tickPeriod     time.Duration
	lockWindow     time.Duration
	historyCap     int
	floor          float64
	referencePrice float64

	// injectable for tests
	now       func() time.Time
	randFloat func() float64

	onMutate func()
	log      *zap.Logger
}

// New creates an engine at the configured initial price with one seeded
// history point.
func New(cfg *config.Config, log *zap.Logger) *Engine {
	e := &Engine{
		price:          models.Round2(cfg.Market.InitialPrice),
		tickPeriod:     cfg.Market.TickPeriod(),
		lockWindow:     cfg.Market.UptrendLock(),
		historyCap:     cfg.Market.HistoryCap,
		floor:          cfg.Market.PriceFloor,
		referencePrice: cfg.Market.ReferencePrice,
		now:            time.Now,
		randFloat:      rand.Float64,
		log:            log,
	}
	e.history = append(e.history, models.PricePoint{T: e.now().UnixMilli(), P: e.price})
	return e
}

// SetOnMutate registers the callback fired after every price mutation.
// Must be called before Run.
func (e *Engine) SetOnMutate(fn func()) {
	e.onMutate = fn
}

// CurrentPrice returns the current price
func (e *Engine) CurrentPrice() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.price
}

// History returns a copy of the price history, oldest first
func (e *Engine) History() []models.PricePoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.PricePoint, len(e.history))
	copy(out, e.history)
	return out
}

// Run drives Tick on the configured period until ctx is done
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}

// Tick advances the price one step of the random walk:
// 60% mild decline, 35% mild rise, 5% spike. Any rise arms a lock window
// during which subsequent ticks are biased strictly upward. The lock is
// cleared once the price has recovered to the reference level. While the
// lock is active the random branch is not consulted, so a would-be spike
// neither extends nor replaces the window.
func (e *Engine) Tick() {
	e.mu.Lock()
	now := e.now()

	if e.price >= e.referencePrice {
		e.lockUntil = time.Time{}
	}

	var factor float64
	if now.Before(e.lockUntil) {
		factor = 1 + (0.001 + e.randFloat()*0.01)
	} else {
		switch r := e.randFloat(); {
		case r < 0.60:
			factor = 1 - (0.005 + e.randFloat()*0.025)
		case r < 0.95:
			factor = 1 + (0.005 + e.randFloat()*0.015)
			e.lockUntil = now.Add(e.lockWindow)
		default:
			factor = 1 + (0.10 + e.randFloat()*0.30)
			e.lockUntil = now.Add(e.lockWindow)
		}
	}

	e.apply(e.price*factor, now)
	price := e.price
	e.mu.Unlock()

	e.log.Debug("price tick", zap.Float64("price", price))
	e.notify()
}

// ApplyTradeImpact moves the price immediately in reaction to a submitted
// order. Same floor/round/append/notify contract as Tick.
func (e *Engine) ApplyTradeImpact(direction models.OrderType, units float64, userCount int64) {
	e.mu.Lock()
	delta := Impact(direction, units, userCount, e.price)
	e.apply(e.price*(1+delta), e.now())
	price := e.price
	e.mu.Unlock()

	e.log.Info("trade impact applied",
		zap.String("direction", string(direction)),
		zap.Float64("units", units),
		zap.Float64("price", price))
	e.notify()
}

// apply clamps to the floor, rounds to 2 decimals and appends a history
// point, evicting the oldest once capacity is exceeded. Caller holds e.mu.
func (e *Engine) apply(p float64, now time.Time) {
	if p < e.floor {
		p = e.floor
	}
	e.price = models.Round2(p)
	e.history = append(e.history, models.PricePoint{T: now.UnixMilli(), P: e.price})
	if len(e.history) > e.historyCap {
		e.history = e.history[len(e.history)-e.historyCap:]
	}
}

func (e *Engine) notify() {
	if e.onMutate != nil {
		e.onMutate()
	}
}
