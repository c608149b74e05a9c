package engine

import (
	"math"

	"github.com/nrsilver/venue/internal/models"
)

// Base impact: 1% per 10 units at 1 user.
const baseImpact = 0.01

// Impact computes the signed relative price delta caused by a submitted
// order. Deterministic: impact grows with trade size, shrinks as the user
// base grows and shrinks as the price grows.
func Impact(direction models.OrderType, units float64, userCount int64, price float64) float64 {
	normalizedUnits := units / 10

	// more users = smaller impact
	userStabilizer := 1 / math.Max(1, math.Sqrt(float64(userCount)))

	// higher price = smaller % movement
	priceStabilizer := 1 / math.Max(1, math.Log10(price))

	delta := baseImpact * normalizedUnits * userStabilizer * priceStabilizer
	if direction == models.OrderSell {
		delta = -delta
	}
	return delta
}
