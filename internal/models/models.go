package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role is a user's access level
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// OrderType is the direction of an order
type OrderType string

const (
	OrderBuy  OrderType = "buy"
	OrderSell OrderType = "sell"
)

// OrderStatus tracks the lifecycle of an order.
// pending -> approved | rejected, one way, terminal.
type OrderStatus string

const (
	StatusPending  OrderStatus = "pending"
	StatusApproved OrderStatus = "approved"
	StatusRejected OrderStatus = "rejected"
)

// User represents a registered user holding units of the asset
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	BalanceUnits float64   `json:"balance_units"`
	CreatedAt    time.Time `json:"created_at"`
}

// Order represents a buy or sell request awaiting an admin decision
type Order struct {
	ID             uuid.UUID   `json:"id"`
	UserID         uuid.UUID   `json:"user_id"`
	Type           OrderType   `json:"type"`
	AmountUnits    float64     `json:"amount_units"`
	PriceAtRequest float64     `json:"price_at_request"` // informational, settlement ignores it
	Status         OrderStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
}

// PricePoint is one sample of the price history
type PricePoint struct {
	T int64   `json:"t"` // epoch millis
	P float64 `json:"p"`
}

// CapEntry is one row of the cap table
type CapEntry struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Units    float64 `json:"units"`
	Value    float64 `json:"value"`
	Percent  float64 `json:"percent"`
}

// Snapshot is the full venue state pushed to every client
type Snapshot struct {
	Price        float64      `json:"price"`
	TotalUnits   float64      `json:"totalUnits"`
	MarketCap    float64      `json:"marketCap"`
	Users        []CapEntry   `json:"users"`
	PriceHistory []PricePoint `json:"priceHistory"`
}

// Round2 rounds a money value to 2 decimal places. Every stored price and
// every money field on the wire goes through this.
func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}
