// Package market implements the order lifecycle: submission, the admin
// approve/reject decision with balance settlement, and direct balance
// adjustments.
package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nrsilver/venue/internal/bus"
	"github.com/nrsilver/venue/internal/models"
	"github.com/nrsilver/venue/internal/store"
)

var (
	// ErrInvalidAmount is returned for a non-positive unit quantity
	ErrInvalidAmount = errors.New("amount must be a positive quantity")
	// ErrInsufficientBalance is returned when a sell exceeds the user's balance
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidType is returned for an unknown order type
	ErrInvalidType = errors.New("type must be 'buy' or 'sell'")
)

// Outcome reports what an admin decision did. Repeated decisions on an
// already-decided order are no-ops, never errors.
type Outcome int

const (
	// OutcomeApplied means state was mutated and persisted
	OutcomeApplied Outcome = iota
	// OutcomeNoOp means the target was missing or already decided
	OutcomeNoOp
	// OutcomeFailedPrecondition means a balance check failed; nothing changed
	OutcomeFailedPrecondition
)

// PriceSource provides the current price for stamping new orders
type PriceSource interface {
	CurrentPrice() float64
}

// Service coordinates the ledger, the notification bus and the price
// source. It never talks to the price engine or the broadcaster directly.
type Service struct {
	ledger store.Ledger
	bus    *bus.Bus
	prices PriceSource
	log    *zap.Logger
}

// NewService creates an order lifecycle service
func NewService(ledger store.Ledger, b *bus.Bus, prices PriceSource, log *zap.Logger) *Service {
	return &Service{ledger: ledger, bus: b, prices: prices, log: log}
}

// SubmitOrder validates and creates a pending order stamped with the
// current price. Submission itself moves the price (the trade-occurred
// event fires whether or not the order is ever approved).
func (s *Service) SubmitOrder(ctx context.Context, userID uuid.UUID, typ models.OrderType, amount float64) (*models.Order, error) {
	if typ != models.OrderBuy && typ != models.OrderSell {
		return nil, ErrInvalidType
	}
	if !(amount > 0) {
		return nil, ErrInvalidAmount
	}

	if typ == models.OrderSell {
		user, err := s.ledger.FindUserByID(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load user: %w", err)
		}
		if user.BalanceUnits < amount {
			return nil, ErrInsufficientBalance
		}
	}

	order, err := s.ledger.CreateOrder(ctx, &models.Order{
		UserID:         userID,
		Type:           typ,
		AmountUnits:    amount,
		PriceAtRequest: s.prices.CurrentPrice(),
		Status:         models.StatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.log.Info("order submitted",
		zap.String("order_id", order.ID.String()),
		zap.String("type", string(typ)),
		zap.Float64("units", amount))

	s.bus.NotifyTrade(typ, amount)
	s.bus.NotifyStateChanged()
	return order, nil
}

// ApproveOrder settles a pending order. Buy credits the user, sell
// re-checks and debits the balance. A sell that no longer covers its
// amount leaves the order pending and reports a failed precondition.
func (s *Service) ApproveOrder(ctx context.Context, orderID uuid.UUID) (Outcome, error) {
	order, err := s.ledger.FindOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return OutcomeNoOp, nil
	}
	if err != nil {
		return OutcomeNoOp, fmt.Errorf("failed to load order: %w", err)
	}
	if order.Status != models.StatusPending {
		return OutcomeNoOp, nil
	}

	user, err := s.ledger.FindUserByID(ctx, order.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return OutcomeNoOp, nil
	}
	if err != nil {
		return OutcomeNoOp, fmt.Errorf("failed to load user: %w", err)
	}

	switch order.Type {
	case models.OrderBuy:
		user.BalanceUnits += order.AmountUnits
	case models.OrderSell:
		// balance may have drifted since submission
		if user.BalanceUnits < order.AmountUnits {
			s.log.Warn("sell approval blocked by balance",
				zap.String("order_id", order.ID.String()),
				zap.Float64("balance", user.BalanceUnits),
				zap.Float64("units", order.AmountUnits))
			return OutcomeFailedPrecondition, nil
		}
		user.BalanceUnits -= order.AmountUnits
	}

	if err := s.ledger.SaveUser(ctx, user); err != nil {
		return OutcomeNoOp, fmt.Errorf("failed to save user: %w", err)
	}
	order.Status = models.StatusApproved
	if err := s.ledger.SaveOrder(ctx, order); err != nil {
		return OutcomeNoOp, fmt.Errorf("failed to save order: %w", err)
	}

	s.log.Info("order approved", zap.String("order_id", order.ID.String()))
	s.bus.NotifyStateChanged()
	return OutcomeApplied, nil
}

// RejectOrder marks a pending order rejected. No balance effect.
func (s *Service) RejectOrder(ctx context.Context, orderID uuid.UUID) (Outcome, error) {
	order, err := s.ledger.FindOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return OutcomeNoOp, nil
	}
	if err != nil {
		return OutcomeNoOp, fmt.Errorf("failed to load order: %w", err)
	}
	if order.Status != models.StatusPending {
		return OutcomeNoOp, nil
	}

	order.Status = models.StatusRejected
	if err := s.ledger.SaveOrder(ctx, order); err != nil {
		return OutcomeNoOp, fmt.Errorf("failed to save order: %w", err)
	}

	s.log.Info("order rejected", zap.String("order_id", order.ID.String()))
	s.bus.NotifyStateChanged()
	return OutcomeApplied, nil
}

// AdjustDirection selects add or subtract for a direct adjustment
type AdjustDirection string

const (
	AdjustAdd      AdjustDirection = "add"
	AdjustSubtract AdjustDirection = "subtract"
)

// AdjustBalance adds or subtracts units outside the order workflow.
// Subtracting below zero fails the precondition and changes nothing.
func (s *Service) AdjustBalance(ctx context.Context, userID uuid.UUID, units float64, direction AdjustDirection) (Outcome, error) {
	if direction != AdjustAdd && direction != AdjustSubtract {
		return OutcomeNoOp, fmt.Errorf("direction must be 'add' or 'subtract'")
	}
	if !(units > 0) {
		return OutcomeNoOp, ErrInvalidAmount
	}

	user, err := s.ledger.FindUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return OutcomeNoOp, nil
	}
	if err != nil {
		return OutcomeNoOp, fmt.Errorf("failed to load user: %w", err)
	}

	if direction == AdjustSubtract {
		if user.BalanceUnits < units {
			return OutcomeFailedPrecondition, nil
		}
		user.BalanceUnits -= units
	} else {
		user.BalanceUnits += units
	}

	if err := s.ledger.SaveUser(ctx, user); err != nil {
		return OutcomeNoOp, fmt.Errorf("failed to save user: %w", err)
	}

	s.log.Info("balance adjusted",
		zap.String("user_id", userID.String()),
		zap.String("direction", string(direction)),
		zap.Float64("units", units))
	s.bus.NotifyStateChanged()
	return OutcomeApplied, nil
}
