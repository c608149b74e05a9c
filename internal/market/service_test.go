package market

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nrsilver/venue/internal/bus"
	"github.com/nrsilver/venue/internal/models"
	"github.com/nrsilver/venue/internal/store"
)

type fixedPrice float64

func (f fixedPrice) CurrentPrice() float64 { return float64(f) }

type fixture struct {
	svc    *Service
	ledger *store.Memory
	bus    *bus.Bus

	stateEvents int
	tradeEvents []struct {
		direction models.OrderType
		units     float64
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger: store.NewMemory(),
		bus:    bus.New(),
	}
	f.bus.SetStateHandler(func() { f.stateEvents++ })
	f.bus.SetTradeHandler(func(direction models.OrderType, units float64) {
		f.tradeEvents = append(f.tradeEvents, struct {
			direction models.OrderType
			units     float64
		}{direction, units})
	})
	f.svc = NewService(f.ledger, f.bus, fixedPrice(40), zap.NewNop())
	return f
}

func (f *fixture) newUser(t *testing.T, username string, balance float64) *models.User {
	t.Helper()
	user, err := f.ledger.CreateUser(context.Background(), username, "hash", models.RoleUser)
	require.NoError(t, err)
	if balance > 0 {
		user.BalanceUnits = balance
		require.NoError(t, f.ledger.SaveUser(context.Background(), user))
	}
	return user
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) float64 {
	t.Helper()
	user, err := f.ledger.FindUserByID(context.Background(), id)
	require.NoError(t, err)
	return user.BalanceUnits
}

func TestSubmitOrder_Buy(t *testing.T) {
	f := newFixture(t)
	user := f.newUser(t, "alice", 0)

	order, err := f.svc.SubmitOrder(context.Background(), user.ID, models.OrderBuy, 50)
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, order.Status)
	assert.Equal(t, 40.0, order.PriceAtRequest)
	assert.Equal(t, 50.0, order.AmountUnits)

	// submission alone moves the price and refreshes state
	require.Len(t, f.tradeEvents, 1)
	assert.Equal(t, models.OrderBuy, f.tradeEvents[0].direction)
	assert.Equal(t, 50.0, f.tradeEvents[0].units)
	assert.Equal(t, 1, f.stateEvents)

	// balance untouched until approval
	assert.Equal(t, 0.0, f.balance(t, user.ID))
}

func TestSubmitOrder_InvalidAmount(t *testing.T) {
	f := newFixture(t)
	user := f.newUser(t, "alice", 10)

	for _, amount := range []float64{0, -5} {
		_, err := f.svc.SubmitOrder(context.Background(), user.ID, models.OrderBuy, amount)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
	assert.Empty(t, f.tradeEvents)
}

func TestSubmitOrder_SellWithoutBalance(t *testing.T) {
	f := newFixture(t)
	user := f.newUser(t, "alice", 0)

	_, err := f.svc.SubmitOrder(context.Background(), user.ID, models.OrderSell, 10)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// no order created, no price impact
	orders, err := f.ledger.ListOrdersByUser(context.Background(), user.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Empty(t, f.tradeEvents)
	assert.Zero(t, f.stateEvents)
}

func TestApproveOrder_BuyCreditsBalance(t *testing.T) {
	f := newFixture(t)
	user := f.newUser(t, "alice", 0)
	order, err := f.svc.SubmitOrder(context.Background(), user.ID, models.OrderBuy, 25)
	require.NoError(t, err)

	outcome, err := f.svc.ApproveOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 25.0, f.balance(t, user.ID))

	stored, err := f.ledger.FindOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, stored.Status)
}

func TestApproveOrder_SellDebitsBalance(t *testing.T) {
	f := newFixture(t)
	user := f.newUser(t, "alice", 100)
	order, err := f.svc.SubmitOrder(context.Background(), user.ID, models.OrderSell, 40)
	require.NoError(t, err)

	outcome, err := f.svc.ApproveOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 60.0, f.balance(t, user.ID))
}

func TestApproveOrder_IdempotentAfterDecision(t *testing.T) {
	f := newFixture(t)
	user := f.newUser(t, "alice", 0)
	order, err := f.svc.SubmitOrder(context.Background(), user.ID, models.OrderBuy, 25)
	require.NoError(t, err)

	outcome, err := f.svc.ApproveOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	events := f.stateEvents

	// repeated approvals and a late reject are no-ops
	for i := 0; i < 3; i++ {
		outcome, err = f.svc.ApproveOrder(context.Background(), order.ID)
		require.NoError(t, err)
		assert.Equal(t, OutcomeNoOp, outcome)
	}
	outcome, err = f.svc.RejectOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOp, outcome)

	assert.Equal(t, 25.0, f.balance(t, user.ID))
	assert.Equal(t, events, f.stateEvents, "no-ops must not publish state changes")
}

func TestApproveOrder_UnknownIDIsNoOp(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.svc.ApproveOrder(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOp, outcome)
}

func TestApproveOrder_SellBalanceDriftedBelowAmount(t *testing.T) {
	f := newFixture(t)
	user := f.newUser(t, "alice", 100)
	order, err := f.svc.SubmitOrder(context.Background(), user.ID, models.OrderSell, 100)
	require.NoError(t, err)

	// balance drops to 50 before the admin decides
	outcome, err := f.svc.AdjustBalance(context.Background(), user.ID, 50, AdjustSubtract)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	outcome, err = f.svc.ApproveOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailedPrecondition, outcome)

	// order stays pending, balance untouched
	stored, err := f.ledger.FindOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Equal(t, 50.0, f.balance(t, user.ID))

	// restoring the balance lets the same order settle
	_, err = f.svc.AdjustBalance(context.Background(), user.ID, 50, AdjustAdd)
	require.NoError(t, err)
	outcome, err = f.svc.ApproveOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 0.0, f.balance(t, user.ID))
}

func TestRejectOrder(t *testing.T) {
	f := newFixture(t)
	user := f.newUser(t, "alice", 100)
	order, err := f.svc.SubmitOrder(context.Background(), user.ID, models.OrderSell, 40)
	require.NoError(t, err)

	outcome, err := f.svc.RejectOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	stored, err := f.ledger.FindOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, stored.Status)
	assert.Equal(t, 100.0, f.balance(t, user.ID), "reject has no balance effect")

	// terminal: approval afterwards is a no-op
	outcome, err = f.svc.ApproveOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOp, outcome)
}

func TestAdjustBalance(t *testing.T) {
	f := newFixture(t)
	user := f.newUser(t, "alice", 10)

	outcome, err := f.svc.AdjustBalance(context.Background(), user.ID, 5, AdjustAdd)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 15.0, f.balance(t, user.ID))

	outcome, err = f.svc.AdjustBalance(context.Background(), user.ID, 15, AdjustSubtract)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 0.0, f.balance(t, user.ID))

	// overdraw fails the precondition and changes nothing
	outcome, err = f.svc.AdjustBalance(context.Background(), user.ID, 1, AdjustSubtract)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailedPrecondition, outcome)
	assert.Equal(t, 0.0, f.balance(t, user.ID))

	_, err = f.svc.AdjustBalance(context.Background(), user.ID, -3, AdjustAdd)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	outcome, err = f.svc.AdjustBalance(context.Background(), uuid.New(), 5, AdjustAdd)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoOp, outcome)
}

func TestBalanceNeverNegative(t *testing.T) {
	f := newFixture(t)
	user := f.newUser(t, "alice", 30)

	// a pending sell for the full balance plus an adjustment racing it
	order, err := f.svc.SubmitOrder(context.Background(), user.ID, models.OrderSell, 30)
	require.NoError(t, err)
	_, err = f.svc.AdjustBalance(context.Background(), user.ID, 30, AdjustSubtract)
	require.NoError(t, err)

	outcome, err := f.svc.ApproveOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailedPrecondition, outcome)
	assert.GreaterOrEqual(t, f.balance(t, user.ID), 0.0)
}
