package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nrsilver/venue/internal/models"
)

// Memory is an in-process Ledger. It backs tests and the dev mode of the
// server (database_url "memory://"). Every call is atomic under one mutex,
// matching the per-record atomicity of the postgres ledger.
type Memory struct {
	mu        sync.Mutex
	users     map[uuid.UUID]models.User
	userOrder []uuid.UUID // creation order
	orders    map[uuid.UUID]models.Order
}

// NewMemory creates an empty in-memory ledger
func NewMemory() *Memory {
	return &Memory{
		users:  make(map[uuid.UUID]models.User),
		orders: make(map[uuid.UUID]models.Order),
	}
}

// CreateUser inserts a new user with a zero balance
func (m *Memory) CreateUser(ctx context.Context, username, passwordHash string, role models.Role) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == username {
			return nil, fmt.Errorf("failed to create user: username %q already taken", username)
		}
	}

	user := models.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now(),
	}
	m.users[user.ID] = user
	m.userOrder = append(m.userOrder, user.ID)
	return &user, nil
}

// FindUserByID retrieves a user by id
func (m *Memory) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

// FindUserByUsername retrieves a user by username
func (m *Memory) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == username {
			user := u
			return &user, nil
		}
	}
	return nil, ErrNotFound
}

// SaveUser persists a user's mutable fields (balance)
func (m *Memory) SaveUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.users[user.ID]
	if !ok {
		return ErrNotFound
	}
	stored.BalanceUnits = user.BalanceUnits
	m.users[user.ID] = stored
	return nil
}

// CountUsers returns the number of registered users
func (m *Memory) CountUsers(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.users)), nil
}

// ListUsersOrderedByCreation retrieves all users, oldest first
func (m *Memory) ListUsersOrderedByCreation(ctx context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := make([]models.User, 0, len(m.userOrder))
	for _, id := range m.userOrder {
		users = append(users, m.users[id])
	}
	return users, nil
}

// CreateOrder inserts a new order
func (m *Memory) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order.Type != models.OrderBuy && order.Type != models.OrderSell {
		return nil, fmt.Errorf("type must be 'buy' or 'sell'")
	}
	if order.AmountUnits <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[order.UserID]; !ok {
		return nil, fmt.Errorf("failed to create order: %w", ErrNotFound)
	}

	created := *order
	created.ID = uuid.New()
	created.CreatedAt = time.Now()
	m.orders[created.ID] = created
	return &created, nil
}

// FindOrderByID retrieves an order by id
func (m *Memory) FindOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &order, nil
}

// SaveOrder persists an order's status
func (m *Memory) SaveOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.orders[order.ID]
	if !ok {
		return ErrNotFound
	}
	stored.Status = order.Status
	m.orders[order.ID] = stored
	return nil
}

// ListOrdersByStatus retrieves all orders with the given status, newest first
func (m *Memory) ListOrdersByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var orders []models.Order
	for _, o := range m.orders {
		if o.Status == status {
			orders = append(orders, o)
		}
	}
	sortNewestFirst(orders)
	return orders, nil
}

// ListOrdersByUser retrieves a user's orders, newest first. limit <= 0 means no limit.
func (m *Memory) ListOrdersByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var orders []models.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			orders = append(orders, o)
		}
	}
	sortNewestFirst(orders)
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func sortNewestFirst(orders []models.Order) {
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
