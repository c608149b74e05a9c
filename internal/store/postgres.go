package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nrsilver/venue/internal/models"
)

// Postgres is a Ledger backed by a PostgreSQL connection pool
type Postgres struct {
	Pool *pgxpool.Pool
}

// NewPostgres initializes a new database connection pool
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	return &Postgres{Pool: pool}, nil
}

// Close closes the database connection pool
func (p *Postgres) Close() {
	p.Pool.Close()
}

// CreateUser inserts a new user with a zero balance
func (p *Postgres) CreateUser(ctx context.Context, username, passwordHash string, role models.Role) (*models.User, error) {
	user := &models.User{}
	err := p.Pool.QueryRow(ctx,
		"INSERT INTO users (id, username, password_hash, role) VALUES ($1, $2, $3, $4) RETURNING id, username, password_hash, role, balance_units, created_at",
		uuid.New(), username, passwordHash, role).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.BalanceUnits, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// FindUserByID retrieves a user by id
func (p *Postgres) FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user := &models.User{}
	err := p.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, role, balance_units, created_at FROM users WHERE id = $1",
		id).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.BalanceUnits, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// FindUserByUsername retrieves a user by username
func (p *Postgres) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := p.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, role, balance_units, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.BalanceUnits, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// SaveUser persists a user's mutable fields (balance)
func (p *Postgres) SaveUser(ctx context.Context, user *models.User) error {
	tag, err := p.Pool.Exec(ctx,
		"UPDATE users SET balance_units = $1 WHERE id = $2",
		user.BalanceUnits, user.ID)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountUsers returns the number of registered users
func (p *Postgres) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := p.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// ListUsersOrderedByCreation retrieves all users, oldest first
func (p *Postgres) ListUsersOrderedByCreation(ctx context.Context) ([]models.User, error) {
	rows, err := p.Pool.Query(ctx,
		"SELECT id, username, password_hash, role, balance_units, created_at FROM users ORDER BY created_at ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.BalanceUnits, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// CreateOrder inserts a new order
func (p *Postgres) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if order.Type != models.OrderBuy && order.Type != models.OrderSell {
		return nil, fmt.Errorf("type must be 'buy' or 'sell'")
	}
	if order.AmountUnits <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	newOrder := &models.Order{}
	err := p.Pool.QueryRow(ctx,
		"INSERT INTO orders (id, user_id, type, amount_units, price_at_request, status) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, user_id, type, amount_units, price_at_request, status, created_at",
		uuid.New(), order.UserID, order.Type, order.AmountUnits, order.PriceAtRequest, order.Status).Scan(
		&newOrder.ID, &newOrder.UserID, &newOrder.Type, &newOrder.AmountUnits, &newOrder.PriceAtRequest, &newOrder.Status, &newOrder.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return newOrder, nil
}

// FindOrderByID retrieves an order by id
func (p *Postgres) FindOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order := &models.Order{}
	err := p.Pool.QueryRow(ctx,
		"SELECT id, user_id, type, amount_units, price_at_request, status, created_at FROM orders WHERE id = $1",
		id).Scan(&order.ID, &order.UserID, &order.Type, &order.AmountUnits, &order.PriceAtRequest, &order.Status, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// SaveOrder persists an order's status
func (p *Postgres) SaveOrder(ctx context.Context, order *models.Order) error {
	tag, err := p.Pool.Exec(ctx,
		"UPDATE orders SET status = $1 WHERE id = $2",
		order.Status, order.ID)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOrdersByStatus retrieves all orders with the given status, newest first
func (p *Postgres) ListOrdersByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	rows, err := p.Pool.Query(ctx,
		"SELECT id, user_id, type, amount_units, price_at_request, status, created_at FROM orders WHERE status = $1 ORDER BY created_at DESC",
		status)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ListOrdersByUser retrieves a user's orders, newest first. limit <= 0 means no limit.
func (p *Postgres) ListOrdersByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Order, error) {
	query := "SELECT id, user_id, type, amount_units, price_at_request, status, created_at FROM orders WHERE user_id = $1 ORDER BY created_at DESC"
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	rows, err := p.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows pgx.Rows) ([]models.Order, error) {
	var orders []models.Order
	for rows.Next() {
		var order models.Order
		if err := rows.Scan(&order.ID, &order.UserID, &order.Type, &order.AmountUnits, &order.PriceAtRequest, &order.Status, &order.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}
