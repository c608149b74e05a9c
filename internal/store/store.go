package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/nrsilver/venue/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Ledger is the persistence contract for users and orders. Each operation
// is atomic for a single record; the ledger offers no cross-record
// transactions.
type Ledger interface {
	CreateUser(ctx context.Context, username, passwordHash string, role models.Role) (*models.User, error)
	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	SaveUser(ctx context.Context, user *models.User) error
	CountUsers(ctx context.Context) (int64, error)
	ListUsersOrderedByCreation(ctx context.Context) ([]models.User, error)

	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	FindOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	SaveOrder(ctx context.Context, order *models.Order) error
	ListOrdersByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error)
	ListOrdersByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Order, error)
}
