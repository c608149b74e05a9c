package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/nrsilver/venue/internal/models"
	"github.com/nrsilver/venue/internal/store"
)

// ErrInvalidCredentials is returned when username or password do not match
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service handles registration, login and token verification
type Service struct {
	ledger store.Ledger
	secret []byte
}

// NewService creates an auth service signing tokens with secret
func NewService(ledger store.Ledger, secret string) *Service {
	return &Service{ledger: ledger, secret: []byte(secret)}
}

// Register creates a new user with a hashed password and the "user" role
func (s *Service) Register(ctx context.Context, username, password string) (*models.User, error) {
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(username) > 50 {
		return nil, fmt.Errorf("username too long (max 50 characters)")
	}
	if len(password) > 100 {
		return nil, fmt.Errorf("password too long (max 100 characters)")
	}

	if _, err := s.ledger.FindUserByUsername(ctx, username); err == nil {
		return nil, fmt.Errorf("username already taken")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user, err := s.ledger.CreateUser(ctx, username, string(hashedPassword), models.RoleUser)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and generates a JWT carrying id and role
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.ledger.FindUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID.String(),
		"username": user.Username,
		"role":     string(user.Role),
		"exp":      time.Now().Add(24 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// ParseToken extracts the user id and role from a JWT
func (s *Service) ParseToken(tokenString string) (uuid.UUID, models.Role, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return uuid.Nil, "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return uuid.Nil, "", fmt.Errorf("invalid token")
	}

	rawID, ok := claims["user_id"].(string)
	if !ok {
		return uuid.Nil, "", fmt.Errorf("invalid token: missing user_id")
	}
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid token: %w", err)
	}

	role, _ := claims["role"].(string)
	return userID, models.Role(role), nil
}
