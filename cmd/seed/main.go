package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/nrsilver/venue/internal/config"
	"github.com/nrsilver/venue/internal/models"
	"github.com/nrsilver/venue/internal/store"
)

// Seed the database with an admin and a couple of demo users
func main() {
	ctx := context.Background()

	cfg, err := config.Load(os.Getenv("VENUE_CONFIG"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ledger, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer ledger.Close()

	seeds := []struct {
		username string
		password string
		role     models.Role
	}{
		{"admin", "admin123", models.RoleAdmin},
		{"alice", "alice123", models.RoleUser},
		{"bob", "bob123", models.RoleUser},
	}

	for _, s := range seeds {
		if _, err := ledger.FindUserByUsername(ctx, s.username); err == nil {
			fmt.Printf("User %q already exists, skipping\n", s.username)
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			log.Fatalf("Failed to check user %q: %v", s.username, err)
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(s.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("Failed to hash password: %v", err)
		}

		user, err := ledger.CreateUser(ctx, s.username, string(hash), s.role)
		if err != nil {
			log.Fatalf("Failed to create user %q: %v", s.username, err)
		}
		fmt.Printf("Created %s %q (%s)\n", s.role, s.username, user.ID)
	}
}
