// seed inserts development users for local testing.
// Idempotent: users whose email already exists are skipped.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"sessionguard/backend/internal/config"
	"sessionguard/backend/internal/db"
	"sessionguard/backend/internal/security"
	"sessionguard/backend/internal/user/domain"
	userrepo "sessionguard/backend/internal/user/repository"
)

const devPassword = "password123"

var devUsers = []struct{ email, name string }{
	{"dev@example.com", "Dev User"},
	{"member@example.com", "Member User"},
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
		os.Exit(1)
	}

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)
	hasher := security.NewHasher(cfg.BcryptCost)
	passwordHash, err := hasher.Hash([]byte(devPassword))
	if err != nil {
		logger.Error("hash password", "error", err)
		os.Exit(1)
	}

	now := time.Now().UTC()
	for _, du := range devUsers {
		existing, err := users.GetByEmail(ctx, du.email)
		if err != nil {
			logger.Error("seed check", "email", du.email, "error", err)
			os.Exit(1)
		}
		if existing != nil {
			logger.Info("seed user exists, skipping", "email", du.email)
			continue
		}
		u := &domain.User{
			ID:           uuid.New().String(),
			Email:        du.email,
			Name:         du.name,
			PasswordHash: passwordHash,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := users.Create(ctx, u); err != nil {
			logger.Error("create user", "email", du.email, "error", err)
			os.Exit(1)
		}
		logger.Info("seeded user", "email", du.email, "password", devPassword)
	}
}
