package repository

import (
	"context"

	"sessionguard/backend/internal/user/domain"
)

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// Create returns domain.ErrEmailTaken when the email is already registered.
	Create(ctx context.Context, u *domain.User) error
}
