package repository

import (
	"context"

	"github.com/openlms/auth-service/internal/models"
)

// UserRepository is the user directory consumed by the session subsystem.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int32) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdatePassword(ctx context.Context, userID int32, passwordHash string) error
	SetVerified(ctx context.Context, userID int32) error
	SetActive(ctx context.Context, userID int32, active bool) error
	AssignRole(ctx context.Context, userID int32, role string) error
}
