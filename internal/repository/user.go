package repository

import (
	"context"
	"errors"

	"speakroom/internal/domain"
)

var (
	// ErrUserNotFound is returned when no row matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrUsernameTaken is returned when an insert collides with an existing username.
	ErrUsernameTaken = errors.New("username already exists")
)

// UserRepository defines persistence operations for User entities.
type UserRepository interface {
	Init(ctx context.Context) error
	Create(ctx context.Context, user *domain.User) (int64, error)
	// CreateIfAbsent inserts the user unless the username is already present.
	// It reports whether a row was inserted.
	CreateIfAbsent(ctx context.Context, user *domain.User) (bool, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	UpdateProfile(ctx context.Context, id int64, update domain.ProfileUpdate) error
	CountByRole(ctx context.Context, role domain.Role) (int, error)
	// ListByRole returns users of the given role, newest first.
	ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error)
}
