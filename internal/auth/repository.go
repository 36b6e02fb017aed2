package auth

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound is returned when a user record is not found.
var ErrUserNotFound = errors.New("user not found")

// ErrEmailTaken is returned when signing up with an email that is already registered.
var ErrEmailTaken = errors.New("email already registered")

// UserRepository provides operations on the users, user_profiles and user_roles tables.
type UserRepository interface {
	// Create inserts the user, its profile and the base "user" role in one transaction.
	Create(ctx context.Context, u *User, p *Profile) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// First returns the earliest registered user.
	First(ctx context.Context) (*User, error)
	SetPassword(ctx context.Context, id int64, hash string) error
	SetResetToken(ctx context.Context, id int64, token string, expiresAt time.Time) error
	SetTOTPSecret(ctx context.Context, id int64, secret string) error
	EnableTOTP(ctx context.Context, id int64) error
	AddRole(ctx context.Context, id int64, role string) error
	CountAll(ctx context.Context) (int, error)
}
