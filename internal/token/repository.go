package token

import (
	"context"
	"errors"
	"time"
)

// ErrTokenNotFound is returned when a token record is not found.
var ErrTokenNotFound = errors.New("token not found")

// Repository provides operations on the tokens table.
type Repository interface {
	Create(ctx context.Context, t *Token) error
	GetByID(ctx context.Context, id int64) (*Token, error)
	GetByJTI(ctx context.Context, jti string) (*Token, error)
	ListActiveByUser(ctx context.Context, userID int64) ([]Token, error)
	ActiveAccessByParent(ctx context.Context, parentJTI string) ([]Token, error)
	// DeactivateAccessByParent deactivates every access token minted from parentJTI.
	DeactivateAccessByParent(ctx context.Context, parentJTI string) (int64, error)
	// DeactivateFamily deactivates a refresh token and every access token minted from it.
	DeactivateFamily(ctx context.Context, refreshJTI string) (int64, error)
	DeactivateAllForUser(ctx context.Context, userID int64) (int64, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}
