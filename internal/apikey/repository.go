package apikey

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned when no key matches the lookup.
var ErrKeyNotFound = errors.New("api key not found")

// Repository defines data access for API keys.
type Repository interface {
	Create(ctx context.Context, k *Key) error
	GetByID(ctx context.Context, id int64) (*Key, error)
	GetByHash(ctx context.Context, hash string) (*Key, error)
	ListByUser(ctx context.Context, userID int64) ([]Key, error)
	Deactivate(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	IncrementUsage(ctx context.Context, id int64) error
}
