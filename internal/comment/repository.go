package comment

import (
	"context"
	"errors"
)

// Sentinel errors for comment operations.
var (
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrEmptyContent    = errors.New("content cannot be empty")
	ErrCommentNotFound = errors.New("comment not found")
	ErrForbidden       = errors.New("not allowed to moderate comments on this dataset")
	ErrBadAction       = errors.New("unknown moderation action")
)

// Repository defines data access for dataset comments.
type Repository interface {
	Create(ctx context.Context, c *Comment) error
	GetByID(ctx context.Context, id int64) (*Comment, error)
	ListByDataset(ctx context.Context, datasetID int64, status Status) ([]Comment, error)
	SetStatus(ctx context.Context, id int64, status Status) (*Comment, error)
	Delete(ctx context.Context, id int64) error
}
