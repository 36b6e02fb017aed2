package comment

import (
	"context"
	"errors"
	"strings"

	"github.com/astronomiahub/hub/internal/auth"
	"github.com/astronomiahub/hub/internal/dataset"
)

// Datasets resolves the dataset a comment is attached to.
type Datasets interface {
	GetByID(ctx context.Context, id int64) (*dataset.Dataset, error)
}

// Service implements comment listing, posting and moderation.
type Service struct {
	repo     Repository
	datasets Datasets
	admins   *auth.AdminPolicy
}

// NewService creates a new comment Service.
func NewService(repo Repository, datasets Datasets, admins *auth.AdminPolicy) *Service {
	return &Service{repo: repo, datasets: datasets, admins: admins}
}

// ListVisible returns the visible comments of a dataset, newest first.
func (s *Service) ListVisible(ctx context.Context, datasetID int64) ([]Comment, error) {
	if _, err := s.dataset(ctx, datasetID); err != nil {
		return nil, err
	}
	return s.repo.ListByDataset(ctx, datasetID, StatusVisible)
}

// Add posts a visible comment.
func (s *Service) Add(ctx context.Context, datasetID, authorID int64, content string) (*Comment, error) {
	if _, err := s.dataset(ctx, datasetID); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	c := &Comment{DatasetID: datasetID, AuthorID: authorID, Content: content, Status: StatusVisible}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Moderate applies action to a comment. The requester must own the dataset
// or be an admin. Delete returns a nil comment.
func (s *Service) Moderate(ctx context.Context, datasetID, commentID int64, action Action, requester *auth.Identity) (*Comment, error) {
	d, err := s.dataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if requester == nil || (requester.UserID != d.UserID && !s.admins.IsAdmin(requester)) {
		return nil, ErrForbidden
	}

	c, err := s.repo.GetByID(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if c.DatasetID != datasetID {
		return nil, ErrCommentNotFound
	}

	switch action {
	case ActionHide:
		return s.repo.SetStatus(ctx, c.ID, StatusHidden)
	case ActionShow:
		return s.repo.SetStatus(ctx, c.ID, StatusVisible)
	case ActionDelete, ActionRemove:
		return nil, s.repo.Delete(ctx, c.ID)
	default:
		return nil, ErrBadAction
	}
}

func (s *Service) dataset(ctx context.Context, id int64) (*dataset.Dataset, error) {
	d, err := s.datasets.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			return nil, ErrDatasetNotFound
		}
		return nil, err
	}
	return d, nil
}
