package search

import (
	"context"
	"errors"
)

// ErrQueryRequired is returned by the API search when q is blank.
var ErrQueryRequired = errors.New(`query parameter "q" is required`)

// Facets lists the values the explore form offers.
type Facets struct {
	Authors []string `json:"authors"`
	Tags    []string `json:"tags"`
}

// Repository resolves filters to dataset ids.
type Repository interface {
	FilterIDs(ctx context.Context, f Filter) ([]int64, error)
	SearchIDs(ctx context.Context, q string, limit, offset int) ([]int64, int, error)
	FirstByTitle(ctx context.Context, title string) (int64, error)
	Facets(ctx context.Context) (*Facets, error)
}
