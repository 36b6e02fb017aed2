package search

import (
	"context"
	"strings"

	"github.com/astronomiahub/hub/internal/dataset"
)

// API search paging bounds.
const (
	DefaultPerPage = 10
	MaxPerPage     = 100
)

// Loader hydrates datasets by id, preserving order.
type Loader interface {
	GetByID(ctx context.Context, id int64) (*dataset.Dataset, error)
	GetMany(ctx context.Context, ids []int64) ([]dataset.Dataset, error)
}

// Page is one page of API search results.
type Page struct {
	Query      string
	Total      int
	Page       int
	PerPage    int
	TotalPages int
	Results    []dataset.Dataset
}

// Service runs searches.
type Service struct {
	repo     Repository
	datasets Loader
}

// NewService creates a new search Service.
func NewService(repo Repository, datasets Loader) *Service {
	return &Service{repo: repo, datasets: datasets}
}

// Explore returns the synchronized datasets matching f.
func (s *Service) Explore(ctx context.Context, f Filter) ([]dataset.Dataset, error) {
	ids, err := s.repo.FilterIDs(ctx, f)
	if err != nil {
		return nil, err
	}
	return s.datasets.GetMany(ctx, ids)
}

// APISearch pages through datasets whose title or description contains q.
// perPage defaults to DefaultPerPage and is capped at MaxPerPage.
func (s *Service) APISearch(ctx context.Context, q string, page, perPage int) (*Page, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, ErrQueryRequired
	}
	if page < 1 {
		page = 1
	}
	if perPage <= 0 {
		perPage = DefaultPerPage
	}
	perPage = min(perPage, MaxPerPage)

	ids, total, err := s.repo.SearchIDs(ctx, q, perPage, (page-1)*perPage)
	if err != nil {
		return nil, err
	}
	results, err := s.datasets.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	return &Page{
		Query:      q,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: (total + perPage - 1) / perPage,
		Results:    results,
	}, nil
}

// ByTitle resolves a URL title slug: dashes become spaces and the first
// dataset whose title contains the result is returned.
func (s *Service) ByTitle(ctx context.Context, slug string) (*dataset.Dataset, error) {
	id, err := s.repo.FirstByTitle(ctx, strings.ReplaceAll(slug, "-", " "))
	if err != nil {
		return nil, err
	}
	return s.datasets.GetByID(ctx, id)
}

// Facets lists the author names and tags of the catalog.
func (s *Service) Facets(ctx context.Context) (*Facets, error) {
	return s.repo.Facets(ctx)
}
