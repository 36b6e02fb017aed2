package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/astronomiahub/hub/internal/api/middleware"
	"github.com/astronomiahub/hub/internal/api/response"
	"github.com/astronomiahub/hub/internal/dataset"
	"github.com/astronomiahub/hub/internal/search"
)

// APIVersion is reported by /api/stats.
const APIVersion = "1.0"

// PublicCatalog is the read side of the catalog used by the key-gated API.
type PublicCatalog interface {
	AllSynchronized(ctx context.Context) ([]dataset.Dataset, error)
	Get(ctx context.Context, id int64) (*dataset.Dataset, error)
	Stats(ctx context.Context) (*dataset.Stats, error)
}

// PublicSearch runs key-gated searches.
type PublicSearch interface {
	APISearch(ctx context.Context, q string, page, perPage int) (*search.Page, error)
	ByTitle(ctx context.Context, slug string) (*dataset.Dataset, error)
}

// PublicHandler serves /api.
type PublicHandler struct {
	catalog PublicCatalog
	search  PublicSearch
}

// NewPublicHandler creates a new PublicHandler.
func NewPublicHandler(catalog PublicCatalog, finder PublicSearch) *PublicHandler {
	return &PublicHandler{catalog: catalog, search: finder}
}

type publicDataset struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	PublicationType string `json:"publication_type"`
	Tags            string `json:"tags"`
	CreatedAt       string `json:"created_at"`
	UserID          int64  `json:"user_id"`
}

type publicSearchResult struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

type publicSearchPage struct {
	Query      string               `json:"query"`
	Total      int                  `json:"total"`
	Page       int                  `json:"page"`
	PerPage    int                  `json:"per_page"`
	TotalPages int                  `json:"total_pages"`
	Results    []publicSearchResult `json:"results"`
}

type publicStats struct {
	TotalDatasets    int64  `json:"total_datasets"`
	TotalAuthors     int64  `json:"total_authors"`
	TotalFiles       int64  `json:"total_files"`
	DatasetViews     int64  `json:"dataset_views"`
	DatasetDownloads int64  `json:"dataset_downloads"`
	FileViews        int64  `json:"file_views"`
	FileDownloads    int64  `json:"file_downloads"`
	Version          string `json:"version"`
}

func toPublicDataset(d *dataset.Dataset) publicDataset {
	return publicDataset{
		ID:              d.ID,
		Title:           d.Metadata.Title,
		Description:     d.Metadata.Description,
		PublicationType: string(d.Metadata.PublicationType),
		Tags:            d.Metadata.Tags,
		CreatedAt:       formatTime(d.CreatedAt),
		UserID:          d.UserID,
	}
}

func datasetNotFound(w http.ResponseWriter, requestID string) {
	response.Err(w, http.StatusNotFound, response.CodeNotFound, "Dataset not found", requestID)
}

// List handles GET /api/datasets.
func (h *PublicHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	datasets, err := h.catalog.AllSynchronized(r.Context())
	if err != nil {
		response.Internal(w, "Failed to list datasets", err, requestID)
		return
	}

	items := make([]publicDataset, 0, len(datasets))
	for i := range datasets {
		items = append(items, toPublicDataset(&datasets[i]))
	}
	response.Success(w, http.StatusOK, map[string]any{
		"total":    len(items),
		"datasets": items,
	}, requestID)
}

// GetByID handles GET /api/datasets/id/{id}.
func (h *PublicHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	d, err := h.catalog.Get(r.Context(), id)
	if errors.Is(err, dataset.ErrNotFound) || (err == nil && !d.Synchronized()) {
		datasetNotFound(w, requestID)
		return
	}
	if err != nil {
		response.Internal(w, "Failed to get dataset", err, requestID)
		return
	}
	response.Success(w, http.StatusOK, toPublicDataset(d), requestID)
}

// GetByTitle handles GET /api/datasets/title/{title}.
func (h *PublicHandler) GetByTitle(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	d, err := h.search.ByTitle(r.Context(), chi.URLParam(r, "title"))
	if errors.Is(err, dataset.ErrNotFound) {
		datasetNotFound(w, requestID)
		return
	}
	if err != nil {
		response.Internal(w, "Failed to get dataset", err, requestID)
		return
	}
	response.Success(w, http.StatusOK, toPublicDataset(d), requestID)
}

// Search handles GET /api/search?q=&page=&per_page=.
func (h *PublicHandler) Search(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	page, err := h.search.APISearch(r.Context(), r.URL.Query().Get("q"),
		intQuery(r, "page", 1), intQuery(r, "per_page", search.DefaultPerPage))
	if errors.Is(err, search.ErrQueryRequired) {
		response.Err(w, http.StatusBadRequest, response.CodeValidation, `Query parameter "q" is required`, requestID)
		return
	}
	if err != nil {
		response.Internal(w, "Failed to search datasets", err, requestID)
		return
	}

	results := make([]publicSearchResult, 0, len(page.Results))
	for _, d := range page.Results {
		results = append(results, publicSearchResult{
			ID:          d.ID,
			Title:       d.Metadata.Title,
			Description: d.Metadata.Description,
			CreatedAt:   formatTime(d.CreatedAt),
		})
	}
	response.Success(w, http.StatusOK, publicSearchPage{
		Query:      page.Query,
		Total:      page.Total,
		Page:       page.Page,
		PerPage:    page.PerPage,
		TotalPages: page.TotalPages,
		Results:    results,
	}, requestID)
}

// Stats handles GET /api/stats.
func (h *PublicHandler) Stats(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	s, err := h.catalog.Stats(r.Context())
	if err != nil {
		response.Internal(w, "Failed to load stats", err, requestID)
		return
	}
	response.Success(w, http.StatusOK, publicStats{
		TotalDatasets:    s.SynchronizedDatasets,
		TotalAuthors:     s.Authors,
		TotalFiles:       s.Hubfiles,
		DatasetViews:     s.DatasetViews,
		DatasetDownloads: s.DatasetDownloads,
		FileViews:        s.HubfileViews,
		FileDownloads:    s.HubfileDownloads,
		Version:          APIVersion,
	}, requestID)
}
