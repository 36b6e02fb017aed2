package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/astronomiahub/hub/internal/api/middleware"
	"github.com/astronomiahub/hub/internal/api/response"
	"github.com/astronomiahub/hub/internal/api/validation"
	"github.com/astronomiahub/hub/internal/search"
)

// exploreRecommendations is the number of related datasets per result.
const exploreRecommendations = 3

// ExploreHandler filters the synchronized catalog.
type ExploreHandler struct {
	search      *search.Service
	recommender Recommender
	domain      string
}

// NewExploreHandler creates a new ExploreHandler.
func NewExploreHandler(searchService *search.Service, recommender Recommender, domain string) *ExploreHandler {
	return &ExploreHandler{search: searchService, recommender: recommender, domain: domain}
}

type exploreRequest struct {
	Query           string   `json:"query"`
	DateAfter       string   `json:"date_after"`
	DateBefore      string   `json:"date_before"`
	Author          string   `json:"author"`
	Tags            []string `json:"tags"`
	PublicationType string   `json:"publication_type"`
	Sorting         string   `json:"sorting"`
}

type exploreResult struct {
	datasetResponse
	Recommendations []recommendationResponse `json:"recommendations"`
}

func (req *exploreRequest) filter() (search.Filter, []validation.FieldError) {
	f := search.Filter{
		Query:           req.Query,
		Author:          req.Author,
		Tags:            req.Tags,
		PublicationType: req.PublicationType,
		Sorting:         req.Sorting,
	}
	var errs []validation.FieldError
	parse := func(field, raw string) *time.Time {
		if strings.TrimSpace(raw) == "" {
			return nil
		}
		t, err := time.Parse(validation.DateLayout, strings.TrimSpace(raw))
		if err != nil {
			errs = append(errs, validation.FieldError{Field: field, Message: field + " must be YYYY-MM-DD"})
			return nil
		}
		return &t
	}
	f.DateAfter = parse("date_after", req.DateAfter)
	f.DateBefore = parse("date_before", req.DateBefore)
	return f, errs
}

// Get handles GET /explore. Criteria come from the query string; tags may be
// repeated or comma-separated.
func (h *ExploreHandler) Get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := exploreRequest{
		Query:           q.Get("query"),
		DateAfter:       q.Get("date_after"),
		DateBefore:      q.Get("date_before"),
		Author:          q.Get("author"),
		PublicationType: q.Get("publication_type"),
		Sorting:         q.Get("sorting"),
	}
	if req.Query == "" {
		req.Query = q.Get("q")
	}
	for _, raw := range q["tags"] {
		req.Tags = append(req.Tags, strings.Split(raw, ",")...)
	}
	h.explore(w, r, &req)
}

// Post handles POST /explore with the criteria as a JSON object.
func (h *ExploreHandler) Post(w http.ResponseWriter, r *http.Request) {
	var req exploreRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.explore(w, r, &req)
}

func (h *ExploreHandler) explore(w http.ResponseWriter, r *http.Request, req *exploreRequest) {
	requestID := middleware.GetRequestID(r.Context())

	f, errs := req.filter()
	if validationFailed(w, r, errs) {
		return
	}

	datasets, err := h.search.Explore(r.Context(), f)
	if err != nil {
		response.Internal(w, "Failed to explore datasets", err, requestID)
		return
	}

	results := make([]exploreResult, 0, len(datasets))
	for i := range datasets {
		recs := []recommendationResponse{}
		if items, err := h.recommender.Recommend(r.Context(), datasets[i].ID, exploreRecommendations); err == nil {
			recs = toRecommendationResponses(items)
		}
		results = append(results, exploreResult{
			datasetResponse: toDatasetResponse(&datasets[i], h.domain),
			Recommendations: recs,
		})
	}
	response.Success(w, http.StatusOK, results, requestID)
}

// Facets handles GET /explore/facets: the authors and tags the filter form
// offers.
func (h *ExploreHandler) Facets(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	facets, err := h.search.Facets(r.Context())
	if err != nil {
		response.Internal(w, "Failed to list facets", err, requestID)
		return
	}
	response.Success(w, http.StatusOK, facets, requestID)
}
