package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/astronomiahub/hub/internal/api/middleware"
	"github.com/astronomiahub/hub/internal/api/response"
	"github.com/astronomiahub/hub/internal/api/validation"
	"github.com/astronomiahub/hub/internal/auth"
	"github.com/astronomiahub/hub/internal/dataset"
	"github.com/astronomiahub/hub/internal/jsoncheck"
	"github.com/astronomiahub/hub/internal/publication"
	"github.com/astronomiahub/hub/internal/recommend"
	"github.com/astronomiahub/hub/internal/staging"
)

// Upload size limits.
const (
	maxStagedFile = 16 << 20
	maxImportZip  = 64 << 20
)

// filesNotStoredWarning is reported when the dataset was saved but its files
// remain in staging.
const filesNotStoredWarning = "Dataset saved, but its files could not be stored. They remain staged; retry the synchronization later."

// Recommendation counts per page.
const (
	datasetPageRecommendations = 5
	maxRecommendations         = 20
)

// Publisher takes datasets to the archive.
type Publisher interface {
	Publish(ctx context.Context, datasetID int64) (*publication.Result, error)
	Sync(ctx context.Context, datasetID int64) (*publication.Result, error)
}

// Recommender ranks related datasets.
type Recommender interface {
	Recommend(ctx context.Context, datasetID int64, limit int) ([]recommend.Item, error)
}

// DatasetHandler handles staging, publication and retrieval of datasets.
type DatasetHandler struct {
	datasets     *dataset.Service
	staging      *staging.Area
	publisher    Publisher
	recommender  Recommender
	users        middleware.UserLookup
	domain       string
	cookieSecure bool
}

// NewDatasetHandler creates a new DatasetHandler.
func NewDatasetHandler(datasets *dataset.Service, area *staging.Area, publisher Publisher, recommender Recommender, users middleware.UserLookup, domain string, cookieSecure bool) *DatasetHandler {
	return &DatasetHandler{
		datasets:     datasets,
		staging:      area,
		publisher:    publisher,
		recommender:  recommender,
		users:        users,
		domain:       domain,
		cookieSecure: cookieSecure,
	}
}

type authorRequest struct {
	Name        string  `json:"name"`
	Affiliation *string `json:"affiliation"`
	ORCID       *string `json:"orcid"`
}

type observationRequest struct {
	ObjectName      string   `json:"objectName"`
	RA              string   `json:"ra"`
	Dec             string   `json:"dec"`
	Magnitude       *float64 `json:"magnitude"`
	ObservationDate string   `json:"observationDate"`
	FilterUsed      *string  `json:"filterUsed"`
	Notes           *string  `json:"notes"`
}

type datasetRequest struct {
	Title           string               `json:"title"`
	Description     string               `json:"description"`
	PublicationType string               `json:"publicationType"`
	PublicationDOI  *string              `json:"publicationDoi"`
	Tags            string               `json:"tags"`
	Authors         []authorRequest      `json:"authors"`
	Observations    []observationRequest `json:"observations"`
	Files           []string             `json:"files"`
}

func (req *datasetRequest) validate() []validation.FieldError {
	v := validation.DatasetRequest{
		Title:           req.Title,
		Description:     req.Description,
		PublicationType: req.PublicationType,
		PublicationDOI:  req.PublicationDOI,
	}
	for _, a := range req.Authors {
		v.Authors = append(v.Authors, validation.AuthorRequest{Name: a.Name, Affiliation: a.Affiliation, ORCID: a.ORCID})
	}
	for _, o := range req.Observations {
		v.Observations = append(v.Observations, validation.ObservationRequest{
			ObjectName:      o.ObjectName,
			RA:              o.RA,
			Dec:             o.Dec,
			ObservationDate: o.ObservationDate,
		})
	}
	return validation.ValidateDataset(v)
}

func (req *datasetRequest) publicationType() dataset.PublicationType {
	if req.PublicationType == "" {
		return dataset.PublicationNone
	}
	return dataset.PublicationType(req.PublicationType)
}

func (req *datasetRequest) authors() []dataset.Author {
	out := make([]dataset.Author, 0, len(req.Authors))
	for _, a := range req.Authors {
		out = append(out, dataset.Author{Name: strings.TrimSpace(a.Name), Affiliation: a.Affiliation, ORCID: a.ORCID})
	}
	return out
}

func (req *datasetRequest) observations() []dataset.Observation {
	out := make([]dataset.Observation, 0, len(req.Observations))
	for _, o := range req.Observations {
		date, _ := time.Parse(validation.DateLayout, o.ObservationDate) // already validated
		out = append(out, dataset.Observation{
			ObjectName:      strings.TrimSpace(o.ObjectName),
			RA:              o.RA,
			Dec:             o.Dec,
			Magnitude:       o.Magnitude,
			ObservationDate: date,
			FilterUsed:      o.FilterUsed,
			Notes:           o.Notes,
		})
	}
	return out
}

// catalogError maps dataset errors shared by several routes. It reports
// whether a response was written.
func catalogError(w http.ResponseWriter, err error, requestID string) bool {
	switch {
	case errors.Is(err, dataset.ErrNotFound):
		response.Err(w, http.StatusNotFound, response.CodeNotFound, "Dataset not found", requestID)
	case errors.Is(err, dataset.ErrHubfileNotFound):
		response.Err(w, http.StatusNotFound, response.CodeNotFound, "File not found", requestID)
	case errors.Is(err, dataset.ErrForbidden):
		response.Err(w, http.StatusForbidden, response.CodeForbidden, "Only curators may modify datasets", requestID)
	case errors.Is(err, dataset.ErrNoObservations),
		errors.Is(err, dataset.ErrInvalidObservation),
		errors.Is(err, dataset.ErrInvalidMetadata):
		response.Err(w, http.StatusBadRequest, response.CodeValidation, err.Error(), requestID)
	case errors.Is(err, staging.ErrFileNotFound), errors.Is(err, staging.ErrInvalidName):
		response.Err(w, http.StatusBadRequest, response.CodeValidation, err.Error(), requestID)
	default:
		return false
	}
	return true
}

// visible reports whether identity may see d. Local datasets are private to
// their owner and curators.
func visible(d *dataset.Dataset, identity *auth.Identity) bool {
	if d.Synchronized() {
		return true
	}
	return identity != nil && (identity.UserID == d.UserID || identity.IsCurator())
}

// load fetches a dataset the caller may see.
func (h *DatasetHandler) load(w http.ResponseWriter, r *http.Request) (*dataset.Dataset, bool) {
	requestID := middleware.GetRequestID(r.Context())

	id, ok := pathID(w, r, "id")
	if !ok {
		return nil, false
	}
	d, err := h.datasets.Get(r.Context(), id)
	if err == nil && !visible(d, middleware.GetIdentity(r.Context())) {
		err = dataset.ErrNotFound
	}
	if err != nil {
		if !catalogError(w, err, requestID) {
			response.Internal(w, "Failed to get dataset", err, requestID)
		}
		return nil, false
	}
	return d, true
}

func (h *DatasetHandler) recommendations(ctx context.Context, id int64, limit int) []recommendationResponse {
	items, err := h.recommender.Recommend(ctx, id, limit)
	if err != nil {
		slog.Warn("failed to compute recommendations", "dataset_id", id, "error", err)
		return []recommendationResponse{}
	}
	return toRecommendationResponses(items)
}

type datasetPageResponse struct {
	Dataset         datasetResponse          `json:"dataset"`
	Recommendations []recommendationResponse `json:"recommendations"`
}

type publishResponse struct {
	Dataset      datasetResponse `json:"dataset"`
	Synchronized bool            `json:"synchronized"`
}

// UploadFile handles POST /dataset/file/upload. The multipart "file" part
// must be a valid observation JSON document.
func (h *DatasetHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	content, filename, ok := readUpload(w, r, maxStagedFile)
	if !ok {
		return
	}

	if !strings.HasSuffix(filename, ".json") {
		response.Err(w, http.StatusBadRequest, response.CodeValidation, "Only .json files are allowed", requestID)
		return
	}
	if res := jsoncheck.Check(bytes.NewReader(content), filename); !res.Valid {
		response.ErrWithDetails(w, http.StatusBadRequest, response.CodeValidation, "Invalid observation file", res.Errors, requestID)
		return
	}

	stored, err := h.staging.Save(identity.UserID, filename, bytes.NewReader(content))
	if err != nil {
		if errors.Is(err, staging.ErrUnsupportedType) || errors.Is(err, staging.ErrInvalidName) {
			response.Err(w, http.StatusBadRequest, response.CodeValidation, err.Error(), requestID)
			return
		}
		response.Internal(w, "Failed to stage file", err, requestID)
		return
	}

	response.Success(w, http.StatusOK, map[string]string{
		"message":  "File uploaded and validated successfully",
		"filename": stored,
	}, requestID)
}

// DeleteFile handles POST /dataset/file/delete with {"file": name}.
func (h *DatasetHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	var req struct {
		File string `json:"file"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	err := h.staging.Delete(identity.UserID, req.File)
	switch {
	case errors.Is(err, staging.ErrFileNotFound):
		response.Err(w, http.StatusNotFound, response.CodeNotFound, "File not found", requestID)
	case errors.Is(err, staging.ErrInvalidName):
		response.Err(w, http.StatusBadRequest, response.CodeValidation, err.Error(), requestID)
	case err != nil:
		response.Internal(w, "Failed to delete staged file", err, requestID)
	default:
		response.Message(w, http.StatusOK, "File deleted successfully", requestID)
	}
}

// Import handles POST /dataset/import: a ZIP archive whose importable
// members are extracted into staging.
func (h *DatasetHandler) Import(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	content, filename, ok := readUpload(w, r, maxImportZip)
	if !ok {
		return
	}

	stored, err := h.staging.ImportZip(identity.UserID, filename, bytes.NewReader(content), int64(len(content)))
	var invalid *staging.InvalidFilesError
	switch {
	case errors.As(err, &invalid):
		response.ErrWithDetails(w, http.StatusBadRequest, response.CodeValidation, "Archive contains invalid JSON files", invalid.Files, requestID)
	case errors.Is(err, staging.ErrNotZip), errors.Is(err, staging.ErrEmptyArchive), errors.Is(err, staging.ErrUnsafeEntry):
		response.Err(w, http.StatusBadRequest, response.CodeValidation, err.Error(), requestID)
	case err != nil:
		response.Internal(w, "Failed to import archive", err, requestID)
	default:
		response.Success(w, http.StatusOK, map[string]any{"files": stored}, requestID)
	}
}

// Upload handles POST /dataset/upload: the dataset is created from its
// staged files and published. Archive and storage failures after the commit
// come back as warnings with status 200.
func (h *DatasetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	var req datasetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if validationFailed(w, r, req.validate()) {
		return
	}

	u, err := h.users.GetUser(r.Context(), identity.UserID)
	if err != nil {
		response.Internal(w, "Failed to load account", err, requestID)
		return
	}
	owner := dataset.Author{Name: u.Email}
	if u.Profile != nil {
		owner = dataset.Author{Name: u.Profile.AuthorName(), Affiliation: u.Profile.Affiliation, ORCID: u.Profile.ORCID}
	}

	d, err := h.datasets.Create(r.Context(), dataset.CreateInput{
		UserID:          identity.UserID,
		Owner:           owner,
		Title:           req.Title,
		Description:     req.Description,
		PublicationType: req.publicationType(),
		PublicationDOI:  req.PublicationDOI,
		Tags:            req.Tags,
		Authors:         req.authors(),
		Observations:    req.observations(),
		StagedFiles:     req.Files,
	})
	if errors.Is(err, dataset.ErrFilesNotStored) && d != nil {
		slog.Error("dataset saved without its files", "dataset_id", d.ID, "error", err, "requestId", requestID)
		response.SuccessWithWarnings(w, http.StatusOK, publishResponse{
			Dataset:      toDatasetResponse(d, h.domain),
			Synchronized: false,
		}, []string{filesNotStoredWarning}, requestID)
		return
	}
	if err != nil {
		if !catalogError(w, err, requestID) {
			response.Internal(w, "Failed to create dataset", err, requestID)
		}
		return
	}

	res, err := h.publisher.Publish(r.Context(), d.ID)
	if err != nil {
		response.Internal(w, "Failed to publish dataset", err, requestID)
		return
	}

	response.SuccessWithWarnings(w, http.StatusOK, publishResponse{
		Dataset:      toDatasetResponse(res.Dataset, h.domain),
		Synchronized: res.Synchronized,
	}, res.Warnings, requestID)
}

// List handles GET /dataset/list: the caller's datasets, or all datasets for
// curators, split by synchronization state.
func (h *DatasetHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	listing, err := h.datasets.ListFor(r.Context(), identity.UserID, identity.IsCurator())
	if err != nil {
		response.Internal(w, "Failed to list datasets", err, requestID)
		return
	}

	response.Success(w, http.StatusOK, map[string][]datasetResponse{
		"synchronized":   toDatasetResponses(listing.Synchronized, h.domain),
		"unsynchronized": toDatasetResponses(listing.Unsynchronized, h.domain),
	}, requestID)
}

// Get handles GET /dataset/{id}.
func (h *DatasetHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, ok := h.load(w, r)
	if !ok {
		return
	}
	response.Success(w, http.StatusOK, datasetPageResponse{
		Dataset:         toDatasetResponse(d, h.domain),
		Recommendations: h.recommendations(r.Context(), d.ID, datasetPageRecommendations),
	}, middleware.GetRequestID(r.Context()))
}

// Recommendations handles GET /dataset/{id}/recommendations?limit=K.
func (h *DatasetHandler) Recommendations(w http.ResponseWriter, r *http.Request) {
	d, ok := h.load(w, r)
	if !ok {
		return
	}
	limit := min(intQuery(r, "limit", datasetPageRecommendations), maxRecommendations)
	response.Success(w, http.StatusOK, h.recommendations(r.Context(), d.ID, limit), middleware.GetRequestID(r.Context()))
}

// Update handles PUT /dataset/{id}.
func (h *DatasetHandler) Update(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req datasetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if validationFailed(w, r, req.validate()) {
		return
	}

	d, err := h.datasets.Update(r.Context(), id, dataset.UpdateInput{
		Title:           req.Title,
		Description:     req.Description,
		PublicationType: dataset.PublicationType(req.PublicationType),
		PublicationDOI:  req.PublicationDOI,
		Tags:            req.Tags,
		Observations:    req.observations(),
	}, identity.IsCurator())
	if err != nil {
		if !catalogError(w, err, requestID) {
			response.Internal(w, "Failed to update dataset", err, requestID)
		}
		return
	}
	response.Success(w, http.StatusOK, toDatasetResponse(d, h.domain), requestID)
}

// Delete handles DELETE /dataset/{id}.
func (h *DatasetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.datasets.Delete(r.Context(), id, identity.IsCurator()); err != nil {
		if !catalogError(w, err, requestID) {
			response.Internal(w, "Failed to delete dataset", err, requestID)
		}
		return
	}
	response.Message(w, http.StatusOK, "Dataset deleted", requestID)
}

// Sync handles POST /dataset/{id}/sync: a retry of the archive
// synchronization, allowed to the owner and to curators.
func (h *DatasetHandler) Sync(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	d, ok := h.load(w, r)
	if !ok {
		return
	}
	if d.UserID != identity.UserID && !identity.IsCurator() {
		response.Err(w, http.StatusForbidden, response.CodeForbidden, "Only the owner or a curator may synchronize this dataset", requestID)
		return
	}

	res, err := h.publisher.Sync(r.Context(), d.ID)
	if err != nil {
		if !catalogError(w, err, requestID) {
			response.Internal(w, "Failed to synchronize dataset", err, requestID)
		}
		return
	}
	response.SuccessWithWarnings(w, http.StatusOK, publishResponse{
		Dataset:      toDatasetResponse(res.Dataset, h.domain),
		Synchronized: res.Synchronized,
	}, res.Warnings, requestID)
}

// Download handles GET /dataset/download/{id}: a ZIP of every file. The
// download is counted once per download_cookie.
func (h *DatasetHandler) Download(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	d, ok := h.load(w, r)
	if !ok {
		return
	}

	cookie := visitorCookie(w, r, DownloadCookie, h.cookieSecure)
	if _, err := h.datasets.RecordDownload(r.Context(), d.ID, userIDOf(identity), cookie); err != nil {
		slog.Warn("failed to record dataset download", "dataset_id", d.ID, "error", err, "requestId", requestID)
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="dataset_%d.zip"`, d.ID))
	if err := h.datasets.WriteZip(r.Context(), w, d); err != nil {
		slog.Error("failed to stream dataset archive", "dataset_id", d.ID, "error", err, "requestId", requestID)
	}
}

// DOI handles GET /doi/*. Superseded DOIs redirect to their replacement;
// otherwise the dataset page is returned and the view counted once per
// view_cookie.
func (h *DatasetHandler) DOI(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	doi := strings.Trim(chi.URLParam(r, "*"), "/")
	if doi == "" {
		response.Err(w, http.StatusNotFound, response.CodeNotFound, "Dataset not found", requestID)
		return
	}

	d, newDOI, err := h.datasets.ResolveDOI(r.Context(), doi)
	if err != nil {
		if !catalogError(w, err, requestID) {
			response.Internal(w, "Failed to resolve DOI", err, requestID)
		}
		return
	}
	if newDOI != "" {
		http.Redirect(w, r, "/doi/"+newDOI+"/", http.StatusFound)
		return
	}

	cookie := visitorCookie(w, r, ViewCookie, h.cookieSecure)
	if _, err := h.datasets.RecordView(r.Context(), d.ID, userIDOf(identity), cookie); err != nil {
		slog.Warn("failed to record dataset view", "dataset_id", d.ID, "error", err, "requestId", requestID)
	}

	response.Success(w, http.StatusOK, datasetPageResponse{
		Dataset:         toDatasetResponse(d, h.domain),
		Recommendations: h.recommendations(r.Context(), d.ID, datasetPageRecommendations),
	}, requestID)
}

// readUpload reads the multipart "file" part, up to limit bytes.
func readUpload(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, string, bool) {
	requestID := middleware.GetRequestID(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, limit+1<<20)
	f, header, err := r.FormFile("file")
	if err != nil {
		response.Err(w, http.StatusBadRequest, response.CodeValidation, "A multipart \"file\" field is required", requestID)
		return nil, "", false
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		response.Err(w, http.StatusBadRequest, response.CodeValidation, "Failed to read uploaded file", requestID)
		return nil, "", false
	}
	if int64(len(content)) > limit {
		response.Err(w, http.StatusRequestEntityTooLarge, response.CodeValidation, "Uploaded file is too large", requestID)
		return nil, "", false
	}
	return content, header.Filename, true
}
