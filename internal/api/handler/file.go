package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/astronomiahub/hub/internal/api/middleware"
	"github.com/astronomiahub/hub/internal/api/response"
	"github.com/astronomiahub/hub/internal/dataset"
	"github.com/astronomiahub/hub/internal/storage"
)

// maxViewBytes caps the content returned inline by View.
const maxViewBytes = 2 << 20

// FileHandler serves hubfiles and the caller's cart of saved files.
type FileHandler struct {
	datasets     *dataset.Service
	cookieSecure bool
}

// NewFileHandler creates a new FileHandler.
func NewFileHandler(datasets *dataset.Service, cookieSecure bool) *FileHandler {
	return &FileHandler{datasets: datasets, cookieSecure: cookieSecure}
}

type fileViewResponse struct {
	hubfileResponse
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

// open resolves a hubfile the caller may see, with its content.
func (h *FileHandler) open(w http.ResponseWriter, r *http.Request) (*dataset.Hubfile, *storage.Object, bool) {
	requestID := middleware.GetRequestID(r.Context())

	id, ok := pathID(w, r, "id")
	if !ok {
		return nil, nil, false
	}

	f, obj, err := h.datasets.OpenHubfile(r.Context(), id)
	if err == nil {
		d, derr := h.datasets.Get(r.Context(), f.DatasetID)
		if derr != nil || !visible(d, middleware.GetIdentity(r.Context())) {
			obj.Body.Close()
			err = dataset.ErrHubfileNotFound
		}
	}
	if err != nil {
		switch {
		case errors.Is(err, dataset.ErrHubfileNotFound), errors.Is(err, dataset.ErrNotFound), errors.Is(err, storage.ErrObjectNotFound):
			response.Err(w, http.StatusNotFound, response.CodeNotFound, "File not found", requestID)
		default:
			response.Internal(w, "Failed to open file", err, requestID)
		}
		return nil, nil, false
	}
	return f, obj, true
}

// View handles GET /file/view/{id}. The view is counted once per cookie.
func (h *FileHandler) View(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	f, obj, ok := h.open(w, r)
	if !ok {
		return
	}
	defer obj.Body.Close()

	content, err := io.ReadAll(io.LimitReader(obj.Body, maxViewBytes+1))
	if err != nil {
		response.Internal(w, "Failed to read file", err, requestID)
		return
	}
	truncated := len(content) > maxViewBytes
	if truncated {
		content = content[:maxViewBytes]
	}

	cookie := visitorCookie(w, r, FileViewCookie, h.cookieSecure)
	if _, err := h.datasets.RecordHubfileView(r.Context(), f.ID, userIDOf(middleware.GetIdentity(r.Context())), cookie); err != nil {
		slog.Warn("failed to record file view", "hubfile_id", f.ID, "error", err, "requestId", requestID)
	}

	response.Success(w, http.StatusOK, fileViewResponse{
		hubfileResponse: toHubfileResponse(f),
		Content:         string(content),
		Truncated:       truncated,
	}, requestID)
}

// Download handles GET /file/download/{id}. The download is counted once
// per cookie.
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	f, obj, ok := h.open(w, r)
	if !ok {
		return
	}
	defer obj.Body.Close()

	cookie := visitorCookie(w, r, FileDownloadCookie, h.cookieSecure)
	if _, err := h.datasets.RecordHubfileDownload(r.Context(), f.ID, userIDOf(middleware.GetIdentity(r.Context())), cookie); err != nil {
		slog.Warn("failed to record file download", "hubfile_id", f.ID, "error", err, "requestId", requestID)
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, f.Name))
	if obj.ContentLength > 0 {
		w.Header().Set("Content-Length", fmt.Sprint(obj.ContentLength))
	}
	if _, err := io.Copy(w, obj.Body); err != nil {
		slog.Error("failed to stream file", "hubfile_id", f.ID, "error", err, "requestId", requestID)
	}
}

// Save handles POST /file/save/{id}.
func (h *FileHandler) Save(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.datasets.SaveFile(r.Context(), identity.UserID, id); err != nil {
		if errors.Is(err, dataset.ErrHubfileNotFound) {
			response.Err(w, http.StatusNotFound, response.CodeNotFound, "File not found", requestID)
			return
		}
		response.Internal(w, "Failed to save file", err, requestID)
		return
	}
	response.Success(w, http.StatusOK, map[string]any{"saved": true, "fileId": id}, requestID)
}

// Unsave handles POST /file/unsave/{id}.
func (h *FileHandler) Unsave(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.datasets.UnsaveFile(r.Context(), identity.UserID, id); err != nil {
		response.Internal(w, "Failed to unsave file", err, requestID)
		return
	}
	response.Success(w, http.StatusOK, map[string]any{"saved": false, "fileId": id}, requestID)
}

// Saved handles GET /file/saved.
func (h *FileHandler) Saved(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	files, err := h.datasets.ListSaved(r.Context(), identity.UserID)
	if err != nil {
		response.Internal(w, "Failed to list saved files", err, requestID)
		return
	}
	response.Success(w, http.StatusOK, toHubfileResponses(files), requestID)
}

// SavedDownload handles GET /file/saved/download: every saved file in one
// ZIP, grouped by dataset.
func (h *FileHandler) SavedDownload(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	files, err := h.datasets.ListSaved(r.Context(), identity.UserID)
	if err != nil {
		response.Internal(w, "Failed to list saved files", err, requestID)
		return
	}
	if len(files) == 0 {
		response.Err(w, http.StatusNotFound, response.CodeNotFound, "No saved files", requestID)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="saved_files.zip"`)
	if err := h.datasets.WriteFilesZip(r.Context(), w, files); err != nil {
		slog.Error("failed to stream saved files archive", "error", err, "requestId", requestID)
	}
}
