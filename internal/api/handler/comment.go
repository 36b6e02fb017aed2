package handler

import (
	"errors"
	"net/http"

	"github.com/astronomiahub/hub/internal/api/middleware"
	"github.com/astronomiahub/hub/internal/api/response"
	"github.com/astronomiahub/hub/internal/comment"
)

// CommentHandler handles dataset comments.
type CommentHandler struct {
	comments *comment.Service
}

// NewCommentHandler creates a new CommentHandler.
func NewCommentHandler(comments *comment.Service) *CommentHandler {
	return &CommentHandler{comments: comments}
}

type commentResponse struct {
	ID         int64  `json:"id"`
	DatasetID  int64  `json:"datasetId"`
	AuthorID   int64  `json:"authorId"`
	AuthorName string `json:"authorName,omitempty"`
	Content    string `json:"content"`
	Status     string `json:"status"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

func toCommentResponse(c *comment.Comment) commentResponse {
	return commentResponse{
		ID:         c.ID,
		DatasetID:  c.DatasetID,
		AuthorID:   c.AuthorID,
		AuthorName: c.AuthorName,
		Content:    c.Content,
		Status:     string(c.Status),
		CreatedAt:  formatTime(c.CreatedAt),
		UpdatedAt:  formatTime(c.UpdatedAt),
	}
}

func commentError(w http.ResponseWriter, err error, requestID, fallback string) {
	switch {
	case errors.Is(err, comment.ErrDatasetNotFound):
		response.Err(w, http.StatusNotFound, response.CodeNotFound, "Dataset not found", requestID)
	case errors.Is(err, comment.ErrCommentNotFound):
		response.Err(w, http.StatusNotFound, response.CodeNotFound, "Comment not found", requestID)
	case errors.Is(err, comment.ErrEmptyContent):
		response.Err(w, http.StatusBadRequest, response.CodeValidation, "Content cannot be empty", requestID)
	case errors.Is(err, comment.ErrBadAction):
		response.Err(w, http.StatusBadRequest, response.CodeValidation, "Action must be hide, show or delete", requestID)
	case errors.Is(err, comment.ErrForbidden):
		response.Err(w, http.StatusForbidden, response.CodeForbidden, "Only the dataset owner or an admin may moderate comments", requestID)
	default:
		response.Internal(w, fallback, err, requestID)
	}
}

// List handles GET /dataset/{id}/comments/.
func (h *CommentHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	comments, err := h.comments.ListVisible(r.Context(), id)
	if err != nil {
		commentError(w, err, requestID, "Failed to list comments")
		return
	}

	items := make([]commentResponse, 0, len(comments))
	for i := range comments {
		items = append(items, toCommentResponse(&comments[i]))
	}
	response.Success(w, http.StatusOK, items, requestID)
}

// Add handles POST /dataset/{id}/comments/.
func (h *CommentHandler) Add(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.comments.Add(r.Context(), id, identity.UserID, req.Content)
	if err != nil {
		commentError(w, err, requestID, "Failed to add comment")
		return
	}
	response.Success(w, http.StatusCreated, toCommentResponse(c), requestID)
}

// Moderate handles POST /dataset/{id}/comments/{cid}/moderate with
// {"action": "hide"|"show"|"delete"}.
func (h *CommentHandler) Moderate(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	identity := middleware.GetIdentity(r.Context())

	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	cid, ok := pathID(w, r, "cid")
	if !ok {
		return
	}
	var req struct {
		Action string `json:"action"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := h.comments.Moderate(r.Context(), id, cid, comment.Action(req.Action), identity)
	if err != nil {
		commentError(w, err, requestID, "Failed to moderate comment")
		return
	}
	if c == nil {
		response.Message(w, http.StatusOK, "Comment deleted", requestID)
		return
	}
	response.Success(w, http.StatusOK, toCommentResponse(c), requestID)
}
