package response

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Error codes shared by every handler.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeInvalidJSON  = "INVALID_JSON"
	CodeInvalidID    = "INVALID_ID"
	CodeNotFound     = "NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeConflict     = "CONFLICT"
	CodeRateLimited  = "RATE_LIMITED"
	CodeInternal     = "INTERNAL_ERROR"
)

// Meta holds metadata for every API response.
type Meta struct {
	RequestID string `json:"requestId"`
	Timestamp string `json:"timestamp"`
}

// Error represents a structured API error.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Envelope is the standard API response wrapper. Warnings carry archive
// failures that did not fail the request.
type Envelope struct {
	Data     any      `json:"data"`
	Error    *Error   `json:"error"`
	Warnings []string `json:"warnings,omitempty"`
	Meta     Meta     `json:"meta"`
}

// NewMeta creates a Meta with the current timestamp. An empty requestID is
// replaced by a fresh UUID.
func NewMeta(requestID string) Meta {
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return Meta{
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// JSON writes a JSON response with the given status code and envelope.
func JSON(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		slog.Error("failed to encode response", "error", err, "requestId", env.Meta.RequestID)
	}
}

// Success writes a successful JSON response.
func Success(w http.ResponseWriter, status int, data any, requestID string) {
	JSON(w, status, Envelope{Data: data, Meta: NewMeta(requestID)})
}

// SuccessWithWarnings writes a successful response that carries warnings.
func SuccessWithWarnings(w http.ResponseWriter, status int, data any, warnings []string, requestID string) {
	JSON(w, status, Envelope{Data: data, Warnings: warnings, Meta: NewMeta(requestID)})
}

// Message writes {"message": msg} as data.
func Message(w http.ResponseWriter, status int, msg string, requestID string) {
	Success(w, status, map[string]string{"message": msg}, requestID)
}

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Err writes an error JSON response.
func Err(w http.ResponseWriter, status int, code string, message string, requestID string) {
	JSON(w, status, Envelope{
		Error: &Error{Code: code, Message: message},
		Meta:  NewMeta(requestID),
	})
}

// ErrWithDetails writes an error JSON response with additional details.
func ErrWithDetails(w http.ResponseWriter, status int, code string, message string, details any, requestID string) {
	JSON(w, status, Envelope{
		Error: &Error{Code: code, Message: message, Details: details},
		Meta:  NewMeta(requestID),
	})
}

// Internal logs err with the request id and writes a 500 with message.
func Internal(w http.ResponseWriter, message string, err error, requestID string) {
	slog.Error(message, "error", err, "requestId", requestID)
	Err(w, http.StatusInternalServerError, CodeInternal, message, requestID)
}
