package response_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astronomiahub/hub/internal/api/response"
)

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestNewMeta_GeneratesUUID(t *testing.T) {
	t.Parallel()

	meta := response.NewMeta("")

	_, err := uuid.Parse(meta.RequestID)
	assert.NoError(t, err, "requestId should be a valid UUID")
}

func TestNewMeta_UsesProvidedRequestID(t *testing.T) {
	t.Parallel()

	meta := response.NewMeta("my-custom-request-id")

	assert.Equal(t, "my-custom-request-id", meta.RequestID)
}

func TestNewMeta_TimestampIsRFC3339(t *testing.T) {
	t.Parallel()

	before := time.Now().UTC().Add(-1 * time.Second)

	meta := response.NewMeta("")

	parsed, err := time.Parse(time.RFC3339, meta.Timestamp)
	require.NoError(t, err)
	assert.False(t, parsed.Before(before))
	assert.True(t, parsed.Before(time.Now().UTC().Add(time.Second)))
}

func TestSuccess_WritesCorrectEnvelope(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()

	response.Success(w, http.StatusOK, map[string]string{"key": "value"}, "test-req-id")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	env := decode(t, w)
	assert.NotNil(t, env["data"])
	assert.Nil(t, env["error"])
	assert.NotContains(t, env, "warnings")

	meta := env["meta"].(map[string]any)
	assert.Equal(t, "test-req-id", meta["requestId"])
	assert.NotEmpty(t, meta["timestamp"])
}

func TestSuccessWithWarnings(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()

	response.SuccessWithWarnings(w, http.StatusOK, "ok", []string{"archive unavailable"}, "req")

	env := decode(t, w)
	assert.Equal(t, []any{"archive unavailable"}, env["warnings"])
}

func TestMessage(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()

	response.Message(w, http.StatusOK, "Comment deleted", "req")

	env := decode(t, w)
	assert.Equal(t, map[string]any{"message": "Comment deleted"}, env["data"])
}

func TestErr_WritesErrorEnvelope(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()

	response.Err(w, http.StatusBadRequest, response.CodeValidation, "invalid input", "err-req-id")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decode(t, w)
	assert.Nil(t, env["data"])

	apiErr := env["error"].(map[string]any)
	assert.Equal(t, "VALIDATION_ERROR", apiErr["code"])
	assert.Equal(t, "invalid input", apiErr["message"])
	assert.NotContains(t, apiErr, "details")
}

func TestErrWithDetails_IncludesDetails(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	details := []map[string]string{{"field": "email", "message": "email is required"}}

	response.ErrWithDetails(w, http.StatusBadRequest, response.CodeValidation, "validation failed", details, "det-req")

	apiErr := decode(t, w)["error"].(map[string]any)
	det := apiErr["details"].([]any)
	require.Len(t, det, 1)
	assert.Equal(t, "email", det[0].(map[string]any)["field"])
}

func TestInternal_HidesCause(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()

	response.Internal(w, "Failed to list datasets", errors.New("pq: connection refused"), "req")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
	apiErr := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, response.CodeInternal, apiErr["code"])
	assert.Equal(t, "Failed to list datasets", apiErr["message"])
}

func TestNoContent(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()

	response.NoContent(w)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.Bytes())
}

func TestJSON_SetsContentTypeAndStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
	}{
		{"200 OK", http.StatusOK},
		{"201 Created", http.StatusCreated},
		{"404 Not Found", http.StatusNotFound},
		{"429 Too Many Requests", http.StatusTooManyRequests},
		{"500 Internal Server Error", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()

			response.JSON(w, tt.status, response.Envelope{Meta: response.NewMeta("")})

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}
