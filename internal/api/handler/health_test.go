package handler_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astronomiahub/hub/internal/api/handler"
)

type stubPinger struct {
	err error
}

func (s stubPinger) Ping(context.Context) error {
	return s.err
}

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		pingErr    error
		wantStatus int
		wantState  string
		wantDB     bool
	}{
		{name: "database up", wantStatus: http.StatusOK, wantState: "healthy", wantDB: true},
		{name: "database down", pingErr: errors.New("connection refused"), wantStatus: http.StatusServiceUnavailable, wantState: "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := handler.NewHealthHandler(stubPinger{err: tt.pingErr}, "1.2.3")
			rec := serve(h.ServeHTTP, newRequest(http.MethodGet, "/health", "", nil, nil))

			require.Equal(t, tt.wantStatus, rec.Code)
			var data struct {
				Status   string `json:"status"`
				Version  string `json:"version"`
				Database struct {
					Connected bool `json:"connected"`
				} `json:"database"`
			}
			decodeData(t, rec, &data)
			assert.Equal(t, tt.wantState, data.Status)
			assert.Equal(t, "1.2.3", data.Version)
			assert.Equal(t, tt.wantDB, data.Database.Connected)
		})
	}
}
