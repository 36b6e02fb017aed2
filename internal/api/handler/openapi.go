package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"sigs.k8s.io/yaml"
)

// OpenAPIHandler serves the OpenAPI document as JSON and as YAML.
type OpenAPIHandler struct {
	rawYAML  []byte
	jsonSpec []byte
}

// NewOpenAPIHandler converts the YAML document up front so a malformed
// document fails at startup.
func NewOpenAPIHandler(yamlSpec []byte) (*OpenAPIHandler, error) {
	jsonSpec, err := yaml.YAMLToJSON(yamlSpec)
	if err != nil {
		return nil, fmt.Errorf("converting OpenAPI document: %w", err)
	}
	return &OpenAPIHandler{rawYAML: yamlSpec, jsonSpec: jsonSpec}, nil
}

// ServeJSON handles GET /openapi.json.
func (h *OpenAPIHandler) ServeJSON(w http.ResponseWriter, _ *http.Request) {
	write(w, "application/json", h.jsonSpec)
}

// ServeYAML handles GET /openapi.yaml.
func (h *OpenAPIHandler) ServeYAML(w http.ResponseWriter, _ *http.Request) {
	write(w, "application/yaml", h.rawYAML)
}

func write(w http.ResponseWriter, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		slog.Error("failed to write OpenAPI response", "error", err)
	}
}
