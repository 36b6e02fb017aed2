package validation

import (
	"errors"
	"time"

	"github.com/astronomiahub/hub/internal/apikey"
)

// CreateAPIKeyRequest mirrors the fields needed for key creation.
type CreateAPIKeyRequest struct {
	Name      string
	Scopes    []string
	ExpiresAt *time.Time
}

// ValidateCreateAPIKey validates a key creation request at now.
func ValidateCreateAPIKey(req CreateAPIKeyRequest, now time.Time) []FieldError {
	var errs []FieldError

	errs = required(errs, "name", req.Name, 100)

	if _, err := apikey.NormalizeScopes(req.Scopes); err != nil {
		msg := "scopes contain an unknown scope"
		if !errors.Is(err, apikey.ErrUnknownScope) {
			msg = err.Error()
		}
		errs = append(errs, FieldError{Field: "scopes", Message: msg})
	}

	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		errs = append(errs, FieldError{Field: "expiresAt", Message: "expiresAt must be in the future"})
	}
	return errs
}
