// Package validation checks request payloads before they reach the domain
// services.
package validation

import (
	"net/mail"
	"regexp"
	"strings"
)

// FieldError represents a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var orcidRegex = regexp.MustCompile(`^\d{4}-\d{4}-\d{4}-\d{3}[\dX]$`)

// DateLayout is the accepted format of observation dates and filter bounds.
const DateLayout = "2006-01-02"

func required(errs []FieldError, field, value string, max int) []FieldError {
	v := strings.TrimSpace(value)
	if v == "" {
		return append(errs, FieldError{Field: field, Message: field + " is required"})
	}
	if max > 0 && len(v) > max {
		return append(errs, FieldError{Field: field, Message: field + " is too long"})
	}
	return errs
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

// ValidORCID reports whether s looks like an ORCID iD (0000-0002-1825-0097).
func ValidORCID(s string) bool {
	return orcidRegex.MatchString(s)
}
