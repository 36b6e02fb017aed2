package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/astronomiahub/hub/internal/dataset"
)

// AuthorRequest mirrors an author entry of a dataset payload.
type AuthorRequest struct {
	Name        string
	Affiliation *string
	ORCID       *string
}

// ObservationRequest mirrors an observation entry of a dataset payload.
type ObservationRequest struct {
	ObjectName      string
	RA              string
	Dec             string
	ObservationDate string
}

// DatasetRequest mirrors the fields checked on create and update.
type DatasetRequest struct {
	Title           string
	Description     string
	PublicationType string
	PublicationDOI  *string
	Authors         []AuthorRequest
	Observations    []ObservationRequest
}

// ValidateDataset validates a dataset payload. An empty publication type is
// accepted and means "none".
func ValidateDataset(req DatasetRequest) []FieldError {
	var errs []FieldError

	errs = required(errs, "title", req.Title, 255)
	errs = required(errs, "description", req.Description, 0)

	if req.PublicationType != "" && !dataset.PublicationType(req.PublicationType).Valid() {
		errs = append(errs, FieldError{Field: "publicationType", Message: "publicationType is not a known type"})
	}
	if req.PublicationDOI != nil && *req.PublicationDOI != "" && !strings.HasPrefix(*req.PublicationDOI, "10.") {
		errs = append(errs, FieldError{Field: "publicationDoi", Message: "publicationDoi must start with 10."})
	}

	for i, a := range req.Authors {
		field := fmt.Sprintf("authors[%d]", i)
		if strings.TrimSpace(a.Name) == "" {
			errs = append(errs, FieldError{Field: field + ".name", Message: "name is required"})
		}
		if a.ORCID != nil && *a.ORCID != "" && !ValidORCID(*a.ORCID) {
			errs = append(errs, FieldError{Field: field + ".orcid", Message: "orcid must look like 0000-0000-0000-0000"})
		}
	}

	if len(req.Observations) == 0 {
		errs = append(errs, FieldError{Field: "observations", Message: "at least one observation is required"})
	}
	for i, o := range req.Observations {
		field := fmt.Sprintf("observations[%d]", i)
		if strings.TrimSpace(o.ObjectName) == "" {
			errs = append(errs, FieldError{Field: field + ".objectName", Message: "objectName is required"})
		}
		if !dataset.ValidRA(o.RA) {
			errs = append(errs, FieldError{Field: field + ".ra", Message: "ra must be HH:MM:SS(.sss) with hours below 24"})
		}
		if !dataset.ValidDec(o.Dec) {
			errs = append(errs, FieldError{Field: field + ".dec", Message: "dec must be ±DD:MM:SS(.sss) within ±90 degrees"})
		}
		if _, err := time.Parse(DateLayout, o.ObservationDate); err != nil {
			errs = append(errs, FieldError{Field: field + ".observationDate", Message: "observationDate must be YYYY-MM-DD"})
		}
	}

	return errs
}
