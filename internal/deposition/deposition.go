// Package deposition talks to the long-term archive that mints DOIs. Two
// adapters share one contract: an in-process Emulator for development and
// tests, and an HTTPClient for a remote archive speaking the same protocol.
package deposition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/astronomiahub/hub/internal/dataset"
)

// HubKeyword is appended to the keywords of every deposition.
const HubKeyword = "astronomiahub"

// ErrDepositionNotFound is returned when the archive has no deposition with the given id.
var ErrDepositionNotFound = errors.New("deposition not found")

// Adapter is the archive contract used by the publication orchestrator.
type Adapter interface {
	CreateDeposition(ctx context.Context, meta Metadata) (*Deposition, error)
	UploadFile(ctx context.Context, id int64, filename string, content io.Reader) (*UploadResult, error)
	PublishDeposition(ctx context.Context, id int64) (*PublishResult, error)
	GetDeposition(ctx context.Context, id int64) (*Deposition, error)
	// GetDOI returns "" while the deposition is unpublished.
	GetDOI(ctx context.Context, id int64) (string, error)
	DeleteDeposition(ctx context.Context, id int64) error
	ListDepositions(ctx context.Context) ([]Deposition, error)
}

// Creator is one author entry of a deposition.
type Creator struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
	ORCID       string `json:"orcid,omitempty"`
}

// Metadata is the deposition payload derived from a dataset.
type Metadata struct {
	Title           string    `json:"title"`
	UploadType      string    `json:"upload_type"`
	PublicationType string    `json:"publication_type,omitempty"`
	Description     string    `json:"description"`
	Creators        []Creator `json:"creators"`
	Keywords        []string  `json:"keywords"`
	AccessRight     string    `json:"access_right"`
	License         string    `json:"license"`
}

// File is a file attached to a deposition.
type File struct {
	Filename string `json:"filename"`
}

// Deposition is an archive record.
type Deposition struct {
	ID        int64    `json:"id"`
	Metadata  Metadata `json:"metadata"`
	Files     []File   `json:"files"`
	DOI       *string  `json:"doi"`
	Published bool     `json:"published"`
}

// UploadResult describes an uploaded file.
type UploadResult struct {
	Filename string `json:"filename"`
	Link     string `json:"link"`
}

// PublishResult carries the DOI minted on publish.
type PublishResult struct {
	ID  int64  `json:"id"`
	DOI string `json:"doi"`
}

// TransportError reports a failed or non-2xx archive call.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("deposition %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("deposition %s: unexpected status %d", e.Op, e.Status)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BuildMetadata maps a dataset to its deposition payload.
func BuildMetadata(d *dataset.Dataset) Metadata {
	m := Metadata{
		Title:       d.Metadata.Title,
		UploadType:  "dataset",
		Description: d.Metadata.Description,
		Creators:    make([]Creator, 0, len(d.Metadata.Authors)),
		Keywords:    []string{},
		AccessRight: "open",
		License:     "CC-BY-4.0",
	}
	if pt := d.Metadata.PublicationType; pt != "" && pt != dataset.PublicationNone {
		m.UploadType = "publication"
		m.PublicationType = string(pt)
	}

	for _, a := range d.Metadata.Authors {
		c := Creator{Name: a.Name}
		if a.Affiliation != nil {
			c.Affiliation = *a.Affiliation
		}
		if a.ORCID != nil {
			c.ORCID = *a.ORCID
		}
		m.Creators = append(m.Creators, c)
	}

	for _, tag := range strings.Split(d.Metadata.Tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			m.Keywords = append(m.Keywords, tag)
		}
	}
	m.Keywords = append(m.Keywords, HubKeyword)
	return m
}
