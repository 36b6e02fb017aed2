package dataset

import (
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/astronomiahub/hub/internal/storage"
)

// ErrInvalidMetadata is returned when required metadata is missing or malformed.
var ErrInvalidMetadata = errors.New("invalid dataset metadata")

// ErrFilesNotStored is returned together with a committed dataset when its
// staged files could not all be moved into storage. Unmoved files stay staged.
var ErrFilesNotStored = errors.New("dataset files not stored")

// StagedFiles gives access to a user's pre-commit uploads.
type StagedFiles interface {
	Open(userID int64, name string) (*os.File, error)
	Delete(userID int64, name string) error
}

// CreateInput carries everything needed to create a dataset. Owner is
// inserted as the first author.
type CreateInput struct {
	UserID          int64
	Owner           Author
	Title           string
	Description     string
	PublicationType PublicationType
	PublicationDOI  *string
	Tags            string
	Authors         []Author
	Observations    []Observation
	StagedFiles     []string
}

// UpdateInput carries the editable fields of a dataset.
type UpdateInput struct {
	Title           string
	Description     string
	PublicationType PublicationType
	PublicationDOI  *string
	Tags            string
	Observations    []Observation
}

// Service implements the dataset catalog.
type Service struct {
	repo    Repository
	store   storage.Provider
	staging StagedFiles
}

// NewService creates a new dataset Service.
func NewService(repo Repository, store storage.Provider, staging StagedFiles) *Service {
	return &Service{repo: repo, store: store, staging: staging}
}

// Create persists a dataset with its authors, observations and staged files in
// one transaction, then moves the staged files into storage. A move failure
// wraps ErrFilesNotStored and is returned together with the committed dataset.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Dataset, error) {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Description) == "" {
		return nil, fmt.Errorf("%w: title and description are required", ErrInvalidMetadata)
	}
	if in.PublicationType == "" {
		in.PublicationType = PublicationNone
	}
	if !in.PublicationType.Valid() {
		return nil, fmt.Errorf("%w: unknown publication type %q", ErrInvalidMetadata, in.PublicationType)
	}
	if len(in.Observations) == 0 {
		return nil, ErrNoObservations
	}
	for i := range in.Observations {
		if err := in.Observations[i].Check(); err != nil {
			return nil, err
		}
	}

	files := make([]Hubfile, 0, len(in.StagedFiles))
	for _, name := range in.StagedFiles {
		checksum, size, err := s.checksum(in.UserID, name)
		if err != nil {
			return nil, fmt.Errorf("reading staged file %s: %w", name, err)
		}
		files = append(files, Hubfile{Name: name, Checksum: checksum, Size: size})
	}

	d := &Dataset{
		UserID: in.UserID,
		Metadata: Metadata{
			Title:           strings.TrimSpace(in.Title),
			Description:     strings.TrimSpace(in.Description),
			PublicationType: in.PublicationType,
			PublicationDOI:  in.PublicationDOI,
			Tags:            in.Tags,
			Authors:         append([]Author{in.Owner}, in.Authors...),
			Observations:    in.Observations,
		},
		Files: files,
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, err
	}

	if err := s.moveStaged(ctx, d); err != nil {
		return d, fmt.Errorf("%w: %w", ErrFilesNotStored, err)
	}
	return d, nil
}

func (s *Service) checksum(userID int64, name string) (string, int64, error) {
	f, err := s.staging.Open(userID, name)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := md5.New() //nolint:gosec
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}

func (s *Service) moveStaged(ctx context.Context, d *Dataset) error {
	for _, f := range d.Files {
		src, err := s.staging.Open(d.UserID, f.Name)
		if err != nil {
			return fmt.Errorf("opening staged file %s: %w", f.Name, err)
		}
		err = s.store.Put(ctx, storage.UploadKey(d.UserID, d.ID, f.Name), src, "application/json")
		src.Close()
		if err != nil {
			return fmt.Errorf("storing %s: %w", f.Name, err)
		}
		if err := s.staging.Delete(d.UserID, f.Name); err != nil {
			slog.Warn("failed to remove staged file", "user_id", d.UserID, "file", f.Name, "error", err)
		}
	}
	return nil
}

// Get returns a dataset by id.
func (s *Service) Get(ctx context.Context, id int64) (*Dataset, error) {
	return s.repo.GetByID(ctx, id)
}

// ResolveDOI looks up a DOI. When doi has been superseded the replacement DOI
// is returned with a nil dataset so callers can redirect.
func (s *Service) ResolveDOI(ctx context.Context, doi string) (*Dataset, string, error) {
	newDOI, err := s.repo.NewDOIFor(ctx, doi)
	if err != nil {
		return nil, "", err
	}
	if newDOI != "" {
		return nil, newDOI, nil
	}

	d, err := s.repo.GetByDOI(ctx, doi)
	if err != nil {
		return nil, "", err
	}
	return d, "", nil
}

// Listing is a user's view of the catalog split by synchronization state.
type Listing struct {
	Synchronized   []Dataset
	Unsynchronized []Dataset
}

// ListFor returns the datasets of userID, or every dataset when curator is true.
func (s *Service) ListFor(ctx context.Context, userID int64, curator bool) (*Listing, error) {
	var owner *int64
	if !curator {
		owner = &userID
	}

	yes, no := true, false
	synced, err := s.repo.List(ctx, ListFilter{UserID: owner, Synchronized: &yes})
	if err != nil {
		return nil, err
	}
	local, err := s.repo.List(ctx, ListFilter{UserID: owner, Synchronized: &no})
	if err != nil {
		return nil, err
	}
	return &Listing{Synchronized: synced, Unsynchronized: local}, nil
}

// AllSynchronized returns every synchronized dataset, newest first.
func (s *Service) AllSynchronized(ctx context.Context) ([]Dataset, error) {
	yes := true
	return s.repo.List(ctx, ListFilter{Synchronized: &yes})
}

// LatestSynchronized returns the n newest synchronized datasets.
func (s *Service) LatestSynchronized(ctx context.Context, n int) ([]Dataset, error) {
	yes := true
	return s.repo.List(ctx, ListFilter{Synchronized: &yes, Limit: n})
}

// Update edits a dataset. Only curators may edit.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput, curator bool) (*Dataset, error) {
	if !curator {
		return nil, ErrForbidden
	}
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.PublicationType == "" {
		in.PublicationType = d.Metadata.PublicationType
	}
	if !in.PublicationType.Valid() {
		return nil, fmt.Errorf("%w: unknown publication type %q", ErrInvalidMetadata, in.PublicationType)
	}
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Description) == "" {
		return nil, fmt.Errorf("%w: title and description are required", ErrInvalidMetadata)
	}
	if len(in.Observations) == 0 {
		return nil, ErrNoObservations
	}
	for i := range in.Observations {
		if err := in.Observations[i].Check(); err != nil {
			return nil, err
		}
	}

	d.Metadata.Title = strings.TrimSpace(in.Title)
	d.Metadata.Description = strings.TrimSpace(in.Description)
	d.Metadata.PublicationType = in.PublicationType
	d.Metadata.PublicationDOI = in.PublicationDOI
	d.Metadata.Tags = in.Tags
	d.Metadata.Observations = in.Observations

	if err := s.repo.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Delete removes a dataset and its stored files. Only curators may delete.
func (s *Service) Delete(ctx context.Context, id int64, curator bool) error {
	if !curator {
		return ErrForbidden
	}
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeletePrefix(ctx, storage.DatasetPrefix(d.UserID, d.ID)); err != nil {
		slog.Warn("failed to remove dataset files", "dataset_id", d.ID, "error", err)
	}
	return nil
}

// RecordView counts a view once per cookie.
func (s *Service) RecordView(ctx context.Context, datasetID int64, userID *int64, cookie string) (bool, error) {
	return s.repo.RecordView(ctx, datasetID, userID, cookie)
}

// RecordDownload counts a download once per cookie.
func (s *Service) RecordDownload(ctx context.Context, datasetID int64, userID *int64, cookie string) (bool, error) {
	return s.repo.RecordDownload(ctx, datasetID, userID, cookie)
}

// Stats returns the catalog counters.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.repo.Stats(ctx)
}

// GetHubfile returns a hubfile by id.
func (s *Service) GetHubfile(ctx context.Context, id int64) (*Hubfile, error) {
	return s.repo.GetHubfile(ctx, id)
}

// OpenHubfile returns a hubfile and its stored content. The caller closes
// the object body.
func (s *Service) OpenHubfile(ctx context.Context, id int64) (*Hubfile, *storage.Object, error) {
	f, err := s.repo.GetHubfile(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	d, err := s.repo.GetByID(ctx, f.DatasetID)
	if err != nil {
		return nil, nil, err
	}
	obj, err := s.store.Get(ctx, storage.UploadKey(d.UserID, d.ID, f.Name))
	if err != nil {
		return nil, nil, err
	}
	return f, obj, nil
}

// RecordHubfileView counts a hubfile view once per cookie.
func (s *Service) RecordHubfileView(ctx context.Context, hubfileID int64, userID *int64, cookie string) (bool, error) {
	return s.repo.RecordHubfileView(ctx, hubfileID, userID, cookie)
}

// RecordHubfileDownload counts a hubfile download once per cookie.
func (s *Service) RecordHubfileDownload(ctx context.Context, hubfileID int64, userID *int64, cookie string) (bool, error) {
	return s.repo.RecordHubfileDownload(ctx, hubfileID, userID, cookie)
}

// SaveFile adds a hubfile to the user's cart.
func (s *Service) SaveFile(ctx context.Context, userID, hubfileID int64) error {
	return s.repo.SaveFile(ctx, userID, hubfileID)
}

// UnsaveFile removes a hubfile from the user's cart.
func (s *Service) UnsaveFile(ctx context.Context, userID, hubfileID int64) error {
	return s.repo.UnsaveFile(ctx, userID, hubfileID)
}

// ListSaved returns the user's cart.
func (s *Service) ListSaved(ctx context.Context, userID int64) ([]Hubfile, error) {
	return s.repo.ListSaved(ctx, userID)
}
