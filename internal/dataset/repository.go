package dataset

import (
	"context"
	"errors"
)

// Sentinel errors for the dataset catalog.
var (
	ErrNotFound           = errors.New("dataset not found")
	ErrHubfileNotFound    = errors.New("hubfile not found")
	ErrNoObservations     = errors.New("at least one observation is required")
	ErrInvalidObservation = errors.New("invalid observation")
	ErrForbidden          = errors.New("only curators may modify datasets")
	ErrDOITaken           = errors.New("dataset doi already assigned")
)

// Repository defines data access for datasets, their files and counters.
type Repository interface {
	Create(ctx context.Context, d *Dataset) error
	AddHubfile(ctx context.Context, f *Hubfile) error
	GetByID(ctx context.Context, id int64) (*Dataset, error)
	GetByDOI(ctx context.Context, doi string) (*Dataset, error)
	GetMany(ctx context.Context, ids []int64) ([]Dataset, error)
	List(ctx context.Context, filter ListFilter) ([]Dataset, error)
	ListOthers(ctx context.Context, excludeID int64) ([]Dataset, error)
	Update(ctx context.Context, d *Dataset) error
	Delete(ctx context.Context, id int64) error

	SetDepositionID(ctx context.Context, datasetID, depositionID int64) error
	SetDOI(ctx context.Context, datasetID int64, doi string) error
	NewDOIFor(ctx context.Context, oldDOI string) (string, error)

	RecordView(ctx context.Context, datasetID int64, userID *int64, cookie string) (bool, error)
	RecordDownload(ctx context.Context, datasetID int64, userID *int64, cookie string) (bool, error)
	DownloadRecordCounts(ctx context.Context, datasetIDs []int64) (map[int64]int64, error)
	Stats(ctx context.Context) (*Stats, error)

	GetHubfile(ctx context.Context, id int64) (*Hubfile, error)
	RecordHubfileView(ctx context.Context, hubfileID int64, userID *int64, cookie string) (bool, error)
	RecordHubfileDownload(ctx context.Context, hubfileID int64, userID *int64, cookie string) (bool, error)
	SaveFile(ctx context.Context, userID, hubfileID int64) error
	UnsaveFile(ctx context.Context, userID, hubfileID int64) error
	ListSaved(ctx context.Context, userID int64) ([]Hubfile, error)
}
