// Package publication synchronizes catalog datasets with the archive.
// Archive failures never fail the caller: they come back as warnings and the
// dataset stays local until a later Sync succeeds.
package publication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/astronomiahub/hub/internal/dataset"
	"github.com/astronomiahub/hub/internal/deposition"
	"github.com/astronomiahub/hub/internal/events"
	"github.com/astronomiahub/hub/internal/metrics"
	"github.com/astronomiahub/hub/internal/storage"
)

// Catalog is the part of the dataset repository the orchestrator writes to.
type Catalog interface {
	GetByID(ctx context.Context, id int64) (*dataset.Dataset, error)
	SetDepositionID(ctx context.Context, datasetID, depositionID int64) error
	SetDOI(ctx context.Context, datasetID int64, doi string) error
}

// Staging purges a user's pre-commit uploads.
type Staging interface {
	Purge(userID int64) error
}

// Enqueuer schedules a later synchronization attempt.
type Enqueuer interface {
	EnqueueDepositionSync(ctx context.Context, datasetID int64) error
}

// Observer counts synchronization outcomes.
type Observer interface {
	ObserveDeposition(outcome string)
}

// Result is the outcome of Publish or Sync.
type Result struct {
	Dataset      *dataset.Dataset
	Synchronized bool
	Warnings     []string
}

// Orchestrator drives create, upload, publish and DOI persistence.
type Orchestrator struct {
	catalog  Catalog
	adapter  deposition.Adapter
	store    storage.Provider
	staging  Staging
	events   events.Publisher
	queue    Enqueuer
	observer Observer
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

// WithEvents publishes dataset.synchronized events through p.
func WithEvents(p events.Publisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

// WithQueue enqueues a retry after archive failures.
func WithQueue(q Enqueuer) Option {
	return func(o *Orchestrator) { o.queue = q }
}

// WithObserver reports outcomes to obs.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// New creates an Orchestrator.
func New(catalog Catalog, adapter deposition.Adapter, store storage.Provider, staging Staging, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog: catalog,
		adapter: adapter,
		store:   store,
		staging: staging,
		events:  events.Noop{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Publish synchronizes a freshly created dataset and purges the owner's
// staging folder whatever the archive outcome.
func (o *Orchestrator) Publish(ctx context.Context, datasetID int64) (*Result, error) {
	res, err := o.Sync(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if err := o.staging.Purge(res.Dataset.UserID); err != nil {
		slog.Warn("failed to purge staging folder", "user_id", res.Dataset.UserID, "error", err)
	}
	return res, nil
}

// Sync brings a dataset to the synchronized state. An existing deposition
// id is reused and files already present in the deposition are not sent
// again. Only catalog errors are returned; archive errors become warnings.
func (o *Orchestrator) Sync(ctx context.Context, datasetID int64) (*Result, error) {
	// Archive calls are bounded by the adapter timeout, not the request.
	ctx = context.WithoutCancel(ctx)

	d, err := o.catalog.GetByID(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	res := &Result{Dataset: d, Warnings: []string{}}
	if d.Synchronized() {
		res.Synchronized = true
		return res, nil
	}

	uploaded := map[string]bool{}
	var depID int64
	if d.Metadata.DepositionID != nil {
		depID = *d.Metadata.DepositionID
		dep, err := o.adapter.GetDeposition(ctx, depID)
		switch {
		case err == nil:
			for _, f := range dep.Files {
				uploaded[f.Filename] = true
			}
		case errors.Is(err, deposition.ErrDepositionNotFound):
			depID = 0
		default:
			return o.fail(ctx, res, metrics.OutcomeCreateFailed,
				fmt.Sprintf("it has not been possible to reach the archive: %v", err)), nil
		}
	}

	if depID == 0 {
		dep, err := o.adapter.CreateDeposition(ctx, deposition.BuildMetadata(d))
		if err != nil {
			return o.fail(ctx, res, metrics.OutcomeCreateFailed,
				fmt.Sprintf("it has not been possible to create the deposition in the archive: %v", err)), nil
		}
		depID = dep.ID
		if err := o.catalog.SetDepositionID(ctx, d.ID, depID); err != nil {
			return nil, fmt.Errorf("recording deposition id: %w", err)
		}
		d.Metadata.DepositionID = &depID
	}

	for _, f := range d.Files {
		if uploaded[f.Name] {
			continue
		}
		if err := o.upload(ctx, d, depID, f); err != nil {
			return o.fail(ctx, res, metrics.OutcomeUploadFailed,
				fmt.Sprintf("it has not been possible to upload %s to the archive: %v", f.Name, err)), nil
		}
	}

	if _, err := o.adapter.PublishDeposition(ctx, depID); err != nil {
		return o.fail(ctx, res, metrics.OutcomePublishFailed,
			fmt.Sprintf("it has not been possible to publish the deposition: %v", err)), nil
	}
	doi, err := o.adapter.GetDOI(ctx, depID)
	if err != nil || doi == "" {
		if err == nil {
			err = errors.New("archive returned no DOI")
		}
		return o.fail(ctx, res, metrics.OutcomePublishFailed,
			fmt.Sprintf("it has not been possible to update the DOI: %v", err)), nil
	}

	if err := o.catalog.SetDOI(ctx, d.ID, doi); err != nil {
		if errors.Is(err, dataset.ErrDOITaken) {
			return o.fail(ctx, res, metrics.OutcomePublishFailed,
				fmt.Sprintf("the archive returned DOI %s, which belongs to another dataset", doi)), nil
		}
		return nil, fmt.Errorf("recording dataset doi: %w", err)
	}
	d.Metadata.DatasetDOI = &doi
	res.Synchronized = true
	o.observe(metrics.OutcomeSynchronized)

	if err := o.events.Publish(ctx, events.Event{
		Type:         events.TypeDatasetSynchronized,
		DatasetID:    d.ID,
		DepositionID: depID,
		DOI:          doi,
		OccurredAt:   time.Now().UTC(),
	}); err != nil {
		slog.Warn("failed to publish event", "dataset_id", d.ID, "error", err)
	}

	slog.Info("dataset synchronized", "dataset_id", d.ID, "deposition_id", depID, "doi", doi)
	return res, nil
}

func (o *Orchestrator) upload(ctx context.Context, d *dataset.Dataset, depID int64, f dataset.Hubfile) error {
	obj, err := o.store.Get(ctx, storage.UploadKey(d.UserID, d.ID, f.Name))
	if err != nil {
		return err
	}
	defer obj.Body.Close()

	_, err = o.adapter.UploadFile(ctx, depID, f.Name, obj.Body)
	return err
}

func (o *Orchestrator) fail(ctx context.Context, res *Result, outcome, warning string) *Result {
	res.Warnings = append(res.Warnings, warning)
	o.observe(outcome)
	slog.Warn("dataset synchronization failed", "dataset_id", res.Dataset.ID, "outcome", outcome, "warning", warning)

	if o.queue != nil {
		if err := o.queue.EnqueueDepositionSync(ctx, res.Dataset.ID); err != nil {
			slog.Error("failed to enqueue synchronization retry", "dataset_id", res.Dataset.ID, "error", err)
		}
	}
	return res
}

func (o *Orchestrator) observe(outcome string) {
	if o.observer != nil {
		o.observer.ObserveDeposition(outcome)
	}
}
