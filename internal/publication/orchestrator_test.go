package publication_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astronomiahub/hub/internal/dataset"
	"github.com/astronomiahub/hub/internal/deposition"
	"github.com/astronomiahub/hub/internal/events"
	"github.com/astronomiahub/hub/internal/metrics"
	"github.com/astronomiahub/hub/internal/publication"
	"github.com/astronomiahub/hub/internal/staging"
	"github.com/astronomiahub/hub/internal/storage"
)

// --- Fakes ---

type memCatalog struct {
	mu       sync.Mutex
	datasets map[int64]*dataset.Dataset
	doiErr   error
}

func (c *memCatalog) GetByID(_ context.Context, id int64) (*dataset.Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.datasets[id]
	if !ok {
		return nil, dataset.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (c *memCatalog) SetDepositionID(_ context.Context, datasetID, depositionID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.datasets[datasetID].Metadata.DepositionID = &depositionID
	return nil
}

func (c *memCatalog) SetDOI(_ context.Context, datasetID int64, doi string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doiErr != nil {
		return c.doiErr
	}
	c.datasets[datasetID].Metadata.DatasetDOI = &doi
	return nil
}

// flakyAdapter wraps the emulator and fails selected calls.
type flakyAdapter struct {
	deposition.Adapter
	createErr  error
	uploadErr  error
	failUpload string
	uploads    []string
}

func (a *flakyAdapter) CreateDeposition(ctx context.Context, m deposition.Metadata) (*deposition.Deposition, error) {
	if a.createErr != nil {
		return nil, a.createErr
	}
	return a.Adapter.CreateDeposition(ctx, m)
}

func (a *flakyAdapter) UploadFile(ctx context.Context, id int64, name string, r io.Reader) (*deposition.UploadResult, error) {
	if name == a.failUpload {
		return nil, a.uploadErr
	}
	a.uploads = append(a.uploads, name)
	return a.Adapter.UploadFile(ctx, id, name, r)
}

type recordingQueue struct {
	ids []int64
}

func (q *recordingQueue) EnqueueDepositionSync(_ context.Context, id int64) error {
	q.ids = append(q.ids, id)
	return nil
}

type recordingEvents struct {
	events.Noop
	got []events.Event
}

func (p *recordingEvents) Publish(_ context.Context, e events.Event) error {
	p.got = append(p.got, e)
	return nil
}

// --- Helpers ---

type fixture struct {
	orch    *publication.Orchestrator
	catalog *memCatalog
	adapter *flakyAdapter
	area    *staging.Area
	queue   *recordingQueue
	events  *recordingEvents
	metrics *metrics.Metrics
}

const ownerID = int64(5)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()

	store, err := storage.NewLocalProvider(root)
	require.NoError(t, err)
	ctx := context.Background()
	for _, name := range []string{"a.json", "b.json"} {
		require.NoError(t, store.Put(ctx, storage.UploadKey(ownerID, 1, name), strings.NewReader(`{}`), "application/json"))
	}

	catalog := &memCatalog{datasets: map[int64]*dataset.Dataset{
		1: {
			ID:     1,
			UserID: ownerID,
			Metadata: dataset.Metadata{
				Title:           "Orion",
				Description:     "Nebulae",
				PublicationType: dataset.PublicationNone,
				Tags:            "orion",
				Authors:         []dataset.Author{{Name: "Messier, Charles"}},
				Observations: []dataset.Observation{{
					ObjectName: "M42", RA: "05:35:17", Dec: "-05:23:28",
					ObservationDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
				}},
			},
			Files: []dataset.Hubfile{{ID: 1, DatasetID: 1, Name: "a.json"}, {ID: 2, DatasetID: 1, Name: "b.json"}},
		},
	}}

	area := staging.New(root)
	_, err = area.Save(ownerID, "leftover.json", strings.NewReader(`{}`))
	require.NoError(t, err)

	f := &fixture{
		catalog: catalog,
		adapter: &flakyAdapter{Adapter: deposition.NewEmulator()},
		area:    area,
		queue:   &recordingQueue{},
		events:  &recordingEvents{},
		metrics: metrics.New(),
	}
	f.orch = publication.New(catalog, f.adapter, store, area,
		publication.WithQueue(f.queue),
		publication.WithEvents(f.events),
		publication.WithObserver(f.metrics),
	)
	return f
}

func depositionCount(t *testing.T, m *metrics.Metrics, outcome string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != "astrohub_deposition_total" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == outcome {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

// --- Tests ---

func TestPublish_HappyPath(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	res, err := f.orch.Publish(context.Background(), 1)
	require.NoError(t, err)

	assert.True(t, res.Synchronized)
	assert.Empty(t, res.Warnings)
	require.NotNil(t, res.Dataset.Metadata.DatasetDOI)
	assert.Equal(t, "10.5072/fakenodo.1", *res.Dataset.Metadata.DatasetDOI)

	stored, err := f.catalog.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, stored.Synchronized())
	require.NotNil(t, stored.Metadata.DepositionID)
	assert.Equal(t, int64(1), *stored.Metadata.DepositionID)

	dep, err := f.adapter.GetDeposition(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []deposition.File{{Filename: "a.json"}, {Filename: "b.json"}}, dep.Files)

	require.Len(t, f.events.got, 1)
	assert.Equal(t, events.TypeDatasetSynchronized, f.events.got[0].Type)
	assert.Equal(t, "10.5072/fakenodo.1", f.events.got[0].DOI)
	assert.Empty(t, f.queue.ids)
	assert.Equal(t, float64(1), depositionCount(t, f.metrics, metrics.OutcomeSynchronized))

	staged, err := f.area.List(ownerID)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestPublish_ArchiveOutageKeepsDatasetLocal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.adapter.createErr = &deposition.TransportError{Op: "create", Err: errors.New("connection refused")}

	res, err := f.orch.Publish(context.Background(), 1)
	require.NoError(t, err)

	assert.False(t, res.Synchronized)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "connection refused")

	stored, err := f.catalog.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, stored.Synchronized())
	assert.Nil(t, stored.Metadata.DepositionID)

	assert.Equal(t, []int64{1}, f.queue.ids)
	assert.Empty(t, f.events.got)
	assert.Equal(t, float64(1), depositionCount(t, f.metrics, metrics.OutcomeCreateFailed))

	staged, err := f.area.List(ownerID)
	require.NoError(t, err)
	assert.Empty(t, staged)
}

func TestSync_ResumesAfterUploadFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.adapter.failUpload = "b.json"
	f.adapter.uploadErr = &deposition.TransportError{Op: "upload", Status: 502}

	res, err := f.orch.Publish(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, res.Synchronized)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "b.json")
	assert.Equal(t, []string{"a.json"}, f.adapter.uploads)

	stored, err := f.catalog.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, stored.Metadata.DepositionID)
	assert.Nil(t, stored.Metadata.DatasetDOI)
	assert.Equal(t, float64(1), depositionCount(t, f.metrics, metrics.OutcomeUploadFailed))

	f.adapter.failUpload = ""
	res, err = f.orch.Sync(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.Synchronized)
	assert.Equal(t, []string{"a.json", "b.json"}, f.adapter.uploads)

	all, err := f.adapter.ListDepositions(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// Already synchronized datasets are left alone.
	res, err = f.orch.Sync(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, res.Synchronized)
	assert.Len(t, f.events.got, 1)
}

func TestSync_DuplicateDOIStaysLocal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.catalog.doiErr = dataset.ErrDOITaken

	res, err := f.orch.Sync(context.Background(), 1)
	require.NoError(t, err)

	assert.False(t, res.Synchronized)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "10.5072/fakenodo.1")
	assert.Nil(t, res.Dataset.Metadata.DatasetDOI)
	assert.Equal(t, []int64{1}, f.queue.ids)
	assert.Empty(t, f.events.got)
	assert.Equal(t, float64(1), depositionCount(t, f.metrics, metrics.OutcomePublishFailed))
}

func TestSync_UnknownDataset(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.orch.Sync(context.Background(), 99)
	assert.ErrorIs(t, err, dataset.ErrNotFound)
	assert.Zero(t, testutil.CollectAndCount(f.metrics.Registry(), "astrohub_deposition_total"))
}
