package deposition

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"sync"
)

// Emulator is an in-memory archive. State is process-local and lost on
// restart; use it for development and tests only.
type Emulator struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*Deposition
}

// NewEmulator creates an empty Emulator. Ids start at 1.
func NewEmulator() *Emulator {
	return &Emulator{nextID: 1, records: make(map[int64]*Deposition)}
}

// EmulatorDOI is the DOI the emulator mints for id.
func EmulatorDOI(id int64) string {
	return fmt.Sprintf("10.5072/fakenodo.%d", id)
}

// EmulatorLink is the download link the emulator reports for an uploaded file.
func EmulatorLink(id int64, filename string) string {
	return fmt.Sprintf("http://fakenodo.org/files/%d/files/%s", id, filename)
}

func (e *Emulator) CreateDeposition(_ context.Context, meta Metadata) (*Deposition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := &Deposition{ID: e.nextID, Metadata: meta, Files: []File{}}
	e.records[d.ID] = d
	e.nextID++
	return d.clone(), nil
}

// UploadFile records filename on the deposition. The content is drained
// but not kept.
func (e *Emulator) UploadFile(_ context.Context, id int64, filename string, content io.Reader) (*UploadResult, error) {
	if content != nil {
		if _, err := io.Copy(io.Discard, content); err != nil {
			return nil, fmt.Errorf("reading upload: %w", err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.records[id]
	if !ok {
		return nil, ErrDepositionNotFound
	}
	d.Files = append(d.Files, File{Filename: filename})
	return &UploadResult{Filename: filename, Link: EmulatorLink(id, filename)}, nil
}

func (e *Emulator) PublishDeposition(_ context.Context, id int64) (*PublishResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.records[id]
	if !ok {
		return nil, ErrDepositionNotFound
	}
	doi := EmulatorDOI(id)
	d.DOI = &doi
	d.Published = true
	return &PublishResult{ID: id, DOI: doi}, nil
}

func (e *Emulator) GetDeposition(_ context.Context, id int64) (*Deposition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.records[id]
	if !ok {
		return nil, ErrDepositionNotFound
	}
	return d.clone(), nil
}

func (e *Emulator) GetDOI(_ context.Context, id int64) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	d, ok := e.records[id]
	if !ok {
		return "", ErrDepositionNotFound
	}
	if !d.Published || d.DOI == nil {
		return "", nil
	}
	return *d.DOI, nil
}

func (e *Emulator) DeleteDeposition(_ context.Context, id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.records[id]; !ok {
		return ErrDepositionNotFound
	}
	delete(e.records, id)
	return nil
}

// ListDepositions returns every deposition ordered by id.
func (e *Emulator) ListDepositions(_ context.Context) ([]Deposition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Deposition, 0, len(e.records))
	for _, d := range e.records {
		out = append(out, *d.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (d *Deposition) clone() *Deposition {
	cp := *d
	cp.Files = slices.Clone(d.Files)
	cp.Metadata.Creators = slices.Clone(d.Metadata.Creators)
	cp.Metadata.Keywords = slices.Clone(d.Metadata.Keywords)
	if d.DOI != nil {
		doi := *d.DOI
		cp.DOI = &doi
	}
	return &cp
}
