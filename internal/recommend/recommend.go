// Package recommend ranks datasets related to a given dataset.
//
// A candidate must share at least one tag or author with the source. Each
// candidate scores up to 3 points for downloads and 3 for recency, split
// into tiers at the n/3 and 2n/3 order statistics of the candidate set,
// plus up to 4 points for its share of the best overlap.
package recommend

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"sort"

	"github.com/astronomiahub/hub/internal/dataset"
)

// MaxScore bounds every score.
const MaxScore = 10.0

// Source reads the catalog.
type Source interface {
	GetByID(ctx context.Context, id int64) (*dataset.Dataset, error)
	ListOthers(ctx context.Context, excludeID int64) ([]dataset.Dataset, error)
	DownloadRecordCounts(ctx context.Context, datasetIDs []int64) (map[int64]int64, error)
}

// Item is one recommendation.
type Item struct {
	Dataset      dataset.Dataset
	Score        float64
	Downloads    int64
	Coincidences int
}

// Engine computes recommendations.
type Engine struct {
	src Source
}

// New creates an Engine.
func New(src Source) *Engine {
	return &Engine{src: src}
}

type candidate struct {
	dataset      dataset.Dataset
	coincidences int
	downloads    int64
	created      int64
}

// Recommend returns up to limit datasets related to datasetID, best first.
// An unknown dataset yields an empty list.
func (e *Engine) Recommend(ctx context.Context, datasetID int64, limit int) ([]Item, error) {
	if limit <= 0 {
		return []Item{}, nil
	}

	src, err := e.src.GetByID(ctx, datasetID)
	if err != nil {
		if errors.Is(err, dataset.ErrNotFound) {
			return []Item{}, nil
		}
		return nil, err
	}
	srcTags := src.Metadata.TagSet()
	srcAuthors := src.Metadata.AuthorSet()

	others, err := e.src.ListOthers(ctx, datasetID)
	if err != nil {
		return nil, err
	}

	var candidates []candidate
	for _, d := range others {
		n := overlap(srcTags, d.Metadata.TagSet()) + overlap(srcAuthors, d.Metadata.AuthorSet())
		if n == 0 {
			continue
		}
		candidates = append(candidates, candidate{dataset: d, coincidences: n, created: d.CreatedAt.UnixNano()})
	}
	if len(candidates) == 0 {
		return []Item{}, nil
	}

	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.dataset.ID
	}
	counts, err := e.src.DownloadRecordCounts(ctx, ids)
	if err != nil {
		return nil, err
	}

	downloads := make([]int64, len(candidates))
	dates := make([]int64, len(candidates))
	maxCoincidences := 0
	for i := range candidates {
		candidates[i].downloads = counts[candidates[i].dataset.ID]
		downloads[i] = candidates[i].downloads
		dates[i] = candidates[i].created
		maxCoincidences = max(maxCoincidences, candidates[i].coincidences)
	}
	dl1, dl2 := thresholds(downloads)
	dt1, dt2 := thresholds(dates)

	items := make([]Item, len(candidates))
	for i, c := range candidates {
		score := tier(c.downloads, dl1, dl2) +
			tier(c.created, dt1, dt2) +
			float64(c.coincidences)/float64(maxCoincidences)*4.0
		items[i] = Item{
			Dataset:      c.dataset,
			Score:        math.Round(score*100) / 100,
			Downloads:    c.downloads,
			Coincidences: c.coincidences,
		}
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].Score > items[j].Score })
	if len(items) > limit {
		items = items[:limit]
	}

	slog.Debug("computed recommendations", "dataset_id", datasetID, "candidates", len(candidates), "returned", len(items))
	return items, nil
}

func overlap(a, b []string) int {
	n := 0
	for _, s := range b {
		if slices.Contains(a, s) {
			n++
		}
	}
	return n
}

// thresholds returns arr[n/3] and arr[2n/3] of the sorted values. For n=2
// that is the two values; for n=1 both are the single value.
func thresholds(values []int64) (int64, int64) {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	n := len(sorted)
	return sorted[n/3], sorted[(2*n)/3]
}

func tier(v, t1, t2 int64) float64 {
	switch {
	case v <= t1:
		return 1
	case v <= t2:
		return 2
	default:
		return 3
	}
}
