package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/astronomiahub/hub/internal/dataset"
)

// PostgresRepository implements Repository using pgxpool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new Repository backed by the given connection pool.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &PostgresRepository{pool: pool}
}

const fromDatasets = ` FROM datasets d JOIN ds_meta_data m ON m.id = d.ds_meta_data_id`

const synchronized = `COALESCE(m.dataset_doi, '') <> ''`

// FilterIDs returns the ids of synchronized datasets matching f, in sort order.
func (r *PostgresRepository) FilterIDs(ctx context.Context, f Filter) ([]int64, error) {
	where, args, order := f.Build()
	return r.ids(ctx, `SELECT d.id`+fromDatasets+` WHERE `+where+` ORDER BY `+order, args...)
}

// SearchIDs pages through synchronized datasets whose title or description
// contains q, newest first, and returns the total match count.
func (r *PostgresRepository) SearchIDs(ctx context.Context, q string, limit, offset int) ([]int64, int, error) {
	where := synchronized + ` AND (m.title ILIKE $1 OR m.description ILIKE $1)`
	pattern := likePattern(q)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+fromDatasets+` WHERE `+where, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting search results: %w", err)
	}

	ids, err := r.ids(ctx, `SELECT d.id`+fromDatasets+` WHERE `+where+`
		ORDER BY d.created_at DESC, d.id DESC LIMIT $2 OFFSET $3`, pattern, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return ids, total, nil
}

// FirstByTitle returns the oldest synchronized dataset whose title contains title.
func (r *PostgresRepository) FirstByTitle(ctx context.Context, title string) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `SELECT d.id`+fromDatasets+`
		WHERE `+synchronized+` AND m.title ILIKE $1
		ORDER BY d.id LIMIT 1`, likePattern(title)).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, dataset.ErrNotFound
		}
		return 0, fmt.Errorf("querying dataset by title: %w", err)
	}
	return id, nil
}

// Facets returns the distinct author names and tags of the catalog, sorted.
func (r *PostgresRepository) Facets(ctx context.Context) (*Facets, error) {
	facets := &Facets{Authors: []string{}, Tags: []string{}}

	rows, err := r.pool.Query(ctx, `SELECT DISTINCT name FROM authors ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing author names: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning author name: %w", err)
		}
		facets.Authors = append(facets.Authors, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating author names: %w", err)
	}

	rows, err = r.pool.Query(ctx, `SELECT tags FROM ds_meta_data WHERE tags <> ''`)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer rows.Close()

	seen := map[string]bool{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning tags: %w", err)
		}
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" && !seen[tag] {
				seen[tag] = true
				facets.Tags = append(facets.Tags, tag)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tags: %w", err)
	}
	sort.Strings(facets.Tags)
	return facets, nil
}

func (r *PostgresRepository) ids(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching datasets: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning dataset id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dataset ids: %w", err)
	}
	return ids, nil
}
