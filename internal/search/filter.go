// Package search implements catalog exploration and the paged API search.
package search

import (
	"fmt"
	"strings"
	"time"
)

// Sort orders accepted by Filter.Sorting.
const (
	SortNewest    = "newest"
	SortOldest    = "oldest"
	SortDownloads = "downloads"
)

// Any disables the author and publication type filters.
const Any = "any"

// Filter narrows the synchronized catalog. Zero values do not filter.
type Filter struct {
	Query           string     `json:"query"`
	DateAfter       *time.Time `json:"date_after"`
	DateBefore      *time.Time `json:"date_before"`
	Author          string     `json:"author"`
	Tags            []string   `json:"tags"`
	PublicationType string     `json:"publication_type"`
	Sorting         string     `json:"sorting"`
}

// Build renders the filter as a WHERE clause over datasets d and
// ds_meta_data m, its arguments, and an ORDER BY clause. Unknown sort
// orders fall back to newest.
func (f Filter) Build() (string, []any, string) {
	conditions := []string{"COALESCE(m.dataset_doi, '') <> ''"}
	var args []any
	argIdx := 1

	if q := strings.TrimSpace(f.Query); q != "" {
		p := fmt.Sprintf("$%d", argIdx)
		conditions = append(conditions, fmt.Sprintf(`(m.title ILIKE %[1]s OR m.description ILIKE %[1]s OR m.tags ILIKE %[1]s
			OR EXISTS (SELECT 1 FROM authors a WHERE a.ds_meta_data_id = m.id
				AND (a.name ILIKE %[1]s OR a.affiliation ILIKE %[1]s OR a.orcid ILIKE %[1]s)))`, p))
		args = append(args, likePattern(q))
		argIdx++
	}
	if f.DateAfter != nil {
		conditions = append(conditions, fmt.Sprintf("d.created_at::date >= $%d", argIdx))
		args = append(args, f.DateAfter.Format(time.DateOnly))
		argIdx++
	}
	if f.DateBefore != nil {
		conditions = append(conditions, fmt.Sprintf("d.created_at::date <= $%d", argIdx))
		args = append(args, f.DateBefore.Format(time.DateOnly))
		argIdx++
	}
	if a := strings.TrimSpace(f.Author); a != "" && !strings.EqualFold(a, Any) {
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM authors a WHERE a.ds_meta_data_id = m.id AND LOWER(a.name) = $%d)", argIdx))
		args = append(args, strings.ToLower(a))
		argIdx++
	}
	for _, tag := range f.Tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM unnest(string_to_array(m.tags, ',')) t WHERE LOWER(TRIM(t)) = $%d)", argIdx))
		args = append(args, tag)
		argIdx++
	}
	if pt := strings.TrimSpace(f.PublicationType); pt != "" && !strings.EqualFold(pt, Any) {
		conditions = append(conditions, fmt.Sprintf("m.publication_type = $%d", argIdx))
		args = append(args, pt)
	}

	return strings.Join(conditions, " AND "), args, orderBy(f.Sorting)
}

func orderBy(sorting string) string {
	switch sorting {
	case SortOldest:
		return "d.created_at ASC, d.id ASC"
	case SortDownloads:
		return "d.download_count DESC, d.created_at DESC, d.id DESC"
	default:
		return "d.created_at DESC, d.id DESC"
	}
}

// likePattern wraps s for a substring ILIKE, escaping wildcards.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
