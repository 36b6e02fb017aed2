package dataset

import (
	"strings"
	"time"
)

// PublicationType is the closed set of publication kinds.
type PublicationType string

const (
	PublicationObservationData PublicationType = "observation_data"
	PublicationDataPaper       PublicationType = "data_paper"
	PublicationJournalArticle  PublicationType = "journal_article"
	PublicationPreprint        PublicationType = "preprint"
	PublicationTechnicalReport PublicationType = "technical_report"
	PublicationThesis          PublicationType = "thesis"
	PublicationSoftware        PublicationType = "software"
	PublicationNone            PublicationType = "none"
)

// PublicationTypes lists every accepted publication type.
var PublicationTypes = []PublicationType{
	PublicationObservationData,
	PublicationDataPaper,
	PublicationJournalArticle,
	PublicationPreprint,
	PublicationTechnicalReport,
	PublicationThesis,
	PublicationSoftware,
	PublicationNone,
}

// Valid reports whether p is a known publication type.
func (p PublicationType) Valid() bool {
	for _, t := range PublicationTypes {
		if p == t {
			return true
		}
	}
	return false
}

// Dataset is the unit of publication.
type Dataset struct {
	ID            int64
	UserID        int64
	CreatedAt     time.Time
	DownloadCount int64
	Metadata      Metadata
	Files         []Hubfile
}

// Synchronized reports whether the dataset carries a DOI.
func (d *Dataset) Synchronized() bool {
	return d.Metadata.DatasetDOI != nil && *d.Metadata.DatasetDOI != ""
}

// TotalSize sums the sizes of the dataset's files.
func (d *Dataset) TotalSize() int64 {
	var total int64
	for _, f := range d.Files {
		total += f.Size
	}
	return total
}

// DOIURL returns the hub URL that resolves the dataset DOI, or "" when the
// dataset is local.
func (d *Dataset) DOIURL(domain string) string {
	if !d.Synchronized() {
		return ""
	}
	return "http://" + domain + "/doi/" + *d.Metadata.DatasetDOI
}

// Metadata holds the descriptive part of a dataset.
type Metadata struct {
	ID              int64
	Title           string
	Description     string
	PublicationType PublicationType
	PublicationDOI  *string
	DatasetDOI      *string
	DepositionID    *int64
	Tags            string
	Authors         []Author
	Observations    []Observation
}

// TagSet returns the tags split, trimmed and lowercased, without empties or
// duplicates, in first-seen order.
func (m *Metadata) TagSet() []string {
	return normalizedSet(strings.Split(m.Tags, ","))
}

// AuthorSet returns the lowercased author names without duplicates.
func (m *Metadata) AuthorSet() []string {
	names := make([]string, 0, len(m.Authors))
	for _, a := range m.Authors {
		names = append(names, a.Name)
	}
	return normalizedSet(names)
}

func normalizedSet(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := []string{}
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// Author is a dataset creator. Position 0 is the owner.
type Author struct {
	ID          int64
	Position    int
	Name        string
	Affiliation *string
	ORCID       *string
}

// Observation is one observed target.
type Observation struct {
	ID              int64
	ObjectName      string
	RA              string
	Dec             string
	Magnitude       *float64
	ObservationDate time.Time
	FilterUsed      *string
	Notes           *string
}

// Hubfile is a file attached to a dataset.
type Hubfile struct {
	ID        int64
	DatasetID int64
	Name      string
	Checksum  string
	Size      int64
}

// Stats aggregates catalog counters.
type Stats struct {
	SynchronizedDatasets int64
	Authors              int64
	Hubfiles             int64
	DatasetViews         int64
	DatasetDownloads     int64
	HubfileViews         int64
	HubfileDownloads     int64
}

// ListFilter narrows List results. Nil fields do not filter.
type ListFilter struct {
	UserID       *int64
	Synchronized *bool
	Limit        int
}
