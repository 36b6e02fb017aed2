package handler

import (
	"strconv"
	"strings"

	"github.com/astronomiahub/hub/internal/dataset"
	"github.com/astronomiahub/hub/internal/recommend"
)

type authorResponse struct {
	Name        string  `json:"name"`
	Affiliation *string `json:"affiliation,omitempty"`
	ORCID       *string `json:"orcid,omitempty"`
}

type observationResponse struct {
	ObjectName      string   `json:"objectName"`
	RA              string   `json:"ra"`
	Dec             string   `json:"dec"`
	Magnitude       *float64 `json:"magnitude,omitempty"`
	ObservationDate string   `json:"observationDate"`
	FilterUsed      *string  `json:"filterUsed,omitempty"`
	Notes           *string  `json:"notes,omitempty"`
}

type hubfileResponse struct {
	ID        int64  `json:"id"`
	DatasetID int64  `json:"datasetId"`
	Name      string `json:"name"`
	Checksum  string `json:"checksum"`
	Size      int64  `json:"size"`
	SizeHuman string `json:"sizeHuman"`
}

type datasetResponse struct {
	ID              int64                 `json:"id"`
	UserID          int64                 `json:"userId"`
	Title           string                `json:"title"`
	Description     string                `json:"description"`
	PublicationType string                `json:"publicationType"`
	PublicationDOI  *string               `json:"publicationDoi,omitempty"`
	DatasetDOI      *string               `json:"datasetDoi,omitempty"`
	DOIURL          string                `json:"doiUrl,omitempty"`
	DepositionID    *int64                `json:"depositionId,omitempty"`
	Synchronized    bool                  `json:"synchronized"`
	Tags            []string              `json:"tags"`
	Authors         []authorResponse      `json:"authors"`
	Observations    []observationResponse `json:"observations"`
	Files           []hubfileResponse     `json:"files"`
	DownloadCount   int64                 `json:"downloadCount"`
	TotalSize       int64                 `json:"totalSize"`
	TotalSizeHuman  string                `json:"totalSizeHuman"`
	CreatedAt       string                `json:"createdAt"`
}

func splitTags(raw string) []string {
	tags := []string{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

func toHubfileResponse(f *dataset.Hubfile) hubfileResponse {
	return hubfileResponse{
		ID:        f.ID,
		DatasetID: f.DatasetID,
		Name:      f.Name,
		Checksum:  f.Checksum,
		Size:      f.Size,
		SizeHuman: dataset.HumanSize(f.Size),
	}
}

func toHubfileResponses(files []dataset.Hubfile) []hubfileResponse {
	out := make([]hubfileResponse, 0, len(files))
	for i := range files {
		out = append(out, toHubfileResponse(&files[i]))
	}
	return out
}

func toDatasetResponse(d *dataset.Dataset, domain string) datasetResponse {
	m := &d.Metadata
	resp := datasetResponse{
		ID:              d.ID,
		UserID:          d.UserID,
		Title:           m.Title,
		Description:     m.Description,
		PublicationType: string(m.PublicationType),
		PublicationDOI:  m.PublicationDOI,
		DatasetDOI:      m.DatasetDOI,
		DOIURL:          d.DOIURL(domain),
		DepositionID:    m.DepositionID,
		Synchronized:    d.Synchronized(),
		Tags:            splitTags(m.Tags),
		Authors:         make([]authorResponse, 0, len(m.Authors)),
		Observations:    make([]observationResponse, 0, len(m.Observations)),
		Files:           toHubfileResponses(d.Files),
		DownloadCount:   d.DownloadCount,
		TotalSize:       d.TotalSize(),
		TotalSizeHuman:  dataset.HumanSize(d.TotalSize()),
		CreatedAt:       formatTime(d.CreatedAt),
	}
	for _, a := range m.Authors {
		resp.Authors = append(resp.Authors, authorResponse{Name: a.Name, Affiliation: a.Affiliation, ORCID: a.ORCID})
	}
	for _, o := range m.Observations {
		resp.Observations = append(resp.Observations, observationResponse{
			ObjectName:      o.ObjectName,
			RA:              o.RA,
			Dec:             o.Dec,
			Magnitude:       o.Magnitude,
			ObservationDate: o.ObservationDate.Format("2006-01-02"),
			FilterUsed:      o.FilterUsed,
			Notes:           o.Notes,
		})
	}
	return resp
}

func toDatasetResponses(datasets []dataset.Dataset, domain string) []datasetResponse {
	out := make([]datasetResponse, 0, len(datasets))
	for i := range datasets {
		out = append(out, toDatasetResponse(&datasets[i], domain))
	}
	return out
}

type recommendationResponse struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	URL          string  `json:"url"`
	Score        float64 `json:"score"`
	Downloads    int64   `json:"downloads"`
	Coincidences int     `json:"coincidences"`
}

// datasetPath is the hub path of a dataset: its DOI page when synchronized.
func datasetPath(d *dataset.Dataset) string {
	if d.Synchronized() {
		return "/doi/" + *d.Metadata.DatasetDOI + "/"
	}
	return "/dataset/" + strconv.FormatInt(d.ID, 10)
}

func toRecommendationResponses(items []recommend.Item) []recommendationResponse {
	out := make([]recommendationResponse, 0, len(items))
	for i := range items {
		d := &items[i].Dataset
		out = append(out, recommendationResponse{
			ID:           d.ID,
			Title:        d.Metadata.Title,
			URL:          datasetPath(d),
			Score:        items[i].Score,
			Downloads:    items[i].Downloads,
			Coincidences: items[i].Coincidences,
		})
	}
	return out
}
