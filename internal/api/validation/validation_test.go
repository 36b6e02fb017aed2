package validation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/astronomiahub/hub/internal/api/validation"
)

func ptr(s string) *string { return &s }

func fields(errs []validation.FieldError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Field)
	}
	return out
}

func TestValidateSignUp(t *testing.T) {
	t.Parallel()

	valid := validation.SignUpRequest{
		Email:    "vera@example.org",
		Password: "correct horse",
		Name:     "Vera",
		Surname:  "Rubin",
		ORCID:    ptr("0000-0002-1825-0097"),
	}

	tests := []struct {
		name   string
		mutate func(r *validation.SignUpRequest)
		want   []string
	}{
		{"valid", func(*validation.SignUpRequest) {}, []string{}},
		{"missing email", func(r *validation.SignUpRequest) { r.Email = " " }, []string{"email"}},
		{"malformed email", func(r *validation.SignUpRequest) { r.Email = "vera" }, []string{"email"}},
		{"display name email", func(r *validation.SignUpRequest) { r.Email = "Vera <vera@example.org>" }, []string{"email"}},
		{"short password", func(r *validation.SignUpRequest) { r.Password = "short" }, []string{"password"}},
		{"missing names", func(r *validation.SignUpRequest) { r.Name, r.Surname = "", "" }, []string{"name", "surname"}},
		{"bad orcid", func(r *validation.SignUpRequest) { r.ORCID = ptr("1234") }, []string{"orcid"}},
		{"empty orcid ignored", func(r *validation.SignUpRequest) { r.ORCID = ptr("") }, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := valid
			tt.mutate(&req)
			assert.Equal(t, tt.want, fields(validation.ValidateSignUp(req)))
		})
	}
}

func TestValidateLogin(t *testing.T) {
	t.Parallel()

	assert.Empty(t, validation.ValidateLogin("vera@example.org", "pw"))
	assert.Equal(t, []string{"email", "password"}, fields(validation.ValidateLogin("", "")))
}

func TestValidORCID(t *testing.T) {
	t.Parallel()

	assert.True(t, validation.ValidORCID("0000-0002-1825-0097"))
	assert.True(t, validation.ValidORCID("0000-0002-1694-233X"))
	assert.False(t, validation.ValidORCID("0000-0002-1825-009"))
	assert.False(t, validation.ValidORCID("https://orcid.org/0000-0002-1825-0097"))
}

func TestValidateCreateAPIKey(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		req  validation.CreateAPIKeyRequest
		want []string
	}{
		{"valid defaults", validation.CreateAPIKeyRequest{Name: "ci"}, []string{}},
		{"valid scopes", validation.CreateAPIKeyRequest{Name: "ci", Scopes: []string{"read:datasets", "read:stats"}, ExpiresAt: &future}, []string{}},
		{"missing name", validation.CreateAPIKeyRequest{}, []string{"name"}},
		{"unknown scope", validation.CreateAPIKeyRequest{Name: "ci", Scopes: []string{"admin:all"}}, []string{"scopes"}},
		{"expired", validation.CreateAPIKeyRequest{Name: "ci", ExpiresAt: &past}, []string{"expiresAt"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, fields(validation.ValidateCreateAPIKey(tt.req, now)))
		})
	}
}

func TestValidateDataset(t *testing.T) {
	t.Parallel()

	valid := func() validation.DatasetRequest {
		return validation.DatasetRequest{
			Title:           "M31 photometry",
			Description:     "Nightly V-band photometry",
			PublicationType: "observation_data",
			PublicationDOI:  ptr("10.1234/abcd"),
			Authors:         []validation.AuthorRequest{{Name: "Rubin, Vera", ORCID: ptr("0000-0002-1825-0097")}},
			Observations: []validation.ObservationRequest{{
				ObjectName:      "M31",
				RA:              "00:42:44.3",
				Dec:             "+41:16:09",
				ObservationDate: "2024-10-01",
			}},
		}
	}

	tests := []struct {
		name   string
		mutate func(r *validation.DatasetRequest)
		want   []string
	}{
		{"valid", func(*validation.DatasetRequest) {}, []string{}},
		{"empty publication type", func(r *validation.DatasetRequest) { r.PublicationType = "" }, []string{}},
		{"unknown publication type", func(r *validation.DatasetRequest) { r.PublicationType = "poem" }, []string{"publicationType"}},
		{"bad publication doi", func(r *validation.DatasetRequest) { r.PublicationDOI = ptr("doi:xyz") }, []string{"publicationDoi"}},
		{"missing title", func(r *validation.DatasetRequest) { r.Title = "" }, []string{"title"}},
		{"author without name", func(r *validation.DatasetRequest) {
			r.Authors = append(r.Authors, validation.AuthorRequest{Name: " "})
		}, []string{"authors[1].name"}},
		{"no observations", func(r *validation.DatasetRequest) { r.Observations = nil }, []string{"observations"}},
		{"bad coordinates", func(r *validation.DatasetRequest) {
			r.Observations[0].RA = "24:00:00"
			r.Observations[0].Dec = "+91:00:00"
		}, []string{"observations[0].ra", "observations[0].dec"}},
		{"bad date", func(r *validation.DatasetRequest) { r.Observations[0].ObservationDate = "01/10/2024" }, []string{"observations[0].observationDate"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := valid()
			tt.mutate(&req)
			assert.Equal(t, tt.want, fields(validation.ValidateDataset(req)))
		})
	}
}
