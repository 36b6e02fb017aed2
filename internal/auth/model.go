package auth

import (
	"slices"
	"strings"
	"time"
)

// Role names. Every active account carries RoleUser.
const (
	RoleUser    = "user"
	RoleGuest   = "guest"
	RoleCurator = "curator"
	RoleAdmin   = "admin"
)

// User represents a row in the users table.
type User struct {
	ID                  int64
	Email               string
	PasswordHash        string
	TOTPSecret          *string
	TOTPEnabled         bool
	ResetToken          *string
	ResetTokenExpiresAt *time.Time
	CreatedAt           time.Time

	Profile *Profile
	Roles   []string
}

// Profile holds the researcher details attached to a user.
type Profile struct {
	UserID      int64
	Name        string
	Surname     string
	Affiliation *string
	ORCID       *string
}

// AuthorName returns the profile formatted as a dataset author ("Surname, Name").
func (p *Profile) AuthorName() string {
	return p.Surname + ", " + p.Name
}

// HasRole reports whether the user carries the named role.
func (u *User) HasRole(name string) bool {
	return HasRole(u.Roles, name)
}

// HasRole reports whether roles contains name.
func HasRole(roles []string, name string) bool {
	return slices.Contains(roles, name)
}

// IsCurator reports whether roles grant dataset curation. Admins are curators.
func IsCurator(roles []string) bool {
	return HasRole(roles, RoleCurator) || HasRole(roles, RoleAdmin)
}

// Identity is stored in the request context after session authentication.
type Identity struct {
	UserID int64
	Email  string
	Roles  []string
	JTI    string // jti of the presented access token
}

// IsCurator reports whether the identity may edit or delete any dataset.
func (i *Identity) IsCurator() bool {
	return IsCurator(i.Roles)
}

// AdminPolicy decides admin capability by role or by a configured email allow-list.
type AdminPolicy struct {
	emails map[string]struct{}
}

// NewAdminPolicy creates a policy from an allow-list of emails (case-insensitive).
func NewAdminPolicy(emails []string) *AdminPolicy {
	set := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		set[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	return &AdminPolicy{emails: set}
}

// IsAdmin reports whether the identity is an admin.
func (p *AdminPolicy) IsAdmin(id *Identity) bool {
	if id == nil {
		return false
	}
	if HasRole(id.Roles, RoleAdmin) {
		return true
	}
	_, ok := p.emails[strings.ToLower(id.Email)]
	return ok
}
