package apikey

import (
	"strings"
	"time"
)

// Scopes a key may carry.
const (
	ScopeReadDatasets   = "read:datasets"
	ScopeWriteDatasets  = "write:datasets"
	ScopeDeleteDatasets = "delete:datasets"
	ScopeReadStats      = "read:stats"
)

// DefaultScopes is applied when a key is created without explicit scopes.
const DefaultScopes = ScopeReadDatasets

var knownScopes = map[string]bool{
	ScopeReadDatasets:   true,
	ScopeWriteDatasets:  true,
	ScopeDeleteDatasets: true,
	ScopeReadStats:      true,
}

// Key represents a stored API key. The raw key is never persisted.
type Key struct {
	ID            int64
	UserID        int64
	Name          string
	KeyHash       string
	KeyPrefix     string
	Scopes        string
	IsActive      bool
	ExpiresAt     *time.Time
	RequestsCount int64
	LastUsedAt    *time.Time
	CreatedAt     time.Time
}

// ScopeList returns the key's scopes, trimmed, without empties.
func (k *Key) ScopeList() []string {
	return splitScopes(k.Scopes)
}

// HasScope reports whether the key grants scope.
func (k *Key) HasScope(scope string) bool {
	for _, s := range k.ScopeList() {
		if s == scope {
			return true
		}
	}
	return false
}

// Usable reports whether the key is active and unexpired at now.
func (k *Key) Usable(now time.Time) bool {
	if !k.IsActive {
		return false
	}
	return k.ExpiresAt == nil || k.ExpiresAt.After(now)
}

func splitScopes(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
