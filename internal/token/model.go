package token

import "time"

// Token types.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Token represents a row in the tokens table. Access tokens carry the jti of
// the refresh token they were minted from in ParentJTI.
type Token struct {
	ID           int64
	UserID       int64
	JTI          string
	Code         string
	Type         string
	IsActive     bool
	ParentJTI    *string
	ExpiresAt    time.Time
	DeviceInfo   string
	LocationInfo string
	CreatedAt    time.Time
}

// Expired reports whether the token is past its expiry at now.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Usable reports whether the token is active and unexpired at now.
func (t *Token) Usable(now time.Time) bool {
	return t.IsActive && !t.Expired(now)
}

// Pair is the result of a successful login.
type Pair struct {
	Access  *Token
	Refresh *Token
}

// ClientInfo describes the device and location a token was issued to.
type ClientInfo struct {
	Device   string
	Location string
}
