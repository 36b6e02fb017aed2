package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrTokenInvalid is returned when a presented token cannot be used.
var ErrTokenInvalid = errors.New("token is invalid, expired or revoked")

// Claims are the JWT claims carried by access and refresh tokens. The jti is
// stored in RegisteredClaims.ID.
type Claims struct {
	UserID int64  `json:"uid"`
	Type   string `json:"type"`
	Parent string `json:"pjti,omitempty"`
	jwt.RegisteredClaims
}

// Signer signs and parses HS256 session tokens.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer with the given HMAC secret.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the compact JWT for the given claims.
func (s *Signer) Sign(c Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature and expiry at now and returns the claims.
func (s *Signer) Parse(raw string, now time.Time) (*Claims, error) {
	var c Claims
	tok, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !tok.Valid || c.ID == "" {
		return nil, ErrTokenInvalid
	}
	return &c, nil
}

func jwtTime(t time.Time) *jwt.NumericDate {
	return jwt.NewNumericDate(t)
}
