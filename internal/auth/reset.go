package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ResetTokenTTL is how long a password reset token stays valid.
const ResetTokenTTL = 30 * time.Minute

// ErrInvalidResetToken is returned when a reset token has a bad signature or has expired.
var ErrInvalidResetToken = errors.New("invalid or expired reset token")

type resetClaims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// SignResetToken returns an HS256 token carrying userID that expires after ResetTokenTTL.
func SignResetToken(secret []byte, userID int64, now time.Time) (string, error) {
	claims := resetClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "password-reset",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ResetTokenTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing reset token: %w", err)
	}
	return signed, nil
}

// ParseResetToken validates signature and age and returns the embedded user id.
// It does not consult the database.
func ParseResetToken(secret []byte, raw string, now time.Time) (int64, error) {
	var claims resetClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithSubject("password-reset"),
	)
	if err != nil || !token.Valid || claims.UserID == 0 {
		return 0, ErrInvalidResetToken
	}
	return claims.UserID, nil
}
