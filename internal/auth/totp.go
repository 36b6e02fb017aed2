package auth

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
)

// TOTPIssuer is the issuer label shown in authenticator apps.
const TOTPIssuer = "ASTRONOMÍAHUB"

// TOTPSetup is returned when a user starts two-factor enrollment.
type TOTPSetup struct {
	Secret    string `json:"secret"`
	URI       string `json:"uri"`
	QRCodePNG string `json:"qrCodePng"` // base64
}

var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      0,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// NewTOTPSecret generates a secret for account and renders its otpauth URI as a QR PNG.
func NewTOTPSecret(account string) (*TOTPSetup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      TOTPIssuer,
		AccountName: account,
	})
	if err != nil {
		return nil, fmt.Errorf("generating totp secret: %w", err)
	}

	png, err := QRCode(key.URL())
	if err != nil {
		return nil, err
	}

	return &TOTPSetup{
		Secret:    key.Secret(),
		URI:       key.URL(),
		QRCodePNG: base64.StdEncoding.EncodeToString(png),
	}, nil
}

// TOTPURI rebuilds the otpauth URI for an existing secret.
func TOTPURI(account, secret string) string {
	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + TOTPIssuer + ":" + account,
		RawQuery: url.Values{"secret": {secret}, "issuer": {TOTPIssuer}}.Encode(),
	}
	return u.String()
}

// QRCode renders content as a 256px PNG.
func QRCode(content string) ([]byte, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("rendering qr code: %w", err)
	}
	return png, nil
}

// CheckTOTP reports whether code equals the TOTP value of secret for the window containing at.
func CheckTOTP(secret, code string, at time.Time) bool {
	if len(code) != 6 {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, at, totpOpts)
	return err == nil && ok
}
