package security

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"net/url"

	"github.com/pquerna/otp/totp"
)

// GenerateStepUpSecret generates a random Base32 TOTP secret for the step-up
// second factor demanded at elevated threat tiers.
func GenerateStepUpSecret() (string, error) {
	secret := make([]byte, 20)
	if _, err := rand.Read(secret); err != nil {
		return "", err
	}
	// Authenticator apps require Base32, not Base64
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret), nil
}

// StepUpQRCodeURI returns the otpauth URI for QR code provisioning.
func StepUpQRCodeURI(account, secret string) string {
	issuer := "BioGuard"
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s",
		url.PathEscape(issuer), url.PathEscape(account), secret, url.QueryEscape(issuer))
}

// VerifyStepUpCode checks if the provided 6-digit code is valid for the given secret.
func VerifyStepUpCode(code, secret string) bool {
	return totp.Validate(code, secret)
}
