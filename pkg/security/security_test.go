package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndComparePassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$")

	match, err := ComparePassword("correct horse battery", hash)
	require.NoError(t, err)
	assert.True(t, match)

	match, err = ComparePassword("wrong password", hash)
	require.NoError(t, err)
	assert.False(t, match)
}

func TestComparePasswordRejectsMalformedHash(t *testing.T) {
	_, err := ComparePassword("anything", "not-a-hash")
	assert.Error(t, err)
}

func TestGenerateOpaqueToken(t *testing.T) {
	a, err := GenerateOpaqueToken(32)
	require.NoError(t, err)
	b, err := GenerateOpaqueToken(32)
	require.NoError(t, err)

	// 32 bytes, base64url without padding.
	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	token, err := GenerateAccessToken("user-1", "device-1", "biometric", "secret", time.Minute)
	require.NoError(t, err)

	claims, err := ValidateToken(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "device-1", claims.DeviceID)
	assert.Equal(t, "biometric", claims.AuthMethod)
	assert.Equal(t, "bioguard", claims.Issuer)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	token, err := GenerateAccessToken("user-1", "device-1", "biometric", "secret", time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(token, "other-secret")
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	token, err := GenerateAccessToken("user-1", "device-1", "password", "secret", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateToken(token, "secret")
	assert.Error(t, err)
}

func TestStepUpSecretAndCode(t *testing.T) {
	secret, err := GenerateStepUpSecret()
	require.NoError(t, err)
	assert.Len(t, secret, 32)

	uri := StepUpQRCodeURI("user-1", secret)
	assert.Contains(t, uri, "otpauth://totp/")
	assert.Contains(t, uri, "issuer=BioGuard")
	assert.Contains(t, uri, secret)

	assert.False(t, VerifyStepUpCode("000000", secret))
}
