package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-client-tokens"

func TestIssueAndValidate(t *testing.T) {
	svc := NewTokenService(testSecret)

	token, expiresAt, err := svc.Issue("browser-1", time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "browser-1", claims.ClientKey)
	assert.Equal(t, "browser-1", claims.Subject)
	assert.Equal(t, DefaultIssuer, claims.Issuer)
}

func TestIssueRequiresClientKey(t *testing.T) {
	_, _, err := NewTokenService(testSecret).Issue("", time.Hour)
	assert.Error(t, err)
}

func TestValidateExpired(t *testing.T) {
	svc := NewTokenService(testSecret)
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := svc.Issue("k", time.Hour)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateRejects(t *testing.T) {
	svc := NewTokenService(testSecret)
	other, _, err := NewTokenService("another-secret-entirely-different").Issue("k", time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{ClientKey: "k"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "invalid.token.here"},
		{"wrong secret", other},
		{"unsigned", none},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Validate(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
