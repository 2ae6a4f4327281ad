package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldmon/kismet-monitor/internal/config"
	"github.com/fieldmon/kismet-monitor/pkg/crypto"
)

func manager() *JWTManager {
	return NewJWTManager(config.JWTConfig{Secret: "0123456789abcdef", AccessTokenTTL: time.Hour})
}

func TestGenerateAndValidate(t *testing.T) {
	m := manager()
	token, expires, err := m.GenerateToken("operator")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "operator", claims.Username)
	assert.Equal(t, "operator", claims.Subject)
	assert.NotEmpty(t, claims.ID)
}

func TestValidate_Rejects(t *testing.T) {
	m := manager()
	token, _, err := m.GenerateToken("operator")
	require.NoError(t, err)

	other := NewJWTManager(config.JWTConfig{Secret: "another-secret-value", AccessTokenTTL: time.Hour})
	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = manager().ValidateToken("garbage")
	assert.Error(t, err)
}

func TestValidate_RejectsNoneAlgorithm(t *testing.T) {
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Username: "operator"})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = manager().ValidateToken(token)
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	hash, err := crypto.HashPassword("pw")
	require.NoError(t, err)
	op := Operator{Username: "operator", PasswordHash: hash}
	m := manager()

	token, _, err := m.Login(op, "operator", "pw")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	_, _, err = m.Login(op, "operator", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = m.Login(op, "root", "pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = m.Login(Operator{}, "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestEnabled(t *testing.T) {
	assert.True(t, manager().Enabled())
	assert.False(t, NewJWTManager(config.JWTConfig{}).Enabled())
}
