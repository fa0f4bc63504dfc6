package jwt

import (
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_RoundTrip(t *testing.T) {
	m := NewManager(TokenConfig{Secret: []byte("s3cret")})
	userID := uuid.New()

	token, err := m.GenerateAccessToken(userID, "alice")
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "alice", claims.DisplayName)
	assert.Equal(t, "codeduel", claims.Issuer)
}

func TestManager_Rejects(t *testing.T) {
	m := NewManager(TokenConfig{Secret: []byte("s3cret")})
	other := NewManager(TokenConfig{Secret: []byte("different")})

	foreign, err := other.GenerateAccessToken(uuid.New(), "mallory")
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.ValidateAccessToken("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewManager(TokenConfig{Secret: []byte("s3cret"), AccessTTL: -time.Minute})
	old, err := expired.GenerateAccessToken(uuid.New(), "bob")
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(old)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestManager_SubjectOnlyToken(t *testing.T) {
	secret := []byte("s3cret")
	m := NewManager(TokenConfig{Secret: secret})
	userID := uuid.New()

	signed, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.RegisteredClaims{
		Subject:   userID.String(),
		ExpiresAt: gojwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(secret)
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(signed)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)

	bad, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.RegisteredClaims{
		Subject: "not-a-uuid",
	}).SignedString(secret)
	require.NoError(t, err)
	_, err = m.ValidateAccessToken(bad)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
