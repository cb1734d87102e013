package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustguard/riskcore/configs"
)

func TestValidatePasswordStrength(t *testing.T) {
	tests := []struct {
		password string
		valid    bool
	}{
		{"Str0ngEnough", true},
		{"Ab1defgh", true},
		{"short1A", false},
		{"alllowercase1", false},
		{"ALLUPPERCASE1", false},
		{"NoDigitsHere", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.valid, ValidatePasswordStrength(tt.password), tt.password)
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("Str0ngEnough")
	require.NoError(t, err)
	require.NotEqual(t, "Str0ngEnough", hash)

	assert.True(t, CheckPassword("Str0ngEnough", hash))
	assert.False(t, CheckPassword("Str0ngWrong1", hash))
	assert.False(t, CheckPassword("Str0ngEnough", "not-a-bcrypt-hash"))
}

func TestJWTGenerateAndValidate(t *testing.T) {
	m := NewJWTManager(configs.JWTConfig{Secret: "test-secret", Expiration: time.Hour})
	operatorID := uuid.New()

	token, err := m.GenerateToken(operatorID, "ops@trustguard.io", "admin")
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, operatorID, claims.OperatorID)
	assert.Equal(t, "ops@trustguard.io", claims.Email)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "riskcore", claims.Issuer)
	assert.Equal(t, operatorID.String(), claims.Subject)
}

func TestJWTWrongSecretRejected(t *testing.T) {
	issuer := NewJWTManager(configs.JWTConfig{Secret: "secret-a", Expiration: time.Hour})
	verifier := NewJWTManager(configs.JWTConfig{Secret: "secret-b", Expiration: time.Hour})

	token, err := issuer.GenerateToken(uuid.New(), "ops@trustguard.io", "admin")
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTExpiredToken(t *testing.T) {
	m := NewJWTManager(configs.JWTConfig{Secret: "test-secret", Expiration: -time.Minute})

	token, err := m.GenerateToken(uuid.New(), "ops@trustguard.io", "admin")
	require.NoError(t, err)

	_, err = m.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTGarbageToken(t *testing.T) {
	m := NewJWTManager(configs.JWTConfig{Secret: "test-secret", Expiration: time.Hour})
	_, err := m.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
