package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTokenAcceptsItsOwnLoginToken(t *testing.T) {
	svc := NewService("test-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"operator_id": float64(42),
		"email":       "ops@example.com",
		"exp":         time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	id, err := svc.ValidateToken(signed)
	require.NoError(t, err)
	assert.Equal(t, 42, id)
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	svc := NewService("test-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"operator_id": float64(1),
		"exp":         time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(signed)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpiredToken(t *testing.T) {
	svc := NewService("test-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"operator_id": float64(1),
		"exp":         time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = svc.ValidateToken(signed)
	assert.Error(t, err)
}

func TestContextWithOperatorRoundTrips(t *testing.T) {
	ctx := ContextWithOperator(context.Background(), 7)

	id, ok := OperatorFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, 7, id)
}

func TestOperatorFromContextMissing(t *testing.T) {
	_, ok := OperatorFromContext(context.Background())
	assert.False(t, ok)
}

func TestNewServiceFallsBackToDevelopmentSecret(t *testing.T) {
	svc := NewService("")
	assert.Equal(t, []byte("development-secret-key-change-in-production"), svc.jwtSecret)
}
