package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/classlinker-chat/internal/models"
	appErrors "github.com/noah-isme/classlinker-chat/pkg/errors"
)

func signTestToken(t *testing.T, secret string, claims models.JWTClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidateToken(t *testing.T) {
	svc := NewAuthService("secret")
	token := signTestToken(t, "secret", models.JWTClaims{
		UserID:   "T1",
		Role:     models.RoleTeacher,
		FullName: "Ms. Rahma",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "T1", claims.UserID)
	identity, ok := claims.Identity()
	require.True(t, ok)
	assert.Equal(t, models.ChatRoleTeacher, identity.Role)
}

func TestValidateTokenRejects(t *testing.T) {
	svc := NewAuthService("secret")
	expired := signTestToken(t, "secret", models.JWTClaims{
		UserID: "T1",
		Role:   models.RoleTeacher,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	wrongKey := signTestToken(t, "other", models.JWTClaims{UserID: "T1", Role: models.RoleTeacher})
	noSubject := signTestToken(t, "secret", models.JWTClaims{Role: models.RoleTeacher})

	for _, token := range []string{"", "garbage", expired, wrongKey, noSubject} {
		_, err := svc.ValidateToken(token)
		require.Error(t, err)
		assert.True(t, errors.Is(err, appErrors.ErrNotAuthenticated))
	}
}
