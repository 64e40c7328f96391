package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classlinker-chat/internal/models"
	appErrors "github.com/noah-isme/classlinker-chat/pkg/errors"
	"github.com/noah-isme/classlinker-chat/pkg/response"
)

// ContextUserKey is the gin context key storing JWT claims.
const ContextUserKey = "currentUser"

// TokenQueryParam carries the access token for browser websocket clients,
// which cannot set an Authorization header on the upgrade request.
const TokenQueryParam = "token"

// TokenValidator validates access tokens.
type TokenValidator interface {
	ValidateToken(token string) (*models.JWTClaims, error)
}

// JWT protects routes by requiring a valid access token.
func JWT(validator TokenValidator) gin.HandlerFunc {
	return jwt(validator, false)
}

// JWTWithQueryToken behaves like JWT but also accepts ?token= when no header is present.
func JWTWithQueryToken(validator TokenValidator) gin.HandlerFunc {
	return jwt(validator, true)
}

func jwt(validator TokenValidator, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c, allowQuery)
		if err != nil {
			response.Error(c, err)
			return
		}

		claims, err := validator.ValidateToken(token)
		if err != nil {
			response.Error(c, err)
			return
		}

		c.Set(ContextUserKey, claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context, allowQuery bool) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if allowQuery {
			if token := strings.TrimSpace(c.Query(TokenQueryParam)); token != "" {
				return token, nil
			}
		}
		return "", appErrors.ErrNotAuthenticated
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", appErrors.Clone(appErrors.ErrNotAuthenticated, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}
