package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classlinker-chat/internal/models"
	appErrors "github.com/noah-isme/classlinker-chat/pkg/errors"
	"github.com/noah-isme/classlinker-chat/pkg/response"
)

// IdentityKey is the gin context key storing the caller's chat identity.
const IdentityKey = "chatIdentity"

// ChatIdentity resolves the chat identity from the JWT claims. Tokens whose
// role has no chat role (administrators) are rejected with ACCESS_DENIED.
func ChatIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrNotAuthenticated)
			return
		}
		claims, ok := value.(*models.JWTClaims)
		if !ok {
			response.Error(c, appErrors.ErrNotAuthenticated)
			return
		}
		identity, ok := claims.Identity()
		if !ok {
			response.Error(c, appErrors.Clone(appErrors.ErrAccessDenied, "only teachers and students can use subject chat"))
			return
		}
		c.Set(IdentityKey, identity)
		c.Next()
	}
}

// RequireRoles restricts a route to the given token roles.
func RequireRoles(roles ...models.UserRole) gin.HandlerFunc {
	allowed := make(map[models.UserRole]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		value, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrNotAuthenticated)
			return
		}
		claims, ok := value.(*models.JWTClaims)
		if !ok {
			response.Error(c, appErrors.ErrNotAuthenticated)
			return
		}
		if _, ok := allowed[claims.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			return
		}
		c.Next()
	}
}
