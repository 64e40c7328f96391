package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/classlinker-chat/internal/middleware"
	"github.com/noah-isme/classlinker-chat/internal/models"
)

func identityFromContext(c *gin.Context) (models.Identity, bool) {
	if value, exists := c.Get(middleware.IdentityKey); exists {
		if identity, ok := value.(models.Identity); ok {
			return identity, true
		}
	}
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return models.Identity{}, false
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return models.Identity{}, false
	}
	return claims.Identity()
}
