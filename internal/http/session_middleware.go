package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"secure-auth/internal/service"
	"secure-auth/internal/session"
)

const identityKey = "auth_identity"

// RequireSession valida el bearer token de sesión y guarda la identidad en el contexto.
func RequireSession(sessions *session.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sessions == nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "sessions not configured"})
			c.Abort()
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			unauthorized(c, "missing token")
			c.Abort()
			return
		}

		claims, err := sessions.Parse(strings.TrimSpace(header[len("Bearer "):]))
		if err != nil {
			unauthorized(c, "invalid token")
			c.Abort()
			return
		}

		c.Set(identityKey, service.Identity{AccountID: claims.AccountID, Email: claims.Email})
		c.Next()
	}
}

// GetIdentity obtiene la identidad autenticada desde el contexto.
func GetIdentity(c *gin.Context) (service.Identity, bool) {
	val, ok := c.Get(identityKey)
	if !ok {
		return service.Identity{}, false
	}
	id, ok := val.(service.Identity)
	return id, ok
}
