package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/genimage/internal/auth"
	"github.com/suPer8Hu/genimage/internal/common"
)

const (
	ExternalUserIDKey = "external_user_id"
	EmailKey          = "email"
)

// TokenVerifier resolves a bearer token to the caller identity.
type TokenVerifier interface {
	Verify(token string) (*auth.Identity, error)
}

func AuthRequired(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			common.AbortFail(c, http.StatusUnauthorized, 40101, "missing bearer token")
			return
		}
		id, err := v.Verify(token)
		if err != nil {
			common.AbortFail(c, http.StatusUnauthorized, 40101, "invalid token")
			return
		}
		c.Set(ExternalUserIDKey, id.Subject)
		c.Set(EmailKey, id.Email)
		c.Next()
	}
}

// ExternalUserID returns the verified token subject, empty when absent.
func ExternalUserID(c *gin.Context) string {
	return c.GetString(ExternalUserIDKey)
}
