package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/genimage/internal/common"
)

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				Log(c).Error().
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				common.AbortFail(c, http.StatusInternalServerError, 50000, "internal server error")
			}
		}()
		c.Next()
	}
}
