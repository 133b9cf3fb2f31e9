package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/genimage/internal/common"
	"github.com/suPer8Hu/genimage/internal/httpapi/middleware"
)

// SyncMe creates the local user for the token subject on first sign-in.
func (h *Handler) SyncMe(c *gin.Context) {
	u, err := h.chats.SyncUser(c.Request.Context(), middleware.ExternalUserID(c), c.GetString(middleware.EmailKey))
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, u)
}

func (h *Handler) Me(c *gin.Context) {
	u, err := h.chats.ResolveOwner(c.Request.Context(), middleware.ExternalUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, u)
}
