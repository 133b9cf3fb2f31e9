package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/genimage/internal/chat"
	"github.com/suPer8Hu/genimage/internal/common"
	"github.com/suPer8Hu/genimage/internal/httpapi/middleware"
)

type generateReq struct {
	Prompt string `json:"prompt"`
}

func (h *Handler) generateInput(c *gin.Context) (chat.GenerateInput, bool) {
	var req generateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return chat.GenerateInput{}, false
	}
	key := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(key) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return chat.GenerateInput{}, false
	}
	return chat.GenerateInput{
		ExternalUserID: middleware.ExternalUserID(c),
		Model:          c.Param("model"),
		Prompt:         req.Prompt,
		IdempotencyKey: key,
	}, true
}

// Generate runs a synchronous text->image model and returns the finished record.
func (h *Handler) Generate(c *gin.Context) {
	in, ok := h.generateInput(c)
	if !ok {
		return
	}
	rec, err := h.chats.GenerateSync(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, gin.H{
		"chatId":      rec.ID,
		"status":      rec.Status,
		"assetUrl":    rec.AssetURL,
		"description": rec.Description,
	})
}

// GenerateAsync submits to an out-of-band model and returns the pending job id.
func (h *Handler) GenerateAsync(c *gin.Context) {
	in, ok := h.generateInput(c)
	if !ok {
		return
	}
	rec, err := h.chats.GenerateAsync(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, common.Envelope{
		Code:    0,
		Message: "ok",
		Data:    gin.H{"jobId": rec.ID, "status": rec.Status},
	})
}
