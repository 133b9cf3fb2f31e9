package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/genimage/internal/ai"
	"github.com/suPer8Hu/genimage/internal/chat"
	"github.com/suPer8Hu/genimage/internal/httpapi/middleware"
	"github.com/suPer8Hu/genimage/internal/metrics"
)

const maxWebhookBytes = 1 << 20

// ReplicateWebhook applies a prediction callback. The provider reads only
// {success}; correlation misses are acknowledged so they are not retried.
func (h *Handler) ReplicateWebhook(c *gin.Context) {
	log := middleware.Log(c)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		metrics.RecordWebhook("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unreadable body"})
		return
	}

	if err := h.webhooks.Verify(c.Request.Header, body); err != nil {
		metrics.RecordWebhook("bad_signature")
		log.Warn().Msg("webhook signature rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid signature"})
		return
	}

	p, err := ai.ParsePrediction(body)
	if err != nil {
		metrics.RecordWebhook("bad_request")
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid prediction payload"})
		return
	}

	outcome, err := h.chats.HandleWebhook(c.Request.Context(), p)
	switch {
	case errors.Is(err, chat.ErrNotFound):
		metrics.RecordWebhook("not_found")
		log.Warn().Str("external_job_id", p.ID).Msg("no chat found for prediction")
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "chat not found"})
		return
	case err != nil:
		metrics.RecordWebhook("error")
		log.Error().Err(err).Str("external_job_id", p.ID).Msg("webhook processing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "webhook processing failed"})
		return
	}

	metrics.RecordWebhook(string(outcome))
	if outcome == chat.WebhookDuplicate {
		log.Info().Str("external_job_id", p.ID).Msg("duplicate prediction callback")
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
