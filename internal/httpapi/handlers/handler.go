package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/genimage/internal/ai"
	"github.com/suPer8Hu/genimage/internal/chat"
	"github.com/suPer8Hu/genimage/internal/common"
	"github.com/suPer8Hu/genimage/internal/extract"
	"github.com/suPer8Hu/genimage/internal/httpapi/middleware"
	"github.com/suPer8Hu/genimage/internal/store/redisstore"
)

// StatusSubscriber pushes terminal transitions to status streams.
type StatusSubscriber interface {
	SubscribeStatus(ctx context.Context, chatID string) (<-chan redisstore.StatusEvent, func(), error)
}

// HealthCheck is one dependency probed by /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Deps struct {
	Chats    *chat.Service
	Extract  *extract.Service
	Webhooks *ai.WebhookVerifier
	Streams  StatusSubscriber
	Health   []HealthCheck

	MaxImageBytes      int64
	StreamPollInterval time.Duration
	StreamMaxWait      time.Duration
	HeartbeatInterval  time.Duration
}

type Handler struct {
	chats    *chat.Service
	extract  *extract.Service
	webhooks *ai.WebhookVerifier
	streams  StatusSubscriber
	health   []HealthCheck

	maxImageBytes int64
	pollInterval  time.Duration
	maxWait       time.Duration
	heartbeat     time.Duration
}

func NewHandler(d Deps) *Handler {
	h := &Handler{
		chats:         d.Chats,
		extract:       d.Extract,
		webhooks:      d.Webhooks,
		streams:       d.Streams,
		health:        d.Health,
		maxImageBytes: d.MaxImageBytes,
		pollInterval:  d.StreamPollInterval,
		maxWait:       d.StreamMaxWait,
		heartbeat:     d.HeartbeatInterval,
	}
	if h.maxImageBytes <= 0 {
		h.maxImageBytes = 10 << 20
	}
	if h.pollInterval <= 0 {
		h.pollInterval = 3 * time.Second
	}
	if h.maxWait <= 0 {
		h.maxWait = 5 * time.Minute
	}
	if h.heartbeat <= 0 {
		h.heartbeat = 15 * time.Second
	}
	return h
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"message": "pong"})
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true
	for _, hc := range h.health {
		if err := hc.Check(ctx); err != nil {
			checks[hc.Name] = err.Error()
			healthy = false
			continue
		}
		checks[hc.Name] = "ok"
	}
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, common.Envelope{Code: 50300, Message: "unhealthy", Data: checks})
		return
	}
	common.OK(c, checks)
}

// writeError maps domain and provider errors to the response envelope.
func writeError(c *gin.Context, err error) {
	var pe *ai.ProviderError
	switch {
	case errors.Is(err, chat.ErrUnauthorized):
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	case errors.Is(err, chat.ErrUserNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "user not found")
	case errors.Is(err, chat.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40402, "chat not found")
	case errors.Is(err, ai.ErrUnknownProvider):
		common.Fail(c, http.StatusNotFound, 40403, "unknown model")
	case errors.Is(err, chat.ErrInvalidInput), errors.Is(err, ai.ErrInvalidInput):
		common.Fail(c, http.StatusBadRequest, 10002, err.Error())
	case errors.Is(err, chat.ErrGenerationInFlight):
		common.Fail(c, http.StatusConflict, 40901, err.Error())
	case errors.As(err, &pe):
		switch pe.Kind {
		case ai.KindRejected:
			common.Fail(c, http.StatusBadGateway, 50201, pe.Error())
		case ai.KindMalformed:
			common.Fail(c, http.StatusBadGateway, 50202, pe.Error())
		default:
			common.Fail(c, http.StatusServiceUnavailable, 50301, pe.Error())
		}
	case errors.Is(err, ai.ErrNotConfigured):
		common.Fail(c, http.StatusServiceUnavailable, 50302, "model is not configured")
	case errors.Is(err, context.DeadlineExceeded):
		common.Fail(c, http.StatusServiceUnavailable, 50301, "provider timed out")
	default:
		middleware.Log(c).Error().Err(err).Msg("request failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}
