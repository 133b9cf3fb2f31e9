package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/genimage/internal/common"
	"github.com/suPer8Hu/genimage/internal/httpapi/handlers"
	"github.com/suPer8Hu/genimage/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler, verifier middleware.TokenVerifier, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// called by the provider, authenticated by signature
	r.POST("/webhooks/replicate", h.ReplicateWebhook)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(verifier))

	authGroup.POST("/users/me", h.SyncMe)
	authGroup.GET("/users/me", h.Me)

	authGroup.POST("/generate/:model", h.Generate)
	authGroup.POST("/generate/:model/async", h.GenerateAsync)

	authGroup.GET("/chats", h.ListChats)
	authGroup.GET("/chats/:id", h.GetChatStatus)
	authGroup.GET("/chats/:id/events", h.StreamChatStatus)

	authGroup.GET("/extract", h.ListExtractModels)
	authGroup.POST("/extract/:model", h.Extract)
	return r
}
