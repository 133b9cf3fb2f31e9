package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/genimage/internal/chat"
	"github.com/suPer8Hu/genimage/internal/common"
	"github.com/suPer8Hu/genimage/internal/httpapi/middleware"
	"github.com/suPer8Hu/genimage/internal/store/redisstore"
)

type statusView struct {
	ID       string      `json:"id"`
	Status   chat.Status `json:"status"`
	AssetURL *string     `json:"assetUrl,omitempty"`
	Error    *string     `json:"error,omitempty"`
}

func newStatusView(c *chat.Chat) statusView {
	return statusView{ID: c.ID, Status: c.Status, AssetURL: c.AssetURL, Error: c.Error}
}

func (h *Handler) GetChatStatus(c *gin.Context) {
	rec, err := h.chats.GetStatus(c.Request.Context(), middleware.ExternalUserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, newStatusView(rec))
}

func (h *Handler) ListChats(c *gin.Context) {
	page := 1
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			common.Fail(c, http.StatusBadRequest, 10004, "invalid page")
			return
		}
		page = n
	}

	res, err := h.chats.ListHistory(c.Request.Context(), middleware.ExternalUserID(c), page)
	if err != nil {
		writeError(c, err)
		return
	}
	common.OK(c, res)
}

// StreamChatStatus pushes status events over SSE until the record is
// terminal or the wait budget runs out.
func (h *Handler) StreamChatStatus(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.ExternalUserID(c)
	chatID := c.Param("id")

	rec, err := h.chats.GetStatus(ctx, uid, chatID)
	if err != nil {
		writeError(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		common.Fail(c, http.StatusInternalServerError, 50003, "streaming unsupported")
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"message\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\n", event)
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	last := newStatusView(rec)
	writeJSON("status", last)
	if rec.Status.IsTerminal() {
		return
	}

	var events <-chan redisstore.StatusEvent
	if h.streams != nil {
		ch, closeSub, err := h.streams.SubscribeStatus(ctx, rec.ID)
		if err != nil {
			middleware.Log(c).Warn().Err(err).Str("chat_id", rec.ID).Msg("status subscribe failed; polling only")
		} else {
			defer closeSub()
			events = ch
		}
	}

	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	deadline := time.NewTimer(h.maxWait)
	defer deadline.Stop()

	// refresh re-reads the record and reports whether the stream is finished.
	refresh := func() bool {
		cur, err := h.chats.GetStatus(ctx, uid, rec.ID)
		if err != nil {
			writeJSON("error", gin.H{"message": err.Error()})
			return true
		}
		view := newStatusView(cur)
		if view.Status != last.Status {
			last = view
			writeJSON("status", view)
		}
		return cur.Status.IsTerminal()
	}

	for {
		select {
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if refresh() {
				return
			}
		case <-poll.C:
			if refresh() {
				return
			}
		case <-heartbeat.C:
			writeJSON("ping", gin.H{"ts": time.Now().Unix()})
		case <-deadline.C:
			writeJSON("timeout", last)
			return
		case <-ctx.Done():
			return
		}
	}
}
