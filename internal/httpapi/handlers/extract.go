package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/genimage/internal/ai"
	"github.com/suPer8Hu/genimage/internal/common"
)

type extractReq struct {
	ImageURL string `json:"imageUrl"`
}

// readImage accepts a multipart "image" field or a JSON {imageUrl}.
func (h *Handler) readImage(c *gin.Context) (ai.Image, bool) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxImageBytes+(1<<20))
		fh, err := c.FormFile("image")
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				common.Fail(c, http.StatusRequestEntityTooLarge, 41301, "image too large")
				return ai.Image{}, false
			}
			common.Fail(c, http.StatusBadRequest, 10005, "image file is required")
			return ai.Image{}, false
		}
		if fh.Size > h.maxImageBytes {
			common.Fail(c, http.StatusRequestEntityTooLarge, 41301, "image too large")
			return ai.Image{}, false
		}
		f, err := fh.Open()
		if err != nil {
			common.Fail(c, http.StatusBadRequest, 10005, "image file is unreadable")
			return ai.Image{}, false
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, h.maxImageBytes+1))
		if err != nil {
			common.Fail(c, http.StatusBadRequest, 10005, "image file is unreadable")
			return ai.Image{}, false
		}
		if int64(len(data)) > h.maxImageBytes {
			common.Fail(c, http.StatusRequestEntityTooLarge, 41301, "image too large")
			return ai.Image{}, false
		}
		return ai.Image{Data: data}, true
	}

	var req extractReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return ai.Image{}, false
	}
	return ai.Image{URL: req.ImageURL}, true
}

// Extract reads text or a caption from an image with the model in the path.
func (h *Handler) Extract(c *gin.Context) {
	img, ok := h.readImage(c)
	if !ok {
		return
	}
	res, err := h.extract.Extract(c.Request.Context(), c.Param("model"), img)
	if err != nil {
		writeError(c, err)
		return
	}

	data := gin.H{"model": res.Model}
	if res.Kind == ai.KindCaption {
		data["caption"] = res.Text
	} else {
		data["text"] = res.Text
	}
	if res.Message != "" {
		data["message"] = res.Message
	}
	common.OK(c, data)
}

func (h *Handler) ListExtractModels(c *gin.Context) {
	common.OK(c, gin.H{"models": h.extract.Models()})
}
