package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"studymate/internal/app"
	"studymate/internal/transport/http/response"
)

const maxImageSize = 5 << 20 // 5 MB

// VisionHandler describes an uploaded image the same way chat turns do.
type VisionHandler struct {
	describer app.ImageDescriber
}

func NewVisionHandler(describer app.ImageDescriber) *VisionHandler {
	return &VisionHandler{describer: describer}
}

// Describe accepts a multipart form with an "image" file.
func (h *VisionHandler) Describe(c *gin.Context) {
	if _, ok := requireUser(c); !ok {
		return
	}
	if h.describer == nil {
		response.Error(c, http.StatusServiceUnavailable, response.CodeUpstreamUnavailable, "image description is not configured")
		return
	}

	file, err := c.FormFile("image")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing image file (form field 'image')")
		return
	}
	if file.Size > maxImageSize {
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, "image too large (max 5MB)")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to open uploaded file")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxImageSize+1))
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to read image")
		return
	}

	desc, err := h.describer.Describe(c.Request.Context(), data)
	if err != nil {
		response.Error(c, http.StatusBadGateway, response.CodeUpstreamUnavailable, "describe image failed")
		return
	}
	response.OK(c, gin.H{"description": desc})
}
