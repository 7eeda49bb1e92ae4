package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"studymate/internal/app"
	"studymate/internal/transport/http/response"
)

// StudyHandler serves the per-owner study aids: daily podcast, usage and coaching.
type StudyHandler struct {
	podcastService *app.PodcastService
	quotaService   *app.QuotaService
	coachService   *app.CoachService
}

type CoachRequest struct {
	Message string `json:"message" binding:"max=4000"`
}

func NewStudyHandler(podcastService *app.PodcastService, quotaService *app.QuotaService, coachService *app.CoachService) *StudyHandler {
	return &StudyHandler{
		podcastService: podcastService,
		quotaService:   quotaService,
		coachService:   coachService,
	}
}

func (h *StudyHandler) DailyPodcast(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	result, err := h.podcastService.GetOrGenerate(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, "daily podcast failed")
		return
	}
	response.OK(c, result)
}

func (h *StudyHandler) Usage(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	usage, err := h.quotaService.Usage(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, "get usage failed")
		return
	}
	response.OK(c, usage)
}

func (h *StudyHandler) Coach(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req CoachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.coachService.Advise(c.Request.Context(), app.CoachInput{OwnerID: userID, Message: req.Message})
	if err != nil {
		writeError(c, err, "coach failed")
		return
	}
	response.OK(c, result)
}
