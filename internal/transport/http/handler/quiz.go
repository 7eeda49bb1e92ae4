package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"studymate/internal/app"
	"studymate/internal/transport/http/response"
)

type QuizHandler struct {
	quizService *app.QuizService
}

type GenerateQuizRequest struct {
	DocumentID string `json:"document_id" binding:"required,max=255"`
	Topic      string `json:"topic" binding:"max=512"`
}

type RecordMistakesRequest struct {
	DocumentID string             `json:"document_id" binding:"required,max=255"`
	Mistakes   []app.MistakeInput `json:"mistakes" binding:"required"`
}

func NewQuizHandler(quizService *app.QuizService) *QuizHandler {
	return &QuizHandler{quizService: quizService}
}

func (h *QuizHandler) Generate(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req GenerateQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	quiz, err := h.quizService.Generate(c.Request.Context(), app.QuizInput{
		OwnerID:    userID,
		DocumentID: req.DocumentID,
		Topic:      req.Topic,
	})
	if err != nil {
		writeError(c, err, "generate quiz failed")
		return
	}
	response.OK(c, quiz)
}

func (h *QuizHandler) SaveResult(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req app.QuizResultInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	saved, err := h.quizService.SaveResult(c.Request.Context(), userID, req)
	if err != nil {
		writeError(c, err, "save quiz result failed")
		return
	}
	response.OK(c, saved)
}

func (h *QuizHandler) ListResults(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}

	results, err := h.quizService.Results(c.Request.Context(), userID, limit)
	if err != nil {
		writeError(c, err, "list quiz results failed")
		return
	}
	response.OK(c, results)
}

func (h *QuizHandler) RecordMistakes(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req RecordMistakesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	n, err := h.quizService.RecordMistakes(c.Request.Context(), userID, req.DocumentID, req.Mistakes)
	if err != nil {
		writeError(c, err, "record mistakes failed")
		return
	}
	response.OK(c, gin.H{"recorded": n})
}
