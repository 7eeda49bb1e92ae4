package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"studymate/internal/app"
	"studymate/internal/transport/http/response"
	"studymate/internal/vision"
)

type ChatHandler struct {
	chatService *app.ChatService
}

type SendMessageRequest struct {
	DocumentID string `json:"document_id" binding:"required,max=255"`
	Message    string `json:"message"`
	// Image is a base64 payload, optionally with a data:image/...;base64, prefix.
	Image    string `json:"image"`
	Socratic bool   `json:"socratic"`
	Feynman  bool   `json:"feynman"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	var image []byte
	if req.Image != "" {
		decoded, err := vision.DecodeDataURL(req.Image)
		if err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid image payload")
			return
		}
		if len(decoded) > maxImageSize {
			response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, "image too large (max 5MB)")
			return
		}
		image = decoded
	}

	result, err := h.chatService.SendMessage(c.Request.Context(), app.ChatInput{
		OwnerID:    userID,
		DocumentID: req.DocumentID,
		Message:    req.Message,
		Image:      image,
		Socratic:   req.Socratic,
		Feynman:    req.Feynman,
	})
	if err != nil {
		writeError(c, err, "send message failed")
		return
	}

	response.OK(c, result)
}

func (h *ChatHandler) GetHistory(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	documentID := c.Query("document_id")
	if documentID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document_id")
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, parseErr := strconv.Atoi(raw); parseErr == nil {
			limit = parsed
		}
	}

	history, err := h.chatService.History(c.Request.Context(), userID, documentID, limit)
	if err != nil {
		writeError(c, err, "get history failed")
		return
	}

	response.OK(c, history)
}
