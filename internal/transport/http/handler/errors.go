package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"studymate/internal/app"
	"studymate/internal/transport/http/middleware"
	"studymate/internal/transport/http/response"
)

// writeError maps service errors to status and code. Validation and lookup
// failures echo the service message; everything else gets a generic one.
func writeError(c *gin.Context, err error, fallback string) {
	var quotaErr *app.QuotaExceededError
	switch {
	case errors.As(err, &quotaErr):
		response.ErrorWithData(c, http.StatusTooManyRequests, response.CodeQuotaExceeded, "daily limit reached", gin.H{
			"feature":   quotaErr.Feature.String(),
			"used":      quotaErr.Used,
			"limit":     quotaErr.Limit,
			"requested": quotaErr.Requested,
		})
	case errors.Is(err, app.ErrValidation):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.CodeNotFound, err.Error())
	case errors.Is(err, app.ErrUnauthorized):
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "unauthorized")
	case errors.Is(err, app.ErrUpstreamUnavailable):
		response.Error(c, http.StatusBadGateway, response.CodeUpstreamUnavailable, "upstream service unavailable, please retry")
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, fallback)
	}
}

func getUserIDFromContext(c *gin.Context) (string, bool) {
	userIDAny, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return "", false
	}
	userID, ok := userIDAny.(string)
	return userID, ok && userID != ""
}

func requireUser(c *gin.Context) (string, bool) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
	}
	return userID, ok
}
