package response

import "github.com/gin-gonic/gin"

const (
	CodeOK                  = 0
	CodePartialIngestion    = 20701
	CodeBadRequest          = 40000
	CodeUsernameExists      = 40001
	CodeEmailExists         = 40002
	CodeUnauthorized        = 40100
	CodeInvalidCredentials  = 40101
	CodeNotFound            = 40400
	CodeDocumentNotFound    = 40401
	CodePayloadTooLarge     = 41300
	CodeQuotaExceeded       = 42900
	CodeInternalServer      = 50000
	CodeUpstreamUnavailable = 50200
)

type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	c.JSON(200, APIResponse{
		Code:    CodeOK,
		Message: "ok",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
	})
}

// ErrorWithData is Error plus a payload the client can act on, such as quota counts.
func ErrorWithData(c *gin.Context, httpStatus, code int, message string, data interface{}) {
	c.JSON(httpStatus, APIResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}
