package utils

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Standard Response Structure
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// RespondSuccess sends a standard success response
func RespondSuccess(c *gin.Context, code int, message string, data interface{}) {
	c.JSON(code, APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// RespondError sends a standard error response. The message passed is
// assumed safe for the end user; the raw error only goes to the log.
func RespondError(c *gin.Context, code int, message string, err error) {
	if err != nil {
		Logger.Error(message, zap.Error(err))
	}
	c.JSON(code, APIResponse{
		Success: false,
		Message: message,
	})
}
