package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ncfpos/internal/core/apperror"
	appctx "ncfpos/internal/core/context"
	"ncfpos/pkg/logger"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ErrorHandler renders the last error registered on the context. Handlers only call
// c.Error; this is the single place responses for failures are written.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		writeError(c)
	}
}

// writeError renders c.Errors.Last unless a response was already written.
func writeError(c *gin.Context) {
	if len(c.Errors) == 0 || c.Writer.Written() {
		return
	}
	err := c.Errors.Last().Err
	ctx := c.Request.Context()

	if appErr, ok := apperror.AsAppError(err); ok {
		if appErr.Err != nil {
			logger.Error(ctx, "request error", "code", appErr.Code, "cause", appErr.Err)
		}
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		body := ErrorBody{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}
		if appErr.Code == apperror.CodeInternal || appErr.Code == apperror.CodeDatabase {
			// Causes stay in the log.
			body.Details = map[string]any{"request_id": appctx.GetRequestID(ctx)}
		}
		c.JSON(status, body)
		return
	}

	logger.Error(ctx, "unhandled error", "error", err)
	c.JSON(http.StatusInternalServerError, ErrorBody{
		Code:    apperror.CodeInternal,
		Message: "Internal server error",
		Details: map[string]any{"request_id": appctx.GetRequestID(ctx)},
	})
}
