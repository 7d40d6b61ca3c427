// Package middleware provides HTTP middleware for the registry API.
//
// Import Path: dsr.gov.ph/registry/internal/api/middleware
package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
	"dsr.gov.ph/registry/internal/pkg/logger"
)

// ErrorHandler renders the last error added via c.Error() as JSON.
// AppErrors keep their status, code, params and field errors; anything else
// becomes a 500.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		rid := GetRequestID(c.Request.Context())

		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			fields := []zap.Field{
				zap.String("request_id", rid),
				zap.String("actor", Actor(c.Request.Context())),
				zap.String("code", appErr.Code),
				zap.String("message", appErr.Message),
				zap.Int("status", appErr.HTTPStatus),
			}
			if appErr.Err != nil {
				fields = append(fields, zap.Error(appErr.Err))
			}
			if appErr.HTTPStatus >= http.StatusInternalServerError {
				logger.Error("Request error", fields...)
			} else {
				logger.Warn("Request error", fields...)
			}

			body := gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			}
			if len(appErr.Params) > 0 {
				body["params"] = appErr.Params
			}
			if len(appErr.FieldErrors) > 0 {
				body["field_errors"] = appErr.FieldErrors
			}
			c.JSON(appErr.HTTPStatus, body)
			return
		}

		logger.Error("Unhandled request error", zap.String("request_id", rid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    apperrors.CodeInternal,
			"message": "An internal error occurred",
		})
	}
}
