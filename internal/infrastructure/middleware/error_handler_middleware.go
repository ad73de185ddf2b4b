package middleware

import (
	"errors"

	"peercall/internal/core/domain"
	apperrors "peercall/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware turns errors attached to the gin context into the
// API's error envelope. Domain sentinels get mapped to their HTTP status
// here so handlers can push errors through c.Error without translating.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		appErr := apperrors.GetAppError(err)
		if appErr == nil {
			appErr = mapDomainError(err)
		}

		logger.Errorw("request failed",
			"code", appErr.Code,
			"message", appErr.Message,
			"status", appErr.HTTPStatus,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)

		c.JSON(appErr.HTTPStatus, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
	}
}

func mapDomainError(err error) *apperrors.AppError {
	switch {
	case errors.Is(err, domain.ErrCallNotFound):
		return apperrors.NewNotFoundError("call")
	case errors.Is(err, domain.ErrStoreUnavailable):
		return apperrors.NewServiceUnavailableError("call store")
	default:
		return apperrors.NewInternalError("internal server error")
	}
}

// RecoveryMiddleware recovers from panics and returns the error envelope.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("panic recovered",
					"error", r,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				abortWithError(c, apperrors.NewInternalError("internal server error"))
			}
		}()

		c.Next()
	}
}
