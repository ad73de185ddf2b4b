package middleware

import (
	"strings"

	"peercall/internal/core/domain"
	"peercall/internal/core/services"
	apperrors "peercall/pkg/errors"

	"github.com/gin-gonic/gin"
)

func abortWithError(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(err.HTTPStatus, gin.H{
		"error": gin.H{
			"code":    err.Code,
			"message": err.Message,
		},
	})
}

// CallAuthMiddleware validates the bearer token and verifies it grants access
// to the call named in the route.
func CallAuthMiddleware(tokens services.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithError(c, apperrors.NewUnauthorizedError("authorization header required"))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			abortWithError(c, apperrors.NewUnauthorizedError("invalid authorization header format"))
			return
		}

		claims, err := tokens.ValidateCallToken(parts[1])
		if err != nil {
			abortWithError(c, apperrors.NewUnauthorizedError(err.Error()))
			return
		}

		if callID := domain.CallID(c.Param("id")); callID != "" && claims.CallID != callID {
			abortWithError(c, apperrors.NewForbiddenError("token does not grant access to this call"))
			return
		}

		c.Set("call_id", claims.CallID)
		c.Next()
	}
}
