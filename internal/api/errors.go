package api

import (
	"net/http"

	"restaurant-service/internal/apperr"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError renders err as {"error", "code"} with the status its kind maps to
func (h *Handler) writeError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if e, ok := apperr.As(err); ok {
		if status >= http.StatusInternalServerError {
			h.logger.Error("Request failed",
				zap.String("path", c.FullPath()),
				zap.String("code", e.Code),
				zap.Error(err))
		}
		c.JSON(status, gin.H{
			"error": e.Message,
			"code":  e.Code,
		})
		return
	}

	h.logger.Error("Unhandled error", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": "internal server error",
		"code":  "internal",
	})
}

func writeBindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"code":    apperr.ErrInvalidRequest.Code,
		"details": err.Error(),
	})
}
