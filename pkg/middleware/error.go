package middleware

import (
	"net/http"

	"flowmarket/pkg/errutil"
	"flowmarket/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Error renders the last error a handler attached with c.Error. BaseErrors
// keep their status and public message; anything else becomes a generic 500.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		log := logger.FromContext(c.Request.Context()).With(
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
		)

		if v, ok := errutil.As(err); ok {
			status := v.Code.HTTPStatus()
			if status >= http.StatusInternalServerError {
				log.Error("request failed", zap.Error(err))
			}
			c.JSON(status, v.JSON())
			return
		}

		log.Error("unhandled error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errutil.BaseError{
			Code:    errutil.StatusInternal,
			Message: "internal server error",
		}.JSON())
	}
}
