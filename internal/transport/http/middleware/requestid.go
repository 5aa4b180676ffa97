package middleware

import (
	"github.com/ErlanBelekov/backup-agent/internal/traceid"
	"github.com/gin-gonic/gin"
)

// RequestID puts the caller's X-Request-ID, or a fresh one, into the request
// context and echoes it back.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = traceid.New()
		}

		c.Request = c.Request.WithContext(traceid.WithRequestID(c.Request.Context(), id))
		c.Header("X-Request-ID", id)
		c.Next()
	}
}
