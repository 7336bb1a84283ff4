package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Timeout returns a Gin middleware that attaches a deadline to the request
// context. The handler chain runs synchronously, so gin.Context stays
// single-threaded.
//
// If the deadline fired and the handler returned without writing, a 503 is
// sent. A handler blocked on something that ignores its context is not
// interrupted; routing and storage calls all take the request context.
//
// WebSocket upgrades are passed through untouched: a stream lives as long as
// its viewer stays connected.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if isWebSocketUpgrade(c.Request) {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)

		c.Next()

		if ctx.Err() != nil && !c.Writer.Written() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "request timed out",
			})
		}
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
