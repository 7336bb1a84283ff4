// Package handler exposes map sessions and one-off route lookups over HTTP.
package handler

import (
	"net/http"
	"strconv"

	"github.com/EdouardKamole/clean-city-dashboard/internal/service"
	"github.com/EdouardKamole/clean-city-dashboard/internal/stream"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler holds the domain dependencies for all HTTP handlers.
// A single Handler is shared across all route groups; individual methods are
// registered as gin handler functions.
type Handler struct {
	sessions       *service.SessionService
	routingService *service.RoutingService
	hub            *stream.Hub
	log            *zap.Logger
	upgrader       websocket.Upgrader
	defaultZoom    int
}

// New creates a Handler with the given dependencies. hub may be nil, in
// which case the stream endpoint answers 503. defaultZoom applies to
// sessions created without a zoom level.
func New(
	sessions *service.SessionService,
	routingService *service.RoutingService,
	hub *stream.Hub,
	defaultZoom int,
	log *zap.Logger,
) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		sessions:       sessions,
		routingService: routingService,
		hub:            hub,
		log:            log,
		defaultZoom:    defaultZoom,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The dashboard is served from its own origin; access is
			// gated by the bearer token instead.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// parseRequiredFloat extracts a required float64 query parameter.
// On failure it writes a 400 response and returns (0, false).
func parseRequiredFloat(c *gin.Context, name string) (float64, bool) {
	raw := c.Query(name)
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " query parameter is required"})
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a valid number"})
		return 0, false
	}
	return v, true
}
