package handler

import (
	"errors"
	"net/http"

	"github.com/EdouardKamole/clean-city-dashboard/internal/geo"
	"github.com/EdouardKamole/clean-city-dashboard/internal/routing"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GetRoute handles GET /api/v1/routes
//
// Query params:
//   - origin_lat, origin_lon (required) float64 — WGS-84 start point
//   - dest_lat, dest_lon     (required) float64 — WGS-84 pickup point
//
// Response 200:
//
//	{"geometry":[{"latitude":9.06,"longitude":7.49},...],"instructions":[...],
//	 "total_distance_m":1500,"total_duration_s":300}
//
// Response 400: missing or invalid query parameters.
// Response 404: the provider found no route between the points.
// Response 502: the routing provider failed or answered garbage.
func (h *Handler) GetRoute(c *gin.Context) {
	originLat, ok := parseRequiredFloat(c, "origin_lat")
	if !ok {
		return
	}
	originLon, ok := parseRequiredFloat(c, "origin_lon")
	if !ok {
		return
	}
	destLat, ok := parseRequiredFloat(c, "dest_lat")
	if !ok {
		return
	}
	destLon, ok := parseRequiredFloat(c, "dest_lon")
	if !ok {
		return
	}

	route, err := h.routingService.RouteBetween(c.Request.Context(),
		geo.New(originLat, originLon), geo.New(destLat, destLon))
	if err != nil {
		h.writeRouteError(c, err)
		return
	}

	c.JSON(http.StatusOK, route)
}

func (h *Handler) writeRouteError(c *gin.Context, err error) {
	if errors.Is(err, geo.ErrInvalidCoordinate) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	failure := routing.Classify(err)
	switch failure.Kind {
	case routing.KindEmpty:
		c.JSON(http.StatusNotFound, gin.H{"error": "no route between the given points", "failure": failure})
	case routing.KindNetwork, routing.KindProvider:
		h.log.Warn("route lookup failed", zap.String("kind", failure.Kind), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "routing provider unavailable", "failure": failure})
	default:
		h.log.Error("route lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to calculate route"})
	}
}
