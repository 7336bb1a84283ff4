package handler

import (
	"errors"
	"net/http"

	"github.com/EdouardKamole/clean-city-dashboard/internal/geo"
	"github.com/EdouardKamole/clean-city-dashboard/internal/geolocation"
	"github.com/EdouardKamole/clean-city-dashboard/internal/mapview"
	"github.com/EdouardKamole/clean-city-dashboard/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	minZoom = 1
	maxZoom = 22
)

// coordinateJSON is a WGS-84 point in request bodies.
type coordinateJSON struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lon *float64 `json:"lon" binding:"required"`
}

func (p coordinateJSON) coordinate() geo.Coordinate {
	return geo.New(*p.Lat, *p.Lon)
}

// positionJSON is the device's own geolocation result, as relayed by the
// dashboard. Status is one of available, denied, timeout or unsupported.
type positionJSON struct {
	Status    string   `json:"status" binding:"required"`
	Lat       *float64 `json:"lat"`
	Lon       *float64 `json:"lon"`
	AccuracyM float64  `json:"accuracy_m"`
	Reason    string   `json:"reason"`
}

func (p positionJSON) fix() (geolocation.Fix, error) {
	status := geolocation.ParseStatus(p.Status)
	if status != geolocation.Available {
		return geolocation.Unavailable(status, p.Reason), nil
	}
	if p.Lat == nil || p.Lon == nil {
		return geolocation.Fix{}, errors.New("lat and lon are required when status is available")
	}
	c := geo.New(*p.Lat, *p.Lon)
	if err := c.Validate(); err != nil {
		return geolocation.Fix{}, err
	}
	return geolocation.Known(c, p.AccuracyM), nil
}

// createSessionRequest is the expected body for POST /api/v1/map-sessions.
type createSessionRequest struct {
	Destination coordinateJSON `json:"destination" binding:"required"`
	Zoom        int            `json:"zoom"`
	Mount       string         `json:"mount"`
	Position    *positionJSON  `json:"position"`
}

// CreateSession handles POST /api/v1/map-sessions
//
// Request body:
//
//	{"destination":{"lat":9.0560246,"lon":7.4984541},"zoom":14,
//	 "position":{"status":"available","lat":9.06,"lon":7.49}}
//
// zoom defaults to the configured DEFAULT_ZOOM; mount defaults to the new session id; position is
// optional and falls back to an IP lookup of the caller.
//
// Response 201: {"id":"...","snapshot":{...}}
// Response 400: malformed body or invalid coordinates.
// Response 409: the mount point already has a live map.
func (h *Handler) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Zoom != 0 && (req.Zoom < minZoom || req.Zoom > maxZoom) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "zoom must be between 1 and 22"})
		return
	}

	if req.Zoom == 0 {
		req.Zoom = h.defaultZoom
	}

	mountReq := service.MountRequest{
		Mount:       req.Mount,
		Destination: req.Destination.coordinate(),
		Zoom:        req.Zoom,
		ClientIP:    c.ClientIP(),
	}
	if req.Position != nil {
		fix, err := req.Position.fix()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "position: " + err.Error()})
			return
		}
		mountReq.Position = &fix
	}

	id, snap, err := h.sessions.Mount(c.Request.Context(), mountReq)
	if err != nil {
		h.writeSessionError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id, "snapshot": snap})
}

// GetSession handles GET /api/v1/map-sessions/:id
//
// Response 200: the session snapshot.
// Response 404: unknown session.
func (h *Handler) GetSession(c *gin.Context) {
	snap, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		h.writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// UpdateDestination handles PUT /api/v1/map-sessions/:id/destination
//
// Request body: {"lat":9.05,"lon":7.49}
//
// The new destination is shown at once; the route follows asynchronously.
func (h *Handler) UpdateDestination(c *gin.Context) {
	var req coordinateJSON
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.sessions.ChangeDestination(c.Param("id"), req.coordinate())
	if err != nil {
		h.writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// UpdatePosition handles PUT /api/v1/map-sessions/:id/position
//
// Request body: {"status":"available","lat":9.06,"lon":7.49,"accuracy_m":12}
// or {"status":"denied"}. Either way a new request cycle starts.
func (h *Handler) UpdatePosition(c *gin.Context) {
	var req positionJSON
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fix, err := req.fix()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.sessions.ReportPosition(c.Param("id"), fix)
	if err != nil {
		h.writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type zoomRequest struct {
	Zoom int `json:"zoom" binding:"required"`
}

// UpdateZoom handles PUT /api/v1/map-sessions/:id/zoom
//
// Request body: {"zoom":16}
func (h *Handler) UpdateZoom(c *gin.Context) {
	var req zoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Zoom < minZoom || req.Zoom > maxZoom {
		c.JSON(http.StatusBadRequest, gin.H{"error": "zoom must be between 1 and 22"})
		return
	}

	snap, err := h.sessions.SetZoom(c.Param("id"), req.Zoom)
	if err != nil {
		h.writeSessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// DeleteSession handles DELETE /api/v1/map-sessions/:id
//
// Response 204 on success, 404 for an unknown session.
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.sessions.Unmount(c.Param("id")); err != nil {
		h.writeSessionError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) writeSessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "map session not found"})
	case errors.Is(err, geo.ErrInvalidCoordinate):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, mapview.ErrMountInUse):
		c.JSON(http.StatusConflict, gin.H{"error": "mount point already has a live map"})
	default:
		h.log.Error("map session request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
