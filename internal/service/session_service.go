package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/EdouardKamole/clean-city-dashboard/internal/coordinator"
	"github.com/EdouardKamole/clean-city-dashboard/internal/geo"
	"github.com/EdouardKamole/clean-city-dashboard/internal/geolocation"
	"github.com/EdouardKamole/clean-city-dashboard/internal/mapview"
	"github.com/EdouardKamole/clean-city-dashboard/internal/routing"
	"github.com/EdouardKamole/clean-city-dashboard/internal/stream"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSessionNotFound is returned for unknown or already closed session ids.
var ErrSessionNotFound = errors.New("map session not found")

// EventPublisher pushes session events to viewers. *stream.Hub satisfies it.
type EventPublisher interface {
	Publish(sessionID, eventType string, data any)
	CloseSession(sessionID string)
}

// LocatorFactory builds the fallback resolver used when the device has not
// reported a usable position. clientIP is the requester's address.
type LocatorFactory func(clientIP string) geolocation.Resolver

// MountRequest opens a map session.
type MountRequest struct {
	// Mount names the view the surface is attached to; defaults to the
	// session id.
	Mount       string
	Destination geo.Coordinate
	Zoom        int
	// Position is the device's own fix, if it sent one.
	Position *geolocation.Fix
	ClientIP string
}

type mapSession struct {
	id       string
	coord    *coordinator.Coordinator
	reported *geolocation.Reported
}

// SessionService owns the live map sessions, one coordinator each.
type SessionService struct {
	router     routing.Router
	surfaces   mapview.SurfaceFactory
	events     EventPublisher
	newLocator LocatorFactory
	log        *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*mapSession
}

// NewSessionService creates a SessionService. events and newLocator may be nil.
func NewSessionService(
	router routing.Router,
	surfaces mapview.SurfaceFactory,
	events EventPublisher,
	newLocator LocatorFactory,
	log *zap.Logger,
) *SessionService {
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionService{
		router:     router,
		surfaces:   surfaces,
		events:     events,
		newLocator: newLocator,
		log:        log,
		sessions:   make(map[string]*mapSession),
	}
}

// Mount opens a session and starts its first request cycle.
func (s *SessionService) Mount(ctx context.Context, req MountRequest) (string, coordinator.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return "", coordinator.Snapshot{}, err
	}
	if err := req.Destination.Validate(); err != nil {
		return "", coordinator.Snapshot{}, fmt.Errorf("service: Mount: %w", err)
	}

	id := uuid.NewString()
	mount := req.Mount
	if mount == "" {
		mount = id
	}

	reported := geolocation.NewReported()
	if req.Position != nil {
		reported.Report(*req.Position)
	}
	resolver := geolocation.Chain{reported}
	if s.newLocator != nil {
		resolver = append(resolver, s.newLocator(req.ClientIP))
	}

	log := s.log.With(zap.String("session_id", id))
	opts := []coordinator.Option{coordinator.WithLogger(log)}
	if s.events != nil {
		opts = append(opts,
			coordinator.WithObserver(func(snap coordinator.Snapshot) {
				s.events.Publish(id, stream.EventSnapshot, snap)
			}),
			coordinator.WithNotifier(coordinator.NotifierFunc(func(n coordinator.Notice) {
				s.events.Publish(id, stream.EventNotice, n)
			})),
		)
	}

	coord := coordinator.New(resolver, s.router, mapview.NewSession(s.surfaces), opts...)
	if err := coord.Mount(mount, req.Destination, req.Zoom); err != nil {
		coord.Dispose()
		return "", coordinator.Snapshot{}, fmt.Errorf("service: Mount: %w", err)
	}

	s.mu.Lock()
	s.sessions[id] = &mapSession{id: id, coord: coord, reported: reported}
	s.mu.Unlock()

	log.Info("map session mounted", zap.String("mount", mount), zap.Stringer("destination", req.Destination))
	return id, coord.Snapshot(), nil
}

// Get returns the session's latest snapshot.
func (s *SessionService) Get(id string) (coordinator.Snapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return coordinator.Snapshot{}, err
	}
	return sess.coord.Snapshot(), nil
}

// ChangeDestination points the session at a new pickup location.
func (s *SessionService) ChangeDestination(id string, destination geo.Coordinate) (coordinator.Snapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return coordinator.Snapshot{}, err
	}
	if err := sess.coord.SetDestination(destination); err != nil {
		return coordinator.Snapshot{}, s.wrap("ChangeDestination", err)
	}
	return sess.coord.Snapshot(), nil
}

// ReportPosition stores the device's latest fix and re-runs the cycle.
func (s *SessionService) ReportPosition(id string, fix geolocation.Fix) (coordinator.Snapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return coordinator.Snapshot{}, err
	}
	sess.reported.Report(fix)
	if err := sess.coord.Refresh(); err != nil {
		return coordinator.Snapshot{}, s.wrap("ReportPosition", err)
	}
	return sess.coord.Snapshot(), nil
}

// SetZoom changes the session's zoom level.
func (s *SessionService) SetZoom(id string, zoom int) (coordinator.Snapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return coordinator.Snapshot{}, err
	}
	if err := sess.coord.SetZoom(zoom); err != nil {
		return coordinator.Snapshot{}, s.wrap("SetZoom", err)
	}
	return sess.coord.Snapshot(), nil
}

// Unmount disposes the session and disconnects its viewers.
func (s *SessionService) Unmount(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	sess.coord.Dispose()
	if s.events != nil {
		s.events.CloseSession(id)
	}
	s.log.Info("map session unmounted", zap.String("session_id", id))
	return nil
}

// Exists reports whether id names a live session.
func (s *SessionService) Exists(id string) bool {
	_, err := s.lookup(id)
	return err == nil
}

// Len returns the number of live sessions.
func (s *SessionService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown disposes every session.
func (s *SessionService) Shutdown() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*mapSession)
	s.mu.Unlock()

	for id, sess := range sessions {
		sess.coord.Dispose()
		if s.events != nil {
			s.events.CloseSession(id)
		}
	}
	s.log.Info("map sessions disposed", zap.Int("count", len(sessions)))
}

func (s *SessionService) lookup(id string) (*mapSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// wrap maps a coordinator racing with Unmount to ErrSessionNotFound.
func (s *SessionService) wrap(op string, err error) error {
	if errors.Is(err, coordinator.ErrDisposed) {
		return ErrSessionNotFound
	}
	return fmt.Errorf("service: %s: %w", op, err)
}
