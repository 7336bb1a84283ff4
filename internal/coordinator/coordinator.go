// Package coordinator drives one pickup map view: it resolves the origin,
// asks the routing provider for a route and draws the outcome, falling back
// to the destination pin on any failure.
//
// Every coordinator runs a single event loop that owns its state and its
// map session. Resolver and router calls run on worker goroutines and post
// their completions back to the loop tagged with the cycle token; a
// completion whose token is no longer current is dropped.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/EdouardKamole/clean-city-dashboard/internal/geo"
	"github.com/EdouardKamole/clean-city-dashboard/internal/geolocation"
	"github.com/EdouardKamole/clean-city-dashboard/internal/mapview"
	"github.com/EdouardKamole/clean-city-dashboard/internal/routing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrDisposed is returned by calls made after Dispose.
	ErrDisposed = errors.New("coordinator: disposed")
	// ErrNotMounted is returned by calls that need a mounted view.
	ErrNotMounted = errors.New("coordinator: not mounted")
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithNotifier sets where routing failure notices go.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithObserver registers fn to receive every published snapshot. fn runs
// on the event loop and must not block or call back into the coordinator.
func WithObserver(fn func(Snapshot)) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.observers = append(c.observers, fn)
		}
	}
}

// withTokenSource replaces the token generator. Used in tests.
func withTokenSource(fn func() string) Option {
	return func(c *Coordinator) { c.newToken = fn }
}

// completion is posted by a worker when its asynchronous step finishes.
type completion struct {
	token string
	// Exactly one of the two groups below is set.
	fix      *geolocation.Fix
	request  *RouteRequest
	route    *routing.RouteResult
	routeErr error
}

// Coordinator orchestrates resolver → router → map session for one view.
type Coordinator struct {
	resolver  geolocation.Resolver
	router    routing.Router
	session   *mapview.Session
	log       *zap.Logger
	notifier  Notifier
	observers []func(Snapshot)
	newToken  func() string

	cmds    chan func()
	results chan completion
	done    chan struct{}
	snap    atomic.Pointer[Snapshot]

	// Owned by the event loop.
	state       State
	mode        Mode
	mounted     bool
	destination geo.Coordinate
	origin      *geo.Coordinate
	locStatus   string
	route       *routing.RouteResult
	failure     *routing.Failure
	straight    float64
	token       string
	cycleCtx    context.Context
	cancel      context.CancelFunc
	version     uint64
}

// New starts a coordinator in the Idle state. The session is owned by the
// coordinator from here on and is disposed with it.
func New(resolver geolocation.Resolver, router routing.Router, session *mapview.Session, opts ...Option) *Coordinator {
	c := &Coordinator{
		resolver: resolver,
		router:   router,
		session:  session,
		log:      zap.NewNop(),
		newToken: func() string { return uuid.NewString() },
		cmds:     make(chan func()),
		results:  make(chan completion),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.publish()
	go c.loop()
	return c
}

// Mount initializes the map on mount centered on destination and starts the
// first cycle. Mounting an already mounted coordinator is a no-op.
func (c *Coordinator) Mount(mount string, destination geo.Coordinate, zoom int) error {
	return c.do(func() error {
		if c.mounted {
			return nil
		}
		if err := c.session.Initialize(mount, mapview.Destination(destination), zoom); err != nil {
			return fmt.Errorf("coordinator: mount: %w", err)
		}
		c.mounted = true
		c.destination = destination
		c.startCycle()
		return nil
	})
}

// SetDestination replaces the destination and starts a fresh cycle; any
// work still in flight for the previous destination is cancelled and its
// completion discarded. Setting the current destination again is a no-op.
func (c *Coordinator) SetDestination(destination geo.Coordinate) error {
	if err := destination.Validate(); err != nil {
		return fmt.Errorf("coordinator: set destination: %w", err)
	}
	return c.do(func() error {
		if !c.mounted {
			return ErrNotMounted
		}
		if destination == c.destination {
			return nil
		}
		c.destination = destination
		if err := c.session.ShowDestinationOnly(mapview.Destination(destination)); err != nil {
			return fmt.Errorf("coordinator: set destination: %w", err)
		}
		c.startCycle()
		return nil
	})
}

// Refresh starts a fresh cycle for the current destination, e.g. after the
// device reported a new position.
func (c *Coordinator) Refresh() error {
	return c.do(func() error {
		if !c.mounted {
			return ErrNotMounted
		}
		c.startCycle()
		return nil
	})
}

// SetZoom changes the zoom level without starting a new cycle.
func (c *Coordinator) SetZoom(zoom int) error {
	return c.do(func() error {
		if !c.mounted {
			return ErrNotMounted
		}
		if err := c.session.SetZoom(zoom); err != nil {
			return fmt.Errorf("coordinator: set zoom: %w", err)
		}
		c.publish()
		return nil
	})
}

// Dispose cancels outstanding work, releases the map session and stops the
// event loop. It returns once the loop has exited and is safe to call more
// than once. Workers still blocked in a resolver or router that ignores
// cancellation finish on their own; their completions are dropped.
func (c *Coordinator) Dispose() {
	err := c.do(func() error {
		c.cancelCycle()
		c.token = ""
		c.session.Dispose()
		c.state = Disposed
		c.mode = ModeNone
		c.route = nil
		c.publish()
		return nil
	})
	if err != nil && !errors.Is(err, ErrDisposed) {
		c.log.Warn("dispose failed", zap.Error(err))
	}
	<-c.done
}

// Snapshot returns the latest published state.
func (c *Coordinator) Snapshot() Snapshot {
	return *c.snap.Load()
}

// Done is closed when the event loop has exited.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// do runs fn on the event loop and returns its result.
func (c *Coordinator) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case c.cmds <- func() { reply <- fn() }:
	case <-c.done:
		return ErrDisposed
	}
	// The loop runs every command it accepts.
	return <-reply
}

func (c *Coordinator) loop() {
	defer close(c.done)
	for {
		select {
		case cmd := <-c.cmds:
			cmd()
		case r := <-c.results:
			c.complete(r)
		}
		if c.state == Disposed {
			return
		}
	}
}

// post hands a completion to the loop, or drops it once the loop is gone.
func (c *Coordinator) post(r completion) {
	select {
	case c.results <- r:
	case <-c.done:
	}
}

func (c *Coordinator) cancelCycle() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// startCycle invalidates the current token and resolves the origin anew.
func (c *Coordinator) startCycle() {
	c.cancelCycle()

	ctx, cancel := context.WithCancel(context.Background())
	c.cycleCtx = ctx
	c.cancel = cancel
	c.token = c.newToken()
	c.state = ResolvingOrigin
	c.mode = ModeNone
	c.origin = nil
	c.locStatus = ""
	c.route = nil
	c.failure = nil
	c.straight = 0
	c.publish()

	token := c.token
	c.log.Debug("resolving origin", zap.String("token", token), zap.Stringer("destination", c.destination))
	go func() {
		fix := c.resolver.Resolve(ctx)
		c.post(completion{token: token, fix: &fix})
	}()
}

func (c *Coordinator) complete(r completion) {
	if r.token != c.token {
		c.log.Debug("discarding stale completion",
			zap.String("token", r.token), zap.String("current", c.token))
		return
	}
	if r.fix != nil {
		c.originResolved(*r.fix)
		return
	}
	c.routeComputed(*r.request, r.route, r.routeErr)
}

func (c *Coordinator) originResolved(fix geolocation.Fix) {
	c.locStatus = fix.Status.String()
	if !fix.Available() {
		c.log.Info("origin unavailable, showing destination only",
			zap.String("status", fix.Status.String()), zap.String("reason", fix.Reason))
		c.showDestinationOnly(&routing.Failure{Kind: KindLocationUnavailable, Message: fix.Status.String()})
		return
	}

	origin := fix.Coordinate
	c.origin = &origin
	c.state = ComputingRoute
	c.publish()

	req := RouteRequest{Origin: origin, Destination: c.destination, Token: c.token}
	ctx := c.cycleCtx
	go func() {
		res, err := c.router.Route(ctx, routing.RoutingRequest{Origin: req.Origin, Destination: req.Destination})
		c.post(completion{token: req.Token, request: &req, route: res, routeErr: err})
	}()
}

func (c *Coordinator) routeComputed(req RouteRequest, res *routing.RouteResult, err error) {
	c.cancelCycle()

	if err == nil {
		err = c.session.ShowRoute(mapview.Origin(req.Origin), mapview.Destination(req.Destination), res)
	}
	if err != nil {
		failure := routing.Classify(err)
		c.log.Warn("routing failed, showing destination only",
			zap.String("token", req.Token),
			zap.String("kind", failure.Kind),
			zap.Int("status", failure.Status),
			zap.String("code", failure.Code),
			zap.Error(err))
		c.straight = geo.HaversineMeters(req.Origin, req.Destination)
		c.showDestinationOnly(failure)
		if c.notifier != nil {
			c.notifier.Notify(Notice{
				Severity: "error",
				Title:    "Route unavailable",
				Message:  "Could not compute a route to the pickup location. Showing the pickup location only.",
				Failure:  failure,
			})
		}
		return
	}

	c.route = res
	c.state = Displayed
	c.mode = ModeWithRoute
	c.log.Debug("route displayed",
		zap.String("token", req.Token),
		zap.Int("points", len(res.Geometry)),
		zap.Float64("distance_m", res.TotalDistanceMeters))
	c.publish()
}

func (c *Coordinator) showDestinationOnly(failure *routing.Failure) {
	c.cancelCycle()
	if err := c.session.ShowDestinationOnly(mapview.Destination(c.destination)); err != nil {
		c.log.Error("show destination only", zap.Error(err))
	}
	c.route = nil
	c.failure = failure
	c.state = Displayed
	c.mode = ModeDestinationOnly
	c.publish()
}

// publish stores a fresh snapshot and hands it to the observers.
func (c *Coordinator) publish() {
	c.version++
	s := &Snapshot{
		Version:            c.version,
		State:              c.state,
		Mode:               c.mode,
		Token:              c.token,
		Destination:        c.destination,
		LocationStatus:     c.locStatus,
		Route:              c.route,
		Failure:            c.failure,
		StraightLineMeters: c.straight,
		Scene:              c.session.Render(),
		UpdatedAt:          time.Now().UTC(),
	}
	if c.origin != nil {
		o := *c.origin
		s.Origin = &o
	}
	c.snap.Store(s)
	for _, fn := range c.observers {
		fn(*s)
	}
}
