// Package geolocation obtains the requester's current position.
//
// Unavailability is a normal outcome: Resolve never returns an error, it
// returns a Fix whose Status says why no position could be produced.
package geolocation

import (
	"context"
	"sync"

	"github.com/EdouardKamole/clean-city-dashboard/internal/geo"
)

// Status describes the outcome of a single resolution.
type Status int

const (
	// Available means Fix.Coordinate holds a usable position.
	Available Status = iota
	// Denied means the host refused access to its location.
	Denied
	// TimedOut means no fix arrived within the allowed time.
	TimedOut
	// Unsupported means the host has no location capability.
	Unsupported
)

func (s Status) String() string {
	switch s {
	case Available:
		return "available"
	case Denied:
		return "denied"
	case TimedOut:
		return "timeout"
	case Unsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// ParseStatus maps the strings reported by the dashboard client to a Status.
// Unrecognized values are treated as Unsupported.
func ParseStatus(s string) Status {
	switch s {
	case "available":
		return Available
	case "denied":
		return Denied
	case "timeout":
		return TimedOut
	default:
		return Unsupported
	}
}

// Fix is the result of one resolution attempt.
type Fix struct {
	Coordinate geo.Coordinate
	// AccuracyM is the reported horizontal accuracy in meters; 0 when unknown.
	AccuracyM float64
	Status    Status
	// Reason carries diagnostic detail for unavailable fixes.
	Reason string
}

// Available reports whether the fix carries a position.
func (f Fix) Available() bool { return f.Status == Available }

// Known returns an available fix at c.
func Known(c geo.Coordinate, accuracyM float64) Fix {
	return Fix{Coordinate: c, AccuracyM: accuracyM, Status: Available}
}

// Unavailable returns a fix with the given non-available status.
func Unavailable(status Status, reason string) Fix {
	if status == Available {
		status = Unsupported
	}
	return Fix{Status: status, Reason: reason}
}

// Resolver obtains one position fix. Each call is independent; there is no
// streaming of updates and no retry.
type Resolver interface {
	Resolve(ctx context.Context) Fix
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context) Fix

// Resolve calls f(ctx).
func (f ResolverFunc) Resolve(ctx context.Context) Fix { return f(ctx) }

// Static always returns the same fix.
type Static struct {
	fix Fix
}

// NewStatic returns a Resolver that always yields fix.
func NewStatic(fix Fix) *Static { return &Static{fix: fix} }

// Resolve returns the configured fix unless ctx is already done.
func (s *Static) Resolve(ctx context.Context) Fix {
	if ctx.Err() != nil {
		return Unavailable(TimedOut, ctx.Err().Error())
	}
	return s.fix
}

// Reported holds the latest fix relayed by the dashboard device. The browser
// performs the actual single-shot lookup and reports the result (or its
// failure) with the mount or position request.
type Reported struct {
	mu       sync.RWMutex
	fix      Fix
	reported bool
}

// NewReported returns an empty Reported resolver; it yields Unsupported until
// the first Report.
func NewReported() *Reported { return &Reported{} }

// Report replaces the stored fix.
func (r *Reported) Report(fix Fix) {
	r.mu.Lock()
	r.fix = fix
	r.reported = true
	r.mu.Unlock()
}

// Resolve returns the last reported fix.
func (r *Reported) Resolve(ctx context.Context) Fix {
	if ctx.Err() != nil {
		return Unavailable(TimedOut, ctx.Err().Error())
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.reported {
		return Unavailable(Unsupported, "no position reported by device")
	}
	return r.fix
}

// Chain tries resolvers in order and returns the first available fix. A
// Denied fix stops the chain: an explicit refusal is never papered over by a
// coarser source. When nothing succeeds the first resolver's fix is returned.
type Chain []Resolver

// Resolve implements Resolver.
func (c Chain) Resolve(ctx context.Context) Fix {
	var first *Fix
	for _, r := range c {
		if r == nil {
			continue
		}
		fix := r.Resolve(ctx)
		if fix.Available() || fix.Status == Denied {
			return fix
		}
		if first == nil {
			f := fix
			first = &f
		}
		if ctx.Err() != nil {
			break
		}
	}
	if first == nil {
		return Unavailable(Unsupported, "no location source configured")
	}
	return *first
}
