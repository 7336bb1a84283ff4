package routing

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyRoute is returned when the provider answered successfully but
// offered no candidate route.
var ErrEmptyRoute = errors.New("routing: provider returned no routes")

// NetworkError reports a failed exchange with the provider: a non-success
// HTTP status, a transport error, or a timeout (Status 0 in the last two).
type NetworkError struct {
	Status int
	// Body is a truncated copy of the error response, for diagnostics only.
	Body string
	Err  error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("routing: network error: status %d", e.Status)
	}
	return fmt.Sprintf("routing: network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the exchange was cut short by a deadline.
func (e *NetworkError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// ProviderError reports a response the provider sent successfully but that
// could not be turned into a route.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("routing: provider error %s: %s", e.Code, e.Message)
}

// Provider error codes produced while decoding responses.
const (
	CodeMalformedResponse = "malformed_response"
	CodeMissingField      = "missing_field"
	CodeInvalidGeometry   = "invalid_geometry"
	CodeDecodePanic       = "decode_panic"
)

// Failure kinds, as recorded on session snapshots and in logs.
const (
	KindNetwork  = "network_error"
	KindProvider = "provider_error"
	KindEmpty    = "empty_route"
	KindUnknown  = "unknown"
)

// Failure is the flattened, serializable form of a routing error.
type Failure struct {
	Kind    string `json:"kind"`
	Status  int    `json:"status,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Classify flattens err into a Failure. It returns nil for a nil error.
func Classify(err error) *Failure {
	if err == nil {
		return nil
	}

	var netErr *NetworkError
	var provErr *ProviderError
	switch {
	case errors.Is(err, ErrEmptyRoute):
		return &Failure{Kind: KindEmpty, Message: err.Error()}
	case errors.As(err, &netErr):
		return &Failure{Kind: KindNetwork, Status: netErr.Status, Message: netErr.Error()}
	case errors.As(err, &provErr):
		return &Failure{Kind: KindProvider, Code: provErr.Code, Message: provErr.Message}
	default:
		return &Failure{Kind: KindUnknown, Message: err.Error()}
	}
}
