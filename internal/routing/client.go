package routing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	// DefaultTimeout is the maximum duration of one routing exchange.
	DefaultTimeout = 20 * time.Second

	// httpMaxIdleConns is the maximum number of idle (keep-alive) connections
	// kept in the transport pool across all hosts.
	httpMaxIdleConns = 10

	// httpIdleConnTimeout is how long an idle connection is kept in the pool
	// before being closed.
	httpIdleConnTimeout = 30 * time.Second

	// maxResponseBytes caps how much of a provider response is read.
	maxResponseBytes = 8 << 20

	// maxErrorBodyBytes caps the error body kept on a NetworkError.
	maxErrorBodyBytes = 512
)

// newHTTPClient builds the pooled client shared by the provider implementations.
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        httpMaxIdleConns,
		MaxIdleConnsPerHost: httpMaxIdleConns,
		IdleConnTimeout:     httpIdleConnTimeout,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// exchange sends req and returns the body of a 2xx response. Transport
// failures, timeouts and non-2xx statuses come back as *NetworkError; a
// failed status is never decoded further.
func exchange(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		var netErr net.Error
		timedOut := errors.Is(req.Context().Err(), context.DeadlineExceeded) ||
			(errors.As(err, &netErr) && netErr.Timeout())
		if timedOut && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &NetworkError{
			Status: resp.StatusCode,
			Body:   string(snippet),
			Err:    fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("read response: %w", err)}
	}
	return body, nil
}

// recoverDecode converts a panic raised while decoding a response into a
// ProviderError stored in *errp.
func recoverDecode(errp *error) {
	if r := recover(); r != nil {
		*errp = &ProviderError{Code: CodeDecodePanic, Message: fmt.Sprint(r)}
	}
}
