package geolocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/EdouardKamole/clean-city-dashboard/internal/geo"
	"go.uber.org/zap"
)

const (
	// DefaultIPLocatorURL is the ip-api compatible lookup endpoint.
	DefaultIPLocatorURL = "http://ip-api.com"

	// DefaultTimeout bounds a single position lookup.
	DefaultTimeout = 10 * time.Second

	// ipLocatorAccuracyM is the nominal accuracy of an IP-derived fix (city level).
	ipLocatorAccuracyM = 5_000.0
)

// IPLocator resolves a coarse position from the requester's IP address with
// one HTTP lookup.
type IPLocator struct {
	baseURL    string
	ip         string
	timeout    time.Duration
	httpClient *http.Client
	log        *zap.Logger
}

// NewIPLocator returns a resolver for the given client IP. An empty baseURL
// selects DefaultIPLocatorURL; a non-positive timeout selects DefaultTimeout.
func NewIPLocator(baseURL, ip string, timeout time.Duration, httpClient *http.Client, log *zap.Logger) *IPLocator {
	if baseURL == "" {
		baseURL = DefaultIPLocatorURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &IPLocator{baseURL: baseURL, ip: ip, timeout: timeout, httpClient: httpClient, log: log}
}

// Resolve implements Resolver.
func (l *IPLocator) Resolve(ctx context.Context) Fix {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	fix, err := l.lookup(ctx)
	if err == nil {
		return fix
	}

	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		l.log.Debug("ip geolocation timed out", zap.String("ip", l.ip), zap.Error(err))
		return Unavailable(TimedOut, err.Error())
	}
	l.log.Debug("ip geolocation unavailable", zap.String("ip", l.ip), zap.Error(err))
	return Unavailable(Unsupported, err.Error())
}

func (l *IPLocator) lookup(ctx context.Context) (Fix, error) {
	endpoint := l.baseURL + "/json/" + url.PathEscape(l.ip) + "?fields=status,message,lat,lon"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Fix{}, fmt.Errorf("geolocation: ip: create request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return Fix{}, fmt.Errorf("geolocation: ip: http: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Fix{}, fmt.Errorf("geolocation: ip: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Fix{}, fmt.Errorf("geolocation: ip: status %d", resp.StatusCode)
	}

	var parsed ipAPIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Fix{}, fmt.Errorf("geolocation: ip: unmarshal response: %w", err)
	}
	if parsed.Status != "success" {
		return Fix{}, fmt.Errorf("geolocation: ip: lookup failed: %s", parsed.Message)
	}

	c := geo.New(parsed.Lat, parsed.Lon)
	if err := c.Validate(); err != nil {
		return Fix{}, fmt.Errorf("geolocation: ip: %w", err)
	}
	return Known(c, ipLocatorAccuracyM), nil
}

type ipAPIResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}
