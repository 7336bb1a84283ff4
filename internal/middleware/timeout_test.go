package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// slowProvider stands in for a routing call that honors its context.
func slowProvider(ctx context.Context, latency time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(latency):
		return nil
	}
}

func serveWithTimeout(d time.Duration, h gin.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	r := gin.New()
	r.Use(Timeout(d))
	r.GET("/api/v1/routes", h)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func routeRequest() *http.Request {
	return httptest.NewRequest(http.MethodGet, "/api/v1/routes", nil)
}

func TestTimeout_Responses(t *testing.T) {
	for _, tc := range []struct {
		name    string
		timeout time.Duration
		handler gin.HandlerFunc
		want    int
	}{
		{
			name:    "provider answers in time",
			timeout: 200 * time.Millisecond,
			handler: func(c *gin.Context) {
				if err := slowProvider(c.Request.Context(), time.Millisecond); err != nil {
					return
				}
				c.JSON(http.StatusOK, gin.H{"total_distance_m": 1500})
			},
			want: http.StatusOK,
		},
		{
			name:    "provider outlives the deadline",
			timeout: 10 * time.Millisecond,
			handler: func(c *gin.Context) {
				// Gives up without writing; the middleware answers.
				_ = slowProvider(c.Request.Context(), time.Second)
			},
			want: http.StatusServiceUnavailable,
		},
		{
			name:    "written response survives a late deadline",
			timeout: 5 * time.Millisecond,
			handler: func(c *gin.Context) {
				c.JSON(http.StatusAccepted, gin.H{"id": "session"})
				time.Sleep(20 * time.Millisecond)
			},
			want: http.StatusAccepted,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w := serveWithTimeout(tc.timeout, tc.handler, routeRequest())
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestTimeout_AttachesDeadline(t *testing.T) {
	var deadline time.Time
	var ok bool
	serveWithTimeout(500*time.Millisecond, func(c *gin.Context) {
		deadline, ok = c.Request.Context().Deadline()
		c.Status(http.StatusOK)
	}, routeRequest())

	if !ok {
		t.Fatal("request context has no deadline")
	}
	if left := time.Until(deadline); left > 500*time.Millisecond {
		t.Errorf("deadline %v away, want at most 500ms", left)
	}
}

func TestTimeout_KeepsCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var err error
	serveWithTimeout(time.Second, func(c *gin.Context) {
		err = c.Request.Context().Err()
		c.Status(http.StatusOK)
	}, routeRequest().WithContext(ctx))

	if err != context.Canceled {
		t.Errorf("ctx.Err() = %v, want context.Canceled", err)
	}
}

func TestTimeout_WebSocketUpgradeHasNoDeadline(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/routes", nil)
	req.Header.Set("Connection", "keep-alive, Upgrade")
	req.Header.Set("Upgrade", "websocket")

	w := serveWithTimeout(5*time.Millisecond, func(c *gin.Context) {
		if _, ok := c.Request.Context().Deadline(); ok {
			t.Error("upgrade request must not get a deadline")
		}
		time.Sleep(20 * time.Millisecond)
		c.Status(http.StatusOK)
	}, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestIsWebSocketUpgrade(t *testing.T) {
	for _, tc := range []struct {
		connection, upgrade string
		want                bool
	}{
		{"Upgrade", "websocket", true},
		{"keep-alive, upgrade", "WebSocket", true},
		{"keep-alive", "websocket", false},
		{"Upgrade", "h2c", false},
		{"", "", false},
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Connection", tc.connection)
		req.Header.Set("Upgrade", tc.upgrade)
		if got := isWebSocketUpgrade(req); got != tc.want {
			t.Errorf("Connection=%q Upgrade=%q: got %v, want %v", tc.connection, tc.upgrade, got, tc.want)
		}
	}
}
