// Package app wires configuration, stores, providers and the HTTP engine.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/EdouardKamole/clean-city-dashboard/internal/config"
	"github.com/EdouardKamole/clean-city-dashboard/internal/geolocation"
	"github.com/EdouardKamole/clean-city-dashboard/internal/handler"
	"github.com/EdouardKamole/clean-city-dashboard/internal/mapview"
	"github.com/EdouardKamole/clean-city-dashboard/internal/middleware"
	"github.com/EdouardKamole/clean-city-dashboard/internal/routing"
	"github.com/EdouardKamole/clean-city-dashboard/internal/service"
	"github.com/EdouardKamole/clean-city-dashboard/internal/storage"
	"github.com/EdouardKamole/clean-city-dashboard/internal/stream"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	accessTokenTTL   = 12 * time.Hour
	minPruneInterval = time.Minute
)

// App holds the application-level dependencies.
type App struct {
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Router   *gin.Engine
	Sessions *service.SessionService

	hub       *stream.Hub
	cfg       *config.Config
	log       *zap.Logger
	stopPrune context.CancelFunc
	pruneDone chan struct{}
}

// New initializes the application: connects the configured stores, runs
// migrations, wires all domain dependencies, and configures the HTTP engine
// with routes.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{cfg: cfg, log: log}

	// --- Stores ---
	if cfg.DBDSN != "" {
		pool, err := storage.ConnectPostgres(ctx, cfg.DBDSN, log)
		if err != nil {
			return nil, err
		}
		a.DB = pool
		if err := storage.RunMigrations(ctx, pool, log.Named("migrations")); err != nil {
			a.Shutdown()
			return nil, fmt.Errorf("app: run migrations: %w", err)
		}
	}
	if cfg.RedisAddr != "" {
		client, err := storage.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, log)
		if err != nil {
			a.Shutdown()
			return nil, err
		}
		a.Redis = client
	}

	// --- Domain dependencies ---
	router := a.newRouter()

	hub, err := stream.NewHub(a.Redis, log.Named("stream"))
	if err != nil {
		a.Shutdown()
		return nil, fmt.Errorf("app: stream hub: %w", err)
	}
	a.hub = hub

	ipClient := &http.Client{}
	locator := func(clientIP string) geolocation.Resolver {
		return geolocation.NewIPLocator(cfg.IPGeoBaseURL, clientIP, cfg.GeolocationTimeout, ipClient, log.Named("geolocation"))
	}
	a.Sessions = service.NewSessionService(router, mapview.NewRegistry(), hub, locator, log.Named("sessions"))
	routingService := service.NewRoutingService(router)
	authService := service.NewAuthService(cfg.JWTSecret, accessTokenTTL)

	// --- HTTP engine ---
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(middleware.RequestLogger(log.Named("http")))
	engine.Use(middleware.Recovery(log.Named("http")))
	engine.Use(middleware.Timeout(cfg.RequestTimeout))

	// Health check.
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": a.Sessions.Len()})
	})

	h := handler.New(a.Sessions, routingService, hub, cfg.DefaultZoom, log.Named("handler"))

	api := engine.Group("/api/v1")
	if authService.Enabled() {
		api.Use(middleware.JWTAuth(authService))
		api.Use(middleware.RequireRole("admin"))
	} else {
		log.Warn("JWT_SECRET not set, API is unauthenticated")
	}
	{
		api.GET("/routes", h.GetRoute)

		sessions := api.Group("/map-sessions")
		{
			sessions.POST("", h.CreateSession)
			sessions.GET("/:id", h.GetSession)
			sessions.PUT("/:id/destination", h.UpdateDestination)
			sessions.PUT("/:id/position", h.UpdatePosition)
			sessions.PUT("/:id/zoom", h.UpdateZoom)
			sessions.DELETE("/:id", h.DeleteSession)
			sessions.GET("/:id/stream", h.StreamSession)
		}
	}
	a.Router = engine

	if a.DB != nil && cfg.RouteCacheTTL > 0 {
		a.startPruning(routing.NewPgCacheStore(a.DB))
	}
	return a, nil
}

// newRouter picks the routing provider and wraps it in the route cache of
// the configured store. openrouteservice needs a key; without one the
// public OSRM server is used.
func (a *App) newRouter() routing.Router {
	cfg := a.cfg
	rlog := a.log.Named("routing")

	var provider routing.Router
	if cfg.ORSAPIKey != "" {
		provider = routing.NewOpenRouteRouter(cfg.ORSAPIKey, cfg.ORSProfile,
			routing.WithOpenRouteBaseURL(cfg.ORSBaseURL),
			routing.WithOpenRouteTimeout(cfg.RoutingTimeout),
			routing.WithOpenRouteLogger(rlog),
		)
		rlog.Info("routing provider selected", zap.String("provider", "openrouteservice"), zap.String("profile", cfg.ORSProfile))
	} else {
		provider = routing.NewOSRMRouter(cfg.OSRMBaseURL, cfg.RoutingTimeout, rlog)
		rlog.Info("routing provider selected", zap.String("provider", "osrm"), zap.String("base_url", cfg.OSRMBaseURL))
	}

	if cfg.RouteCacheTTL == 0 {
		return provider
	}

	var store routing.CacheStore
	switch {
	case a.DB != nil:
		store = routing.NewPgCacheStore(a.DB)
	case a.Redis != nil:
		store = routing.NewRedisCacheStore(a.Redis)
	default:
		return provider
	}
	return routing.NewCachedRouter(provider, store,
		routing.WithLogger(rlog),
		routing.WithTTL(cfg.RouteCacheTTL),
	)
}

// startPruning deletes expired route cache rows once per TTL.
func (a *App) startPruning(store *routing.PgCacheStore) {
	interval := a.cfg.RouteCacheTTL
	if interval < minPruneInterval {
		interval = minPruneInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.stopPrune = cancel
	a.pruneDone = make(chan struct{})

	go func() {
		defer close(a.pruneDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := store.Prune(ctx)
				if err != nil {
					a.log.Warn("route cache prune failed", zap.Error(err))
					continue
				}
				if n > 0 {
					a.log.Debug("route cache pruned", zap.Int64("rows", n))
				}
			}
		}
	}()
}

// Shutdown disposes all map sessions and closes the stores.
func (a *App) Shutdown() {
	if a.Sessions != nil {
		a.Sessions.Shutdown()
	}
	if a.stopPrune != nil {
		a.stopPrune()
		<-a.pruneDone
	}
	if a.hub != nil {
		if err := a.hub.Close(); err != nil {
			a.log.Warn("stream hub close failed", zap.Error(err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.log.Warn("redis close failed", zap.Error(err))
		}
		a.log.Info("redis connection closed")
	}
	if a.DB != nil {
		a.DB.Close()
		a.log.Info("database connection pool closed")
	}
}
