package handlers

import (
	"fmt"
	"net/http"
	"time"

	portssvc "github.com/SscSPs/bearer_gate/internal/core/ports/services"
	"github.com/SscSPs/bearer_gate/internal/middleware"
	"github.com/SscSPs/bearer_gate/internal/platform/config"
	"github.com/SscSPs/bearer_gate/internal/platform/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Observability carries the metric collectors and the registry served on /metrics.
type Observability struct {
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// RegisterRoutes sets up all application routes, injecting dependencies using interfaces
func RegisterRoutes(
	r *gin.Engine,
	cfg *config.Config,
	services *portssvc.ServiceContainer,
	obs Observability,
) error {
	// CORS answers preflights before any route-level auth runs
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.New(corsConfig(cfg.CORSAllowedOrigins)))
	}

	// Public routes
	r.GET("/health", getHealth)
	if obs.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(obs.Gatherer, promhttp.HandlerOpts{})))
	}

	// Setup API v1 routes with Auth Middleware, passing service interfaces
	return setupAPIV1Routes(r, cfg, services, obs)
}

// setupAPIV1Routes configures the /api/v1 group and delegates to specific route registrations
func setupAPIV1Routes(
	r *gin.Engine,
	cfg *config.Config,
	services *portssvc.ServiceContainer,
	obs Observability,
) error {
	v1 := r.Group("/api/v1")

	if cfg.RateLimit != "" {
		limiterInstance, err := middleware.NewRateLimiter(cfg.RateLimit)
		if err != nil {
			return fmt.Errorf("failed to configure rate limit: %w", err)
		}
		v1.Use(middleware.RateLimit(limiterInstance))
	}

	// Apply TokenAuth to the entire v1 group
	v1.Use(middleware.TokenAuth(middleware.TokenAuthConfig{
		TokenSvc: services.Token,
		Usage:    services.Usage,
		Realm:    cfg.AuthRealm,
		Metrics:  obs.Metrics,
	}))

	registerWhoAmIRoutes(v1)
	return nil
}

func corsConfig(origins []string) cors.Config {
	return cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"X-Request-ID", "WWW-Authenticate"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
}
