// Package http wires the gin engine, routes, and server lifecycle.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/daybook-io/daybook-auth/internal/config"
	domainservice "github.com/daybook-io/daybook-auth/internal/domain/service"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/monitoring"
	"github.com/daybook-io/daybook-auth/internal/infrastructure/ratelimit"
	"github.com/daybook-io/daybook-auth/internal/interfaces/http/handlers"
	"github.com/daybook-io/daybook-auth/internal/interfaces/http/middleware"
	"github.com/daybook-io/daybook-auth/pkg/logger"
)

// Router owns the gin engine and the HTTP server lifecycle.
type Router struct {
	engine *gin.Engine
	cfg    *config.Config
	log    logger.Logger
	server *http.Server
}

// Deps carries everything the route table needs.
type Deps struct {
	Auth     *handlers.AuthHandler
	JWKS     *handlers.JWKSHandler
	Health   *handlers.HealthHandler
	Tokens   *domainservice.TokenService
	Sessions *domainservice.SessionService
	Limiter  *ratelimit.RedisRateLimiter
	Metrics  *monitoring.Metrics
}

// NewRouter builds the engine and registers all routes.
func NewRouter(cfg *config.Config, log logger.Logger, deps Deps) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r := &Router{engine: engine, cfg: cfg, log: log.WithComponent("router")}
	r.registerRoutes(deps)
	return r
}

func (r *Router) registerRoutes(deps Deps) {
	r.engine.GET("/health/live", deps.Health.Liveness)
	r.engine.GET("/health/ready", deps.Health.Readiness)
	r.engine.GET("/.well-known/jwks.json", deps.JWKS.GetJWKS)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(r.engine)

	v1 := r.engine.Group("/v1/auth")
	v1.Use(middleware.Session(deps.Sessions, r.cfg, deps.Metrics, r.log))
	{
		v1.POST("/login",
			middleware.RateLimit(deps.Limiter, deps.Metrics, "login"),
			deps.Auth.Login)
		v1.POST("/refresh",
			middleware.RateLimit(deps.Limiter, deps.Metrics, "refresh"),
			deps.Auth.Refresh)
		v1.POST("/verify", deps.Auth.Verify)
		v1.POST("/logout",
			middleware.JWTAuth(deps.Tokens, deps.Metrics, r.log),
			deps.Auth.Logout)
		v1.POST("/m2m",
			middleware.JWTAuth(deps.Tokens, deps.Metrics, r.log, "auth:mint"),
			deps.Auth.MintM2M)
	}
}

// Engine exposes the underlying engine for tests.
func (r *Router) Engine() *gin.Engine { return r.engine }

// Start runs the HTTP server until the listener fails or Shutdown is called.
func (r *Router) Start() error {
	addr := fmt.Sprintf("%s:%d", r.cfg.Server.Host, r.cfg.Server.Port)
	r.server = &http.Server{
		Addr:         addr,
		Handler:      r.engine,
		ReadTimeout:  r.cfg.Server.ReadTimeout,
		WriteTimeout: r.cfg.Server.WriteTimeout,
	}

	r.log.Info(context.Background(), "HTTP server listening", logger.String("addr", addr))
	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server.
func (r *Router) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}
