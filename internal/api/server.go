package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/virex/internal/config"
	"github.com/therealutkarshpriyadarshi/virex/internal/core"
	"github.com/therealutkarshpriyadarshi/virex/internal/logging"
	"github.com/therealutkarshpriyadarshi/virex/internal/middleware"
)

// Version is reported by the health endpoint
var Version = "1.0.0"

// pruneInterval is how often idle rate buckets and expired sessions go
const pruneInterval = 10 * time.Minute

// Server is the HTTP ingress in front of the core
type Server struct {
	cfg      config.Config
	core     *core.Core
	sessions *Sessions
	limiter  *middleware.RateLimiter
	logger   *logging.Logger
	router   *gin.Engine
	now      func() time.Time
}

// New builds the router
func New(cfg config.Config, c *core.Core, sessions *Sessions, logger *logging.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		core:     c,
		sessions: sessions,
		limiter:  middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst),
		logger:   logger.Component("api"),
		now:      time.Now,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logger(s.logger), middleware.CORS(), middleware.RateLimit(s.limiter))

	api := router.Group("/api")
	{
		api.GET("/health", s.healthCheck)
		api.GET("/templates", s.listTemplates)

		api.POST("/auth/telegram", s.authTelegram)
		api.POST("/auth/deeplink", s.authDeeplink)

		user := api.Group("")
		user.Use(
			middleware.SessionAuth(s.sessions),
			middleware.UserQuota(s.core.Cache(), int64(s.cfg.Server.UserRequests), s.cfg.Server.UserWindow),
		)
		{
			user.GET("/user/subscription", s.getSubscription)
			user.POST("/video/process", s.processVideo)
			user.POST("/video/info", s.videoInfo)
			user.POST("/auth/logout", s.logout)
		}

		admin := api.Group("/admin")
		admin.Use(middleware.AdminAuth(s.cfg.Auth.JWTSecret))
		{
			admin.GET("/stats", s.adminStats)
			admin.GET("/users/:id", s.adminGetUser)
			admin.POST("/users/:id/ban", s.adminBan)
			admin.POST("/users/:id/unban", s.adminUnban)
			admin.POST("/users/:id/plan", s.adminSetPlan)
			admin.POST("/users/:id/deeplink", s.adminDeeplink)
			admin.POST("/maintenance", s.adminMaintenance)
			admin.GET("/promos", s.adminListPromos)
			admin.POST("/promos", s.adminCreatePromo)
			admin.DELETE("/promos/:code", s.adminDeletePromo)
		}
	}

	return router
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	go s.limiter.Cleanup(ctx, pruneInterval)
	go s.pruneSessions(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func (s *Server) pruneSessions(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.Prune(); n > 0 {
				s.logger.Debugf("Pruned %d expired sessions", n)
			}
		}
	}
}
