// Package api assembles the gateway's HTTP surface: routing, middleware, and
// server lifecycle.
package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qwenverse/qwenbridge/internal/api/handlers"
	"github.com/qwenverse/qwenbridge/internal/api/middleware"
	"github.com/qwenverse/qwenbridge/internal/config"
	"github.com/qwenverse/qwenbridge/internal/gateway"
	"github.com/qwenverse/qwenbridge/internal/logging"
	"github.com/qwenverse/qwenbridge/internal/pool"
)

// Server is the gateway HTTP server.
type Server struct {
	httpServer *http.Server
	apiKeys    atomic.Pointer[[]string]
	requestLog atomic.Bool
}

// New builds the server around the orchestrator and configuration.
func New(cfg *config.Config, orchestrator *gateway.Orchestrator, credPool *pool.Pool) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{}
	s.SetAPIKeys(cfg.APIKeys)
	s.SetRequestLog(cfg.RequestLog)

	engine := gin.New()
	engine.Use(logging.GinLogger(), logging.GinRecovery(), middleware.RequestLogging(s.requestLog.Load))

	engine.GET("/health", func(c *gin.Context) {
		creds := credPool.Snapshot()
		now := time.Now()
		available := 0
		for _, cred := range creds {
			if cred.StatusAt(now) == pool.StatusHealthy && cred.BearerToken != "" {
				available++
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"credentials": len(creds),
			"healthy":     available,
		})
	})

	handler := handlers.NewOpenAIHandler(orchestrator, cfg.Streaming)
	v1 := engine.Group("/v1", middleware.APIKeyAuth(s.currentAPIKeys))
	v1.GET("/models", handler.Models)
	v1.POST("/chat/completions", handler.ChatCompletions)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetRequestLog toggles request/response body logging, used by config hot
// reload.
func (s *Server) SetRequestLog(enabled bool) {
	s.requestLog.Store(enabled)
}

// SetAPIKeys swaps the accepted client API keys, used by config hot reload.
func (s *Server) SetAPIKeys(keys []string) {
	copied := make([]string, len(keys))
	copy(copied, keys)
	s.apiKeys.Store(&copied)
}

func (s *Server) currentAPIKeys() []string {
	if keys := s.apiKeys.Load(); keys != nil {
		return *keys
	}
	return nil
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
