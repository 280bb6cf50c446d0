// Package http assembles the gateway's gin router: the OpenAI-compatible
// surface, the admin surface, and the websocket event channel mount point
//.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openrelay/gateway/internal/interfaces/http/handlers"
	"github.com/openrelay/gateway/internal/interfaces/websocket"
)

// Server wraps an http.Server bound to a gin engine assembled from the
// two handler sets plus the websocket hub.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer builds the router and binds it to host:port. Nothing is
// listening until Run is called.
func NewServer(
	host string,
	port int,
	openai *handlers.OpenAIHandler,
	admin *handlers.AdminHandler,
	hub *websocket.Hub,
	logger *zap.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/health", openai.Health)

	v1 := r.Group("/v1")
	{
		v1.POST("/chat/completions", openai.ChatCompletions)
		v1.GET("/models", openai.ListModels)
	}

	admin.RegisterRoutes(r.Group("/admin"))

	r.GET("/ws", gin.WrapF(hub.ServeHTTP))

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", host, port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With(zap.String("component", "http-server")),
	}
}

// Run starts the server and blocks until it exits or ctx is canceled, at
// which point it drains in-flight requests within a bounded grace period.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
