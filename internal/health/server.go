package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qflowio/queueworker/internal/logger"
)

// Server exposes a Surface over three routes: /live, /ready, /health.
// Grounded on internal/http/router.go's gin.Engine + HealthHandler
// wiring, generalized from a single "/healthcheck" stub into the full
// readiness/liveness contract.
type Server struct {
	engine  *gin.Engine
	surface *Surface
	log     *logger.Logger
}

func NewServer(surface *Surface, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{engine: engine, surface: surface, log: log.With("component", "health_server")}
	engine.GET("/live", s.handleLive)
	engine.GET("/ready", s.handleReady)
	engine.GET("/health", s.handleHealth)
	return s
}

func (s *Server) handleLive(c *gin.Context) {
	if s.surface.Live() {
		c.JSON(http.StatusOK, gin.H{"live": true})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"live": false})
}

func (s *Server) handleReady(c *gin.Context) {
	if s.surface.Ready(c.Request.Context()) {
		c.JSON(http.StatusOK, gin.H{"ready": true})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
}

func (s *Server) handleHealth(c *gin.Context) {
	report := s.surface.Report(c.Request.Context())
	c.JSON(http.StatusOK, report)
}

// ListenAndServe runs the HTTP server on addr until ctx is cancelled,
// then shuts it down within shutdownTimeout, the HTTP-server analogue
// of the rest of graceful shutdown's pool-closing step.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
