// Package admin serves the operator HTTP surface of a running node:
// liveness, the status snapshot and Prometheus metrics. It does not proxy
// fetches.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jmerrifield20/meshfetch/internal/fetch"
)

var (
	adminRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meshfetch_admin_requests_total",
		Help: "Total admin HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	adminRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "meshfetch_admin_request_duration_seconds",
		Help:    "Admin request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// StatusSource supplies the status snapshot served at /status.
type StatusSource interface {
	Status() *fetch.Status
}

// NewRouter builds the admin gin engine.
func NewRouter(src StatusSource, corsOrigins []string, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	if len(corsOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     corsOrigins,
			AllowMethods:     []string{"GET", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Accept"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: !containsWildcard(corsOrigins),
			MaxAge:           12 * time.Hour,
		}))
	}
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Status())
	})
	metrics := promhttp.Handler()
	router.GET("/metrics", func(c *gin.Context) {
		metrics.ServeHTTP(c.Writer, c.Request)
	})

	return router
}

// Serve runs the admin listener on addr until ctx is done, then shuts it
// down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin HTTP listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("admin shutdown: %w", err)
	}
	return nil
}

func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		adminRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		adminRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("admin request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
