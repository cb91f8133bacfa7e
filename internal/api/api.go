// Package api serves a read-only view of the running bot over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"cryptobot/internal/engine"
	"cryptobot/internal/metrics"
	"cryptobot/internal/state"
)

const (
	ServiceName         = "cryptobot"
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
	shutdownTimeout     = 5 * time.Second
)

// StatusSource is the part of the engine the API reads.
type StatusSource interface {
	Status() engine.Status
	Positions() []state.Position
}

type Handler struct {
	source StatusSource
	log    zerolog.Logger
}

func NewHandler(source StatusSource, log zerolog.Logger) *Handler {
	return &Handler{source: source, log: log}
}

// SetupRoutes configures all routes.
func (h *Handler) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(loggerMiddleware(h.log))
	router.Use(gin.Recovery())

	router.GET("/health", h.HealthCheck)
	router.GET("/status", h.GetStatus)
	router.GET("/positions", h.GetPositions)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	return router
}

// Serve runs the API on addr until ctx is cancelled.
func (h *Handler) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           h.SetupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
