package daemon

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/platform/db"
)

// Health is the daemon's observation surface: a liveness route and a
// readiness route that reports the warehouse connection pool.
type Health struct {
	echo   *echo.Echo
	client db.Client
	log    zerolog.Logger
	start  time.Time
}

// NewHealth builds the health server over the warehouse client.
func NewHealth(client db.Client, log zerolog.Logger) *Health {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	h := &Health{echo: e, client: client, log: log, start: time.Now()}
	e.GET("/health", h.alive)
	e.GET("/health/db", h.database)
	return h
}

func (h *Health) alive(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(h.start).String(),
	})
}

func (h *Health) database(c echo.Context) error {
	stats := h.client.Stats()
	if !stats.Healthy() {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unhealthy",
			"engine": h.client.Engine(),
			"pool":   stats,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"engine": h.client.Engine(),
		"pool":   stats,
	})
}

// Start serves the health routes on addr in the background. Listen failures
// other than a clean shutdown are logged, not fatal; the worker matters
// more than its health port.
func (h *Health) Start(addr string) {
	go func() {
		if err := h.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			h.log.Warn().Err(err).Str("addr", addr).Msg("health server stopped")
		}
	}()
}

// Shutdown stops the health server.
func (h *Health) Shutdown(ctx context.Context) {
	if err := h.echo.Shutdown(ctx); err != nil {
		h.log.Warn().Err(err).Msg("health server shutdown failed")
	}
}
