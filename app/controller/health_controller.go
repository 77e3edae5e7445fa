package controller

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

type pinger interface {
	PingContext(ctx context.Context) error
}

// HealthController reports liveness and the queue backlog
type HealthController struct {
	queue MutationQueue
	db    pinger
}

// NewHealthController creates a new HealthController
func NewHealthController(queue MutationQueue, db pinger) *HealthController {
	return &HealthController{queue: queue, db: db}
}

// Ping handles GET /ping
func (hc *HealthController) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Health handles GET /health
func (hc *HealthController) Health(c echo.Context) error {
	ctx := c.Request().Context()
	if err := hc.db.PingContext(ctx); err != nil {
		logger.Error().Err(err).Msg("❌ Health: database unreachable")
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
	}
	pending, err := hc.queue.PendingCount(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("❌ Health: failed to count pending mutations")
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ok", "pendingMutations": pending})
}
