package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"cryptobot/internal/state"
)

// HealthCheck handles GET /health requests
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"service":   ServiceName,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetStatus handles GET /status requests
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.source.Status())
}

// GetPositions handles GET /positions requests, optionally filtered by
// ?instrument= and ?status=open|closed.
func (h *Handler) GetPositions(c *gin.Context) {
	instrument := c.Query("instrument")
	status := c.Query("status")
	if status != "" && status != string(state.StatusOpen) && status != string(state.StatusClosed) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "invalid status, expected open or closed",
			"request_id": c.GetString(RequestIDContextKey),
		})
		return
	}

	positions := make([]state.Position, 0)
	for _, p := range h.source.Positions() {
		if instrument != "" && p.Instrument != instrument {
			continue
		}
		if status != "" && string(p.Status) != status {
			continue
		}
		positions = append(positions, p)
	}
	c.JSON(http.StatusOK, positions)
}
