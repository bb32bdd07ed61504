package health

import (
	"context"
	"net/http"
	"time"

	"github.com/airjam/broker/internal/v1/logging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StorePinger checks connectivity to the API-key credential store.
// Nil when the broker runs without a store (dev or master-key mode).
type StorePinger interface {
	Ping(ctx context.Context) error
}

// Handler manages health check endpoints
type Handler struct {
	store StorePinger
}

// NewHandler creates a new health check handler. store may be nil.
func NewHandler(store StorePinger) *Handler {
	return &Handler{store: store}
}

// Health handles the plain health probe.
// GET /health
// Always 200 with {"ok":true} while the process is serving. No auth.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no dependency checks)
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles the readiness probe endpoint
// GET /health/ready
// Returns 200 only when the credential store (if configured) is reachable.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	storeStatus := h.checkStore(ctx)
	checks["key_store"] = storeStatus
	if storeStatus != "healthy" {
		allHealthy = false
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// checkStore verifies credential-store connectivity.
func (h *Handler) checkStore(ctx context.Context) string {
	// No store configured (dev or master-key mode) counts as healthy.
	if h.store == nil {
		return "healthy"
	}

	if err := h.store.Ping(ctx); err != nil {
		logging.Error(ctx, "Credential store health check failed", zap.Error(err))
		return "unhealthy"
	}

	return "healthy"
}
