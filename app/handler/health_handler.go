package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"twinpool/internal/jobs"
	"twinpool/internal/service"
)

// HealthHandler reports liveness and the background jobs
type HealthHandler struct {
	jobs             *jobs.Manager
	workspaceService *service.WorkspaceService
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(jobManager *jobs.Manager, workspaceService *service.WorkspaceService) *HealthHandler {
	return &HealthHandler{jobs: jobManager, workspaceService: workspaceService}
}

// Health returns the status of the control plane
// @Summary Health
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{
		"status":    "ok",
		"workspace": h.workspaceService.Current(),
	}
	if h.jobs != nil {
		body["jobs"] = h.jobs.Statuses()
	}
	c.JSON(http.StatusOK, body)
}
