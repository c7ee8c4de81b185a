package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"twinpool/internal/service"
	"twinpool/pkg/logger"
	"twinpool/pkg/pool"
)

// WorkerHandler handles the worker pool
type WorkerHandler struct {
	workspaceService *service.WorkspaceService
	historyService   *service.HistoryService
}

// NewWorkerHandler creates a new worker handler
func NewWorkerHandler(workspaceService *service.WorkspaceService, historyService *service.HistoryService) *WorkerHandler {
	return &WorkerHandler{
		workspaceService: workspaceService,
		historyService:   historyService,
	}
}

// ScaleRequest body of POST /v1/workers/scale
type ScaleRequest struct {
	Count *int `json:"count" binding:"required"`
}

// GetWorkers returns the pool summary and per-worker readouts
// @Summary Worker pool
// @Tags workers
// @Produce json
// @Success 200 {object} service.WorkerView
// @Router /v1/workers [get]
func (h *WorkerHandler) GetWorkers(c *gin.Context) {
	c.JSON(http.StatusOK, h.workspaceService.Workers())
}

// Scale requests a pool size
// @Summary Scale worker pool
// @Tags workers
// @Accept json
// @Produce json
// @Param request body ScaleRequest true "Target worker count"
// @Success 200 {object} service.WorkerView
// @Failure 400 {object} map[string]string "Invalid count, code tells why"
// @Failure 409 {object} map[string]string "No workspace open"
// @Router /v1/workers/scale [post]
func (h *WorkerHandler) Scale(c *gin.Context) {
	var req ScaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.workspaceService.Scale(c.Request.Context(), *req.Count)
	if err != nil {
		var scaleErr *pool.ScaleError
		switch {
		case errors.Is(err, pool.ErrNoWorkspaceOpen):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": "no_workspace_open"})
		case errors.As(err, &scaleErr):
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
				"code":  scaleErr.Code(),
				"max":   scaleErr.Max,
				"busy":  scaleErr.Busy,
			})
		default:
			logger.ErrorCtx(c.Request.Context(), "failed to scale worker pool: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, h.workspaceService.Workers())
}

// ListScalingEvents returns the scaling history
// @Summary Scaling history
// @Tags workers
// @Produce json
// @Param path query string false "Workspace path, all workspaces when empty"
// @Param limit query int false "Max events (default 100)"
// @Success 200 {array} mysql.ScalingEvent
// @Failure 503 {object} map[string]string "History disabled"
// @Router /v1/workers/scaling-events [get]
func (h *WorkerHandler) ListScalingEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	events, err := h.historyService.ScalingEvents(c.Request.Context(), c.Query("path"), limit)
	if err != nil {
		if errors.Is(err, service.ErrHistoryDisabled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, events)
}

// ListWorkerSnapshots returns the resource history of one worker
// @Summary Worker resource history
// @Tags workers
// @Produce json
// @Param worker_id path string true "Worker ID"
// @Param hours query int false "Look-back window in hours (default 1)"
// @Success 200 {array} mysql.WorkerResourceSnapshot
// @Router /v1/workers/{worker_id}/snapshots [get]
func (h *WorkerHandler) ListWorkerSnapshots(c *gin.Context) {
	hours, err := strconv.Atoi(c.DefaultQuery("hours", "1"))
	if err != nil || hours <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive integer"})
		return
	}
	to := time.Now()
	from := to.Add(-time.Duration(hours) * time.Hour)

	snapshots, err := h.historyService.WorkerSnapshots(c.Request.Context(), c.Param("worker_id"), from, to)
	if err != nil {
		if errors.Is(err, service.ErrHistoryDisabled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshots)
}
