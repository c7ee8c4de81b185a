package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"twinpool/internal/model"
	"twinpool/internal/service"
	"twinpool/pkg/logger"
	"twinpool/pkg/pool"
)

// JobHandler handles job submission and the job views
type JobHandler struct {
	workspaceService *service.WorkspaceService
}

// NewJobHandler creates a new job handler
func NewJobHandler(workspaceService *service.WorkspaceService) *JobHandler {
	return &JobHandler{workspaceService: workspaceService}
}

// SubmitJobRequest body of POST /v1/jobs
type SubmitJobRequest struct {
	Kind    string          `json:"kind" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

// JobViewRequest body of POST /v1/jobs/view
type JobViewRequest struct {
	Visible bool `json:"visible"`
}

// ListJobs returns one job tab
// @Summary Job views
// @Tags jobs
// @Produce json
// @Param category query string false "all, running, finished or failed"
// @Success 200 {object} service.JobView
// @Router /v1/jobs [get]
func (h *JobHandler) ListJobs(c *gin.Context) {
	category, err := model.ParseCategory(c.Query("category"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.workspaceService.Jobs(category))
}

// Submit submits a job to the open workspace
// @Summary Submit job
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body SubmitJobRequest true "Job"
// @Success 201 {object} map[string]string
// @Router /v1/jobs [post]
func (h *JobHandler) Submit(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.workspaceService.SubmitJob(c.Request.Context(), req.Kind, req.Payload)
	if err != nil {
		if errors.Is(err, pool.ErrNoWorkspaceOpen) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		logger.ErrorCtx(c.Request.Context(), "failed to submit %s job: %v", req.Kind, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// SetView reports whether the job view is shown; showing a stale view rebuilds it
// @Summary Job view visibility
// @Tags jobs
// @Accept json
// @Param request body JobViewRequest true "Visibility"
// @Success 200 {object} service.JobView
// @Router /v1/jobs/view [post]
func (h *JobHandler) SetView(c *gin.Context) {
	var req JobViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.workspaceService.SetJobsVisible(c.Request.Context(), req.Visible); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.workspaceService.Jobs(model.CategoryAll))
}
