package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"twinpool/internal/service"
	"twinpool/pkg/logger"
	"twinpool/pkg/pool"
)

// WorkspaceHandler handles workspace open/close and the recent list
type WorkspaceHandler struct {
	workspaceService *service.WorkspaceService
}

// NewWorkspaceHandler creates a new workspace handler
func NewWorkspaceHandler(workspaceService *service.WorkspaceService) *WorkspaceHandler {
	return &WorkspaceHandler{workspaceService: workspaceService}
}

// OpenWorkspaceRequest body of POST /v1/workspace
type OpenWorkspaceRequest struct {
	Path string `json:"path" binding:"required"`
	Name string `json:"name"`
}

// Open opens a workspace and restores its last pool size
// @Summary Open workspace
// @Tags workspace
// @Accept json
// @Produce json
// @Param request body OpenWorkspaceRequest true "Workspace"
// @Success 200 {object} service.WorkspaceInfo
// @Router /v1/workspace [post]
func (h *WorkspaceHandler) Open(c *gin.Context) {
	var req OpenWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info, err := h.workspaceService.Open(c.Request.Context(), req.Path, req.Name)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to open workspace %s: %v", req.Path, err)
		if errors.Is(err, service.ErrWorkspaceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, info)
}

// Close closes the open workspace
// @Summary Close workspace
// @Tags workspace
// @Success 200 {object} map[string]string
// @Router /v1/workspace [delete]
func (h *WorkspaceHandler) Close(c *gin.Context) {
	if err := h.workspaceService.Close(c.Request.Context()); err != nil {
		if errors.Is(err, pool.ErrNoWorkspaceOpen) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

// Current returns the open workspace
// @Summary Current workspace
// @Tags workspace
// @Produce json
// @Success 200 {object} service.WorkspaceInfo
// @Success 204 "No workspace open"
// @Router /v1/workspace [get]
func (h *WorkspaceHandler) Current(c *gin.Context) {
	info := h.workspaceService.Current()
	if info == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, info)
}

// ListRecent lists recently opened workspaces, most recent first
// @Summary Recent workspaces
// @Tags workspace
// @Produce json
// @Success 200 {array} recent.Entry
// @Router /v1/workspaces/recent [get]
func (h *WorkspaceHandler) ListRecent(c *gin.Context) {
	entries, err := h.workspaceService.Recent(c.Request.Context())
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list recent workspaces: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entries)
}

// ForgetRecent removes a workspace from the recent list
// @Summary Forget recent workspace
// @Tags workspace
// @Param path query string true "Workspace path"
// @Success 200 {object} map[string]string
// @Router /v1/workspaces/recent [delete]
func (h *WorkspaceHandler) ForgetRecent(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
		return
	}
	if err := h.workspaceService.ForgetRecent(c.Request.Context(), path); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}
