package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/iamvkosarev/peaceful-ai/internal/usecase"
	"go.uber.org/zap"
)

// ProjectController handles project CRUD and dashboard statistics.
type ProjectController struct {
	chat   *usecase.ChatUsecase
	logger *zap.Logger
}

func NewProjectController(chat *usecase.ChatUsecase, logger *zap.Logger) *ProjectController {
	return &ProjectController{chat: chat, logger: logger}
}

// ListProjects handles GET /projects
func (c *ProjectController) ListProjects(ctx *gin.Context) {
	projects, err := c.chat.ListProjects(ctx.Request.Context(), userID(ctx))
	if err != nil {
		writeError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, projects)
}

// CreateProject handles POST /projects
func (c *ProjectController) CreateProject(ctx *gin.Context) {
	type Request struct {
		Name string `json:"name"`
	}
	var req Request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := c.chat.CreateProject(ctx.Request.Context(), userID(ctx), req.Name)
	if err != nil {
		writeError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusCreated, project)
}

// RenameProject handles PATCH /projects/:id
func (c *ProjectController) RenameProject(ctx *gin.Context) {
	type Request struct {
		Name string `json:"name" binding:"required"`
	}
	var req Request
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, ok := projectID(ctx)
	if !ok {
		return
	}

	project, err := c.chat.RenameProject(ctx.Request.Context(), userID(ctx), id, req.Name)
	if err != nil {
		writeError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, project)
}

// DeleteProject handles DELETE /projects/:id
func (c *ProjectController) DeleteProject(ctx *gin.Context) {
	id, ok := projectID(ctx)
	if !ok {
		return
	}
	if err := c.chat.DeleteProject(ctx.Request.Context(), userID(ctx), id); err != nil {
		writeError(ctx, c.logger, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

// Stats handles GET /stats
func (c *ProjectController) Stats(ctx *gin.Context) {
	stats, err := c.chat.Stats(ctx.Request.Context(), userID(ctx))
	if err != nil {
		writeError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, stats)
}
