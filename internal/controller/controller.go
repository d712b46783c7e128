package controller

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/iamvkosarev/peaceful-ai/internal/model"
	"github.com/iamvkosarev/peaceful-ai/internal/usecase"
	"go.uber.org/zap"
)

// HeaderUserID carries the identity established by the auth proxy in front
// of the API.
const HeaderUserID = "X-User-ID"

const userIDKey = "user_id"

// NewRouter builds the HTTP API over chat.
func NewRouter(chat *usecase.ChatUsecase, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	projectCtrl := NewProjectController(chat, logger)
	messageCtrl := NewMessageController(chat, logger)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger), Auth)

	r.GET("/projects", projectCtrl.ListProjects)
	r.POST("/projects", projectCtrl.CreateProject)
	r.PATCH("/projects/:id", projectCtrl.RenameProject)
	r.DELETE("/projects/:id", projectCtrl.DeleteProject)
	r.GET("/projects/:id/messages", messageCtrl.GetMessages)
	r.POST("/projects/:id/messages", messageCtrl.AddMessage)
	r.POST("/projects/:id/cancel", messageCtrl.Cancel)
	r.POST("/messages", messageCtrl.StartConversation)
	r.GET("/stats", projectCtrl.Stats)
	return r
}

// Auth rejects requests without a user identity.
func Auth(ctx *gin.Context) {
	userID := ctx.GetHeader(HeaderUserID)
	if userID == "" {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + HeaderUserID + " header"})
		return
	}
	ctx.Set(userIDKey, userID)
	ctx.Next()
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		logger.Info(
			"http request",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.FullPath()),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func userID(ctx *gin.Context) string {
	return ctx.GetString(userIDKey)
}

func projectID(ctx *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid project ID"})
		return uuid.Nil, false
	}
	return id, true
}

func errorStatus(err error) int {
	var upstreamErr *usecase.UpstreamError
	switch {
	case errors.Is(err, usecase.ErrEmptyMessage), errors.Is(err, usecase.ErrEmptyProjectName):
		return http.StatusBadRequest
	case errors.Is(err, usecase.ErrProjectAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, model.ErrProjectDoesNotExist):
		return http.StatusNotFound
	case errors.Is(err, usecase.ErrStreamInFlight):
		return http.StatusConflict
	case errors.Is(err, usecase.ErrConfiguration):
		return http.StatusPreconditionFailed
	case errors.As(err, &upstreamErr), errors.Is(err, usecase.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(ctx *gin.Context, logger *zap.Logger, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
	}
	ctx.JSON(status, gin.H{"error": err.Error()})
}
