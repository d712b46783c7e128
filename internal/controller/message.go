package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/iamvkosarev/peaceful-ai/internal/model"
	"github.com/iamvkosarev/peaceful-ai/internal/usecase"
	"go.uber.org/zap"
)

const (
	EventProject = "project"
	EventMessage = "message"
	EventDone    = "done"
	EventError   = "error"
)

// MessageController handles conversation turns streamed over SSE.
type MessageController struct {
	chat   *usecase.ChatUsecase
	logger *zap.Logger
}

func NewMessageController(chat *usecase.ChatUsecase, logger *zap.Logger) *MessageController {
	return &MessageController{chat: chat, logger: logger}
}

type addMessageRequest struct {
	Content string `json:"content" binding:"required"`
	APIKey  string `json:"api_key"`
}

// GetMessages handles GET /projects/:id/messages
func (c *MessageController) GetMessages(ctx *gin.Context) {
	id, ok := projectID(ctx)
	if !ok {
		return
	}
	conversation, err := c.chat.Conversation(ctx.Request.Context(), userID(ctx), id)
	if err != nil {
		writeError(ctx, c.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, conversation.Messages())
}

// AddMessage handles POST /projects/:id/messages
func (c *MessageController) AddMessage(ctx *gin.Context) {
	var req addMessageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, ok := projectID(ctx)
	if !ok {
		return
	}
	conversation, err := c.chat.Conversation(ctx.Request.Context(), userID(ctx), id)
	if err != nil {
		writeError(ctx, c.logger, err)
		return
	}
	c.stream(ctx, conversation, req, false)
}

// StartConversation handles POST /messages. The first event carries the
// project created for the conversation.
func (c *MessageController) StartConversation(ctx *gin.Context) {
	var req addMessageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.stream(ctx, c.chat.NewConversation(userID(ctx)), req, true)
}

// Cancel handles POST /projects/:id/cancel
func (c *MessageController) Cancel(ctx *gin.Context) {
	id, ok := projectID(ctx)
	if !ok {
		return
	}
	conversation, err := c.chat.Conversation(ctx.Request.Context(), userID(ctx), id)
	if err != nil {
		writeError(ctx, c.logger, err)
		return
	}
	conversation.Cancel()
	ctx.Status(http.StatusNoContent)
}

func (c *MessageController) stream(
	ctx *gin.Context,
	conversation *usecase.Conversation,
	req addMessageRequest,
	announceProject bool,
) {
	var streaming bool
	emit := func(event string, data any) {
		if !streaming {
			streaming = true
			// Stream response to client using Server-Sent Events
			ctx.Header("Content-Type", "text/event-stream")
			ctx.Header("Cache-Control", "no-cache")
			ctx.Header("Connection", "keep-alive")
			if announceProject {
				if project, ok := conversation.Project(); ok {
					ctx.SSEvent(EventProject, project)
				}
			}
		}
		ctx.SSEvent(event, data)
		ctx.Writer.Flush()
	}

	msg, err := conversation.Submit(
		ctx.Request.Context(), req.Content, usecase.SubmitOptions{
			APIKey: req.APIKey,
			OnDelta: func(message model.Message) {
				emit(EventMessage, message)
			},
		},
	)
	if err != nil {
		if !streaming && !(announceProject && hasProject(conversation)) {
			writeError(ctx, c.logger, err)
			return
		}
		c.logger.Warn("stream interrupted", zap.String("user_id", userID(ctx)), zap.Error(err))
		emit(EventError, gin.H{"error": err.Error(), "status": errorStatus(err)})
		return
	}
	emit(EventDone, msg)
}

func hasProject(conversation *usecase.Conversation) bool {
	_, ok := conversation.Project()
	return ok
}
