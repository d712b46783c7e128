package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iamvkosarev/peaceful-ai/config"
	"github.com/iamvkosarev/peaceful-ai/internal/model"
	"go.uber.org/zap"
)

var (
	ErrProjectAccessDenied = errors.New("project belongs to another user")
	ErrEmptyProjectName    = errors.New("project name is empty")
)

type ChatUsecaseDeps struct {
	Storage    ProjectStorage
	Completion Completer
	Logger     *zap.Logger
	Now        func() time.Time
}

// ChatUsecase keeps one Conversation per project, so a stream opened by one
// request is visible to, and guards against, every other request.
// Conversations idle for longer than the configured timeout are dropped and
// reloaded from storage on next use.
type ChatUsecase struct {
	ChatUsecaseDeps
	cfg config.Chat

	mu            sync.Mutex
	conversations map[uuid.UUID]*Conversation
}

func NewChatUsecase(deps ChatUsecaseDeps, cfg config.Chat) *ChatUsecase {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &ChatUsecase{
		ChatUsecaseDeps: deps,
		cfg:             cfg,
		conversations:   make(map[uuid.UUID]*Conversation),
	}
}

// Run evicts idle conversations until ctx is done.
func (c *ChatUsecase) Run(ctx context.Context) {
	timeout := c.cfg.ConversationIdleTimeout
	if timeout <= 0 {
		return
	}
	ticker := time.NewTicker(max(timeout/2, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := c.EvictIdle(); evicted > 0 {
				c.Logger.Debug("idle conversations evicted", zap.Int("count", evicted))
			}
		}
	}
}

// EvictIdle drops conversations without an open stream that have not been
// used for the idle timeout and returns how many were dropped.
func (c *ChatUsecase) EvictIdle() int {
	timeout := c.cfg.ConversationIdleTimeout
	if timeout <= 0 {
		return 0
	}
	now := c.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	var evicted int
	for projectID, conversation := range c.conversations {
		since, busy := conversation.idleSince()
		if busy || now.Sub(since) < timeout {
			continue
		}
		delete(c.conversations, projectID)
		evicted++
	}
	return evicted
}

// NewConversation starts a conversation without a project. The project is
// created and registered when the first message is appended.
func (c *ChatUsecase) NewConversation(userID string) *Conversation {
	conversation := NewConversation(c.conversationDeps(), userID)
	conversation.onProjectCreated = func(project model.Project) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.conversations[project.ID] = conversation
	}
	return conversation
}

func (c *ChatUsecase) Conversation(ctx context.Context, userID string, projectID uuid.UUID) (*Conversation, error) {
	c.mu.Lock()
	conversation, ok := c.conversations[projectID]
	c.mu.Unlock()
	if ok {
		if conversation.UserID() != userID {
			return nil, ErrProjectAccessDenied
		}
		conversation.touch()
		return conversation, nil
	}

	loaded, err := LoadConversation(ctx, c.conversationDeps(), projectID)
	if err != nil {
		return nil, err
	}
	if loaded.UserID() != userID {
		return nil, ErrProjectAccessDenied
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if conversation, ok = c.conversations[projectID]; ok {
		conversation.touch()
		return conversation, nil
	}
	c.conversations[projectID] = loaded
	return loaded, nil
}

func (c *ChatUsecase) CreateProject(ctx context.Context, userID string, name string) (model.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultProjectName
	}
	project, err := c.Storage.CreateProject(ctx, userID, name)
	if err != nil {
		return model.Project{}, fmt.Errorf("failed to create project: %w", err)
	}
	return project, nil
}

func (c *ChatUsecase) ListProjects(ctx context.Context, userID string) ([]model.Project, error) {
	projects, err := c.Storage.ListProjects(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

func (c *ChatUsecase) RenameProject(
	ctx context.Context,
	userID string,
	projectID uuid.UUID,
	name string,
) (model.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Project{}, ErrEmptyProjectName
	}
	conversation, err := c.Conversation(ctx, userID, projectID)
	if err != nil {
		return model.Project{}, err
	}
	return conversation.Rename(ctx, name)
}

// DeleteProject removes the project with its messages. An open stream in
// the project is cancelled first.
func (c *ChatUsecase) DeleteProject(ctx context.Context, userID string, projectID uuid.UUID) error {
	conversation, err := c.Conversation(ctx, userID, projectID)
	if err != nil {
		return err
	}
	conversation.Cancel()

	c.mu.Lock()
	delete(c.conversations, projectID)
	c.mu.Unlock()

	if err = c.Storage.DeleteProject(ctx, projectID); err != nil {
		return fmt.Errorf("failed to delete project %s: %w", projectID, err)
	}
	c.Logger.Info("project deleted", zap.String("project_id", projectID.String()), zap.String("user_id", userID))
	return nil
}

func (c *ChatUsecase) Stats(ctx context.Context, userID string) (model.Stats, error) {
	stats, err := c.Storage.Stats(ctx, userID)
	if err != nil {
		return model.Stats{}, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

func (c *ChatUsecase) conversationDeps() ConversationDeps {
	return ConversationDeps{
		Storage:    c.Storage,
		Completion: c.Completion,
		Logger:     c.Logger,
		Now:        c.Now,
	}
}
