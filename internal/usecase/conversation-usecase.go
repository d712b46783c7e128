package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/iamvkosarev/peaceful-ai/internal/model"
	"go.uber.org/zap"
)

const (
	DefaultProjectName = "New Chat"

	projectNameMaxLength = 50
	projectNameEllipsis  = "..."
)

var (
	ErrStreamInFlight = errors.New("a response is still streaming in this project")
	ErrEmptyMessage   = errors.New("message is empty")
)

// ProjectStorage is the persistence adapter behind a conversation.
type ProjectStorage interface {
	CreateProject(ctx context.Context, userID string, name string) (model.Project, error)
	GetProject(ctx context.Context, projectID uuid.UUID) (model.Project, error)
	ListProjects(ctx context.Context, userID string) ([]model.Project, error)
	UpdateProject(ctx context.Context, project model.Project) error
	DeleteProject(ctx context.Context, projectID uuid.UUID) error
	InsertMessage(ctx context.Context, message model.Message) error
	ListMessages(ctx context.Context, projectID uuid.UUID) ([]model.Message, error)
	UpdateMessageContent(ctx context.Context, messageID uuid.UUID, content string) error
	Stats(ctx context.Context, userID string) (model.Stats, error)
}

type Completer interface {
	Stream(
		ctx context.Context,
		history []model.ChatMessage,
		apiKey string,
		onDelta func(delta string),
		onDone func(),
	) error
}

type ConversationDeps struct {
	Storage    ProjectStorage
	Completion Completer
	Logger     *zap.Logger
	Now        func() time.Time
}

type SubmitOptions struct {
	// APIKey overrides the configured completion credential.
	APIKey string
	// OnDelta receives the assistant message with the text accumulated so
	// far, once per delta, in arrival order.
	OnDelta func(message model.Message)
}

type streamSession struct {
	targetID uuid.UUID
	text     strings.Builder
	cancel   context.CancelFunc
}

// Conversation is the in-memory view of one project while the user talks
// to it. At most one stream session is open at a time.
type Conversation struct {
	ConversationDeps
	userID string

	mu           sync.Mutex
	project      *model.Project
	messages     []model.Message
	session      *streamSession
	lastActivity time.Time

	onProjectCreated func(project model.Project)
}

func NewConversation(deps ConversationDeps, userID string) *Conversation {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Conversation{
		ConversationDeps: deps,
		userID:           userID,
		messages:         make([]model.Message, 0),
		lastActivity:     deps.Now(),
	}
}

// LoadConversation opens an existing project with its stored messages.
func LoadConversation(ctx context.Context, deps ConversationDeps, projectID uuid.UUID) (*Conversation, error) {
	project, err := deps.Storage.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", projectID, err)
	}
	messages, err := deps.Storage.ListMessages(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages of project %s: %w", projectID, err)
	}
	c := NewConversation(deps, project.UserID)
	c.project = &project
	c.messages = messages
	return c, nil
}

func (c *Conversation) UserID() string {
	return c.userID
}

func (c *Conversation) touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = c.Now()
}

// idleSince reports when the conversation was last used. busy is true while
// a stream is open.
func (c *Conversation) idleSince() (since time.Time, busy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity, c.session != nil
}

// Project returns the backing project; ok is false until the first message
// created it.
func (c *Conversation) Project() (project model.Project, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.project == nil {
		return model.Project{}, false
	}
	return *c.project, true
}

// Messages returns the visible message list: the stored messages with the
// open stream's accumulated text in place of its target's content.
func (c *Conversation) Messages() []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	messages := make([]model.Message, len(c.messages))
	copy(messages, c.messages)
	if c.session != nil && c.session.targetID != uuid.Nil {
		for i := range messages {
			if messages[i].ID == c.session.targetID {
				messages[i].Content = c.session.text.String()
				break
			}
		}
	}
	return messages
}

func (c *Conversation) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Cancel aborts the open stream, if any. Text received so far is kept.
func (c *Conversation) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		c.session.cancel()
	}
}

// Rename sets an explicit project name, which also stops auto-naming.
func (c *Conversation) Rename(ctx context.Context, name string) (model.Project, error) {
	c.mu.Lock()
	if c.project == nil {
		c.mu.Unlock()
		return model.Project{}, model.ErrProjectDoesNotExist
	}
	renamed := *c.project
	renamed.Name = name
	renamed.UpdatedAt = c.Now()
	c.mu.Unlock()

	if err := c.Storage.UpdateProject(ctx, renamed); err != nil {
		return model.Project{}, fmt.Errorf("failed to rename project %s: %w", renamed.ID, err)
	}

	c.mu.Lock()
	c.project.Name = renamed.Name
	c.project.UpdatedAt = renamed.UpdatedAt
	project := *c.project
	c.mu.Unlock()
	return project, nil
}

// AppendUserMessage appends a user message and returns its id. The project
// is created first when the conversation has none yet.
func (c *Conversation) AppendUserMessage(ctx context.Context, content string) (uuid.UUID, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return uuid.Nil, ErrEmptyMessage
	}
	return c.appendUserMessage(ctx, content)
}

// Submit appends content as a user message, streams the assistant answer
// into the conversation and returns the final assistant message. A zero
// Message is returned when the stream carried no text.
func (c *Conversation) Submit(ctx context.Context, content string, opts SubmitOptions) (model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Message{}, ErrEmptyMessage
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	session := &streamSession{cancel: cancel}

	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return model.Message{}, ErrStreamInFlight
	}
	c.session = session
	c.mu.Unlock()

	if _, err := c.appendUserMessage(streamCtx, content); err != nil {
		c.fail(ctx, session, err)
		return model.Message{}, err
	}

	err := c.Completion.Stream(
		streamCtx,
		c.history(),
		opts.APIKey,
		func(delta string) {
			message := c.applyDelta(ctx, session, delta)
			if opts.OnDelta != nil {
				opts.OnDelta(message)
			}
		},
		func() {
			c.finalize(ctx, session)
		},
	)
	if err != nil {
		c.fail(ctx, session, err)
		return model.Message{}, err
	}
	// a stream that ended without reporting completion still closes the session
	return c.finalize(ctx, session), nil
}

func (c *Conversation) appendUserMessage(ctx context.Context, content string) (uuid.UUID, error) {
	project, err := c.ensureProject(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	c.mu.Lock()
	now := c.Now()
	message := model.Message{
		ID:        uuid.New(),
		ProjectID: project.ID,
		Role:      model.RoleUser,
		Content:   content,
		CreatedAt: now,
	}
	isFirst := !c.hasUserMessage()
	c.messages = append(c.messages, message)
	c.project.UpdatedAt = now
	c.lastActivity = now
	if isFirst && c.project.Name == DefaultProjectName {
		c.project.Name = ProjectNameFromMessage(content)
	}
	project = *c.project
	c.mu.Unlock()

	c.persistMessage(ctx, message)
	c.persistProject(ctx, project)
	return message.ID, nil
}

func (c *Conversation) ensureProject(ctx context.Context) (model.Project, error) {
	c.mu.Lock()
	if c.project != nil {
		project := *c.project
		c.mu.Unlock()
		return project, nil
	}
	c.mu.Unlock()

	project, err := c.Storage.CreateProject(ctx, c.userID, DefaultProjectName)
	if err != nil {
		return model.Project{}, fmt.Errorf("failed to create project: %w", err)
	}

	c.mu.Lock()
	if c.project != nil {
		// lost a race with another append; keep the first project
		existing := *c.project
		c.mu.Unlock()
		c.Logger.Warn("discarding concurrently created project", zap.String("project_id", project.ID.String()))
		return existing, nil
	}
	c.project = &project
	hook := c.onProjectCreated
	c.mu.Unlock()

	if hook != nil {
		hook(project)
	}
	return project, nil
}

func (c *Conversation) applyDelta(ctx context.Context, session *streamSession, delta string) model.Message {
	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return model.Message{}
	}

	var created *model.Message
	var project model.Project
	if session.targetID == uuid.Nil {
		now := c.Now()
		message := model.Message{
			ID:        uuid.New(),
			ProjectID: c.project.ID,
			Role:      model.RoleAssistant,
			CreatedAt: now,
		}
		c.messages = append(c.messages, message)
		c.project.UpdatedAt = now
		session.targetID = message.ID
		created = &message
		project = *c.project
	}
	session.text.WriteString(delta)

	visible := c.messages[c.indexOf(session.targetID)]
	visible.Content = session.text.String()
	c.mu.Unlock()

	if created != nil {
		c.persistMessage(ctx, *created)
		c.persistProject(ctx, project)
	}
	return visible
}

// finalize writes the accumulated text back as the target's content and
// closes the session. Later calls for the same session are no-ops.
func (c *Conversation) finalize(ctx context.Context, session *streamSession) model.Message {
	c.mu.Lock()
	if c.session != session {
		var message model.Message
		if i := c.indexOf(session.targetID); i >= 0 {
			message = c.messages[i]
		}
		c.mu.Unlock()
		return message
	}
	message, ok := c.flush(session)
	c.session = nil
	c.lastActivity = c.Now()
	c.mu.Unlock()

	session.cancel()
	if ok {
		c.persistContent(context.WithoutCancel(ctx), message)
	}
	return message
}

// fail closes the session after an error. Text streamed before the error
// stays in the conversation.
func (c *Conversation) fail(ctx context.Context, session *streamSession, err error) {
	c.mu.Lock()
	if c.session != session {
		c.mu.Unlock()
		return
	}
	message, ok := c.flush(session)
	c.session = nil
	c.lastActivity = c.Now()
	c.mu.Unlock()

	session.cancel()
	c.Logger.Warn("conversation turn failed", zap.String("user_id", c.userID), zap.Error(err))
	if ok {
		c.persistContent(context.WithoutCancel(ctx), message)
	}
}

// flush must be called with c.mu held.
func (c *Conversation) flush(session *streamSession) (model.Message, bool) {
	i := c.indexOf(session.targetID)
	if i < 0 {
		return model.Message{}, false
	}
	c.messages[i].Content = session.text.String()
	return c.messages[i], true
}

func (c *Conversation) history() []model.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	history := make([]model.ChatMessage, 0, len(c.messages))
	for _, message := range c.messages {
		// an assistant row left empty by an interrupted process
		if message.Content == "" {
			continue
		}
		history = append(history, model.ChatMessage{Role: message.Role, Content: message.Content})
	}
	return history
}

func (c *Conversation) hasUserMessage() bool {
	for _, message := range c.messages {
		if message.Role == model.RoleUser {
			return true
		}
	}
	return false
}

func (c *Conversation) indexOf(messageID uuid.UUID) int {
	if messageID == uuid.Nil {
		return -1
	}
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

func (c *Conversation) persistMessage(ctx context.Context, message model.Message) {
	if err := c.Storage.InsertMessage(ctx, message); err != nil {
		c.Logger.Warn(
			"failed to save message",
			zap.String("project_id", message.ProjectID.String()),
			zap.String("message_id", message.ID.String()),
			zap.Error(err),
		)
	}
}

func (c *Conversation) persistContent(ctx context.Context, message model.Message) {
	if err := c.Storage.UpdateMessageContent(ctx, message.ID, message.Content); err != nil {
		c.Logger.Warn(
			"failed to update message",
			zap.String("project_id", message.ProjectID.String()),
			zap.String("message_id", message.ID.String()),
			zap.Error(err),
		)
	}
}

func (c *Conversation) persistProject(ctx context.Context, project model.Project) {
	if err := c.Storage.UpdateProject(ctx, project); err != nil {
		c.Logger.Warn(
			"failed to update project",
			zap.String("project_id", project.ID.String()),
			zap.Error(err),
		)
	}
}

// ProjectNameFromMessage derives a project name from its first message.
func ProjectNameFromMessage(content string) string {
	if utf8.RuneCountInString(content) <= projectNameMaxLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:projectNameMaxLength]) + projectNameEllipsis
}
