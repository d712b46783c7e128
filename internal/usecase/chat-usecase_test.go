package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/iamvkosarev/peaceful-ai/config"
	"github.com/iamvkosarev/peaceful-ai/internal/model"
	in_memory "github.com/iamvkosarev/peaceful-ai/internal/storage/in-memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestChat(t *testing.T, completer Completer) (*ChatUsecase, *in_memory.ProjectStorage) {
	storage := in_memory.NewProjectStorage()
	chat := NewChatUsecase(ChatUsecaseDeps{
		Storage:    storage,
		Completion: completer,
		Logger:     zaptest.NewLogger(t),
	}, config.Chat{})
	return chat, storage
}

func TestChatNewConversationRegistersProject(t *testing.T) {
	ctx := context.Background()
	chat, _ := newTestChat(t, scriptedCompleter("ok"))

	conversation := chat.NewConversation("alice")
	_, err := conversation.Submit(ctx, "hello there", SubmitOptions{})
	require.NoError(t, err)

	project, ok := conversation.Project()
	require.True(t, ok)

	same, err := chat.Conversation(ctx, "alice", project.ID)
	require.NoError(t, err)
	assert.Same(t, conversation, same)

	_, err = chat.Conversation(ctx, "bob", project.ID)
	assert.ErrorIs(t, err, ErrProjectAccessDenied)
}

func TestChatConversationLoadsStoredProject(t *testing.T) {
	ctx := context.Background()
	chat, storage := newTestChat(t, scriptedCompleter())

	project, err := chat.CreateProject(ctx, "alice", "  ")
	require.NoError(t, err)
	assert.Equal(t, DefaultProjectName, project.Name)

	require.NoError(t, storage.InsertMessage(ctx, model.Message{
		ID:        uuid.New(),
		ProjectID: project.ID,
		Role:      model.RoleUser,
		Content:   "stored",
		CreatedAt: project.CreatedAt,
	}))

	conversation, err := chat.Conversation(ctx, "alice", project.ID)
	require.NoError(t, err)
	messages := conversation.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "stored", messages[0].Content)

	again, err := chat.Conversation(ctx, "alice", project.ID)
	require.NoError(t, err)
	assert.Same(t, conversation, again)

	_, err = chat.Conversation(ctx, "bob", project.ID)
	assert.ErrorIs(t, err, ErrProjectAccessDenied)

	_, err = chat.Conversation(ctx, "alice", uuid.New())
	assert.ErrorIs(t, err, model.ErrProjectDoesNotExist)
}

func TestChatProjectLifecycle(t *testing.T) {
	ctx := context.Background()
	chat, _ := newTestChat(t, scriptedCompleter("a", "b"))

	first, err := chat.CreateProject(ctx, "alice", "Morning")
	require.NoError(t, err)
	_, err = chat.CreateProject(ctx, "bob", "Not yours")
	require.NoError(t, err)

	conversation, err := chat.Conversation(ctx, "alice", first.ID)
	require.NoError(t, err)
	_, err = conversation.Submit(ctx, "hi", SubmitOptions{})
	require.NoError(t, err)

	renamed, err := chat.RenameProject(ctx, "alice", first.ID, "Calm mornings")
	require.NoError(t, err)
	assert.Equal(t, "Calm mornings", renamed.Name)

	_, err = chat.RenameProject(ctx, "alice", first.ID, " ")
	assert.ErrorIs(t, err, ErrEmptyProjectName)
	_, err = chat.RenameProject(ctx, "bob", first.ID, "mine now")
	assert.ErrorIs(t, err, ErrProjectAccessDenied)

	projects, err := chat.ListProjects(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "Calm mornings", projects[0].Name)

	stats, err := chat.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.Stats{TotalProjects: 1, AIGenerations: 1}, stats)

	assert.ErrorIs(t, chat.DeleteProject(ctx, "bob", first.ID), ErrProjectAccessDenied)
	require.NoError(t, chat.DeleteProject(ctx, "alice", first.ID))

	_, err = chat.Conversation(ctx, "alice", first.ID)
	assert.ErrorIs(t, err, model.ErrProjectDoesNotExist)

	stats, err = chat.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.Stats{}, stats)
}

func TestChatEvictsIdleConversations(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	var chat *ChatUsecase
	evictedWhileStreaming := -1
	completer := completerFunc(func(
		_ context.Context,
		_ []model.ChatMessage,
		_ string,
		onDelta func(string),
		onDone func(),
	) error {
		onDelta("use ")
		now = now.Add(time.Hour)
		evictedWhileStreaming = chat.EvictIdle()
		onDelta("channels")
		onDone()
		return nil
	})
	chat = NewChatUsecase(
		ChatUsecaseDeps{
			Storage:    in_memory.NewProjectStorage(),
			Completion: completer,
			Logger:     zaptest.NewLogger(t),
			Now:        clock,
		},
		config.Chat{ConversationIdleTimeout: time.Minute},
	)

	conversation := chat.NewConversation("alice")
	_, err := conversation.Submit(ctx, "how do goroutines talk?", SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, evictedWhileStreaming)

	project, ok := conversation.Project()
	require.True(t, ok)

	now = now.Add(30 * time.Second)
	assert.Equal(t, 0, chat.EvictIdle())
	same, err := chat.Conversation(ctx, "alice", project.ID)
	require.NoError(t, err)
	assert.Same(t, conversation, same)

	now = now.Add(59 * time.Second)
	assert.Equal(t, 0, chat.EvictIdle(), "lookup counts as activity")

	now = now.Add(time.Minute)
	assert.Equal(t, 1, chat.EvictIdle())

	reloaded, err := chat.Conversation(ctx, "alice", project.ID)
	require.NoError(t, err)
	assert.NotSame(t, conversation, reloaded)
	assert.Equal(t, conversation.Messages(), reloaded.Messages())

	reloadedProject, _ := reloaded.Project()
	assert.Equal(t, "how do goroutines talk?", reloadedProject.Name)
}

func TestChatWithoutIdleTimeoutKeepsConversations(t *testing.T) {
	chat, _ := newTestChat(t, scriptedCompleter("ok"))
	conversation := chat.NewConversation("alice")
	_, err := conversation.Submit(context.Background(), "hi", SubmitOptions{})
	require.NoError(t, err)

	assert.Equal(t, 0, chat.EvictIdle())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	chat.Run(ctx)
}
