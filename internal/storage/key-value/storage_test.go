package key_value

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/iamvkosarev/peaceful-ai/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestProjectStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	storage := NewProjectStorage(newTestClient(t))

	project, err := storage.CreateProject(ctx, "alice", "New Chat")
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	userMsg := model.Message{ID: uuid.New(), ProjectID: project.ID, Role: model.RoleUser, Content: "hi", CreatedAt: base}
	answer := model.Message{ID: uuid.New(), ProjectID: project.ID, Role: model.RoleAssistant, CreatedAt: base.Add(time.Second)}
	require.NoError(t, storage.InsertMessage(ctx, userMsg))
	require.NoError(t, storage.InsertMessage(ctx, answer))
	require.NoError(t, storage.UpdateMessageContent(ctx, answer.ID, "hello there"))

	messages, err := storage.ListMessages(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, userMsg.ID, messages[0].ID)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	assert.Equal(t, "hello there", messages[1].Content)
	assert.True(t, base.Add(time.Second).Equal(messages[1].CreatedAt))

	project.Name = "hi"
	project.UpdatedAt = base.Add(time.Hour)
	require.NoError(t, storage.UpdateProject(ctx, project))
	stored, err := storage.GetProject(ctx, project.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", stored.Name)
	assert.Equal(t, "alice", stored.UserID)

	stats, err := storage.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.Stats{TotalProjects: 1, AIGenerations: 1}, stats)
}

func TestProjectStorageMissingRows(t *testing.T) {
	ctx := context.Background()
	storage := NewProjectStorage(newTestClient(t))

	_, err := storage.GetProject(ctx, uuid.New())
	assert.ErrorIs(t, err, model.ErrProjectDoesNotExist)

	err = storage.InsertMessage(ctx, model.Message{ID: uuid.New(), ProjectID: uuid.New(), Role: model.RoleUser})
	assert.ErrorIs(t, err, model.ErrProjectDoesNotExist)

	assert.ErrorIs(t, storage.UpdateMessageContent(ctx, uuid.New(), "x"), model.ErrMessageDoesNotExist)

	projects, err := storage.ListProjects(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestProjectStorageDelete(t *testing.T) {
	ctx := context.Background()
	storage := NewProjectStorage(newTestClient(t))

	kept, err := storage.CreateProject(ctx, "alice", "kept")
	require.NoError(t, err)
	deleted, err := storage.CreateProject(ctx, "alice", "deleted")
	require.NoError(t, err)
	message := model.Message{ID: uuid.New(), ProjectID: deleted.ID, Role: model.RoleUser, Content: "bye", CreatedAt: time.Now()}
	require.NoError(t, storage.InsertMessage(ctx, message))

	require.NoError(t, storage.DeleteProject(ctx, deleted.ID))

	projects, err := storage.ListProjects(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, kept.ID, projects[0].ID)
	assert.ErrorIs(t, storage.UpdateMessageContent(ctx, message.ID, "x"), model.ErrMessageDoesNotExist)
	assert.ErrorIs(t, storage.DeleteProject(ctx, deleted.ID), model.ErrProjectDoesNotExist)
}

func TestUserStorage(t *testing.T) {
	ctx := context.Background()
	storage := NewUserStorage(newTestClient(t))

	_, err := storage.GetUserIDForTelegramUser(ctx, 7)
	assert.ErrorIs(t, err, model.ErrTelegramUserDoesNotExists)

	userID, err := storage.CreateNewTelegramUser(ctx, 7)
	require.NoError(t, err)
	_, err = storage.CreateNewTelegramUser(ctx, 7)
	assert.ErrorIs(t, err, ErrUserAlreadyExists)

	found, err := storage.GetUserIDForTelegramUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, userID, found)

	user, err := storage.GetUserInfo(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, user.LastProject)

	projectID := uuid.New()
	require.NoError(t, storage.UpdateUserLastProject(ctx, userID, projectID))
	user, err = storage.GetUserInfo(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, projectID, user.LastProject)
}
