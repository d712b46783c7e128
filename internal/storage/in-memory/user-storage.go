package in_memory

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/iamvkosarev/peaceful-ai/internal/model"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserDoesNotExists = errors.New("user doesn't exists")
)

type UserStorage struct {
	mu               sync.RWMutex
	users            map[uuid.UUID]*model.User
	telegramUsersIDs map[int64]uuid.UUID
}

func NewUserStorage() *UserStorage {
	return &UserStorage{
		users:            make(map[uuid.UUID]*model.User),
		telegramUsersIDs: make(map[int64]uuid.UUID),
	}
}

func (u *UserStorage) CreateNewTelegramUser(_ context.Context, userTelegramID int64) (uuid.UUID, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.telegramUsersIDs[userTelegramID]; ok {
		return uuid.Nil, ErrUserAlreadyExists
	}
	userID := uuid.New()
	u.telegramUsersIDs[userTelegramID] = userID
	u.users[userID] = &model.User{
		TelegramID: userTelegramID,
		UserID:     userID,
	}
	return userID, nil
}

func (u *UserStorage) UpdateUserLastProject(_ context.Context, userID uuid.UUID, projectID uuid.UUID) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	user, ok := u.users[userID]
	if !ok {
		return ErrUserDoesNotExists
	}
	user.LastProject = projectID
	return nil
}

func (u *UserStorage) GetUserInfo(_ context.Context, userID uuid.UUID) (model.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	user, ok := u.users[userID]
	if !ok {
		return model.User{}, ErrUserDoesNotExists
	}
	return *user, nil
}

func (u *UserStorage) GetUserIDForTelegramUser(_ context.Context, userTelegramID int64) (uuid.UUID, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	userID, ok := u.telegramUsersIDs[userTelegramID]
	if !ok {
		return uuid.Nil, model.ErrTelegramUserDoesNotExists
	}
	return userID, nil
}
