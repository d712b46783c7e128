package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/iamvkosarev/peaceful-ai/internal/model"
)

type UserStorage interface {
	GetUserIDForTelegramUser(ctx context.Context, userTelegramID int64) (uuid.UUID, error)
	CreateNewTelegramUser(ctx context.Context, userTelegramID int64) (uuid.UUID, error)
	GetUserInfo(ctx context.Context, userID uuid.UUID) (model.User, error)
	UpdateUserLastProject(ctx context.Context, userID uuid.UUID, projectID uuid.UUID) error
}

type UserUsecaseDeps struct {
	UserStorage UserStorage
}

type UserUsecase struct {
	UserUsecaseDeps
}

func NewUserUsecase(deps UserUsecaseDeps) *UserUsecase {
	return &UserUsecase{
		UserUsecaseDeps: deps,
	}
}

// GetUserInfoForTelegramUser returns the user behind a Telegram account,
// registering it on first contact.
func (u *UserUsecase) GetUserInfoForTelegramUser(ctx context.Context, userTelegramID int64) (model.User, error) {
	userID, err := u.UserStorage.GetUserIDForTelegramUser(ctx, userTelegramID)
	if errors.Is(err, model.ErrTelegramUserDoesNotExists) {
		userID, err = u.UserStorage.CreateNewTelegramUser(ctx, userTelegramID)
	}
	if err != nil {
		return model.User{}, fmt.Errorf("failed to resolve telegram user %d: %w", userTelegramID, err)
	}
	return u.GetUserInfo(ctx, userID)
}

func (u *UserUsecase) GetUserInfo(ctx context.Context, userID uuid.UUID) (model.User, error) {
	user, err := u.UserStorage.GetUserInfo(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	return user, nil
}

func (u *UserUsecase) UpdateUserLastProject(ctx context.Context, userID, projectID uuid.UUID) error {
	return u.UserStorage.UpdateUserLastProject(ctx, userID, projectID)
}
