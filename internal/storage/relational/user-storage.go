package relational

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/iamvkosarev/peaceful-ai/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserDoesNotExists = errors.New("user doesn't exists")
)

type telegramUserRow struct {
	TelegramID  int64     `gorm:"primaryKey;autoIncrement:false"`
	UserID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	LastProject uuid.UUID `gorm:"type:uuid"`
}

func (telegramUserRow) TableName() string {
	return "telegram_users"
}

// UserStorage maps Telegram accounts to user ids in the same database as
// the projects they own.
type UserStorage struct {
	db *gorm.DB
}

func NewUserStorage(db *gorm.DB) *UserStorage {
	return &UserStorage{
		db: db,
	}
}

func (u *UserStorage) Migrate(ctx context.Context) error {
	if err := u.db.WithContext(ctx).AutoMigrate(&telegramUserRow{}); err != nil {
		return fmt.Errorf("failed to migrate users: %w", err)
	}
	return nil
}

func (u *UserStorage) CreateNewTelegramUser(ctx context.Context, userTelegramID int64) (uuid.UUID, error) {
	row := telegramUserRow{
		TelegramID: userTelegramID,
		UserID:     uuid.New(),
	}
	result := u.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return uuid.Nil, fmt.Errorf("failed to create telegram user %d: %w", userTelegramID, result.Error)
	}
	if result.RowsAffected == 0 {
		return uuid.Nil, ErrUserAlreadyExists
	}
	return row.UserID, nil
}

func (u *UserStorage) UpdateUserLastProject(ctx context.Context, userID uuid.UUID, projectID uuid.UUID) error {
	result := u.db.WithContext(ctx).
		Model(&telegramUserRow{}).
		Where("user_id = ?", userID).
		Update("last_project", projectID)
	if result.Error != nil {
		return fmt.Errorf("failed to update last project of %s: %w", userID, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserDoesNotExists
	}
	return nil
}

func (u *UserStorage) GetUserInfo(ctx context.Context, userID uuid.UUID) (model.User, error) {
	var row telegramUserRow
	if err := u.db.WithContext(ctx).First(&row, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.User{}, ErrUserDoesNotExists
		}
		return model.User{}, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	return model.User{
		UserID:      row.UserID,
		TelegramID:  row.TelegramID,
		LastProject: row.LastProject,
	}, nil
}

func (u *UserStorage) GetUserIDForTelegramUser(ctx context.Context, userTelegramID int64) (uuid.UUID, error) {
	var row telegramUserRow
	if err := u.db.WithContext(ctx).First(&row, "telegram_id = ?", userTelegramID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, model.ErrTelegramUserDoesNotExists
		}
		return uuid.Nil, fmt.Errorf("failed to get telegram user %d: %w", userTelegramID, err)
	}
	return row.UserID, nil
}
