package model

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrTelegramUserDoesNotExists = errors.New("telegram user doesn't exists")
)

type User struct {
	UserID      uuid.UUID
	TelegramID  int64
	LastProject uuid.UUID
}
