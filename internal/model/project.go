package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrProjectDoesNotExist = errors.New("project does not exist")
	ErrMessageDoesNotExist = errors.New("message does not exist")
)

// Project is a named conversation owned by one user.
type Project struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Stats struct {
	TotalProjects int64 `json:"total_projects"`
	AIGenerations int64 `json:"ai_generations"`
}
