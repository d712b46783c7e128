package relational

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/iamvkosarev/peaceful-ai/internal/model"
	"gorm.io/gorm"
)

type projectRow struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    string    `gorm:"not null;index"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false;index"`
}

func (projectRow) TableName() string {
	return "projects"
}

type messageRow struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ProjectID uuid.UUID `gorm:"type:uuid;not null;index"`
	Role      string    `gorm:"not null"`
	Content   string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime:false;index"`
	// insertion order within the project, breaks created_at ties
	Seq int64 `gorm:"not null;default:0"`
}

func (messageRow) TableName() string {
	return "messages"
}

// ProjectStorage persists projects and messages in a SQL database through gorm.
type ProjectStorage struct {
	db  *gorm.DB
	now func() time.Time
}

func NewProjectStorage(db *gorm.DB) *ProjectStorage {
	return &ProjectStorage{
		db:  db,
		now: time.Now,
	}
}

func (p *ProjectStorage) Migrate(ctx context.Context) error {
	if err := p.db.WithContext(ctx).AutoMigrate(&projectRow{}, &messageRow{}); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

func (p *ProjectStorage) CreateProject(ctx context.Context, userID string, name string) (model.Project, error) {
	now := p.now()
	row := projectRow{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return model.Project{}, fmt.Errorf("failed to create project: %w", err)
	}
	return row.toModel(), nil
}

func (p *ProjectStorage) GetProject(ctx context.Context, projectID uuid.UUID) (model.Project, error) {
	var row projectRow
	if err := p.db.WithContext(ctx).First(&row, "id = ?", projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Project{}, model.ErrProjectDoesNotExist
		}
		return model.Project{}, fmt.Errorf("failed to get project %s: %w", projectID, err)
	}
	return row.toModel(), nil
}

func (p *ProjectStorage) ListProjects(ctx context.Context, userID string) ([]model.Project, error) {
	var rows []projectRow
	err := p.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list projects of %s: %w", userID, err)
	}
	projects := make([]model.Project, 0, len(rows))
	for _, row := range rows {
		projects = append(projects, row.toModel())
	}
	return projects, nil
}

func (p *ProjectStorage) UpdateProject(ctx context.Context, project model.Project) error {
	result := p.db.WithContext(ctx).
		Model(&projectRow{}).
		Where("id = ?", project.ID).
		Updates(map[string]any{
			"name":       project.Name,
			"updated_at": project.UpdatedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update project %s: %w", project.ID, result.Error)
	}
	if result.RowsAffected == 0 {
		return model.ErrProjectDoesNotExist
	}
	return nil
}

func (p *ProjectStorage) DeleteProject(ctx context.Context, projectID uuid.UUID) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", projectID).Delete(&messageRow{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages of project %s: %w", projectID, err)
		}
		result := tx.Where("id = ?", projectID).Delete(&projectRow{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete project %s: %w", projectID, result.Error)
		}
		if result.RowsAffected == 0 {
			return model.ErrProjectDoesNotExist
		}
		return nil
	})
}

func (p *ProjectStorage) InsertMessage(ctx context.Context, message model.Message) error {
	if _, err := p.GetProject(ctx, message.ProjectID); err != nil {
		return err
	}
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var last int64
		err := tx.Model(&messageRow{}).
			Where("project_id = ?", message.ProjectID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&last).Error
		if err != nil {
			return fmt.Errorf("failed to get message sequence of project %s: %w", message.ProjectID, err)
		}
		row := messageRow{
			ID:        message.ID,
			ProjectID: message.ProjectID,
			Role:      string(message.Role),
			Content:   message.Content,
			CreatedAt: message.CreatedAt,
			Seq:       last + 1,
		}
		if err = tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to insert message %s: %w", message.ID, err)
		}
		return nil
	})
}

func (p *ProjectStorage) ListMessages(ctx context.Context, projectID uuid.UUID) ([]model.Message, error) {
	if _, err := p.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	var rows []messageRow
	err := p.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC, seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages of project %s: %w", projectID, err)
	}
	messages := make([]model.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.toModel())
	}
	return messages, nil
}

func (p *ProjectStorage) UpdateMessageContent(ctx context.Context, messageID uuid.UUID, content string) error {
	result := p.db.WithContext(ctx).
		Model(&messageRow{}).
		Where("id = ?", messageID).
		Update("content", content)
	if result.Error != nil {
		return fmt.Errorf("failed to update message %s: %w", messageID, result.Error)
	}
	if result.RowsAffected == 0 {
		return model.ErrMessageDoesNotExist
	}
	return nil
}

func (p *ProjectStorage) Stats(ctx context.Context, userID string) (model.Stats, error) {
	var stats model.Stats
	db := p.db.WithContext(ctx)
	if err := db.Model(&projectRow{}).Where("user_id = ?", userID).Count(&stats.TotalProjects).Error; err != nil {
		return model.Stats{}, fmt.Errorf("failed to count projects: %w", err)
	}
	err := db.Model(&messageRow{}).
		Joins("JOIN projects ON projects.id = messages.project_id").
		Where("projects.user_id = ? AND messages.role = ?", userID, string(model.RoleAssistant)).
		Count(&stats.AIGenerations).Error
	if err != nil {
		return model.Stats{}, fmt.Errorf("failed to count generations: %w", err)
	}
	return stats, nil
}

func (r projectRow) toModel() model.Project {
	return model.Project{
		ID:        r.ID,
		UserID:    r.UserID,
		Name:      r.Name,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func (r messageRow) toModel() model.Message {
	return model.Message{
		ID:        r.ID,
		ProjectID: r.ProjectID,
		Role:      model.Role(r.Role),
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
	}
}
