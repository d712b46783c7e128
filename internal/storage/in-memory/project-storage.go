package in_memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/iamvkosarev/peaceful-ai/internal/model"
)

// ProjectStorage keeps projects and messages in process memory. It backs
// the fully local deployment where nothing outlives the process.
type ProjectStorage struct {
	mu       sync.RWMutex
	projects map[uuid.UUID]*model.Project
	messages map[uuid.UUID][]*model.Message
	byID     map[uuid.UUID]*model.Message
	now      func() time.Time
}

func NewProjectStorage() *ProjectStorage {
	return &ProjectStorage{
		projects: make(map[uuid.UUID]*model.Project),
		messages: make(map[uuid.UUID][]*model.Message),
		byID:     make(map[uuid.UUID]*model.Message),
		now:      time.Now,
	}
}

func (p *ProjectStorage) CreateProject(_ context.Context, userID string, name string) (model.Project, error) {
	now := p.now()
	project := model.Project{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.projects[project.ID] = &project
	return project, nil
}

func (p *ProjectStorage) GetProject(_ context.Context, projectID uuid.UUID) (model.Project, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	project, ok := p.projects[projectID]
	if !ok {
		return model.Project{}, model.ErrProjectDoesNotExist
	}
	return *project, nil
}

func (p *ProjectStorage) ListProjects(_ context.Context, userID string) ([]model.Project, error) {
	p.mu.RLock()
	projects := make([]model.Project, 0)
	for _, project := range p.projects {
		if project.UserID == userID {
			projects = append(projects, *project)
		}
	}
	p.mu.RUnlock()

	sort.Slice(projects, func(i, j int) bool {
		return projects[i].UpdatedAt.After(projects[j].UpdatedAt)
	})
	return projects, nil
}

func (p *ProjectStorage) UpdateProject(_ context.Context, project model.Project) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	stored, ok := p.projects[project.ID]
	if !ok {
		return model.ErrProjectDoesNotExist
	}
	stored.Name = project.Name
	stored.UpdatedAt = project.UpdatedAt
	return nil
}

func (p *ProjectStorage) DeleteProject(_ context.Context, projectID uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.projects[projectID]; !ok {
		return model.ErrProjectDoesNotExist
	}
	for _, message := range p.messages[projectID] {
		delete(p.byID, message.ID)
	}
	delete(p.messages, projectID)
	delete(p.projects, projectID)
	return nil
}

func (p *ProjectStorage) InsertMessage(_ context.Context, message model.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.projects[message.ProjectID]; !ok {
		return model.ErrProjectDoesNotExist
	}
	stored := message
	p.messages[message.ProjectID] = append(p.messages[message.ProjectID], &stored)
	p.byID[message.ID] = &stored
	return nil
}

func (p *ProjectStorage) ListMessages(_ context.Context, projectID uuid.UUID) ([]model.Message, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.projects[projectID]; !ok {
		return nil, model.ErrProjectDoesNotExist
	}
	messages := make([]model.Message, 0, len(p.messages[projectID]))
	for _, message := range p.messages[projectID] {
		messages = append(messages, *message)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

func (p *ProjectStorage) UpdateMessageContent(_ context.Context, messageID uuid.UUID, content string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	message, ok := p.byID[messageID]
	if !ok {
		return model.ErrMessageDoesNotExist
	}
	message.Content = content
	return nil
}

func (p *ProjectStorage) Stats(_ context.Context, userID string) (model.Stats, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var stats model.Stats
	for projectID, project := range p.projects {
		if project.UserID != userID {
			continue
		}
		stats.TotalProjects++
		for _, message := range p.messages[projectID] {
			if message.Role == model.RoleAssistant {
				stats.AIGenerations++
			}
		}
	}
	return stats, nil
}
