package key_value

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/iamvkosarev/peaceful-ai/internal/model"
	"github.com/redis/go-redis/v9"
)

var (
	ErrUserProjectsIDsDoNotExist = errors.New("user project ids does not exist")
)

type messageInternal struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Role      model.Role `json:"role"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
}

type projectInternal struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type userProjectsIDs struct {
	Projects []string `json:"projects"`
}

// ProjectStorage keeps every project and message as a JSON value. Message
// order within a project is a redis list of message ids.
type ProjectStorage struct {
	rdb *redis.Client
	now func() time.Time
}

func NewProjectStorage(rdb *redis.Client) *ProjectStorage {
	return &ProjectStorage{
		rdb: rdb,
		now: time.Now,
	}
}

func (p *ProjectStorage) CreateProject(ctx context.Context, userID string, name string) (model.Project, error) {
	now := p.now()
	project := model.Project{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := p.setProjectInt(ctx, toProjectInternal(project)); err != nil {
		return model.Project{}, fmt.Errorf("failed to set project internal %s: %w", project.ID, err)
	}

	userProjectsIDsInt, err := p.getUserProjectsIDs(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrUserProjectsIDsDoNotExist) {
			return model.Project{}, fmt.Errorf("failed to get user projects ids: %w", err)
		}
		userProjectsIDsInt = userProjectsIDs{
			Projects: make([]string, 0),
		}
	}
	userProjectsIDsInt.Projects = append(userProjectsIDsInt.Projects, project.ID.String())
	if err = p.setUserProjectsIDs(ctx, userID, userProjectsIDsInt); err != nil {
		return model.Project{}, fmt.Errorf("failed to set user projects ids: %w", err)
	}
	return project, nil
}

func (p *ProjectStorage) GetProject(ctx context.Context, projectID uuid.UUID) (model.Project, error) {
	projectInt, err := p.getProjectInt(ctx, projectID)
	if err != nil {
		return model.Project{}, err
	}
	return fromProjectInternal(projectInt)
}

func (p *ProjectStorage) ListProjects(ctx context.Context, userID string) ([]model.Project, error) {
	userProjectsIDsInt, err := p.getUserProjectsIDs(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserProjectsIDsDoNotExist) {
			return []model.Project{}, nil
		}
		return nil, fmt.Errorf("failed to get user projects ids: %w", err)
	}
	projects := make([]model.Project, 0, len(userProjectsIDsInt.Projects))
	for _, projectIDStr := range userProjectsIDsInt.Projects {
		projectID, err := uuid.Parse(projectIDStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse projectID %s: %w", projectIDStr, err)
		}
		project, err := p.GetProject(ctx, projectID)
		if err != nil {
			if errors.Is(err, model.ErrProjectDoesNotExist) {
				continue
			}
			return nil, err
		}
		projects = append(projects, project)
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].UpdatedAt.After(projects[j].UpdatedAt)
	})
	return projects, nil
}

func (p *ProjectStorage) UpdateProject(ctx context.Context, project model.Project) error {
	projectInt, err := p.getProjectInt(ctx, project.ID)
	if err != nil {
		return err
	}
	projectInt.Name = project.Name
	projectInt.UpdatedAt = project.UpdatedAt
	if err = p.setProjectInt(ctx, projectInt); err != nil {
		return fmt.Errorf("failed to set project internal %s: %w", project.ID, err)
	}
	return nil
}

func (p *ProjectStorage) DeleteProject(ctx context.Context, projectID uuid.UUID) error {
	projectInt, err := p.getProjectInt(ctx, projectID)
	if err != nil {
		return err
	}
	messageIDs, err := p.rdb.LRange(ctx, getProjectMessagesKey(projectID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to get project messages %s: %w", projectID, err)
	}

	keys := make([]string, 0, len(messageIDs)+2)
	for _, messageID := range messageIDs {
		keys = append(keys, getMessageKeyStr(messageID))
	}
	keys = append(keys, getProjectMessagesKey(projectID), getProjectKey(projectID))
	if err = p.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete project %s: %w", projectID, err)
	}

	userProjectsIDsInt, err := p.getUserProjectsIDs(ctx, projectInt.UserID)
	if err != nil {
		if errors.Is(err, ErrUserProjectsIDsDoNotExist) {
			return nil
		}
		return fmt.Errorf("failed to get user projects ids: %w", err)
	}
	userProjectsIDsInt.Projects = slices.DeleteFunc(userProjectsIDsInt.Projects, func(id string) bool {
		return id == projectID.String()
	})
	if err = p.setUserProjectsIDs(ctx, projectInt.UserID, userProjectsIDsInt); err != nil {
		return fmt.Errorf("failed to set user projects ids: %w", err)
	}
	return nil
}

func (p *ProjectStorage) InsertMessage(ctx context.Context, message model.Message) error {
	exists, err := p.rdb.Exists(ctx, getProjectKey(message.ProjectID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check project %s: %w", message.ProjectID, err)
	}
	if exists == 0 {
		return model.ErrProjectDoesNotExist
	}

	messageInt := toMessageInternal(message)
	messageIntJSON, err := json.Marshal(messageInt)
	if err != nil {
		return fmt.Errorf("failed to marshal internal message: %w", err)
	}
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, getMessageKey(message.ID), messageIntJSON, 0)
		pipe.RPush(ctx, getProjectMessagesKey(message.ProjectID), message.ID.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save message %s: %w", message.ID, err)
	}
	return nil
}

func (p *ProjectStorage) ListMessages(ctx context.Context, projectID uuid.UUID) ([]model.Message, error) {
	if _, err := p.getProjectInt(ctx, projectID); err != nil {
		return nil, err
	}
	messageIDs, err := p.rdb.LRange(ctx, getProjectMessagesKey(projectID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get project messages %s: %w", projectID, err)
	}
	messages := make([]model.Message, 0, len(messageIDs))
	if len(messageIDs) == 0 {
		return messages, nil
	}

	keys := make([]string, 0, len(messageIDs))
	for _, messageID := range messageIDs {
		keys = append(keys, getMessageKeyStr(messageID))
	}
	raws, err := p.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get messages of project %s: %w", projectID, err)
	}
	for _, raw := range raws {
		rawStr, ok := raw.(string)
		if !ok {
			continue
		}
		var messageInt messageInternal
		if err = json.Unmarshal([]byte(rawStr), &messageInt); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message of project %s: %w", projectID, err)
		}
		message, err := fromMessageInternal(messageInt)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

func (p *ProjectStorage) UpdateMessageContent(ctx context.Context, messageID uuid.UUID, content string) error {
	messageKey := getMessageKey(messageID)
	messageRaw, err := p.rdb.Get(ctx, messageKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.ErrMessageDoesNotExist
		}
		return fmt.Errorf("failed to get message %s: %w", messageID, err)
	}
	var messageInt messageInternal
	if err = json.Unmarshal([]byte(messageRaw), &messageInt); err != nil {
		return fmt.Errorf("failed to unmarshal message %s: %w", messageID, err)
	}
	messageInt.Content = content
	messageIntJSON, err := json.Marshal(messageInt)
	if err != nil {
		return fmt.Errorf("failed to marshal internal message: %w", err)
	}
	if err = p.rdb.Set(ctx, messageKey, messageIntJSON, 0).Err(); err != nil {
		return fmt.Errorf("failed to save message %s: %w", messageID, err)
	}
	return nil
}

func (p *ProjectStorage) Stats(ctx context.Context, userID string) (model.Stats, error) {
	projects, err := p.ListProjects(ctx, userID)
	if err != nil {
		return model.Stats{}, err
	}
	stats := model.Stats{TotalProjects: int64(len(projects))}
	for _, project := range projects {
		messages, err := p.ListMessages(ctx, project.ID)
		if err != nil {
			return model.Stats{}, fmt.Errorf("failed to list messages of project %s: %w", project.ID, err)
		}
		for _, message := range messages {
			if message.Role == model.RoleAssistant {
				stats.AIGenerations++
			}
		}
	}
	return stats, nil
}

func (p *ProjectStorage) getProjectInt(ctx context.Context, projectID uuid.UUID) (projectInternal, error) {
	projectRaw, err := p.rdb.Get(ctx, getProjectKey(projectID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return projectInternal{}, model.ErrProjectDoesNotExist
		}
		return projectInternal{}, fmt.Errorf("failed to get project %s: %w", projectID, err)
	}
	var projectInt projectInternal
	if err = json.Unmarshal([]byte(projectRaw), &projectInt); err != nil {
		return projectInternal{}, fmt.Errorf("failed to unmarshal project %s: %w", projectID, err)
	}
	return projectInt, nil
}

func (p *ProjectStorage) setProjectInt(ctx context.Context, projectInt projectInternal) error {
	projectIntJSON, err := json.Marshal(projectInt)
	if err != nil {
		return fmt.Errorf("failed to marshal internal project: %w", err)
	}
	projectKey := getProjectKeyStr(projectInt.ID)
	if err = p.rdb.Set(ctx, projectKey, projectIntJSON, 0).Err(); err != nil {
		return fmt.Errorf("failed to save projectInternal %s: %w", projectKey, err)
	}
	return nil
}

func (p *ProjectStorage) getUserProjectsIDs(ctx context.Context, userID string) (userProjectsIDs, error) {
	userProjectsRaw, err := p.rdb.Get(ctx, getUserProjectsKey(userID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return userProjectsIDs{}, ErrUserProjectsIDsDoNotExist
		}
		return userProjectsIDs{}, fmt.Errorf("failed to get userProjectsIDs %s: %w", userID, err)
	}
	var userProjects userProjectsIDs
	if err = json.Unmarshal([]byte(userProjectsRaw), &userProjects); err != nil {
		return userProjectsIDs{}, fmt.Errorf("failed to unmarshal userProjectsIDs %s: %w", userID, err)
	}
	return userProjects, nil
}

func (p *ProjectStorage) setUserProjectsIDs(ctx context.Context, userID string, userProjectsIDsInt userProjectsIDs) error {
	userProjectsIDsIntJSON, err := json.Marshal(userProjectsIDsInt)
	if err != nil {
		return fmt.Errorf("failed to marshal user projects ids: %w", err)
	}
	userProjectsKey := getUserProjectsKey(userID)
	if err = p.rdb.Set(ctx, userProjectsKey, userProjectsIDsIntJSON, 0).Err(); err != nil {
		return fmt.Errorf("failed to save user projects ids %s: %w", userProjectsKey, err)
	}
	return nil
}

func toProjectInternal(project model.Project) projectInternal {
	return projectInternal{
		ID:        project.ID.String(),
		UserID:    project.UserID,
		Name:      project.Name,
		CreatedAt: project.CreatedAt,
		UpdatedAt: project.UpdatedAt,
	}
}

func fromProjectInternal(projectInt projectInternal) (model.Project, error) {
	projectID, err := uuid.Parse(projectInt.ID)
	if err != nil {
		return model.Project{}, fmt.Errorf("failed to parse projectID %s: %w", projectInt.ID, err)
	}
	return model.Project{
		ID:        projectID,
		UserID:    projectInt.UserID,
		Name:      projectInt.Name,
		CreatedAt: projectInt.CreatedAt,
		UpdatedAt: projectInt.UpdatedAt,
	}, nil
}

func toMessageInternal(message model.Message) messageInternal {
	return messageInternal{
		ID:        message.ID.String(),
		ProjectID: message.ProjectID.String(),
		Role:      message.Role,
		Content:   message.Content,
		CreatedAt: message.CreatedAt,
	}
}

func fromMessageInternal(messageInt messageInternal) (model.Message, error) {
	messageID, err := uuid.Parse(messageInt.ID)
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to parse messageID %s: %w", messageInt.ID, err)
	}
	projectID, err := uuid.Parse(messageInt.ProjectID)
	if err != nil {
		return model.Message{}, fmt.Errorf("failed to parse projectID %s: %w", messageInt.ProjectID, err)
	}
	return model.Message{
		ID:        messageID,
		ProjectID: projectID,
		Role:      messageInt.Role,
		Content:   messageInt.Content,
		CreatedAt: messageInt.CreatedAt,
	}, nil
}

func getProjectKey(projectID uuid.UUID) string {
	return getProjectKeyStr(projectID.String())
}

func getProjectKeyStr(projectID string) string {
	return fmt.Sprintf("project_%v", projectID)
}

func getProjectMessagesKey(projectID uuid.UUID) string {
	return fmt.Sprintf("project_messages_%v", projectID.String())
}

func getMessageKey(messageID uuid.UUID) string {
	return getMessageKeyStr(messageID.String())
}

func getMessageKeyStr(messageID string) string {
	return fmt.Sprintf("message_%v", messageID)
}

func getUserProjectsKey(userID string) string {
	return fmt.Sprintf("user_projects_%v", userID)
}
