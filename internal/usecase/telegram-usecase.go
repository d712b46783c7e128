package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/google/uuid"
	"github.com/iamvkosarev/peaceful-ai/config"
	"github.com/iamvkosarev/peaceful-ai/internal/model"
	"github.com/iamvkosarev/peaceful-ai/pkg/local"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	CommandStart  = "start"
	CommandHelp   = "help"
	CommandNew    = "new"
	CommandChats  = "chats"
	CommandCancel = "cancel"
)

type TelegramUsecaseDeps struct {
	User   *UserUsecase
	Chat   *ChatUsecase
	Bot    *api.BotAPI
	Logger *zap.Logger
}

type TelegramUsecase struct {
	TelegramUsecaseDeps
	cfg          config.Telegram
	allowedUsers map[int64]struct{}

	mu sync.Mutex
	// conversations started with /new that have no project yet
	drafts map[int64]*Conversation
}

func NewTelegramUsecase(cfg config.Telegram, deps TelegramUsecaseDeps) (*TelegramUsecase, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	allowedUsers := make(map[int64]struct{}, len(cfg.AllowedTelegramID))
	for _, userID := range cfg.AllowedTelegramID {
		allowedUsers[userID] = struct{}{}
	}

	_, err := deps.Bot.Request(
		api.NewSetMyCommands(
			[]api.BotCommand{
				{
					Command:     CommandHelp,
					Description: "Get help",
				},
				{
					Command:     CommandNew,
					Description: "Start a new conversation",
				},
				{
					Command:     CommandChats,
					Description: "Show conversations",
				},
				{
					Command:     CommandCancel,
					Description: "Stop the current answer",
				},
			}...,
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set bot commands: %w", err)
	}

	return &TelegramUsecase{
		TelegramUsecaseDeps: deps,
		cfg:                 cfg,
		allowedUsers:        allowedUsers,
		drafts:              make(map[int64]*Conversation),
	}, nil
}

// Run handles updates until ctx is done. Each update is handled in its own
// goroutine so /cancel can reach a stream that is still being written.
func (t *TelegramUsecase) Run(ctx context.Context) error {
	u := api.NewUpdate(0)
	u.Timeout = 60

	updates := t.Bot.GetUpdatesChan(u)
	wg := conc.NewWaitGroup()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			t.Bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			wg.Go(
				func() {
					if err := t.handleMessage(ctx, update.Message); err != nil {
						t.Logger.Error(
							"failed to handle telegram message",
							zap.Int64("chat_id", update.Message.Chat.ID),
							zap.Error(err),
						)
					}
				},
			)
		}
	}
}

func (t *TelegramUsecase) handleMessage(ctx context.Context, message *api.Message) error {
	chatID := message.Chat.ID
	language := local.Eng
	if message.From != nil {
		language = local.ParseLanguage(message.From.LanguageCode)
	}

	if !t.isAllowed(chatID) {
		t.sendMessageAndHandleErr(chatID, TextUserNoAccess.Text(language))
		return nil
	}

	user, err := t.User.GetUserInfoForTelegramUser(ctx, chatID)
	if err != nil {
		t.sendMessageAndHandleErr(chatID, TextServerError.Text(language))
		return fmt.Errorf("failed to get user info for telegram user: %w", err)
	}

	if message.IsCommand() {
		return t.handleCommand(ctx, user, chatID, message.Command(), language)
	}

	conversation, err := t.currentConversation(ctx, user, chatID)
	if err != nil {
		t.sendMessageAndHandleErr(chatID, TextServerError.Text(language))
		return fmt.Errorf("failed to get current conversation: %w", err)
	}
	return t.answer(ctx, user, chatID, conversation, message.Text, language)
}

func (t *TelegramUsecase) handleCommand(
	ctx context.Context,
	user model.User,
	chatID int64,
	command string,
	language local.Language,
) error {
	var answerText string
	switch command {
	case CommandStart:
		answerText = TextCommandStart.Text(language)
	case CommandHelp:
		answerText = TextCommandHelp.Text(language)
	case CommandNew:
		t.mu.Lock()
		t.drafts[chatID] = t.Chat.NewConversation(user.UserID.String())
		t.mu.Unlock()
		answerText = TextNewConversation.Text(language)
	case CommandChats:
		projects, err := t.Chat.ListProjects(ctx, user.UserID.String())
		if err != nil {
			t.sendMessageAndHandleErr(chatID, TextFailedToGetChats.Text(language))
			return fmt.Errorf("failed to list projects: %w", err)
		}
		answerText = projectListText(projects, language)
	case CommandCancel:
		conversation, err := t.currentConversation(ctx, user, chatID)
		if err != nil {
			t.sendMessageAndHandleErr(chatID, TextServerError.Text(language))
			return fmt.Errorf("failed to get current conversation: %w", err)
		}
		if !conversation.IsLoading() {
			answerText = TextNothingToCancel.Text(language)
			break
		}
		conversation.Cancel()
		return nil
	default:
		answerText = TextCommandUnknown.Text(language)
	}
	t.sendMessageAndHandleErr(chatID, answerText)
	return nil
}

// answer submits text to the conversation and mirrors the streamed reply
// into a single Telegram message, edited in place at a limited rate.
func (t *TelegramUsecase) answer(
	ctx context.Context,
	user model.User,
	chatID int64,
	conversation *Conversation,
	text string,
	language local.Language,
) error {
	answerChan := make(chan string)
	var submitErr error

	wg := conc.NewWaitGroup()
	wg.Go(
		func() {
			defer close(answerChan)
			_, submitErr = conversation.Submit(
				ctx, text, SubmitOptions{
					OnDelta: func(message model.Message) {
						answerChan <- message.Content
					},
				},
			)
		},
	)
	wg.Go(
		func() {
			if _, err := t.Bot.Request(api.NewChatAction(chatID, api.ChatTyping)); err != nil {
				t.Logger.Warn("failed to send chat action", zap.Int64("chat_id", chatID), zap.Error(err))
			}

			// Telegram rate-limits edits well below one per second in practice.
			// https://core.telegram.org/bots/faq#my-bot-is-hitting-limits-how-do-i-avoid-this
			limiter := rate.NewLimiter(rate.Every(t.cfg.EditInterval), 1)
			var answerMsgID int
			var currentAnswer, sentAnswer string
			for currentAnswer = range answerChan {
				if strings.TrimSpace(currentAnswer) == "" || !limiter.Allow() {
					continue
				}
				answerMsgID = t.sendOrEdit(chatID, answerMsgID, currentAnswer)
				sentAnswer = currentAnswer
			}
			if currentAnswer != sentAnswer && strings.TrimSpace(currentAnswer) != "" {
				t.sendOrEdit(chatID, answerMsgID, currentAnswer)
			}
		},
	)
	wg.Wait()

	t.forgetDraft(chatID, conversation)
	if project, ok := conversation.Project(); ok {
		if err := t.User.UpdateUserLastProject(ctx, user.UserID, project.ID); err != nil {
			t.Logger.Warn("failed to update user last project", zap.String("user_id", user.UserID.String()), zap.Error(err))
		}
	}

	if submitErr != nil {
		t.sendMessageAndHandleErr(chatID, failureText(submitErr, language))
		if errors.Is(submitErr, context.Canceled) || errors.Is(submitErr, ErrEmptyMessage) {
			return nil
		}
		return fmt.Errorf("failed to submit message: %w", submitErr)
	}
	return nil
}

// currentConversation returns the draft started by /new, the user's last
// project, or the most recently updated one, in that order.
func (t *TelegramUsecase) currentConversation(ctx context.Context, user model.User, chatID int64) (*Conversation, error) {
	t.mu.Lock()
	draft, ok := t.drafts[chatID]
	t.mu.Unlock()
	if ok {
		return draft, nil
	}

	userID := user.UserID.String()
	if user.LastProject != uuid.Nil {
		conversation, err := t.Chat.Conversation(ctx, userID, user.LastProject)
		if err == nil {
			return conversation, nil
		}
		if !errors.Is(err, model.ErrProjectDoesNotExist) {
			return nil, err
		}
	}

	projects, err := t.Chat.ListProjects(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		conversation := t.Chat.NewConversation(userID)
		t.mu.Lock()
		t.drafts[chatID] = conversation
		t.mu.Unlock()
		return conversation, nil
	}
	return t.Chat.Conversation(ctx, userID, projects[0].ID)
}

func (t *TelegramUsecase) forgetDraft(chatID int64, conversation *Conversation) {
	if _, ok := conversation.Project(); !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.drafts[chatID] == conversation {
		delete(t.drafts, chatID)
	}
}

func (t *TelegramUsecase) isAllowed(telegramID int64) bool {
	if len(t.allowedUsers) == 0 {
		return true
	}
	_, ok := t.allowedUsers[telegramID]
	return ok
}

func (t *TelegramUsecase) sendOrEdit(chatID int64, answerMsgID int, text string) int {
	if answerMsgID == 0 {
		answerMsg, err := t.sendMessage(chatID, text)
		if err != nil {
			t.Logger.Warn("failed to send answer to bot", zap.Int64("chat_id", chatID), zap.Error(err))
		}
		return answerMsg.MessageID
	}
	if _, err := t.sendEditMessage(chatID, answerMsgID, text); err != nil {
		t.Logger.Warn("failed to send edit message to bot", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return answerMsgID
}

func failureText(err error, language local.Language) string {
	var upstreamErr *UpstreamError
	switch {
	case errors.Is(err, context.Canceled):
		return TextCancelled.Text(language)
	case errors.Is(err, ErrStreamInFlight):
		return TextStillAnswering.Text(language)
	case errors.Is(err, ErrConfiguration):
		return TextNotConfigured.Text(language)
	case errors.Is(err, ErrEmptyMessage):
		return TextEmptyMessage.Text(language)
	case errors.As(err, &upstreamErr):
		return TextUpstreamError.Format(language, upstreamErr.Message)
	default:
		return TextServerError.Text(language)
	}
}

func projectListText(projects []model.Project, language local.Language) string {
	if len(projects) == 0 {
		return TextNoConversations.Text(language)
	}
	result := strings.Builder{}
	result.WriteString(TextConversationsHeader.Format(language, len(projects)))
	for i, project := range projects {
		result.WriteString(fmt.Sprintf("\n%d) %s, %s", i+1, project.Name, project.UpdatedAt.Format("2006-01-02 15:04")))
	}
	return result.String()
}

func (t *TelegramUsecase) sendMessageAndHandleErr(chatID int64, message string) api.Message {
	msg, err := t.sendMessage(chatID, message)
	if err != nil {
		t.Logger.Warn("failed to send new message to bot", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return msg
}

func (t *TelegramUsecase) sendMessage(chatID int64, message string) (api.Message, error) {
	return t.sendToBot(api.NewMessage(chatID, message))
}

func (t *TelegramUsecase) sendEditMessage(chatID int64, previousMsgID int, message string) (api.Message, error) {
	return t.sendToBot(api.NewEditMessageText(chatID, previousMsgID, message))
}

func (t *TelegramUsecase) sendToBot(c api.Chattable) (api.Message, error) {
	return t.Bot.Send(c)
}
