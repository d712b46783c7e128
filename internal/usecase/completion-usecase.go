package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/iamvkosarev/peaceful-ai/config"
	"github.com/iamvkosarev/peaceful-ai/internal/model"
	openai_tools "github.com/iamvkosarev/peaceful-ai/pkg/openai-tools"
	"github.com/iamvkosarev/peaceful-ai/pkg/sse"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	completionsPath = "/chat/completions"
	readBufferSize  = 4096
)

var (
	ErrConfiguration = errors.New("completion API key is not configured")
	ErrTransport     = errors.New("completion response has no body")
)

// UpstreamError is a non-success response of the completion endpoint.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return e.Message
}

type upstreamErrorBody struct {
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type CompletionUsecaseDeps struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
	// CountToken is replaceable in tests; it defaults to the tiktoken estimate.
	CountToken func(messages []openai.ChatCompletionMessage, model string) (int, error)
}

type CompletionUsecase struct {
	CompletionUsecaseDeps
	cfg config.Completion
}

func NewCompletionUsecase(deps CompletionUsecaseDeps, cfg config.Completion) *CompletionUsecase {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.CountToken == nil {
		deps.CountToken = openai_tools.CountToken
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = config.DefaultSystemPrompt
	}
	return &CompletionUsecase{
		CompletionUsecaseDeps: deps,
		cfg:                   cfg,
	}
}

// Stream sends history behind the system instruction and reports every
// decoded fragment to onDelta from inside the read loop. onDone is called
// exactly once when the stream ends, by sentinel or by closure. apiKey
// overrides the configured credential when not empty.
func (c *CompletionUsecase) Stream(
	ctx context.Context,
	history []model.ChatMessage,
	apiKey string,
	onDelta func(delta string),
	onDone func(),
) error {
	key := apiKey
	if key == "" {
		key = c.cfg.APIKey
	}
	if key == "" {
		return ErrConfiguration
	}

	messageHistory := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messageHistory = append(
		messageHistory, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: c.cfg.SystemPrompt,
		},
	)
	for _, message := range history {
		messageHistory = append(
			messageHistory, openai.ChatCompletionMessage{
				Role:    parseRoleToOpenAIRole(message.Role),
				Content: message.Content,
			},
		)
	}
	messageHistory = c.trimHistory(messageHistory)

	body, err := json.Marshal(
		openai.ChatCompletionRequest{
			Model:    c.cfg.Model,
			Messages: messageHistory,
			Stream:   true,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, strings.TrimSuffix(c.cfg.BaseURL, "/")+completionsPath, bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.cfg.Referer != "" {
		req.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		req.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &UpstreamError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return ErrTransport
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return newUpstreamError(resp.StatusCode, raw)
	}

	return readStream(resp.Body, onDelta, onDone)
}

func readStream(body io.Reader, onDelta func(string), onDone func()) error {
	decoder := sse.NewDecoder()
	buf := make([]byte, readBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			deltas, done := decoder.Write(buf[:n])
			for _, delta := range deltas {
				onDelta(delta)
			}
			if done {
				onDone()
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			if decoder.Finish() {
				onDone()
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func newUpstreamError(statusCode int, raw []byte) *UpstreamError {
	var parsed upstreamErrorBody
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		return &UpstreamError{StatusCode: statusCode, Message: parsed.Error.Message}
	}
	return &UpstreamError{StatusCode: statusCode, Message: string(raw)}
}

// trimHistory drops the oldest conversation messages until the token
// estimate fits history_token_limit. The system instruction and the last
// message always stay.
func (c *CompletionUsecase) trimHistory(messageHistory []openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	if c.cfg.HistoryTokenLimit <= 0 {
		return messageHistory
	}
	for len(messageHistory) > 2 {
		tokenCount, err := c.CountToken(messageHistory, c.cfg.Model)
		if err != nil {
			c.Logger.Warn("failed to count history tokens, sending untrimmed", zap.Error(err))
			return messageHistory
		}
		if tokenCount < c.cfg.HistoryTokenLimit {
			break
		}
		messageHistory = append(messageHistory[:1], messageHistory[2:]...)
		c.Logger.Debug("history trimmed due to token limit", zap.Int("tokens", tokenCount))
	}
	return messageHistory
}

func parseRoleToOpenAIRole(role model.Role) string {
	switch role {
	case model.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case model.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
