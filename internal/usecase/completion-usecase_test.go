package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/iamvkosarev/peaceful-ai/config"
	"github.com/iamvkosarev/peaceful-ai/internal/model"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func deltaLine(content string) string {
	raw, _ := json.Marshal(content)
	return fmt.Sprintf("data: {\"choices\":[{\"delta\":{\"content\":%s}}]}\n", raw)
}

// streamHandler writes each chunk separately and flushes in between so the
// client sees the same boundaries.
func streamHandler(t *testing.T, chunks ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		for _, chunk := range chunks {
			_, _ = io.WriteString(w, chunk)
			flusher.Flush()
		}
	}
}

func newTestCompletion(t *testing.T, serverURL string, cfg config.Completion) *CompletionUsecase {
	cfg.BaseURL = serverURL
	if cfg.Model == "" {
		cfg.Model = "test/model"
	}
	return NewCompletionUsecase(CompletionUsecaseDeps{Logger: zaptest.NewLogger(t)}, cfg)
}

func TestCompletionStreamDeltas(t *testing.T) {
	var request openai.ChatCompletionRequest
	var authorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		authorization = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		line := deltaLine("Hel")
		streamHandler(t, line[:10], line[10:], deltaLine("lo"), "data: [DONE]\n", deltaLine("ignored"))(w, r)
	}))
	defer server.Close()

	completion := newTestCompletion(t, server.URL, config.Completion{APIKey: "sk-config", SystemPrompt: "be calm"})

	var deltas []string
	var done int
	err := completion.Stream(
		context.Background(),
		[]model.ChatMessage{
			{Role: model.RoleUser, Content: "hi"},
			{Role: model.RoleAssistant, Content: "hello"},
			{Role: model.RoleUser, Content: "say hello"},
		},
		"",
		func(delta string) { deltas = append(deltas, delta) },
		func() { done++ },
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, deltas)
	assert.Equal(t, 1, done)

	assert.Equal(t, "Bearer sk-config", authorization)
	assert.Equal(t, "test/model", request.Model)
	assert.True(t, request.Stream)
	require.Len(t, request.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, request.Messages[0].Role)
	assert.Equal(t, "be calm", request.Messages[0].Content)
	assert.Equal(t, openai.ChatMessageRoleAssistant, request.Messages[2].Role)
	assert.Equal(t, "say hello", request.Messages[3].Content)
}

func TestCompletionStreamEndsWithoutSentinel(t *testing.T) {
	server := httptest.NewServer(streamHandler(t, deltaLine("a"), deltaLine("b")))
	defer server.Close()

	completion := newTestCompletion(t, server.URL, config.Completion{APIKey: "sk"})

	var deltas []string
	var done int
	err := completion.Stream(context.Background(), nil, "",
		func(delta string) { deltas = append(deltas, delta) },
		func() { done++ },
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, deltas)
	assert.Equal(t, 1, done)
}

func TestCompletionRequiresCredential(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	completion := newTestCompletion(t, server.URL, config.Completion{})
	err := completion.Stream(context.Background(), nil, "", func(string) {}, func() {})
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.Zero(t, hits.Load())
}

func TestCompletionCredentialOverride(t *testing.T) {
	var authorization string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization = r.Header.Get("Authorization")
		streamHandler(t, "data: [DONE]\n")(w, r)
	}))
	defer server.Close()

	completion := newTestCompletion(t, server.URL, config.Completion{APIKey: "sk-config"})
	require.NoError(t, completion.Stream(context.Background(), nil, "sk-user", func(string) {}, func() {}))
	assert.Equal(t, "Bearer sk-user", authorization)
}

func TestCompletionUpstreamError(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{name: "structured", body: `{"error":{"message":"rate limited"}}`, message: "rate limited"},
		{name: "plain text", body: "upstream exploded", message: "upstream exploded"},
		{name: "structured without message", body: `{"error":{"code":500}}`, message: `{"error":{"code":500}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			completion := newTestCompletion(t, server.URL, config.Completion{APIKey: "sk"})
			var done int
			err := completion.Stream(context.Background(), nil, "", func(string) {}, func() { done++ })

			var upstreamErr *UpstreamError
			require.True(t, errors.As(err, &upstreamErr))
			assert.Equal(t, tt.message, upstreamErr.Message)
			assert.Equal(t, http.StatusTooManyRequests, upstreamErr.StatusCode)
			assert.Zero(t, done)
		})
	}
}

func TestCompletionEmptyBodyIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "0")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	completion := newTestCompletion(t, server.URL, config.Completion{APIKey: "sk"})
	err := completion.Stream(context.Background(), nil, "", func(string) {}, func() {})
	assert.ErrorIs(t, err, ErrTransport)
}

func TestCompletionCancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, deltaLine("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	completion := newTestCompletion(t, server.URL, config.Completion{APIKey: "sk"})
	ctx, cancel := context.WithCancel(context.Background())

	var deltas []string
	var done int
	err := completion.Stream(ctx, nil, "",
		func(delta string) {
			deltas = append(deltas, delta)
			cancel()
		},
		func() { done++ },
	)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"partial"}, deltas)
	assert.Zero(t, done)
}

func TestCompletionTrimHistory(t *testing.T) {
	completion := NewCompletionUsecase(
		CompletionUsecaseDeps{
			Logger: zaptest.NewLogger(t),
			CountToken: func(messages []openai.ChatCompletionMessage, _ string) (int, error) {
				total := 0
				for _, message := range messages {
					total += len(message.Content)
				}
				return total, nil
			},
		},
		config.Completion{HistoryTokenLimit: 12, SystemPrompt: "sys"},
	)

	trimmed := completion.trimHistory([]openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: "sys"},
		{Role: openai.ChatMessageRoleUser, Content: "aaaa"},
		{Role: openai.ChatMessageRoleAssistant, Content: "bbbb"},
		{Role: openai.ChatMessageRoleUser, Content: "cccc"},
	})
	require.Len(t, trimmed, 3)
	assert.Equal(t, "sys", trimmed[0].Content)
	assert.Equal(t, "bbbb", trimmed[1].Content)
	assert.Equal(t, "cccc", trimmed[2].Content)

	failing := NewCompletionUsecase(
		CompletionUsecaseDeps{
			Logger: zaptest.NewLogger(t),
			CountToken: func([]openai.ChatCompletionMessage, string) (int, error) {
				return 0, errors.New("no encoding")
			},
		},
		config.Completion{HistoryTokenLimit: 1},
	)
	history := []openai.ChatCompletionMessage{{Content: "s"}, {Content: "a"}, {Content: "b"}}
	assert.Len(t, failing.trimHistory(history), 3)
}
