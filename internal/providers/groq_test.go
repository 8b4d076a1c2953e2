package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"raggate-api/internal/config"
	"raggate-api/internal/prompt"
	"raggate-api/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func noSleepRetry() RetryPolicy {
	return RetryPolicy{MaxRetries: 1, Backoff: time.Millisecond, Sleep: func(time.Duration) {}}
}

func groqConfig(baseURL string) *config.Provider {
	return &config.Provider{
		Kind:     "groq",
		BaseURL:  baseURL,
		APIKey:   "test-key",
		Models:   map[string]string{"test-model": "llama-3.1-8b-instant"},
		MaxConns: 4,
	}
}

func augmented(req shared.ChatRequest) *prompt.AugmentedRequest {
	return &prompt.AugmentedRequest{ChatRequest: req}
}

func TestGroqTranslateRequestPassthrough(t *testing.T) {
	g := NewGroq("groq", groqConfig("http://example.invalid"), noSleepRetry(), zap.NewNop().Sugar())

	temp := 0.7
	payload, err := g.TranslateRequest(augmented(shared.ChatRequest{
		Model:       "test-model",
		Messages:    []shared.ChatMessage{{Role: "user", Content: "hi"}},
		Temperature: &temp,
		MaxTokens:   64,
		NoRAG:       true,
	}))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, "llama-3.1-8b-instant", decoded["model"])
	assert.InDelta(t, 0.7, decoded["temperature"].(float64), 1e-9)
	assert.EqualValues(t, 64, decoded["max_tokens"])
	_, hasNoRAG := decoded["no_rag"]
	assert.False(t, hasNoRAG, "gateway extension must not reach the backend")
}

// Translating a passthrough request out and a stubbed echo back in must
// preserve the message content.
func TestGroqEchoIdentity(t *testing.T) {
	g := NewGroq("groq", groqConfig("http://example.invalid"), noSleepRetry(), zap.NewNop().Sugar())

	in := shared.ChatRequest{
		Model:    "test-model",
		Messages: []shared.ChatMessage{{Role: "user", Content: "echo me"}},
	}
	payload, err := g.TranslateRequest(augmented(in))
	require.NoError(t, err)

	// Echo backend: answer with the last message it received.
	var sent shared.ChatRequest
	require.NoError(t, json.Unmarshal(payload, &sent))
	echoBody, _ := json.Marshal(shared.ChatCompletion{
		ID:      "chatcmpl-test",
		Object:  "chat.completion",
		Model:   sent.Model,
		Choices: []shared.Choice{{Message: sent.Messages[len(sent.Messages)-1], FinishReason: "stop"}},
	})

	out, err := g.TranslateResponse(echoBody)
	require.NoError(t, err)
	assert.Equal(t, "echo me", out.Choices[0].Message.Content)
}

func TestGroqSendAuthErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewGroq("groq", groqConfig(srv.URL), noSleepRetry(), zap.NewNop().Sugar())
	_, err := g.Send(context.Background(), []byte(`{}`), false)

	assert.True(t, errors.Is(err, shared.ErrProviderAuth))
	assert.EqualValues(t, 1, calls.Load(), "auth failures must not be retried")
	assert.EqualValues(t, 0, g.Pool().InFlight())
}

func TestGroqSendRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Drop the connection mid-request to simulate a reset.
			conn, _, err := w.(http.Hijacker).Hijack()
			require.NoError(t, err)
			_ = conn.Close()
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	g := NewGroq("groq", groqConfig(srv.URL), noSleepRetry(), zap.NewNop().Sugar())
	res, err := g.Send(context.Background(), []byte(`{}`), false)

	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load(), "exactly one failed call and one retry")
	assert.EqualValues(t, 1, g.Pool().InFlight())
	_ = res.Body.Close()
	assert.EqualValues(t, 0, g.Pool().InFlight(), "closing the body releases the connection")
}

func TestGroqSendExhaustedRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	}))
	defer srv.Close()

	g := NewGroq("groq", groqConfig(srv.URL), noSleepRetry(), zap.NewNop().Sugar())
	_, err := g.Send(context.Background(), []byte(`{}`), false)

	assert.True(t, errors.Is(err, shared.ErrProviderUnavailable))
	assert.EqualValues(t, 2, calls.Load())
	assert.EqualValues(t, 0, g.Pool().InFlight())
}

func TestGroqTranslateChunk(t *testing.T) {
	g := NewGroq("groq", groqConfig("http://example.invalid"), noSleepRetry(), zap.NewNop().Sugar())

	tests := []struct {
		name      string
		line      string
		wantChunk bool
		wantDone  bool
		wantErr   bool
	}{
		{
			name:      "delta line",
			line:      `data: {"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hel"},"finish_reason":null}]}`,
			wantChunk: true,
		},
		{
			name:     "done sentinel",
			line:     "data: [DONE]",
			wantDone: true,
		},
		{
			name: "event line skipped",
			line: "event: response.completed",
		},
		{
			name: "comment skipped",
			line: ": keepalive",
		},
		{
			name:    "malformed json",
			line:    "data: {not json",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunk, done, err := g.TranslateChunk([]byte(tt.line))
			if tt.wantErr {
				assert.True(t, errors.Is(err, shared.ErrProviderProtocol))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDone, done)
			assert.Equal(t, tt.wantChunk, chunk != nil)
			if tt.wantChunk {
				assert.Equal(t, "Hel", chunk.Choices[0].Delta.Content)
			}
		})
	}
}

func TestGroqTranslateResponseMalformed(t *testing.T) {
	g := NewGroq("groq", groqConfig("http://example.invalid"), noSleepRetry(), zap.NewNop().Sugar())

	_, err := g.TranslateResponse([]byte("not json"))
	assert.True(t, errors.Is(err, shared.ErrProviderProtocol))

	_, err = g.TranslateResponse([]byte(`{"id":"x","object":"chat.completion","choices":[]}`))
	assert.True(t, errors.Is(err, shared.ErrProviderProtocol))
}
