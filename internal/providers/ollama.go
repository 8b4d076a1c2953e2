package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"raggate-api/internal/config"
	"raggate-api/internal/prompt"
	"raggate-api/internal/shared"

	"github.com/aidarkhanov/nanoid"
	"go.uber.org/zap"
)

// Ollama serves local model runners speaking the Ollama generate API. The
// conversation is flattened into a single prompt, sampling parameters map
// into the options block, and NDJSON chunks translate back into normalized
// deltas.
type Ollama struct {
	name   string
	cfg    *config.Provider
	client *http.Client
	pool   *Pool
	retry  RetryPolicy
	log    *zap.SugaredLogger
}

func NewOllama(name string, cfg *config.Provider, retry RetryPolicy, log *zap.SugaredLogger) *Ollama {
	return &Ollama{
		name:   name,
		cfg:    cfg,
		client: newHTTPClient(),
		pool:   NewPool(name, cfg.MaxConns),
		retry:  retry,
		log:    log.With("provider", name),
	}
}

func (o *Ollama) Name() string { return o.name }

func (o *Ollama) Pool() *Pool { return o.pool }

type ollamaPayload struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

func (o *Ollama) TranslateRequest(req *prompt.AugmentedRequest) ([]byte, error) {
	if req.Logprobs {
		return nil, fmt.Errorf("%w: logprobs", shared.ErrUnsupportedParameter)
	}

	// The generate API takes a single prompt; flatten the message sequence
	// into "role: content" lines.
	lines := make([]string, 0, len(req.Messages))
	for _, msg := range req.Messages {
		lines = append(lines, msg.Role+": "+msg.Content)
	}

	options := map[string]any{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if req.TopP != nil {
		options["top_p"] = *req.TopP
	}
	if req.FrequencyPenalty != nil {
		options["frequency_penalty"] = *req.FrequencyPenalty
	}
	if req.PresencePenalty != nil {
		options["presence_penalty"] = *req.PresencePenalty
	}
	if len(req.Stop) > 0 {
		options["stop"] = req.Stop
	}
	if len(options) == 0 {
		options = nil
	}

	return json.Marshal(&ollamaPayload{
		Model:   o.cfg.UpstreamModel(req.Model),
		Prompt:  strings.Join(lines, "\n"),
		Stream:  req.Stream,
		Options: options,
	})
}

func (o *Ollama) Send(ctx context.Context, payload []byte, stream bool) (*http.Response, error) {
	build := func() (*http.Request, error) {
		r, err := http.NewRequest(http.MethodPost, o.cfg.BaseURL+"/api/generate", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	}
	return send(ctx, o.client, o.pool, o.retry, build, o.log)
}

type ollamaResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func completionID() string {
	id, _ := nanoid.Generate("0123456789abcdef", 24)
	return "chatcmpl-" + id
}

func (o *Ollama) TranslateResponse(body []byte) (*shared.ChatCompletion, error) {
	var parsed ollamaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrProviderProtocol, err)
	}
	if !parsed.Done {
		return nil, fmt.Errorf("%w: non-streaming response not marked done", shared.ErrProviderProtocol)
	}

	usage := &shared.Usage{PromptTokens: -1, CompletionTokens: -1, TotalTokens: -1}
	if parsed.PromptEvalCount > 0 || parsed.EvalCount > 0 {
		usage = &shared.Usage{
			PromptTokens:     parsed.PromptEvalCount,
			CompletionTokens: parsed.EvalCount,
			TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
		}
	}

	return &shared.ChatCompletion{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   parsed.Model,
		Choices: []shared.Choice{{
			Index:        0,
			Message:      shared.ChatMessage{Role: "assistant", Content: parsed.Response},
			FinishReason: "stop",
		}},
		Usage: usage,
	}, nil
}

func (o *Ollama) TranslateChunk(line []byte) (*shared.ChatCompletionChunk, bool, error) {
	var parsed ollamaResponse
	if err := json.Unmarshal(line, &parsed); err != nil {
		return nil, false, fmt.Errorf("%w: %w", shared.ErrProviderProtocol, err)
	}

	var finish *string
	if parsed.Done {
		reason := "stop"
		finish = &reason
	}
	chunk := &shared.ChatCompletionChunk{
		ID:      completionID(),
		Object:  "chat.completion.chunk",
		Created: time.Now().Unix(),
		Model:   parsed.Model,
		Choices: []shared.ChunkChoice{{
			Index:        0,
			Delta:        shared.Delta{Content: parsed.Response},
			FinishReason: finish,
		}},
	}
	return chunk, parsed.Done, nil
}
