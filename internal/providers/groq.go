package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"raggate-api/internal/config"
	"raggate-api/internal/prompt"
	"raggate-api/internal/shared"

	"go.uber.org/zap"
)

// Groq serves OpenAI-schema hosted backends (Groq and compatible fast
// inference APIs). The normalized protocol is the backend's native protocol,
// so translation is a passthrough with model-name mapping and bearer auth.
type Groq struct {
	name   string
	cfg    *config.Provider
	client *http.Client
	pool   *Pool
	retry  RetryPolicy
	log    *zap.SugaredLogger
}

func NewGroq(name string, cfg *config.Provider, retry RetryPolicy, log *zap.SugaredLogger) *Groq {
	return &Groq{
		name:   name,
		cfg:    cfg,
		client: newHTTPClient(),
		pool:   NewPool(name, cfg.MaxConns),
		retry:  retry,
		log:    log.With("provider", name),
	}
}

func (g *Groq) Name() string { return g.name }

func (g *Groq) Pool() *Pool { return g.pool }

func (g *Groq) TranslateRequest(req *prompt.AugmentedRequest) ([]byte, error) {
	payload := req.ChatRequest
	payload.Model = g.cfg.UpstreamModel(req.Model)
	payload.NoRAG = false // gateway extension, never forwarded
	return json.Marshal(&payload)
}

func (g *Groq) Send(ctx context.Context, payload []byte, stream bool) (*http.Response, error) {
	build := func() (*http.Request, error) {
		r, err := http.NewRequest(http.MethodPost, g.cfg.BaseURL+"/openai/v1/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
		if stream {
			r.Header.Set("Accept", "text/event-stream")
		}
		return r, nil
	}
	return send(ctx, g.client, g.pool, g.retry, build, g.log)
}

func (g *Groq) TranslateResponse(body []byte) (*shared.ChatCompletion, error) {
	var completion shared.ChatCompletion
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrProviderProtocol, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: completion has no choices", shared.ErrProviderProtocol)
	}
	return &completion, nil
}

func (g *Groq) TranslateChunk(line []byte) (*shared.ChatCompletionChunk, bool, error) {
	// SSE framing: event names and comments carry no delta.
	if bytes.HasPrefix(line, []byte("event:")) || bytes.HasPrefix(line, []byte(":")) {
		return nil, false, nil
	}
	data, found := bytes.CutPrefix(line, []byte("data: "))
	if !found {
		return nil, false, nil
	}
	if bytes.Equal(data, []byte("[DONE]")) {
		return nil, true, nil
	}
	var chunk shared.ChatCompletionChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, false, fmt.Errorf("%w: %w", shared.ErrProviderProtocol, err)
	}
	return &chunk, false, nil
}
