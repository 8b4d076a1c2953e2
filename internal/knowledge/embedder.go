// Package knowledge holds the HTTP clients for the external collaborators:
// the embedding service and the knowledge store's similarity search. Both are
// separate processes owned by the knowledge-base side of the system; the
// gateway only ever reads from them.
package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"raggate-api/internal/shared"
)

// Embedder turns text into a vector via the external embedding service.
type Embedder struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewEmbedder(baseURL, model string) *Embedder {
	tr := &http.Transport{
		Dial: (&net.Dialer{
			Timeout: shared.DefaultDialTimeout,
		}).Dial,
		TLSHandshakeTimeout: shared.DefaultDialTimeout,
	}
	return &Embedder{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Transport: tr, Timeout: 30 * time.Second},
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the vector for text. Transport failures and non-200s map to
// ErrRetrievalUnavailable so callers apply the degrade/abort policy.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %w", shared.ErrRetrievalUnavailable, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: embed service returned %d", shared.ErrRetrievalUnavailable, res.StatusCode)
	}

	var parsed embedResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: embed: %w", shared.ErrRetrievalUnavailable, err)
	}
	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", shared.ErrRetrievalUnavailable)
	}
	return parsed.Embeddings[0], nil
}
