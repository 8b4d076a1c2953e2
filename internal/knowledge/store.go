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

// Candidate is one similarity-search hit as returned by the store, before
// the retriever applies thresholding.
type Candidate struct {
	ID       string  `json:"id"`
	Document string  `json:"document"`
	Score    float64 `json:"score"`
}

// Store is the similarity-search client for the external knowledge store.
type Store struct {
	baseURL string
	client  *http.Client
}

func NewStore(baseURL string) *Store {
	tr := &http.Transport{
		Dial: (&net.Dialer{
			Timeout: shared.DefaultDialTimeout,
		}).Dial,
		TLSHandshakeTimeout: shared.DefaultDialTimeout,
	}
	return &Store{
		baseURL: baseURL,
		client:  &http.Client{Transport: tr, Timeout: 30 * time.Second},
	}
}

type searchRequest struct {
	Embedding []float32 `json:"embedding"`
	TopK      int       `json:"top_k"`
}

type searchResponse struct {
	Results []Candidate `json:"results"`
}

// Search runs a similarity search against the store and returns the
// candidates with scores. Ordering is the caller's responsibility.
func (s *Store) Search(ctx context.Context, embedding []float32, topK int) ([]Candidate, error) {
	body, err := json.Marshal(searchRequest{Embedding: embedding, TopK: topK})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", shared.ErrRetrievalUnavailable, err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: knowledge store returned %d", shared.ErrRetrievalUnavailable, res.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: search: %w", shared.ErrRetrievalUnavailable, err)
	}
	return parsed.Results, nil
}
